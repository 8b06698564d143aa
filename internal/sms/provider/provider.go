package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoProviderForSender is returned when no registered provider serves the
// sender number.
var ErrNoProviderForSender = errors.New("no provider registered for sender")

// SendResult is the per-recipient outcome of a send call. A Status of zero
// means the gateway accepted the message and assigned ID.
type SendResult struct {
	ID        int64  `json:"id"`
	Recipient string `json:"recipient"`
	Status    int    `json:"status"`
}

// SendResponse is the gateway's answer to a send call. A top-level Status of
// zero means the request itself was well-formed; per-message outcomes are in
// Messages.
type SendResponse struct {
	Status   int          `json:"status"`
	Messages []SendResult `json:"messages"`
}

// DeliveryStatus is the delivery state the gateway reports for one message id.
type DeliveryStatus struct {
	MID    int64 `json:"mid"`
	Status int   `json:"status"`
}

// StatusResponse is the gateway's answer to a delivery status query.
type StatusResponse struct {
	Status int              `json:"status"`
	DLRs   []DeliveryStatus `json:"dlrs"`
}

// SmsProvider is an upstream SMS gateway.
type SmsProvider interface {
	Name() string
	Send(ctx context.Context, sender, recipient, content string, uid string) (*SendResponse, error)
	SendBulk(ctx context.Context, sender string, recipients, contents, uids []string) (*SendResponse, error)
	CheckStatus(ctx context.Context, messageIDs []int64) (*StatusResponse, error)
}

// Registry routes messages to providers by sender number prefix. Longest
// matching prefix wins.
type Registry struct {
	entries map[string]SmsProvider
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]SmsProvider)}
}

// Register binds every sender number starting with prefix to the provider.
func (r *Registry) Register(prefix string, p SmsProvider) {
	r.entries[prefix] = p
}

// ForSender returns the provider serving the sender number.
func (r *Registry) ForSender(sender string) (SmsProvider, error) {
	var (
		bestLen int
		best    SmsProvider
	)
	for prefix, p := range r.entries {
		if strings.HasPrefix(sender, prefix) && len(prefix) >= bestLen {
			bestLen = len(prefix)
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoProviderForSender, sender)
	}
	return best, nil
}
