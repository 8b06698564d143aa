package domain

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a message.
type Status string

const (
	StatusCreated      Status = "created"
	StatusInQueue      Status = "in_queue"
	StatusSent         Status = "sent"
	StatusDelivered    Status = "delivered"
	StatusFailed       Status = "failed"
	StatusUserCanceled Status = "user_canceled"
	StatusUserBlocked  Status = "user_blocked"
)

var (
	ErrSMSNotFound = errors.New("sms not found")

	// ErrInvalidStateTransition is returned when an operation is applied to a
	// message whose current status does not permit it.
	ErrInvalidStateTransition = errors.New("invalid sms state transition")

	// ErrGatewayTransport wraps network or HTTP failures while talking to the
	// upstream gateway. Callers treat it as retryable.
	ErrGatewayTransport = errors.New("sms gateway transport error")
)

// SMS is a single outbound message. MessageID is the upstream gateway's
// identifier, assigned only after a successful hand-off.
type SMS struct {
	ID            int64
	MessageID     *int64
	UserID        int64
	Status        Status
	Sender        string
	Receiver      string
	Content       string
	Cost          int64
	IsExpress     bool
	AttemptsNum   int
	LastAttemptAt *time.Time
	ServiceError  string
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// CanEnqueue reports whether the message may be handed to the dispatch queue.
// Failed messages may be enqueued again for a manual resend.
func (s *SMS) CanEnqueue() bool {
	return s.Status == StatusCreated || s.Status == StatusFailed
}

// IsTerminal reports whether the message has reached a state the dispatch
// pipeline will no longer advance.
func (s *SMS) IsTerminal() bool {
	switch s.Status {
	case StatusDelivered, StatusUserCanceled, StatusUserBlocked:
		return true
	}
	return false
}
