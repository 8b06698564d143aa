package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
)

// MagfaConfig carries the credentials and endpoint of the Magfa HTTP gateway.
type MagfaConfig struct {
	Username string
	Password string
	Domain   string
	Endpoint string
}

// MagfaProvider speaks the Magfa HTTP v2 API. Authentication is HTTP basic
// with the username qualified by the account domain.
type MagfaProvider struct {
	cfg        MagfaConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewMagfaProvider(cfg MagfaConfig, logger *slog.Logger) *MagfaProvider {
	return &MagfaProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("provider", "magfa"),
	}
}

func (p *MagfaProvider) Name() string { return "magfa" }

type magfaSendRequest struct {
	Senders    []string `json:"senders"`
	Recipients []string `json:"recipients"`
	Messages   []string `json:"messages"`
	UIDs       []string `json:"uids,omitempty"`
}

func (p *MagfaProvider) Send(ctx context.Context, sender, recipient, content string, uid string) (*SendResponse, error) {
	return p.SendBulk(ctx, sender, []string{recipient}, []string{content}, []string{uid})
}

func (p *MagfaProvider) SendBulk(ctx context.Context, sender string, recipients, contents, uids []string) (*SendResponse, error) {
	senders := make([]string, len(recipients))
	for i := range senders {
		senders[i] = sender
	}
	payload := magfaSendRequest{
		Senders:    senders,
		Recipients: recipients,
		Messages:   contents,
		UIDs:       uids,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode magfa send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build magfa send request: %w", err)
	}
	p.prepare(req)

	var out SendResponse
	if err := p.do(req, &out); err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "magfa send completed", "status", out.Status, "messages", len(out.Messages))
	return &out, nil
}

func (p *MagfaProvider) CheckStatus(ctx context.Context, messageIDs []int64) (*StatusResponse, error) {
	mids := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		mids[i] = strconv.FormatInt(id, 10)
	}

	url := p.cfg.Endpoint + "/statuses/" + strings.Join(mids, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build magfa status request: %w", err)
	}
	p.prepare(req)

	var out StatusResponse
	if err := p.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *MagfaProvider) prepare(req *http.Request) {
	req.SetBasicAuth(p.cfg.Username+"/"+p.cfg.Domain, p.cfg.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
}

func (p *MagfaProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: magfa returned http %d", domain.ErrGatewayTransport, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode magfa response: %v", domain.ErrGatewayTransport, err)
	}
	return nil
}
