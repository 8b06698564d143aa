package provider

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockProvider is an in-memory SmsProvider for tests and local development.
// Every send is accepted and assigned a sequential message id unless a
// scripted response or error is set.
type MockProvider struct {
	mu sync.Mutex

	SendErr    error
	SendResp   *SendResponse
	StatusErr  error
	StatusResp *StatusResponse

	nextID    atomic.Int64
	SentUIDs  []string
	Checked   [][]int64
	SendCalls int
}

func NewMockProvider() *MockProvider {
	m := &MockProvider{}
	m.nextID.Store(3000000000)
	return m
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Send(ctx context.Context, sender, recipient, content string, uid string) (*SendResponse, error) {
	return m.SendBulk(ctx, sender, []string{recipient}, []string{content}, []string{uid})
}

func (m *MockProvider) SendBulk(ctx context.Context, sender string, recipients, contents, uids []string) (*SendResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SendCalls++
	m.SentUIDs = append(m.SentUIDs, uids...)
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	if m.SendResp != nil {
		return m.SendResp, nil
	}

	out := &SendResponse{}
	for _, r := range recipients {
		out.Messages = append(out.Messages, SendResult{
			ID:        m.nextID.Add(1),
			Recipient: r,
		})
	}
	return out, nil
}

func (m *MockProvider) CheckStatus(ctx context.Context, messageIDs []int64) (*StatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Checked = append(m.Checked, messageIDs)
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	if m.StatusResp != nil {
		return m.StatusResp, nil
	}

	out := &StatusResponse{}
	for _, id := range messageIDs {
		out.DLRs = append(out.DLRs, DeliveryStatus{MID: id, Status: 1})
	}
	return out, nil
}
