package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/provider"
)

func newTestWorker(t *testing.T, f *smsFixture, p provider.SmsProvider, cfg WorkerConfig) *Worker {
	t.Helper()
	registry := provider.NewRegistry()
	registry.Register("", p)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := NewWorker(f.svc, registry, nil, cfg, logger)
	w.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return w
}

func defaultWorkerConfig() WorkerConfig {
	return WorkerConfig{StandardMaxRetries: 3, ExpressMaxRetries: 6, BackoffBase: time.Millisecond}
}

func TestWorkerSendsMessage(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue, Sender: "100002", Receiver: "+989121234567"})

	mock := provider.NewMockProvider()
	w := newTestWorker(t, f, mock, defaultWorkerConfig())

	outcome := w.processJob(ctx, LaneStandard, dispatchJob{TaskID: "task-1", SMSID: sms.ID})
	assert.Equal(t, "sent", outcome)

	stored := f.repo.get(sms.ID)
	assert.Equal(t, domain.StatusSent, stored.Status)
	require.NotNil(t, stored.MessageID)
	assert.Equal(t, 1, stored.AttemptsNum)
	assert.Empty(t, f.billing.refunds)
}

func TestWorkerSkipsMessageNotInQueue(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusSent, Sender: "100002"})

	mock := provider.NewMockProvider()
	w := newTestWorker(t, f, mock, defaultWorkerConfig())

	outcome := w.processJob(ctx, LaneStandard, dispatchJob{TaskID: "task-1", SMSID: sms.ID})
	assert.Equal(t, "skipped", outcome)
	assert.Zero(t, mock.SendCalls)
}

func TestWorkerUnknownSMS(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	w := newTestWorker(t, f, provider.NewMockProvider(), defaultWorkerConfig())

	outcome := w.processJob(ctx, LaneStandard, dispatchJob{TaskID: "task-1", SMSID: 404})
	assert.Equal(t, "error", outcome)
}

func TestWorkerRetriesTransportErrorsUntilBudget(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue, Sender: "100002", Cost: 1000})

	mock := provider.NewMockProvider()
	mock.SendErr = fmt.Errorf("%w: connection refused", domain.ErrGatewayTransport)

	cfg := defaultWorkerConfig()
	cfg.StandardMaxRetries = 2

	var backoffs []time.Duration
	w := newTestWorker(t, f, mock, cfg)
	w.sleep = func(ctx context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	}

	outcome := w.processJob(ctx, LaneStandard, dispatchJob{TaskID: "task-1", SMSID: sms.ID})
	assert.Equal(t, "failed", outcome)

	assert.Equal(t, 3, mock.SendCalls, "initial attempt plus the retry budget")
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, backoffs)

	stored := f.repo.get(sms.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, 3, stored.AttemptsNum)
	assert.Equal(t, []int64{sms.ID}, f.billing.refunds, "terminal failure refunds the cost")
}

func TestWorkerExpressLaneGetsLargerBudget(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue, Sender: "100002", IsExpress: true, Cost: 1500})

	mock := provider.NewMockProvider()
	mock.SendErr = fmt.Errorf("%w: connection refused", domain.ErrGatewayTransport)
	w := newTestWorker(t, f, mock, defaultWorkerConfig())

	outcome := w.processJob(ctx, LaneExpress, dispatchJob{TaskID: "task-1", SMSID: sms.ID})
	assert.Equal(t, "failed", outcome)
	assert.Equal(t, 7, mock.SendCalls)
}

func TestWorkerGatewayRejectionIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue, Sender: "100002", Cost: 1000})

	mock := provider.NewMockProvider()
	mock.SendResp = &provider.SendResponse{Status: 18}
	w := newTestWorker(t, f, mock, defaultWorkerConfig())

	outcome := w.processJob(ctx, LaneStandard, dispatchJob{TaskID: "task-1", SMSID: sms.ID})
	assert.Equal(t, "failed", outcome)
	assert.Equal(t, 1, mock.SendCalls)
	assert.Equal(t, []int64{sms.ID}, f.billing.refunds)
}

func TestWorkerNoProviderFailsMessage(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue, Sender: "100002", Cost: 1000})

	registry := provider.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(f.svc, registry, nil, defaultWorkerConfig(), logger)

	outcome := w.processJob(ctx, LaneStandard, dispatchJob{TaskID: "task-1", SMSID: sms.ID})
	assert.Equal(t, "failed", outcome)
	assert.Equal(t, []int64{sms.ID}, f.billing.refunds)
}

func TestWorkerSuccessAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue, Sender: "100002", Cost: 1000})

	mock := &flakyProvider{failFirst: 2, inner: provider.NewMockProvider()}
	w := newTestWorker(t, f, mock, defaultWorkerConfig())

	outcome := w.processJob(ctx, LaneStandard, dispatchJob{TaskID: "task-1", SMSID: sms.ID})
	assert.Equal(t, "sent", outcome)

	stored := f.repo.get(sms.ID)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, 3, stored.AttemptsNum)
	assert.Empty(t, f.billing.refunds)
}

// flakyProvider fails the first failFirst sends with a transport error, then
// delegates to the inner provider.
type flakyProvider struct {
	failFirst int
	calls     int
	inner     *provider.MockProvider
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) Send(ctx context.Context, sender, recipient, content string, uid string) (*provider.SendResponse, error) {
	p.calls++
	if p.calls <= p.failFirst {
		return nil, fmt.Errorf("%w: connection reset", domain.ErrGatewayTransport)
	}
	return p.inner.Send(ctx, sender, recipient, content, uid)
}

func (p *flakyProvider) SendBulk(ctx context.Context, sender string, recipients, contents, uids []string) (*provider.SendResponse, error) {
	return p.inner.SendBulk(ctx, sender, recipients, contents, uids)
}

func (p *flakyProvider) CheckStatus(ctx context.Context, messageIDs []int64) (*provider.StatusResponse, error) {
	return p.inner.CheckStatus(ctx, messageIDs)
}
