package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/provider"
	"github.com/ehsan-hn/SmsHub/internal/sms/repository"
)

// Delivery report codes returned by the gateway's status endpoint.
const (
	dlrFailed      = -1
	dlrDelivered   = 1
	dlrDeliveredTo = 2
)

// PollerConfig sets the reconciliation cadence and staleness window.
type PollerConfig struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	TouchStatus domain.Status
	ChunkSize   int
}

// Poller periodically resolves messages stuck in sent by asking the gateway
// for their delivery status.
type Poller struct {
	svc       *SMSService
	repo      repository.SMSRepository
	db        DB
	providers *provider.Registry
	cfg       PollerConfig
	logger    *slog.Logger

	now func() time.Time
}

func NewPoller(
	svc *SMSService,
	repo repository.SMSRepository,
	db DB,
	providers *provider.Registry,
	cfg PollerConfig,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		svc:       svc,
		repo:      repo,
		db:        db,
		providers: providers,
		cfg:       cfg,
		logger:    logger.With("service", "reconciliation"),
		now:       time.Now,
	}
}

// Run blocks, reconciling once per interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("reconciliation poller started", "interval", p.cfg.Interval, "stale_after", p.cfg.StaleAfter)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconciliation poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce runs one reconciliation pass. Errors are logged and swallowed
// so a bad chunk never stops the rest of the pass.
func (p *Poller) ReconcileOnce(ctx context.Context) {
	cutoff := p.now().UTC().Add(-p.cfg.StaleAfter)

	if p.cfg.TouchStatus != "" {
		touched, err := p.repo.TouchStale(ctx, p.db, p.cfg.TouchStatus, cutoff)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to touch stale messages", "status", p.cfg.TouchStatus, "error", err)
		} else if touched > 0 {
			p.logger.InfoContext(ctx, "touched stale messages", "status", p.cfg.TouchStatus, "count", touched)
		}
	}

	p.failAbandonedQueued(ctx, cutoff)

	stale, err := p.repo.ListStaleSent(ctx, p.db, cutoff)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to list stale sent messages", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}
	p.logger.InfoContext(ctx, "reconciling stale sent messages", "count", len(stale))

	for _, group := range p.groupByProvider(ctx, stale) {
		for start := 0; start < len(group.messages); start += p.cfg.ChunkSize {
			end := start + p.cfg.ChunkSize
			if end > len(group.messages) {
				end = len(group.messages)
			}
			p.reconcileChunk(ctx, group.provider, group.messages[start:end])
		}
	}
}

// failAbandonedQueued resolves messages whose dispatch job was lost: still
// in_queue past the staleness window, deducted but never handed to a gateway.
// Failing them issues the refund and returns them to a re-queueable state.
func (p *Poller) failAbandonedQueued(ctx context.Context, cutoff time.Time) {
	abandoned, err := p.repo.ListStaleInQueue(ctx, p.db, cutoff)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to list stale queued messages", "error", err)
		return
	}
	if len(abandoned) == 0 {
		return
	}
	p.logger.WarnContext(ctx, "failing abandoned queued messages", "count", len(abandoned))

	for i := range abandoned {
		sms := &abandoned[i]
		if err := p.svc.Fail(ctx, sms); err != nil {
			p.logger.ErrorContext(ctx, "failed to fail abandoned sms", "sms_id", sms.ID, "error", err)
			continue
		}
		reconcileResolvedCounter.WithLabelValues("abandoned").Inc()
	}
}

type providerGroup struct {
	provider provider.SmsProvider
	messages []domain.SMS
}

func (p *Poller) groupByProvider(ctx context.Context, stale []domain.SMS) []providerGroup {
	byName := make(map[string]*providerGroup)
	var order []string

	for _, sms := range stale {
		prov, err := p.providers.ForSender(sms.Sender)
		if err != nil {
			p.logger.WarnContext(ctx, "no provider for stale sms", "sms_id", sms.ID, "sender", sms.Sender)
			continue
		}
		g, ok := byName[prov.Name()]
		if !ok {
			g = &providerGroup{provider: prov}
			byName[prov.Name()] = g
			order = append(order, prov.Name())
		}
		g.messages = append(g.messages, sms)
	}

	out := make([]providerGroup, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

func (p *Poller) reconcileChunk(ctx context.Context, prov provider.SmsProvider, chunk []domain.SMS) {
	mids := make([]int64, 0, len(chunk))
	byMID := make(map[int64]*domain.SMS, len(chunk))
	for i := range chunk {
		if chunk[i].MessageID == nil {
			continue
		}
		mids = append(mids, *chunk[i].MessageID)
		byMID[*chunk[i].MessageID] = &chunk[i]
	}
	if len(mids) == 0 {
		return
	}

	resp, err := prov.CheckStatus(ctx, mids)
	if err != nil {
		p.logger.ErrorContext(ctx, "delivery status query failed", "provider", prov.Name(), "mids", len(mids), "error", err)
		return
	}
	reconcileCheckedCounter.Add(float64(len(mids)))

	for _, dlr := range resp.DLRs {
		sms, ok := byMID[dlr.MID]
		if !ok {
			p.logger.WarnContext(ctx, "delivery report for unknown message id", "message_id", dlr.MID)
			continue
		}
		switch dlr.Status {
		case dlrFailed:
			if err := p.svc.Fail(ctx, sms); err != nil {
				p.logger.ErrorContext(ctx, "failed to mark sms failed", "sms_id", sms.ID, "error", err)
				continue
			}
			reconcileResolvedCounter.WithLabelValues("failed").Inc()
		case dlrDelivered, dlrDeliveredTo:
			if err := p.svc.Deliver(ctx, sms); err != nil {
				p.logger.ErrorContext(ctx, "failed to mark sms delivered", "sms_id", sms.ID, "error", err)
				continue
			}
			reconcileResolvedCounter.WithLabelValues("delivered").Inc()
		default:
			// Still pending at the gateway; leave it for the next pass.
		}
	}
}
