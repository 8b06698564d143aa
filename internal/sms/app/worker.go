package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ehsan-hn/SmsHub/internal/platform/messagebroker"
	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/provider"
)

// WorkerConfig sets per-lane retry budgets and the backoff base. Attempt n
// sleeps base<<n before the next try.
type WorkerConfig struct {
	StandardMaxRetries int
	ExpressMaxRetries  int
	BackoffBase        time.Duration
}

func (c WorkerConfig) budget(lane Lane) int {
	if lane == LaneExpress {
		return c.ExpressMaxRetries
	}
	return c.StandardMaxRetries
}

// Worker consumes dispatch jobs from the per-lane queues and drives each
// message through the gateway, retrying transport failures in-process.
type Worker struct {
	svc       *SMSService
	providers *provider.Registry
	broker    *messagebroker.NatsClient
	cfg       WorkerConfig
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewWorker(
	svc *SMSService,
	providers *provider.Registry,
	broker *messagebroker.NatsClient,
	cfg WorkerConfig,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		svc:       svc,
		providers: providers,
		broker:    broker,
		cfg:       cfg,
		logger:    logger.With("service", "sms_worker"),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start subscribes both lanes. Subscriptions stay active until the broker
// connection is closed; ctx bounds the handling of individual jobs.
func (w *Worker) Start(ctx context.Context) error {
	for _, lane := range []Lane{LaneStandard, LaneExpress} {
		lane := lane
		queueGroup := fmt.Sprintf("sms_workers_%s", lane)
		_, err := w.broker.QueueSubscribe(lane.Subject(), queueGroup, func(msg *nats.Msg) {
			w.handleMessage(ctx, lane, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", lane.Subject(), err)
		}
		w.logger.Info("worker subscribed", "subject", lane.Subject(), "queue_group", queueGroup)
	}
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, lane Lane, data []byte) {
	var job dispatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		w.logger.ErrorContext(ctx, "discarding malformed dispatch job", "lane", lane, "error", err)
		dispatchProcessedCounter.WithLabelValues(string(lane), "malformed").Inc()
		return
	}

	start := time.Now()
	outcome := w.processJob(ctx, lane, job)
	dispatchDuration.WithLabelValues(string(lane)).Observe(time.Since(start).Seconds())
	dispatchProcessedCounter.WithLabelValues(string(lane), outcome).Inc()
}

// processJob runs one job to a terminal outcome and returns it as a metric
// label: sent, failed, skipped or error.
func (w *Worker) processJob(ctx context.Context, lane Lane, job dispatchJob) string {
	logger := w.logger.With("task_id", job.TaskID, "sms_id", job.SMSID, "lane", lane)

	sms, err := w.svc.GetSMS(ctx, job.SMSID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load sms for dispatch", "error", err)
		return "error"
	}

	// Redelivery guard: anything not in_queue was already handled.
	if sms.Status != domain.StatusInQueue {
		logger.WarnContext(ctx, "skipping sms not in queue", "status", sms.Status)
		return "skipped"
	}

	p, err := w.providers.ForSender(sms.Sender)
	if err != nil {
		logger.ErrorContext(ctx, "no provider for sms", "sender", sms.Sender, "error", err)
		if ferr := w.svc.Fail(ctx, sms); ferr != nil {
			logger.ErrorContext(ctx, "failed to fail sms", "error", ferr)
			return "error"
		}
		return "failed"
	}

	budget := w.cfg.budget(lane)
	uid := strconv.FormatInt(sms.ID, 10)

	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			if err := w.sleep(ctx, w.cfg.BackoffBase<<uint(attempt-1)); err != nil {
				logger.WarnContext(ctx, "dispatch aborted during backoff", "error", err)
				return "error"
			}
		}

		resp, sendErr := p.Send(ctx, sms.Sender, sms.Receiver, sms.Content, uid)
		err := w.svc.RecordDispatchResult(ctx, sms, resp, sendErr)
		if err == nil {
			if sms.Status == domain.StatusSent {
				return "sent"
			}
			// Gateway rejection: not retryable, terminal failure.
			break
		}
		if !errors.Is(err, domain.ErrGatewayTransport) {
			logger.ErrorContext(ctx, "non-transport dispatch error", "error", err)
			break
		}
		logger.WarnContext(ctx, "transport error, will retry", "attempt", sms.AttemptsNum, "error", err)
	}

	if ferr := w.svc.Fail(ctx, sms); ferr != nil {
		logger.ErrorContext(ctx, "failed to fail sms after exhausted attempts", "error", ferr)
		return "error"
	}
	return "failed"
}
