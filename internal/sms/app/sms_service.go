package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	billingdomain "github.com/ehsan-hn/SmsHub/internal/billing/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/provider"
	"github.com/ehsan-hn/SmsHub/internal/sms/repository"
)

// BillingService is the slice of the billing layer the SMS pipeline needs.
// The tx-scoped variants let message creation and the deduction share one
// database transaction.
type BillingService interface {
	DeductTx(ctx context.Context, tx pgx.Tx, userID, amount int64) (*billingdomain.Transaction, int64, error)
	RefundTx(ctx context.Context, tx pgx.Tx, userID, amount, smsID int64) (*billingdomain.Transaction, int64, error)
	AttachSMSTx(ctx context.Context, tx pgx.Tx, txnID, smsID int64) error
	RefundedForSMSTx(ctx context.Context, tx pgx.Tx, smsID int64) (bool, error)
	CacheBalance(ctx context.Context, userID, balance int64)
}

// DB mirrors the pool subset the billing service uses.
type DB interface {
	repository.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Costs is the per-lane message price table.
type Costs struct {
	Standard int64
	Express  int64
}

func (c Costs) For(isExpress bool) int64 {
	if isExpress {
		return c.Express
	}
	return c.Standard
}

// SMSService owns the message lifecycle: creation with payment, queueing,
// recording dispatch outcomes and the terminal transitions.
type SMSService struct {
	repo       repository.SMSRepository
	billing    BillingService
	db         DB
	dispatcher Dispatcher
	costs      Costs
	sender     string
	logger     *slog.Logger
}

func NewSMSService(
	repo repository.SMSRepository,
	billing BillingService,
	db DB,
	dispatcher Dispatcher,
	costs Costs,
	sender string,
	logger *slog.Logger,
) *SMSService {
	return &SMSService{
		repo:       repo,
		billing:    billing,
		db:         db,
		dispatcher: dispatcher,
		costs:      costs,
		sender:     sender,
		logger:     logger.With("service", "sms"),
	}
}

// CreateAndDeduct charges the user for one message and records it in status
// created. The deduction, the message row and the ledger back-reference are one
// atomic unit: either the user pays and the message exists, or neither.
func (s *SMSService) CreateAndDeduct(ctx context.Context, userID int64, receiver, content string, isExpress bool) (*domain.SMS, error) {
	cost := s.costs.For(isExpress)

	var (
		sms        *domain.SMS
		newBalance int64
	)
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		txn, balance, err := s.billing.DeductTx(ctx, tx, userID, cost)
		if err != nil {
			return err
		}

		sms, err = s.repo.Create(ctx, tx, &domain.SMS{
			UserID:    userID,
			Status:    domain.StatusCreated,
			Sender:    s.sender,
			Receiver:  receiver,
			Content:   content,
			Cost:      cost,
			IsExpress: isExpress,
		})
		if err != nil {
			return err
		}

		if err := s.billing.AttachSMSTx(ctx, tx, txn.ID, sms.ID); err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.billing.CacheBalance(ctx, userID, newBalance)
	smsCreatedCounter.WithLabelValues(string(laneFor(isExpress))).Inc()
	s.logger.InfoContext(ctx, "sms created", "sms_id", sms.ID, "user_id", userID, "cost", cost, "express", isExpress)
	return sms, nil
}

// Enqueue hands the message to the dispatch pipeline and returns the task id.
// Only created and failed messages may be enqueued; forced bypasses the guard
// for operator-driven resends.
func (s *SMSService) Enqueue(ctx context.Context, sms *domain.SMS, forced bool) (string, error) {
	if !forced && !sms.CanEnqueue() {
		return "", fmt.Errorf("%w: cannot enqueue sms %d in status %s",
			domain.ErrInvalidStateTransition, sms.ID, sms.Status)
	}

	if err := s.repo.UpdateStatus(ctx, s.db, sms.ID, domain.StatusInQueue); err != nil {
		return "", err
	}
	sms.Status = domain.StatusInQueue

	taskID, err := s.dispatcher.Dispatch(ctx, sms.ID, laneFor(sms.IsExpress))
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "sms enqueued", "sms_id", sms.ID, "task_id", taskID, "lane", laneFor(sms.IsExpress))
	return taskID, nil
}

// RecordDispatchResult folds one send attempt into the message. The attempt
// counter and timestamp are stamped unconditionally. A transport error marks
// the message failed and is returned so the caller can retry. A gateway
// response outside the accepted shape marks the message failed with a
// diagnostic and returns nil; the response is not retryable.
func (s *SMSService) RecordDispatchResult(ctx context.Context, sms *domain.SMS, resp *provider.SendResponse, sendErr error) error {
	now := time.Now().UTC()
	sms.AttemptsNum++
	sms.LastAttemptAt = &now

	persist := func() {
		upd := repository.AttemptUpdate{
			Status:        sms.Status,
			MessageID:     sms.MessageID,
			AttemptsNum:   sms.AttemptsNum,
			LastAttemptAt: now,
			ServiceError:  sms.ServiceError,
		}
		if err := s.repo.RecordAttempt(ctx, s.db, sms.ID, upd); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist dispatch attempt", "sms_id", sms.ID, "error", err)
		}
	}
	defer persist()

	if sendErr != nil {
		sms.Status = domain.StatusFailed
		sms.ServiceError = sendErr.Error()
		return fmt.Errorf("send attempt %d failed: %w", sms.AttemptsNum, sendErr)
	}

	if resp != nil && resp.Status == 0 && len(resp.Messages) > 0 && resp.Messages[0].Status == 0 {
		mid := resp.Messages[0].ID
		sms.Status = domain.StatusSent
		sms.MessageID = &mid
		sms.ServiceError = ""
		s.logger.InfoContext(ctx, "sms handed to gateway", "sms_id", sms.ID, "message_id", mid)
		return nil
	}

	sms.Status = domain.StatusFailed
	sms.ServiceError = describeRejection(resp)
	s.logger.WarnContext(ctx, "gateway rejected sms", "sms_id", sms.ID, "detail", sms.ServiceError)
	return nil
}

func describeRejection(resp *provider.SendResponse) string {
	switch {
	case resp == nil:
		return "gateway returned no response"
	case len(resp.Messages) == 0:
		return fmt.Sprintf("gateway status %d with empty message list", resp.Status)
	default:
		return fmt.Sprintf("gateway status %d, message status %d", resp.Status, resp.Messages[0].Status)
	}
}

// Fail marks the message terminally failed and refunds its cost. The refund is
// guarded by the ledger so repeated failures of the same message pay back at
// most once, and a message already in a terminal state is left untouched.
func (s *SMSService) Fail(ctx context.Context, sms *domain.SMS) error {
	var newBalance int64
	refunded := false
	transitioned := false

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		changed, err := s.repo.TransitionStatus(ctx, tx, sms.ID, domain.StatusFailed, []domain.Status{
			domain.StatusDelivered, domain.StatusUserCanceled, domain.StatusUserBlocked,
		})
		if err != nil {
			return err
		}
		if !changed {
			s.logger.WarnContext(ctx, "skipping failure of terminal sms", "sms_id", sms.ID, "status", sms.Status)
			return nil
		}
		transitioned = true

		already, err := s.billing.RefundedForSMSTx(ctx, tx, sms.ID)
		if err != nil {
			return err
		}
		if already {
			return nil
		}

		_, balance, err := s.billing.RefundTx(ctx, tx, sms.UserID, sms.Cost, sms.ID)
		if err != nil {
			return err
		}
		newBalance = balance
		refunded = true
		return nil
	})
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}

	sms.Status = domain.StatusFailed
	if refunded {
		s.billing.CacheBalance(ctx, sms.UserID, newBalance)
		refundsIssuedCounter.Inc()
		s.logger.InfoContext(ctx, "sms failed, cost refunded", "sms_id", sms.ID, "user_id", sms.UserID, "amount", sms.Cost)
	}
	return nil
}

// Deliver marks the message delivered. Repeated delivery reports are no-ops.
func (s *SMSService) Deliver(ctx context.Context, sms *domain.SMS) error {
	if sms.Status == domain.StatusDelivered {
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, s.db, sms.ID, domain.StatusDelivered); err != nil {
		return err
	}
	sms.Status = domain.StatusDelivered
	s.logger.InfoContext(ctx, "sms delivered", "sms_id", sms.ID)
	return nil
}

// GetSMS fetches a single message.
func (s *SMSService) GetSMS(ctx context.Context, id int64) (*domain.SMS, error) {
	return s.repo.GetByID(ctx, s.db, id)
}

// Report lists a user's messages through the given filter.
func (s *SMSService) Report(ctx context.Context, userID int64, filter repository.ReportFilter) ([]domain.SMS, error) {
	return s.repo.ListByUser(ctx, s.db, userID, filter)
}
