package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/ehsan-hn/SmsHub/internal/billing/domain"
	"github.com/ehsan-hn/SmsHub/internal/billing/repository"
	"github.com/ehsan-hn/SmsHub/internal/platform/cache"
)

const balanceKeyTemplate = "user_balance:%d"

func balanceKey(userID int64) string {
	return fmt.Sprintf(balanceKeyTemplate, userID)
}

// DB is the subset of pgxpool.Pool the service needs: plain queries plus the
// ability to begin a transaction.
type DB interface {
	repository.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TransactionService owns every balance-affecting operation. Each mutation
// runs inside a single database transaction under the user's row lock, and the
// balance cache is written only after the commit succeeds.
type TransactionService struct {
	users        repository.UserRepository
	transactions repository.TransactionRepository
	db           DB
	cache        cache.Cache
	logger       *slog.Logger
}

func NewTransactionService(
	users repository.UserRepository,
	transactions repository.TransactionRepository,
	db DB,
	balanceCache cache.Cache,
	logger *slog.Logger,
) *TransactionService {
	return &TransactionService{
		users:        users,
		transactions: transactions,
		db:           db,
		cache:        balanceCache,
		logger:       logger.With("service", "billing"),
	}
}

// Charge increases the user's balance and appends a charge ledger entry.
func (s *TransactionService) Charge(ctx context.Context, userID, amount int64) (*domain.Transaction, int64, error) {
	if amount <= 0 {
		return nil, 0, domain.ErrInvalidAmount
	}

	var (
		txn        *domain.Transaction
		newBalance int64
	)
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := s.users.LockBalance(ctx, tx, userID); err != nil {
			return err
		}
		balance, err := s.users.AdjustBalance(ctx, tx, userID, amount)
		if err != nil {
			return err
		}
		txn, err = s.transactions.Create(ctx, tx, &domain.Transaction{
			UserID: userID,
			Type:   domain.TransactionTypeCharge,
			Amount: amount,
		})
		if err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	s.CacheBalance(ctx, userID, newBalance)
	s.logger.InfoContext(ctx, "balance charged", "user_id", userID, "amount", amount, "balance", newBalance)
	return txn, newBalance, nil
}

// Deduct decreases the user's balance after re-reading it under the row lock.
// The check-then-decrement sequence is serialized per user, so concurrent
// deducts can never jointly overdraw the balance. The ledger entry is recorded
// with a negative amount.
func (s *TransactionService) Deduct(ctx context.Context, userID, amount int64) (*domain.Transaction, int64, error) {
	if amount <= 0 {
		return nil, 0, domain.ErrInvalidAmount
	}

	var (
		txn        *domain.Transaction
		newBalance int64
	)
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		txn, newBalance, err = s.DeductTx(ctx, tx, userID, amount)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	s.CacheBalance(ctx, userID, newBalance)
	return txn, newBalance, nil
}

// DeductTx performs a deduction inside a caller-owned transaction so it can be
// composed with other writes (SMS creation) in one atomic unit. The caller is
// responsible for calling CacheBalance after its transaction commits.
func (s *TransactionService) DeductTx(ctx context.Context, tx pgx.Tx, userID, amount int64) (*domain.Transaction, int64, error) {
	if amount <= 0 {
		return nil, 0, domain.ErrInvalidAmount
	}

	balance, err := s.users.LockBalance(ctx, tx, userID)
	if err != nil {
		return nil, 0, err
	}
	if balance < amount {
		s.logger.WarnContext(ctx, "deduction rejected", "user_id", userID, "balance", balance, "amount", amount)
		return nil, 0, domain.ErrInsufficientFunds
	}

	newBalance, err := s.users.AdjustBalance(ctx, tx, userID, -amount)
	if err != nil {
		return nil, 0, err
	}
	txn, err := s.transactions.Create(ctx, tx, &domain.Transaction{
		UserID: userID,
		Type:   domain.TransactionTypeSMSDeduction,
		Amount: -amount,
	})
	if err != nil {
		return nil, 0, err
	}

	s.logger.InfoContext(ctx, "balance deducted", "user_id", userID, "amount", amount, "balance", newBalance)
	return txn, newBalance, nil
}

// Refund returns a previously deducted amount and appends a refund entry
// referencing the SMS that caused it.
func (s *TransactionService) Refund(ctx context.Context, userID, amount, smsID int64) (*domain.Transaction, int64, error) {
	if amount <= 0 {
		return nil, 0, domain.ErrInvalidAmount
	}

	var (
		txn        *domain.Transaction
		newBalance int64
	)
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		txn, newBalance, err = s.RefundTx(ctx, tx, userID, amount, smsID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	s.CacheBalance(ctx, userID, newBalance)
	return txn, newBalance, nil
}

// RefundTx performs a refund inside a caller-owned transaction.
func (s *TransactionService) RefundTx(ctx context.Context, tx pgx.Tx, userID, amount, smsID int64) (*domain.Transaction, int64, error) {
	if amount <= 0 {
		return nil, 0, domain.ErrInvalidAmount
	}

	if _, err := s.users.LockBalance(ctx, tx, userID); err != nil {
		return nil, 0, err
	}
	newBalance, err := s.users.AdjustBalance(ctx, tx, userID, amount)
	if err != nil {
		return nil, 0, err
	}
	txn, err := s.transactions.Create(ctx, tx, &domain.Transaction{
		UserID: userID,
		Type:   domain.TransactionTypeRefund,
		Amount: amount,
		SMSID:  &smsID,
	})
	if err != nil {
		return nil, 0, err
	}

	s.logger.InfoContext(ctx, "balance refunded", "user_id", userID, "amount", amount, "sms_id", smsID, "balance", newBalance)
	return txn, newBalance, nil
}

// AttachSMS sets the SMS back-reference on an existing ledger entry. The
// deduction is recorded before the SMS row exists, so the link is closed here.
func (s *TransactionService) AttachSMS(ctx context.Context, txnID, smsID int64) error {
	return s.transactions.AttachSMS(ctx, s.db, txnID, smsID)
}

// AttachSMSTx is AttachSMS inside a caller-owned transaction.
func (s *TransactionService) AttachSMSTx(ctx context.Context, tx pgx.Tx, txnID, smsID int64) error {
	return s.transactions.AttachSMS(ctx, tx, txnID, smsID)
}

// RefundedForSMSTx reports whether a refund transaction already references the
// SMS. Used as the exactly-once guard on failure refunds.
func (s *TransactionService) RefundedForSMSTx(ctx context.Context, tx pgx.Tx, smsID int64) (bool, error) {
	return s.transactions.HasRefundForSMS(ctx, tx, smsID)
}

// ReadBalance returns the cached balance, falling back to the authoritative
// store on a miss and repopulating the cache.
func (s *TransactionService) ReadBalance(ctx context.Context, userID int64) (int64, error) {
	key := balanceKey(userID)

	val, err := s.cache.Get(ctx, key)
	if err == nil {
		if balance, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return balance, nil
		}
		s.logger.WarnContext(ctx, "unparseable cached balance, falling back to store", "user_id", userID, "value", val)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.WarnContext(ctx, "balance cache read failed, falling back to store", "user_id", userID, "error", err)
	}

	balance, err := s.users.GetBalance(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	s.CacheBalance(ctx, userID, balance)
	return balance, nil
}

// CacheBalance writes the committed balance to the cache. It must be called
// only after the corresponding store commit succeeded; a failed write is logged
// and otherwise ignored since the next miss self-heals.
func (s *TransactionService) CacheBalance(ctx context.Context, userID, balance int64) {
	if err := s.cache.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), 0); err != nil {
		s.logger.WarnContext(ctx, "failed to update balance cache", "user_id", userID, "error", err)
	}
}

// GetUser fetches a user; used by the transport layer for existence checks.
func (s *TransactionService) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	return s.users.GetByID(ctx, s.db, userID)
}

// ListTransactions returns the user's most recent ledger entries.
func (s *TransactionService) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]domain.Transaction, error) {
	return s.transactions.ListByUser(ctx, s.db, userID, limit, offset)
}
