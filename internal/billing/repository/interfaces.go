package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehsan-hn/SmsHub/internal/billing/domain"
)

// Querier is the common interface of pgxpool.Pool and pgx.Tx so repository
// methods can run inside or outside an enclosing transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository persists users and their authoritative balance.
type UserRepository interface {
	Create(ctx context.Context, q Querier, user *domain.User) (*domain.User, error)
	GetByID(ctx context.Context, q Querier, id int64) (*domain.User, error)
	GetBalance(ctx context.Context, q Querier, id int64) (int64, error)

	// LockBalance acquires the per-user row lock and returns the balance read
	// under it. Within the enclosing transaction all balance reads and writes
	// for that user are serialized.
	LockBalance(ctx context.Context, q Querier, id int64) (int64, error)

	// AdjustBalance applies a signed delta and returns the new balance. Callers
	// must hold the row lock when a check-then-adjust sequence must not race.
	AdjustBalance(ctx context.Context, q Querier, id int64, delta int64) (int64, error)
}

// TransactionRepository persists the append-only ledger.
type TransactionRepository interface {
	Create(ctx context.Context, q Querier, txn *domain.Transaction) (*domain.Transaction, error)

	// AttachSMS sets the SMS back-reference on an existing ledger entry.
	// Attaching the same SMS twice is a no-op; attaching a different SMS fails
	// with ErrTransactionSMSConflict.
	AttachSMS(ctx context.Context, q Querier, txnID, smsID int64) error

	// HasRefundForSMS reports whether a refund already references the SMS.
	HasRefundForSMS(ctx context.Context, q Querier, smsID int64) (bool, error)

	ListByUser(ctx context.Context, q Querier, userID int64, limit, offset int) ([]domain.Transaction, error)
}
