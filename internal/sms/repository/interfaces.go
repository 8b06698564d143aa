package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
)

// Querier is the common interface of pgxpool.Pool and pgx.Tx so repository
// methods can run inside or outside an enclosing transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReportFilter narrows a user's message listing.
type ReportFilter struct {
	Status    *domain.Status
	IsExpress *bool
	Receiver  string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// AttemptUpdate carries the fields RecordAttempt writes in one statement.
type AttemptUpdate struct {
	Status        domain.Status
	MessageID     *int64
	AttemptsNum   int
	LastAttemptAt time.Time
	ServiceError  string
}

// SMSRepository persists messages and their lifecycle state.
type SMSRepository interface {
	Create(ctx context.Context, q Querier, sms *domain.SMS) (*domain.SMS, error)
	GetByID(ctx context.Context, q Querier, id int64) (*domain.SMS, error)
	GetByMessageID(ctx context.Context, q Querier, messageID int64) (*domain.SMS, error)

	// UpdateStatus moves the message to the given status and bumps modified_at.
	UpdateStatus(ctx context.Context, q Querier, id int64, status domain.Status) error

	// TransitionStatus moves the message to the given status unless its current
	// status is one of excluded, and reports whether the row changed. Used to
	// keep terminal states from being rewritten by a racing transition.
	TransitionStatus(ctx context.Context, q Querier, id int64, status domain.Status, excluded []domain.Status) (bool, error)

	// RecordAttempt persists the outcome of one dispatch attempt.
	RecordAttempt(ctx context.Context, q Querier, id int64, upd AttemptUpdate) error

	// ListStaleSent returns sent messages holding a gateway id whose last
	// state change is older than the cutoff.
	ListStaleSent(ctx context.Context, q Querier, cutoff time.Time) ([]domain.SMS, error)

	// ListStaleInQueue returns messages stuck in in_queue since before the
	// cutoff. Their dispatch job was lost; they never reached a gateway.
	ListStaleInQueue(ctx context.Context, q Querier, cutoff time.Time) ([]domain.SMS, error)

	// TouchStale bumps modified_at on stale rows in the given status and
	// returns how many were touched.
	TouchStale(ctx context.Context, q Querier, status domain.Status, cutoff time.Time) (int64, error)

	ListByUser(ctx context.Context, q Querier, userID int64, filter ReportFilter) ([]domain.SMS, error)
}
