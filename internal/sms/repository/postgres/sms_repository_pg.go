package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/repository"
)

type pgSMSRepository struct{}

// NewPgSMSRepository creates an SMSRepository backed by PostgreSQL.
func NewPgSMSRepository() repository.SMSRepository {
	return &pgSMSRepository{}
}

const smsColumns = `
	id, message_id, user_id, status, sender, receiver, content, cost,
	is_express, attempts_num, last_attempt_at, service_error, created_at, modified_at
`

func scanSMS(row pgx.Row) (*domain.SMS, error) {
	sms := &domain.SMS{}
	err := row.Scan(
		&sms.ID, &sms.MessageID, &sms.UserID, &sms.Status, &sms.Sender,
		&sms.Receiver, &sms.Content, &sms.Cost, &sms.IsExpress,
		&sms.AttemptsNum, &sms.LastAttemptAt, &sms.ServiceError,
		&sms.CreatedAt, &sms.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSMSNotFound
		}
		return nil, err
	}
	return sms, nil
}

func (r *pgSMSRepository) Create(ctx context.Context, q repository.Querier, sms *domain.SMS) (*domain.SMS, error) {
	query := `
		INSERT INTO sms (user_id, status, sender, receiver, content, cost, is_express)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, modified_at
	`
	err := q.QueryRow(ctx, query,
		sms.UserID, sms.Status, sms.Sender, sms.Receiver, sms.Content, sms.Cost, sms.IsExpress,
	).Scan(&sms.ID, &sms.CreatedAt, &sms.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sms: %w", err)
	}
	return sms, nil
}

func (r *pgSMSRepository) GetByID(ctx context.Context, q repository.Querier, id int64) (*domain.SMS, error) {
	query := `SELECT ` + smsColumns + ` FROM sms WHERE id = $1`
	return scanSMS(q.QueryRow(ctx, query, id))
}

func (r *pgSMSRepository) GetByMessageID(ctx context.Context, q repository.Querier, messageID int64) (*domain.SMS, error) {
	query := `SELECT ` + smsColumns + ` FROM sms WHERE message_id = $1`
	return scanSMS(q.QueryRow(ctx, query, messageID))
}

func (r *pgSMSRepository) UpdateStatus(ctx context.Context, q repository.Querier, id int64, status domain.Status) error {
	query := `UPDATE sms SET status = $2, modified_at = now() WHERE id = $1`
	tag, err := q.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update sms status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSMSNotFound
	}
	return nil
}

func (r *pgSMSRepository) TransitionStatus(ctx context.Context, q repository.Querier, id int64, status domain.Status, excluded []domain.Status) (bool, error) {
	blocked := make([]string, len(excluded))
	for i, s := range excluded {
		blocked[i] = string(s)
	}
	query := `
		UPDATE sms SET status = $2, modified_at = now()
		WHERE id = $1 AND NOT (status = ANY($3))
	`
	tag, err := q.Exec(ctx, query, id, status, blocked)
	if err != nil {
		return false, fmt.Errorf("failed to transition sms status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sms WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrSMSNotFound
	}
	return false, nil
}

func (r *pgSMSRepository) RecordAttempt(ctx context.Context, q repository.Querier, id int64, upd repository.AttemptUpdate) error {
	query := `
		UPDATE sms
		SET status = $2,
		    message_id = COALESCE($3, message_id),
		    attempts_num = $4,
		    last_attempt_at = $5,
		    service_error = $6,
		    modified_at = now()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query,
		id, upd.Status, upd.MessageID, upd.AttemptsNum, upd.LastAttemptAt, upd.ServiceError,
	)
	if err != nil {
		return fmt.Errorf("failed to record sms attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSMSNotFound
	}
	return nil
}

func (r *pgSMSRepository) ListStaleSent(ctx context.Context, q repository.Querier, cutoff time.Time) ([]domain.SMS, error) {
	query := `
		SELECT ` + smsColumns + `
		FROM sms
		WHERE status = $1 AND message_id IS NOT NULL AND modified_at < $2
		ORDER BY modified_at
	`
	rows, err := q.Query(ctx, query, domain.StatusSent, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sent sms: %w", err)
	}
	defer rows.Close()
	return collectSMS(rows)
}

func (r *pgSMSRepository) ListStaleInQueue(ctx context.Context, q repository.Querier, cutoff time.Time) ([]domain.SMS, error) {
	query := `
		SELECT ` + smsColumns + `
		FROM sms
		WHERE status = $1 AND modified_at < $2
		ORDER BY modified_at
	`
	rows, err := q.Query(ctx, query, domain.StatusInQueue, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale queued sms: %w", err)
	}
	defer rows.Close()
	return collectSMS(rows)
}

func (r *pgSMSRepository) TouchStale(ctx context.Context, q repository.Querier, status domain.Status, cutoff time.Time) (int64, error) {
	query := `UPDATE sms SET modified_at = now() WHERE status = $1 AND modified_at < $2`
	tag, err := q.Exec(ctx, query, status, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to touch stale sms: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgSMSRepository) ListByUser(ctx context.Context, q repository.Querier, userID int64, filter repository.ReportFilter) ([]domain.SMS, error) {
	query := `SELECT ` + smsColumns + ` FROM sms WHERE user_id = $1`
	args := []any{userID}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.IsExpress != nil {
		args = append(args, *filter.IsExpress)
		query += fmt.Sprintf(" AND is_express = $%d", len(args))
	}
	if filter.Receiver != "" {
		args = append(args, filter.Receiver)
		query += fmt.Sprintf(" AND receiver = $%d", len(args))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sms for user: %w", err)
	}
	defer rows.Close()
	return collectSMS(rows)
}

func collectSMS(rows pgx.Rows) ([]domain.SMS, error) {
	var out []domain.SMS
	for rows.Next() {
		sms := domain.SMS{}
		err := rows.Scan(
			&sms.ID, &sms.MessageID, &sms.UserID, &sms.Status, &sms.Sender,
			&sms.Receiver, &sms.Content, &sms.Cost, &sms.IsExpress,
			&sms.AttemptsNum, &sms.LastAttemptAt, &sms.ServiceError,
			&sms.CreatedAt, &sms.ModifiedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, sms)
	}
	return out, rows.Err()
}
