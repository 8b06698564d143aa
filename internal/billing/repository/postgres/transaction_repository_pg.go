package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ehsan-hn/SmsHub/internal/billing/domain"
	"github.com/ehsan-hn/SmsHub/internal/billing/repository"
)

type pgTransactionRepository struct{}

// NewPgTransactionRepository creates a TransactionRepository backed by PostgreSQL.
func NewPgTransactionRepository() repository.TransactionRepository {
	return &pgTransactionRepository{}
}

func (r *pgTransactionRepository) Create(ctx context.Context, q repository.Querier, txn *domain.Transaction) (*domain.Transaction, error) {
	txn.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO transactions (user_id, type, amount, sms_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := q.QueryRow(ctx, query, txn.UserID, txn.Type, txn.Amount, txn.SMSID, txn.CreatedAt).
		Scan(&txn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return txn, nil
}

func (r *pgTransactionRepository) AttachSMS(ctx context.Context, q repository.Querier, txnID, smsID int64) error {
	query := `
		UPDATE transactions SET sms_id = $2
		WHERE id = $1 AND (sms_id IS NULL OR sms_id = $2)
	`
	tag, err := q.Exec(ctx, query, txnID, smsID)
	if err != nil {
		return fmt.Errorf("failed to attach sms to transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, txnID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrTransactionNotFound
		}
		return domain.ErrTransactionSMSConflict
	}
	return nil
}

func (r *pgTransactionRepository) HasRefundForSMS(ctx context.Context, q repository.Querier, smsID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM transactions WHERE sms_id = $1 AND type = $2)`
	if err := q.QueryRow(ctx, query, smsID, domain.TransactionTypeRefund).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *pgTransactionRepository) ListByUser(ctx context.Context, q repository.Querier, userID int64, limit, offset int) ([]domain.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, sms_id, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Type, &txn.Amount, &txn.SMSID, &txn.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}
