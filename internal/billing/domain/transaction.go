package domain

import (
	"errors"
	"time"
)

// TransactionType defines the nature of a balance-affecting event.
type TransactionType string

const (
	TransactionTypeCharge       TransactionType = "charge"
	TransactionTypeRefund       TransactionType = "refund"
	TransactionTypeSMSDeduction TransactionType = "sms_deduction"
)

var (
	// ErrInvalidAmount is returned for non-positive operation amounts. Sign is
	// implied by the operation type, never supplied by the caller.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is a business rejection, not a system fault.
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionSMSConflict is returned when attaching a transaction to an
	// SMS it is already bound to another SMS.
	ErrTransactionSMSConflict = errors.New("transaction already references a different sms")
)

// Transaction is an append-only ledger entry. Amount is signed: positive for
// charge/refund, negative for deductions. SMSID may be attached after creation
// because a deduction is recorded before the SMS row it pays for exists.
type Transaction struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Type      TransactionType `json:"type"`
	Amount    int64           `json:"amount"`
	SMSID     *int64          `json:"sms_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
