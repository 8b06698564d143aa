package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingdomain "github.com/ehsan-hn/SmsHub/internal/billing/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/provider"
	"github.com/ehsan-hn/SmsHub/internal/sms/repository"
)

type fakeTx struct {
	pgx.Tx
	done bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	return nil
}

type fakeDB struct {
	repository.Querier
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
}

type fakeSMSRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.SMS

	createErr error
}

func newFakeSMSRepo() *fakeSMSRepo {
	return &fakeSMSRepo{rows: make(map[int64]*domain.SMS)}
}

func (r *fakeSMSRepo) get(id int64) *domain.SMS {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id]
}

func (r *fakeSMSRepo) add(sms domain.SMS) *domain.SMS {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sms.ID = r.nextID
	stored := sms
	r.rows[stored.ID] = &stored
	return &stored
}

func (r *fakeSMSRepo) Create(ctx context.Context, q repository.Querier, sms *domain.SMS) (*domain.SMS, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	now := time.Now().UTC()
	sms.CreatedAt = now
	sms.ModifiedAt = now
	return r.add(*sms), nil
}

func (r *fakeSMSRepo) GetByID(ctx context.Context, q repository.Querier, id int64) (*domain.SMS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrSMSNotFound
	}
	copy := *row
	return &copy, nil
}

func (r *fakeSMSRepo) GetByMessageID(ctx context.Context, q repository.Querier, messageID int64) (*domain.SMS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.MessageID != nil && *row.MessageID == messageID {
			copy := *row
			return &copy, nil
		}
	}
	return nil, domain.ErrSMSNotFound
}

func (r *fakeSMSRepo) UpdateStatus(ctx context.Context, q repository.Querier, id int64, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return domain.ErrSMSNotFound
	}
	row.Status = status
	row.ModifiedAt = time.Now().UTC()
	return nil
}

func (r *fakeSMSRepo) TransitionStatus(ctx context.Context, q repository.Querier, id int64, status domain.Status, excluded []domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, domain.ErrSMSNotFound
	}
	for _, s := range excluded {
		if row.Status == s {
			return false, nil
		}
	}
	row.Status = status
	row.ModifiedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeSMSRepo) RecordAttempt(ctx context.Context, q repository.Querier, id int64, upd repository.AttemptUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return domain.ErrSMSNotFound
	}
	row.Status = upd.Status
	if upd.MessageID != nil {
		row.MessageID = upd.MessageID
	}
	row.AttemptsNum = upd.AttemptsNum
	t := upd.LastAttemptAt
	row.LastAttemptAt = &t
	row.ServiceError = upd.ServiceError
	row.ModifiedAt = time.Now().UTC()
	return nil
}

func (r *fakeSMSRepo) ListStaleSent(ctx context.Context, q repository.Querier, cutoff time.Time) ([]domain.SMS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SMS
	for _, row := range r.rows {
		if row.Status == domain.StatusSent && row.MessageID != nil && row.ModifiedAt.Before(cutoff) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *fakeSMSRepo) ListStaleInQueue(ctx context.Context, q repository.Querier, cutoff time.Time) ([]domain.SMS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SMS
	for _, row := range r.rows {
		if row.Status == domain.StatusInQueue && row.ModifiedAt.Before(cutoff) {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *fakeSMSRepo) TouchStale(ctx context.Context, q repository.Querier, status domain.Status, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var touched int64
	for _, row := range r.rows {
		if row.Status == status && row.ModifiedAt.Before(cutoff) {
			row.ModifiedAt = time.Now().UTC()
			touched++
		}
	}
	return touched, nil
}

func (r *fakeSMSRepo) ListByUser(ctx context.Context, q repository.Querier, userID int64, filter repository.ReportFilter) ([]domain.SMS, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SMS
	for _, row := range r.rows {
		if row.UserID != userID {
			continue
		}
		if filter.Status != nil && row.Status != *filter.Status {
			continue
		}
		if filter.IsExpress != nil && row.IsExpress != *filter.IsExpress {
			continue
		}
		if filter.Receiver != "" && row.Receiver != filter.Receiver {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

// fakeBilling records calls and refunds so the exactly-once guard can be
// exercised without a database.
type fakeBilling struct {
	mu sync.Mutex

	balance   int64
	deductErr error

	deducts  []int64
	refunds  []int64
	attached map[int64]int64
	cached   []int64
}

func newFakeBilling(balance int64) *fakeBilling {
	return &fakeBilling{balance: balance, attached: make(map[int64]int64)}
}

func (b *fakeBilling) DeductTx(ctx context.Context, tx pgx.Tx, userID, amount int64) (*billingdomain.Transaction, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deductErr != nil {
		return nil, 0, b.deductErr
	}
	if b.balance < amount {
		return nil, 0, billingdomain.ErrInsufficientFunds
	}
	b.balance -= amount
	b.deducts = append(b.deducts, amount)
	return &billingdomain.Transaction{
		ID:     int64(len(b.deducts)),
		UserID: userID,
		Type:   billingdomain.TransactionTypeSMSDeduction,
		Amount: -amount,
	}, b.balance, nil
}

func (b *fakeBilling) RefundTx(ctx context.Context, tx pgx.Tx, userID, amount, smsID int64) (*billingdomain.Transaction, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance += amount
	b.refunds = append(b.refunds, smsID)
	return &billingdomain.Transaction{
		UserID: userID,
		Type:   billingdomain.TransactionTypeRefund,
		Amount: amount,
		SMSID:  &smsID,
	}, b.balance, nil
}

func (b *fakeBilling) AttachSMSTx(ctx context.Context, tx pgx.Tx, txnID, smsID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached[txnID] = smsID
	return nil
}

func (b *fakeBilling) RefundedForSMSTx(ctx context.Context, tx pgx.Tx, smsID int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.refunds {
		if id == smsID {
			return true, nil
		}
	}
	return false, nil
}

func (b *fakeBilling) CacheBalance(ctx context.Context, userID, balance int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cached = append(b.cached, balance)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	err    error
	jobs   []int64
	lanes  []Lane
	nextID int
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, smsID int64, lane Lane) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.nextID++
	d.jobs = append(d.jobs, smsID)
	d.lanes = append(d.lanes, lane)
	return fmt.Sprintf("task-%d", d.nextID), nil
}

type smsFixture struct {
	svc        *SMSService
	repo       *fakeSMSRepo
	billing    *fakeBilling
	dispatcher *fakeDispatcher
}

func newSMSFixture(t *testing.T, balance int64) *smsFixture {
	t.Helper()
	repo := newFakeSMSRepo()
	billing := newFakeBilling(balance)
	dispatcher := &fakeDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewSMSService(repo, billing, &fakeDB{}, dispatcher,
		Costs{Standard: 1000, Express: 1500}, "100002", logger)
	return &smsFixture{svc: svc, repo: repo, billing: billing, dispatcher: dispatcher}
}

func TestCreateAndDeductChargesAndStores(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 5000)

	sms, err := f.svc.CreateAndDeduct(ctx, 1, "+989121234567", "hello", false)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCreated, sms.Status)
	assert.Equal(t, "100002", sms.Sender)
	assert.Equal(t, int64(1000), sms.Cost)
	assert.False(t, sms.IsExpress)

	assert.Equal(t, []int64{1000}, f.billing.deducts)
	assert.Equal(t, sms.ID, f.billing.attached[1], "deduction must reference the sms")
	assert.Equal(t, []int64{4000}, f.billing.cached, "cache updated with the post-commit balance")
}

func TestCreateAndDeductExpressCost(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 5000)

	sms, err := f.svc.CreateAndDeduct(ctx, 1, "+989121234567", "hello", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), sms.Cost)
	assert.True(t, sms.IsExpress)
}

func TestCreateAndDeductInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 500)

	_, err := f.svc.CreateAndDeduct(ctx, 1, "+989121234567", "hello", false)
	assert.ErrorIs(t, err, billingdomain.ErrInsufficientFunds)
	assert.Empty(t, f.repo.rows, "no message row without payment")
	assert.Empty(t, f.billing.cached)
}

func TestCreateAndDeductRollsBackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 5000)
	f.repo.createErr = errors.New("insert failed")

	_, err := f.svc.CreateAndDeduct(ctx, 1, "+989121234567", "hello", false)
	require.Error(t, err)
	assert.Empty(t, f.billing.cached, "cache must not run for an aborted transaction")
}

func TestEnqueueFromCreatedAndFailed(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)

	for _, status := range []domain.Status{domain.StatusCreated, domain.StatusFailed} {
		sms := f.repo.add(domain.SMS{UserID: 1, Status: status})

		taskID, err := f.svc.Enqueue(ctx, sms, false)
		require.NoError(t, err, "status %s", status)
		assert.NotEmpty(t, taskID)
		assert.Equal(t, domain.StatusInQueue, sms.Status)
		assert.Equal(t, domain.StatusInQueue, f.repo.get(sms.ID).Status)
	}
}

func TestEnqueueGuardsOtherStatuses(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)

	for _, status := range []domain.Status{domain.StatusInQueue, domain.StatusSent, domain.StatusDelivered} {
		sms := f.repo.add(domain.SMS{UserID: 1, Status: status})

		_, err := f.svc.Enqueue(ctx, sms, false)
		assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "status %s", status)
	}
	assert.Empty(t, f.dispatcher.jobs)
}

func TestEnqueueForcedBypassesGuard(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusSent})

	taskID, err := f.svc.Enqueue(ctx, sms, true)
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
	assert.Equal(t, domain.StatusInQueue, sms.Status)
}

func TestEnqueueRoutesExpressLane(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusCreated, IsExpress: true})

	_, err := f.svc.Enqueue(ctx, sms, false)
	require.NoError(t, err)
	assert.Equal(t, []Lane{LaneExpress}, f.dispatcher.lanes)
}

func TestRecordDispatchResultTransportError(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue})

	sendErr := fmt.Errorf("%w: connection refused", domain.ErrGatewayTransport)
	err := f.svc.RecordDispatchResult(ctx, sms, nil, sendErr)
	require.ErrorIs(t, err, domain.ErrGatewayTransport)

	assert.Equal(t, 1, sms.AttemptsNum)
	assert.NotNil(t, sms.LastAttemptAt)
	assert.Equal(t, domain.StatusFailed, sms.Status)

	stored := f.repo.get(sms.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.AttemptsNum)
	assert.Contains(t, stored.ServiceError, "connection refused")
}

func TestRecordDispatchResultSuccess(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue})

	resp := &provider.SendResponse{
		Status:   0,
		Messages: []provider.SendResult{{ID: 3000000042, Recipient: "+989121234567", Status: 0}},
	}
	err := f.svc.RecordDispatchResult(ctx, sms, resp, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSent, sms.Status)
	require.NotNil(t, sms.MessageID)
	assert.Equal(t, int64(3000000042), *sms.MessageID)

	stored := f.repo.get(sms.ID)
	assert.Equal(t, domain.StatusSent, stored.Status)
	require.NotNil(t, stored.MessageID)
}

func TestRecordDispatchResultGatewayRejection(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)

	cases := []struct {
		name string
		resp *provider.SendResponse
	}{
		{"no response", nil},
		{"top level error", &provider.SendResponse{Status: 18}},
		{"empty message list", &provider.SendResponse{Status: 0}},
		{"recipient rejected", &provider.SendResponse{
			Status:   0,
			Messages: []provider.SendResult{{ID: 0, Recipient: "+989121234567", Status: 15}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusInQueue})

			err := f.svc.RecordDispatchResult(ctx, sms, tc.resp, nil)
			require.NoError(t, err, "a rejection is recorded, not raised")
			assert.Equal(t, domain.StatusFailed, sms.Status)
			assert.Equal(t, 1, sms.AttemptsNum)
			assert.NotEmpty(t, sms.ServiceError)
		})
	}
}

func TestFailRefundsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusSent, Cost: 1000})

	require.NoError(t, f.svc.Fail(ctx, sms))
	require.NoError(t, f.svc.Fail(ctx, sms))

	assert.Equal(t, domain.StatusFailed, sms.Status)
	assert.Equal(t, []int64{sms.ID}, f.billing.refunds, "second failure must not refund again")
	assert.Len(t, f.billing.cached, 1)
}

func TestFailDoesNotOverrideDelivered(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusSent, Cost: 1000})

	require.NoError(t, f.svc.Deliver(ctx, sms))

	// A racing caller still holding the pre-delivery snapshot.
	late := *sms
	late.Status = domain.StatusSent
	require.NoError(t, f.svc.Fail(ctx, &late))

	assert.Equal(t, domain.StatusDelivered, f.repo.get(sms.ID).Status)
	assert.Empty(t, f.billing.refunds, "a delivered message must never be refunded")
}

func TestDeliverIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newSMSFixture(t, 0)
	sms := f.repo.add(domain.SMS{UserID: 1, Status: domain.StatusSent})

	require.NoError(t, f.svc.Deliver(ctx, sms))
	assert.Equal(t, domain.StatusDelivered, sms.Status)
	first := f.repo.get(sms.ID).ModifiedAt

	require.NoError(t, f.svc.Deliver(ctx, sms))
	assert.Equal(t, first, f.repo.get(sms.ID).ModifiedAt, "repeat delivery must not rewrite the row")
}
