package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

func newPaymentHandler(f *fixture) *PaymentHandler {
	return NewPaymentHandler(f.db, NewOrderNotifier(f.db, f.queue), f.queue, f.clock, f.logger)
}

func seedPaymentOrder(f *fixture) {
	f.db.PutUser(store.User{ID: "u1", DeviceTokens: []string{"tok-u1"}})
	f.db.PutUser(store.User{ID: "admin", IsAdmin: true, DeviceTokens: []string{"tok-admin"}})
	f.db.PutOrder(store.Order{ID: "o1", UserID: "u1", CreatedAt: f.clock.Now()})
}

func TestPaymentSuccess(t *testing.T) {
	f := newFixture(t)
	seedPaymentOrder(f)
	h := newPaymentHandler(f)

	j := f.claim(t, queue.QueuePayment, jobs.PaymentResult{OrderID: "o1", PaymentStatus: jobs.PaymentSuccess, PaymentMethod: jobs.PaymentMethodVNPay})
	require.NoError(t, h.Handle(context.Background(), j))

	o, err := f.db.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, o.IsPaid)
	assert.Equal(t, store.OrderAwaitingDelivery, o.Status)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, f.clock.Now(), *o.PaidAt)

	notes := f.drainNotifications(t)
	require.Len(t, notes, 1)
	assert.Equal(t, jobs.ActionPaymentVNPaySuccess, notes[0].Title)
	assert.Equal(t, jobs.ContextPaymentVNPay, notes[0].Context)
	assert.Equal(t, "o1", notes[0].ReferenceID)
	assert.Equal(t, []string{"u1", "admin"}, notes[0].RecipientIDs)
	assert.Equal(t, []string{"tok-u1", "tok-admin"}, notes[0].DeviceTokens)
}

func TestPaymentSuccessRedeliveredIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedPaymentOrder(f)
	h := newPaymentHandler(f)
	payload := jobs.PaymentResult{OrderID: "o1", PaymentStatus: jobs.PaymentSuccess, PaymentMethod: jobs.PaymentMethodVNPay}

	require.NoError(t, h.Handle(context.Background(), f.claim(t, queue.QueuePayment, payload)))
	firstPaidAt := *mustOrder(t, f, "o1").PaidAt

	f.clock.Advance(time.Minute)
	require.NoError(t, h.Handle(context.Background(), f.claim(t, queue.QueuePayment, payload)))

	assert.Equal(t, firstPaidAt, *mustOrder(t, f, "o1").PaidAt)
	assert.Len(t, f.drainNotifications(t), 1)
}

// flakyRecipients fails the first lookup.
type flakyRecipients struct {
	store.RecipientDirectory
	failed bool
}

func (r *flakyRecipients) Recipients(ctx context.Context, userID string) (store.Recipients, error) {
	if !r.failed {
		r.failed = true
		return store.Recipients{}, errors.New("connection reset")
	}
	return r.RecipientDirectory.Recipients(ctx, userID)
}

func TestPaymentSuccessRetryAfterNotifyFailure(t *testing.T) {
	f := newFixture(t)
	seedPaymentOrder(f)
	h := NewPaymentHandler(f.db, NewOrderNotifier(&flakyRecipients{RecipientDirectory: f.db}, f.queue), f.queue, f.clock, f.logger)
	ctx := context.Background()

	j := f.claim(t, queue.QueuePayment, jobs.PaymentResult{OrderID: "o1", PaymentStatus: jobs.PaymentSuccess, PaymentMethod: jobs.PaymentMethodVNPay})
	err := h.Handle(ctx, j)
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.Equal(t, 1, mustOrder(t, f, "o1").IsPaid)

	status, err := f.queue.MarkFailed(ctx, j, err)
	require.NoError(t, err)
	require.Equal(t, queue.StatusDelayed, status)

	f.clock.Advance(time.Minute)
	retry, err := f.queue.TryDequeue(ctx, queue.QueuePayment)
	require.NoError(t, err)
	require.NotNil(t, retry)
	require.NoError(t, h.Handle(ctx, retry))

	notes := f.drainNotifications(t)
	require.Len(t, notes, 1)
	assert.Equal(t, jobs.ActionPaymentVNPaySuccess, notes[0].Title)
	assert.Equal(t, "o1", notes[0].ReferenceID)
}

func TestPaymentFailedDoesNotMutateOrder(t *testing.T) {
	f := newFixture(t)
	seedPaymentOrder(f)
	h := newPaymentHandler(f)

	j := f.claim(t, queue.QueuePayment, jobs.PaymentResult{OrderID: "o1", PaymentStatus: jobs.PaymentFailed, PaymentMethod: jobs.PaymentMethodVNPay})
	require.NoError(t, h.Handle(context.Background(), j))

	o := mustOrder(t, f, "o1")
	assert.Equal(t, 0, o.IsPaid)
	assert.Equal(t, store.OrderPendingPayment, o.Status)

	notes := f.drainNotifications(t)
	require.Len(t, notes, 1)
	assert.Equal(t, jobs.ActionPaymentVNPayError, notes[0].Title)
}

func TestPaymentPermanentFailures(t *testing.T) {
	f := newFixture(t)
	seedPaymentOrder(f)
	f.db.PutOrder(store.Order{ID: "cancelled", UserID: "u1", Status: store.OrderCancelled})
	h := newPaymentHandler(f)

	tests := []struct {
		name    string
		payload jobs.PaymentResult
	}{
		{"order not found", jobs.PaymentResult{OrderID: "missing", PaymentStatus: jobs.PaymentSuccess}},
		{"order cancelled", jobs.PaymentResult{OrderID: "cancelled", PaymentStatus: jobs.PaymentSuccess}},
		{"bad status", jobs.PaymentResult{OrderID: "o1", PaymentStatus: "PENDING"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Handle(context.Background(), f.claim(t, queue.QueuePayment, tt.payload))
			require.Error(t, err)
			assert.True(t, queue.IsPermanent(err), err)
		})
	}
	assert.Empty(t, f.drainNotifications(t))
}

func mustOrder(t *testing.T, f *fixture, id string) *store.Order {
	t.Helper()
	o, err := f.db.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}
