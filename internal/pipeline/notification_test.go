package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/push"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

type fakeSender struct {
	mu     sync.Mutex
	titles []string
	err    error
	failed map[string]bool
}

func (s *fakeSender) Send(_ context.Context, tokens []string, title, _ string) ([]push.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	if s.err != nil {
		return nil, s.err
	}
	results := make([]push.Result, len(tokens))
	for i, tok := range tokens {
		results[i] = push.Result{Token: tok}
		if s.failed[tok] {
			results[i].Err = errors.New("unregistered")
		}
	}
	return results, nil
}

type failingNotifications struct{}

func (failingNotifications) CreateNotification(context.Context, *store.Notification) error {
	return errors.New("db down")
}

func (failingNotifications) DeleteNotificationsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func cancelNotification() jobs.Notification {
	return jobs.Notification{
		Context:      jobs.ContextOrder,
		Title:        jobs.ActionCancelOrder,
		Body:         "Order o1 was cancelled",
		ReferenceID:  "o1",
		RecipientIDs: []string{"u1", "admin"},
		DeviceTokens: []string{"tok-1", "tok-2"},
	}
}

func TestNotificationPersistsAndPushes(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{failed: map[string]bool{"tok-2": true}}
	h := NewNotificationHandler(f.db, sender, f.clock, f.logger)

	j := f.claim(t, queue.QueueNotification, cancelNotification())
	require.NoError(t, h.Handle(context.Background(), j))

	records := f.db.Notifications()
	require.Len(t, records, 1)
	assert.Equal(t, j.ID, records[0].ID)
	assert.Equal(t, "o1", records[0].ReferenceID)
	assert.Equal(t, []store.Recipient{{UserID: "u1"}, {UserID: "admin"}}, records[0].Recipients)
	assert.Equal(t, []string{"Order cancelled"}, sender.titles)
}

func TestNotificationPushFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	h := NewNotificationHandler(f.db, &fakeSender{err: errors.New("gateway down")}, f.clock, f.logger)

	require.NoError(t, h.Handle(context.Background(), f.claim(t, queue.QueueNotification, cancelNotification())))
	assert.Len(t, f.db.Notifications(), 1)
}

func TestNotificationStoreFailureRetries(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	h := NewNotificationHandler(failingNotifications{}, sender, f.clock, f.logger)

	err := h.Handle(context.Background(), f.claim(t, queue.QueueNotification, cancelNotification()))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.Empty(t, sender.titles, "no push without a stored record")
}

func TestNotificationRedeliveryKeepsOneRecord(t *testing.T) {
	f := newFixture(t)
	h := NewNotificationHandler(f.db, push.Noop{}, f.clock, f.logger)

	j := f.claim(t, queue.QueueNotification, cancelNotification())
	require.NoError(t, h.Handle(context.Background(), j))
	require.NoError(t, h.Handle(context.Background(), j))

	assert.Len(t, f.db.Notifications(), 1)
}
