package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serverless-orders/order-service/internal/config"
	"github.com/serverless-orders/order-service/internal/logger"
	"github.com/serverless-orders/order-service/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type fakeFeed struct {
	events []model.ChangeEvent
	marked map[uint64]bool
}

func (f *fakeFeed) PollChanges(_ context.Context, limit int) ([]model.ChangeEvent, error) {
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeFeed) MarkDispatched(_ context.Context, id uint64) error {
	if f.marked == nil {
		f.marked = make(map[uint64]bool)
	}
	f.marked[id] = true
	return nil
}

type fakeGuard struct {
	seen    map[string]bool
	cleared []string
}

func (g *fakeGuard) MarkSeen(_ context.Context, key string, _ time.Duration) (bool, error) {
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func (g *fakeGuard) ClearSeen(_ context.Context, key string) error {
	delete(g.seen, key)
	g.cleared = append(g.cleared, key)
	return nil
}

type fakePub struct {
	published  []model.Notification
	deadletter []model.Notification
	failFor    map[string]error
	dlqErr     error
	attempts   map[string]int
}

func (p *fakePub) PublishNotification(_ context.Context, n *model.Notification) error {
	if p.attempts == nil {
		p.attempts = make(map[string]int)
	}
	p.attempts[n.OrderID]++
	if err, ok := p.failFor[n.OrderID]; ok {
		return err
	}
	p.published = append(p.published, *n)
	return nil
}

func (p *fakePub) PublishDeadLetter(_ context.Context, n *model.Notification, _ error) error {
	if p.dlqErr != nil {
		return p.dlqErr
	}
	p.deadletter = append(p.deadletter, *n)
	return nil
}

func testPolicy() config.RetryConfig {
	return config.RetryConfig{Attempts: 3, Base: config.Duration(time.Millisecond), Max: config.Duration(2 * time.Millisecond)}
}

func newTestDispatcher(feed *fakeFeed, guard *fakeGuard, pub *fakePub) *Dispatcher {
	log, _ := logger.NewLogger()
	return New(feed, guard, pub, testPolicy(), time.Minute, log)
}

func event(id uint64, orderID, kind string, before, after *model.Order) model.ChangeEvent {
	b, _ := model.EncodeImage(before)
	a, _ := model.EncodeImage(after)
	return model.ChangeEvent{
		ID:             id,
		OrderID:        orderID,
		OrderCreatedAt: "2024-01-01T00:00:00.000000000Z",
		Kind:           kind,
		Before:         b,
		After:          a,
	}
}

func order(id, status string) *model.Order {
	return &model.Order{
		OrderID:      id,
		CreatedAt:    "2024-01-01T00:00:00.000000000Z",
		CustomerName: "A",
		Amount:       decimal.NewFromFloat(499.99),
		Status:       status,
	}
}

func TestClassify(t *testing.T) {
	d := newTestDispatcher(&fakeFeed{}, &fakeGuard{}, &fakePub{})

	t.Run("insert notifies creation", func(t *testing.T) {
		ev := event(1, "ORD-1", model.ChangeInsert, nil, order("ORD-1", model.StatusPending))
		n, err := d.Classify(&ev)
		assert.NoError(t, err)
		assert.Equal(t, model.EventOrderCreated, n.EventType)
		assert.Equal(t, "ORD-1", n.OrderID)
		assert.Equal(t, "499.99", n.Amount)
		assert.Equal(t, "New order ORD-1 created for A - $499.99", n.Message)
		assert.Equal(t, "New Order Created: ORD-1", n.Subject)
		assert.Equal(t, ev.DedupKey(), n.DedupKey)
	})

	t.Run("modify with status change", func(t *testing.T) {
		ev := event(2, "ORD-1", model.ChangeModify,
			order("ORD-1", model.StatusPending), order("ORD-1", model.StatusProcessing))
		n, err := d.Classify(&ev)
		assert.NoError(t, err)
		assert.Equal(t, model.EventOrderStatusChanged, n.EventType)
		assert.Equal(t, model.StatusPending, n.OldStatus)
		assert.Equal(t, model.StatusProcessing, n.NewStatus)
		assert.Equal(t, "Order ORD-1 status changed from pending to processing", n.Message)
	})

	t.Run("modify without status change stays silent", func(t *testing.T) {
		before := order("ORD-1", model.StatusPending)
		after := order("ORD-1", model.StatusPending)
		after.CustomerName = "renamed"
		ev := event(3, "ORD-1", model.ChangeModify, before, after)
		n, err := d.Classify(&ev)
		assert.NoError(t, err)
		assert.Nil(t, n)
	})

	t.Run("remove is not notified", func(t *testing.T) {
		ev := event(4, "ORD-1", model.ChangeRemove, order("ORD-1", model.StatusPending), nil)
		n, err := d.Classify(&ev)
		assert.NoError(t, err)
		assert.Nil(t, n)
	})

	t.Run("unknown kind errors", func(t *testing.T) {
		ev := event(5, "ORD-1", "TRUNCATE", nil, nil)
		_, err := d.Classify(&ev)
		assert.Error(t, err)
	})
}

func TestProcessBatch_IsolatesFailingEvent(t *testing.T) {
	feed := &fakeFeed{}
	pub := &fakePub{
		failFor: map[string]error{"ORD-BAD": errors.New("broker down")},
		dlqErr:  errors.New("dlq down"),
	}
	d := newTestDispatcher(feed, &fakeGuard{}, pub)

	events := []model.ChangeEvent{
		event(1, "ORD-A", model.ChangeInsert, nil, order("ORD-A", model.StatusPending)),
		event(2, "ORD-BAD", model.ChangeInsert, nil, order("ORD-BAD", model.StatusPending)),
		event(3, "ORD-C", model.ChangeInsert, nil, order("ORD-C", model.StatusPending)),
	}
	d.ProcessBatch(context.Background(), events)

	assert.Len(t, pub.published, 2)
	assert.Equal(t, "ORD-A", pub.published[0].OrderID)
	assert.Equal(t, "ORD-C", pub.published[1].OrderID)
	assert.True(t, feed.marked[1])
	assert.False(t, feed.marked[2], "failed event must stay undispatched for re-poll")
	assert.True(t, feed.marked[3])
}

func TestProcessEvent_RedeliveryDropsSilently(t *testing.T) {
	feed := &fakeFeed{}
	pub := &fakePub{}
	d := newTestDispatcher(feed, &fakeGuard{}, pub)

	ev := event(7, "ORD-A", model.ChangeInsert, nil, order("ORD-A", model.StatusPending))
	assert.NoError(t, d.ProcessEvent(context.Background(), &ev))
	assert.NoError(t, d.ProcessEvent(context.Background(), &ev))

	// at most one external notification despite redelivery
	assert.Len(t, pub.published, 1)
	assert.True(t, feed.marked[7])
}

func TestProcessEvent_RetriesThenDeadLetters(t *testing.T) {
	feed := &fakeFeed{}
	pub := &fakePub{failFor: map[string]error{"ORD-A": errors.New("broker down")}}
	d := newTestDispatcher(feed, &fakeGuard{}, pub)

	ev := event(9, "ORD-A", model.ChangeInsert, nil, order("ORD-A", model.StatusPending))
	assert.NoError(t, d.ProcessEvent(context.Background(), &ev))

	assert.Equal(t, 3, pub.attempts["ORD-A"])
	assert.Len(t, pub.deadletter, 1)
	assert.Equal(t, model.EventOrderCreated, pub.deadletter[0].EventType)
	assert.True(t, feed.marked[9], "dead-lettered event is settled")
}

func TestProcessEvent_OutageThenRecoveryStillDelivers(t *testing.T) {
	feed := &fakeFeed{}
	guard := &fakeGuard{}
	pub := &fakePub{
		failFor: map[string]error{"ORD-A": errors.New("broker down")},
		dlqErr:  errors.New("dlq down"),
	}
	d := newTestDispatcher(feed, guard, pub)

	ev := event(11, "ORD-A", model.ChangeInsert, nil, order("ORD-A", model.StatusPending))
	assert.Error(t, d.ProcessEvent(context.Background(), &ev))
	assert.False(t, feed.marked[11])
	assert.Empty(t, pub.published)
	assert.Contains(t, guard.cleared, ev.DedupKey(), "undelivered event must release its dedup key")

	// broker and dead-letter topic come back; the re-polled row must deliver
	pub.failFor = nil
	pub.dlqErr = nil
	assert.NoError(t, d.ProcessEvent(context.Background(), &ev))
	assert.Len(t, pub.published, 1)
	assert.Equal(t, "ORD-A", pub.published[0].OrderID)
	assert.True(t, feed.marked[11])
}

func TestRunOnce_BoundedBatch(t *testing.T) {
	feed := &fakeFeed{events: []model.ChangeEvent{
		event(1, "ORD-A", model.ChangeInsert, nil, order("ORD-A", model.StatusPending)),
		event(2, "ORD-B", model.ChangeInsert, nil, order("ORD-B", model.StatusPending)),
	}}
	pub := &fakePub{}
	d := newTestDispatcher(feed, &fakeGuard{}, pub)

	n, err := d.RunOnce(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.published, 1)
}

func TestDirect(t *testing.T) {
	pub := &fakePub{}
	d := newTestDispatcher(&fakeFeed{}, &fakeGuard{}, pub)
	ctx := context.Background()

	err := d.Direct(ctx, DirectChangeEvent{
		EventType: DirectOrderCreated,
		Order:     *order("ORD-D", model.StatusPending),
	})
	assert.NoError(t, err)
	assert.Len(t, pub.published, 1)
	assert.Equal(t, model.EventOrderCreated, pub.published[0].EventType)

	err = d.Direct(ctx, DirectChangeEvent{
		EventType: DirectOrderUpdated,
		Order:     *order("ORD-D", model.StatusProcessing),
		OldStatus: model.StatusPending,
		NewStatus: model.StatusProcessing,
	})
	assert.NoError(t, err)
	assert.Len(t, pub.published, 2)
	assert.Equal(t, model.EventOrderStatusChanged, pub.published[1].EventType)
	assert.Equal(t, model.StatusPending, pub.published[1].OldStatus)
	assert.Equal(t, model.StatusProcessing, pub.published[1].NewStatus)

	// unchanged status produces nothing
	err = d.Direct(ctx, DirectChangeEvent{
		EventType: DirectOrderUpdated,
		Order:     *order("ORD-D", model.StatusProcessing),
		OldStatus: model.StatusProcessing,
		NewStatus: model.StatusProcessing,
	})
	assert.NoError(t, err)
	assert.Len(t, pub.published, 2)

	assert.Error(t, d.Direct(ctx, DirectChangeEvent{EventType: "order_exploded"}))
}
