package eventbus

import (
	"testing"
	"time"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

func TestPublishSyncDeliversToTypedAndCatchAll(t *testing.T) {
	t.Parallel()
	b := New(16, nil)

	var typedGot, allGot int
	b.Subscribe(types.EventMarket, func(Event) { typedGot++ })
	b.Subscribe(types.EventFill, func(Event) { t.Fatal("should not receive market events") })
	b.SubscribeAll(func(Event) { allGot++ })

	b.PublishSync(Event{Kind: types.EventMarket, Timestamp: 1})

	if typedGot != 1 {
		t.Errorf("typed subscriber got %d events, want 1", typedGot)
	}
	if allGot != 1 {
		t.Errorf("catch-all subscriber got %d events, want 1", allGot)
	}
}

func TestPublishSyncFIFOPerSubscriber(t *testing.T) {
	t.Parallel()
	b := New(16, nil)

	var seen []types.Timestamp
	b.Subscribe(types.EventMarket, func(e Event) { seen = append(seen, e.Timestamp) })

	for i := types.Timestamp(1); i <= 5; i++ {
		b.PublishSync(Event{Kind: types.EventMarket, Timestamp: i})
	}

	for i, ts := range seen {
		if ts != types.Timestamp(i+1) {
			t.Fatalf("seen[%d] = %d, want %d (FIFO violated)", i, ts, i+1)
		}
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	t.Parallel()
	b := New(16, nil)

	secondGot := false
	b.Subscribe(types.EventMarket, func(Event) { panic("boom") })
	b.Subscribe(types.EventMarket, func(Event) { secondGot = true })

	b.PublishSync(Event{Kind: types.EventMarket})

	if !secondGot {
		t.Fatal("expected second subscriber to still receive the event")
	}
}

func TestUnsubscribeUnknownHandleIsNoOp(t *testing.T) {
	t.Parallel()
	b := New(16, nil)
	b.Unsubscribe(SubscriptionID(9999)) // must not panic
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New(16, nil)

	got := 0
	id := b.Subscribe(types.EventMarket, func(Event) { got++ })
	b.PublishSync(Event{Kind: types.EventMarket})
	b.Unsubscribe(id)
	b.PublishSync(Event{Kind: types.EventMarket})

	if got != 1 {
		t.Fatalf("got %d deliveries, want 1 (unsubscribe should stop further delivery)", got)
	}
}

func TestProcessPendingDrainsWithoutWorker(t *testing.T) {
	t.Parallel()
	b := New(16, nil)

	got := 0
	b.Subscribe(types.EventMarket, func(Event) { got++ })

	b.Publish(Event{Kind: types.EventMarket})
	b.Publish(Event{Kind: types.EventMarket})
	b.ProcessPending()

	if got != 2 {
		t.Fatalf("got %d deliveries after ProcessPending, want 2", got)
	}
}

func TestRunWorkerDeliversAsync(t *testing.T) {
	t.Parallel()
	b := New(16, nil)

	done := make(chan struct{}, 1)
	b.Subscribe(types.EventMarket, func(Event) { done <- struct{}{} })

	b.Run()
	defer b.Stop()

	b.Publish(Event{Kind: types.EventMarket})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async delivery")
	}
}
