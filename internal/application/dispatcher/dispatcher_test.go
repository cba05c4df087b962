package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aerotrace/material-lifecycle/internal/domain/event"
)

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func transitionEvent() *event.Event {
	return event.NewTransitionAccepted(event.TransitionAccepted{
		EntityType: "purchase_order",
		EntityID:   1,
		From:       "draft",
		To:         "pending_approval",
		Action:     "submit",
		Actor:      "u-1",
		Revision:   2,
	})
}

func noop(ctx context.Context, evt *event.Event) error { return nil }

func TestDispatch(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []string

		d.SubscribeNamed(event.TypeTransitionAccepted, "first", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "first")
			return nil
		})
		d.SubscribeNamed(event.TypeTransitionAccepted, "second", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "second")
			return nil
		})

		if err := d.Dispatch(context.Background(), transitionEvent()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(order) != 2 || order[0] != "first" || order[1] != "second" {
			t.Errorf("expected [first second], got %v", order)
		}
	})

	t.Run("wildcard handlers receive every type after specific ones", func(t *testing.T) {
		d := NewDispatcher()
		var order []string

		d.SubscribeNamed(AllEvents, "notifier", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "notifier:"+evt.Type.String())
			return nil
		})
		d.SubscribeNamed(event.TypeTransitionAccepted, "specific", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "specific")
			return nil
		})

		_ = d.Dispatch(context.Background(), transitionEvent())
		_ = d.Dispatch(context.Background(), event.NewEvent(event.TypeApprovalEscalated, "workflow_instance", 3, nil))

		want := []string{"specific", "notifier:transition.accepted", "notifier:approval.escalated"}
		if fmt.Sprint(order) != fmt.Sprint(want) {
			t.Errorf("expected %v, got %v", want, order)
		}
	})

	t.Run("stops at first error", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("handler error")
		called := false

		d.SubscribeNamed(event.TypeTransitionAccepted, "failing", func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.SubscribeNamed(event.TypeTransitionAccepted, "after", func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), transitionEvent())
		if !errors.Is(err, expectedErr) {
			t.Errorf("expected error to wrap %v, got %v", expectedErr, err)
		}
		if called {
			t.Error("expected second handler not to be called after first error")
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.SubscribeNamed(event.TypeTransitionAccepted, "panics", func(ctx context.Context, evt *event.Event) error {
			panic("boom")
		})

		if err := d.Dispatch(context.Background(), transitionEvent()); err == nil {
			t.Fatal("expected error from panic recovery")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected panic to be logged as error")
		}
	})

	t.Run("returns ErrClosed when closed", func(t *testing.T) {
		d := NewDispatcher()
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if err := d.Dispatch(context.Background(), transitionEvent()); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	called1, called2 := false, false

	d.SubscribeNamed(event.TypeTransitionAccepted, "handler-1", func(ctx context.Context, evt *event.Event) error {
		called1 = true
		return nil
	})
	d.SubscribeNamed(event.TypeTransitionAccepted, "handler-2", func(ctx context.Context, evt *event.Event) error {
		called2 = true
		return nil
	})

	d.Unsubscribe(event.TypeTransitionAccepted, "handler-1")

	if err := d.Dispatch(context.Background(), transitionEvent()); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if called1 {
		t.Error("expected handler-1 not to be called")
	}
	if !called2 {
		t.Error("expected handler-2 to be called")
	}
}

func TestDispatchAsync(t *testing.T) {
	t.Run("close waits for handlers", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32

		for i := 0; i < 2; i++ {
			d.SubscribeNamed(event.TypeTransitionAccepted, fmt.Sprintf("slow-%d", i), func(ctx context.Context, evt *event.Event) error {
				time.Sleep(10 * time.Millisecond)
				called.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), transitionEvent())
		if err := d.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		if called.Load() != 2 {
			t.Errorf("expected 2 handlers to be called, got %d", called.Load())
		}
	})

	t.Run("handlers survive caller cancellation", func(t *testing.T) {
		d := NewDispatcher()
		var sawErr atomic.Bool

		d.SubscribeNamed(event.TypeTransitionAccepted, "ctx", func(ctx context.Context, evt *event.Event) error {
			time.Sleep(10 * time.Millisecond)
			if ctx.Err() != nil {
				sawErr.Store(true)
			}
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.DispatchAsync(ctx, transitionEvent())
		cancel()

		_ = d.Close()
		if sawErr.Load() {
			t.Error("expected handler context to be detached from caller")
		}
	})

	t.Run("errors are logged not propagated", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32

		d.SubscribeNamed(event.TypeTransitionAccepted, "failing", func(ctx context.Context, evt *event.Event) error {
			return errors.New("handler error")
		})
		d.SubscribeNamed(event.TypeTransitionAccepted, "ok", func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})

		d.DispatchAsync(context.Background(), transitionEvent())
		_ = d.Close()

		if called.Load() != 1 {
			t.Errorf("expected second handler to be called, got %d calls", called.Load())
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected error to be logged")
		}
	})

	t.Run("drops events after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32

		d.SubscribeNamed(event.TypeTransitionAccepted, "counter", func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})
		_ = d.Close()

		d.DispatchAsync(context.Background(), transitionEvent())
		time.Sleep(20 * time.Millisecond)

		if called.Load() > 0 {
			t.Error("expected handler not to be called after close")
		}
		if logger.ErrorCount() == 0 {
			t.Error("expected error log for dispatching to closed dispatcher")
		}
	})
}

func TestListHandlers(t *testing.T) {
	d := NewDispatcher()
	d.SubscribeNamed(event.TypeTransitionAccepted, "specific", noop)
	d.SubscribeNamed(AllEvents, "notifier", noop)
	d.SubscribeNamed(event.TypeApprovalEscalated, "other", noop)

	handlers := d.ListHandlers(event.TypeTransitionAccepted)
	if len(handlers) != 2 {
		t.Fatalf("expected 2 handlers, got %d", len(handlers))
	}
	for _, h := range handlers {
		if h.Handler != nil {
			t.Error("expected handler function not to be exposed")
		}
	}
	if handlers[0].Name != "specific" || handlers[1].Name != "notifier" {
		t.Errorf("unexpected handler order: %s, %s", handlers[0].Name, handlers[1].Name)
	}
}

func TestClose_Twice(t *testing.T) {
	d := NewDispatcher()
	if err := d.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := d.Close(); err == nil {
		t.Fatal("expected error on second close")
	}
}

func TestConcurrentDispatch(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32

	d.SubscribeNamed(event.TypeTransitionAccepted, "counter", func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), transitionEvent())
		}()
	}
	wg.Wait()

	if called.Load() != 10 {
		t.Errorf("expected 10 handler calls, got %d", called.Load())
	}
}

func TestDispatchAsync_RacingClose(t *testing.T) {
	d := NewDispatcher(WithLogger(&mockLogger{}))
	var called atomic.Int32

	d.SubscribeNamed(event.TypeTransitionAccepted, "counter", func(ctx context.Context, evt *event.Event) error {
		time.Sleep(time.Millisecond)
		called.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d.DispatchAsync(context.Background(), transitionEvent())
		}()
	}

	close(start)
	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	atClose := called.Load()
	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	if got := called.Load(); got != atClose {
		t.Errorf("handlers ran after close returned: %d at close, %d later", atClose, got)
	}
}
