package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Escalator flags approval steps whose SLA has elapsed
type Escalator interface {
	EscalateOverdue(ctx context.Context, now time.Time) (int, error)
}

// EscalationWorker sweeps overdue approval steps on a fixed interval
type EscalationWorker struct {
	escalator Escalator
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	escalated int
}

// DefaultEscalationInterval is used when the configured interval is not positive
const DefaultEscalationInterval = 5 * time.Minute

// NewEscalationWorker creates the worker. now defaults to time.Now.
func NewEscalationWorker(escalator Escalator, interval time.Duration, now func() time.Time, logger *zap.Logger) *EscalationWorker {
	if interval <= 0 {
		interval = DefaultEscalationInterval
	}
	if now == nil {
		now = time.Now
	}
	return &EscalationWorker{escalator: escalator, interval: interval, now: now, logger: logger}
}

func (w *EscalationWorker) Name() string { return "EscalationWorker" }

// Start runs one sweep immediately and then one per interval until Stop
func (w *EscalationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("escalation worker already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx, w.done)

	w.logger.Info("EscalationWorker started", zap.Duration("interval", w.interval))
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep
func (w *EscalationWorker) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done

	w.logger.Info("EscalationWorker stopped", zap.Int("escalated_total", w.Escalated()))
	return nil
}

// Escalated returns how many steps this worker has flagged since creation
func (w *EscalationWorker) Escalated() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.escalated
}

// RunOnce performs a single sweep
func (w *EscalationWorker) RunOnce(ctx context.Context) (int, error) {
	n, err := w.escalator.EscalateOverdue(ctx, w.now())
	if err != nil {
		return 0, fmt.Errorf("escalate overdue approvals: %w", err)
	}

	w.mu.Lock()
	w.escalated += n
	w.mu.Unlock()

	if n > 0 {
		w.logger.Info("Approval steps escalated", zap.Int("count", n))
	}
	return n, nil
}

func (w *EscalationWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Escalation sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
