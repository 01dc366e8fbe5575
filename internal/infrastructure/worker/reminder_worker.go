package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/service"
)

// ReminderWorker periodically reminds assignees of stalled nodes
type ReminderWorker struct {
	reminders service.ReminderService
	interval  time.Duration
	timeout   time.Duration
	clock     func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ReminderOption configures a ReminderWorker
type ReminderOption func(*ReminderWorker)

// WithClock overrides the time source passed to the reminder service
func WithClock(clock func() time.Time) ReminderOption {
	return func(w *ReminderWorker) {
		w.clock = clock
	}
}

// NewReminderWorker creates a worker that runs reminders every interval
func NewReminderWorker(reminders service.ReminderService, interval time.Duration, logger *zap.Logger, opts ...ReminderOption) *ReminderWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	w := &ReminderWorker{
		reminders: reminders,
		interval:  interval,
		timeout:   30 * time.Second,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the worker name for identification
func (w *ReminderWorker) Name() string {
	return "ReminderWorker"
}

// Start launches the reminder loop
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("reminder worker is already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true

	w.logger.Info("ReminderWorker started", zap.Duration("interval", w.interval))
	go w.loop(ctx, w.done)
	return nil
}

// Stop ends the loop and waits for an in-flight run to finish
func (w *ReminderWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.logger.Info("ReminderWorker stopped")
	return nil
}

func (w *ReminderWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *ReminderWorker) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	sent, err := w.reminders.RemindStalled(ctx, w.clock())
	if err != nil {
		w.logger.Error("Reminder run failed", zap.Error(err))
		return
	}
	if sent > 0 {
		w.logger.Debug("Reminder run finished", zap.Int("sent", sent))
	}
}
