package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webitel/kook-mirror-service/internal/domain/event"
)

// Emitter hands derived domain events to the Processor.
//
// [STRATEGY]
//   - awaited: Push runs inline and the caller observes downstream latency;
//   - async: Push runs on a tracked goroutine and Drain waits for stragglers.
type Emitter struct {
	processor Processor
	async     bool
	timeout   time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewEmitter(processor Processor, async bool, logger *slog.Logger) *Emitter {
	return &Emitter{
		processor: processor,
		async:     async,
		timeout:   10 * time.Second,
		logger:    logger.With("component", "emitter"),
	}
}

// Emit builds and delivers an event of kind unless nobody subscribed to it.
// Delivery errors are logged, never returned: the cache is already settled.
func (e *Emitter) Emit(ctx context.Context, kind event.EventKind, build func() event.Eventer) {
	// [COST_AVOIDANCE] Skip construction for unsubscribed kinds.
	if !e.processor.Subscribed(kind) {
		return
	}
	ev := build()
	if ev == nil {
		return
	}

	if !e.async {
		e.push(ctx, ev)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.draining {
		e.logger.Warn("EVENT_DROPPED_ON_SHUTDOWN", "kind", kind.String(), "event_id", ev.GetID())
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		// [DETACHED] The producer may be gone; keep its values, not its deadline.
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		e.push(pushCtx, ev)
	}()
}

func (e *Emitter) push(ctx context.Context, ev event.Eventer) {
	if err := e.processor.Push(ctx, ev); err != nil {
		e.logger.Error("EVENT_PUSH_FAILED",
			"err", err,
			"kind", ev.GetKind().String(),
			"event_id", ev.GetID(),
			"guild_id", ev.GetGuildID(),
		)
	}
}

// Drain stops accepting async deliveries and waits for the pending ones, bounded by ctx.
func (e *Emitter) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
