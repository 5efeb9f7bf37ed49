/*
Package registry holds the in-memory mirror of the remote object graph.

Key Architectural Concepts:
  - Single Owner: one Store per bot instance owns the guild, channel, category and member
    maps. There are no package-level singletons.
  - Single Writer: every mutation is a closure submitted to the Lane, a mailbox drained by
    exactly one goroutine. Reads bypass the lane and hit the concurrent maps directly.
  - Identity Preservation: merges overwrite snapshots inside existing objects, so references
    held by callers stay valid across reconciliation cycles.
  - Scoped Timers: mute timers are keyed by MemberKey and derive from their guild's scope,
    so removing a guild cancels every timer beneath it.
*/
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrLaneClosed = errors.New("registry: lane closed")
	ErrLanePanic  = errors.New("registry: lane task panicked")
)

// Writer is the mutation gateway of the cache.
type Writer interface {
	Do(ctx context.Context, fn func(*Store) error) error
}

type task struct {
	ctx    context.Context
	fn     func(*Store) error
	result chan error
}

// Lane implements [SINGLE_WRITER] serialization over a Store.
// Mutual exclusion is guaranteed; ordering between independent producers is not.
type Lane struct {
	store *Store

	// [MAILBOX]
	// Buffered queue of pending closures. Producers block only when it is full.
	mailbox chan *task

	// [LIFECYCLE_CONTROL]
	// mu guards closed against producers racing Close; doneCh stops the loop.
	mu        sync.RWMutex
	closed    bool
	doneCh    chan struct{}
	exitedCh  chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

var _ Writer = (*Lane)(nil)

func NewLane(store *Store, opts ...Option) *Lane {
	o := newOptions(opts)
	l := &Lane{
		store:    store,
		mailbox:  make(chan *task, o.mailboxSize),
		doneCh:   make(chan struct{}),
		exitedCh: make(chan struct{}),
		logger:   o.logger.With("component", "lane"),
	}
	go l.loop()
	return l
}

// Do submits fn and waits for it to finish. A cancelled ctx stops the wait, not a closure
// that already started.
func (l *Lane) Do(ctx context.Context, fn func(*Store) error) error {
	t := &task{ctx: ctx, fn: fn, result: make(chan error, 1)}

	if err := l.enqueue(ctx, t); err != nil {
		return err
	}

	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Lane) enqueue(ctx context.Context, t *task) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return ErrLaneClosed
	}
	select {
	case l.mailbox <- t:
		return nil
	case <-l.doneCh:
		return ErrLaneClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Modify runs fn in the lane and hands back its value.
func Modify[T any](ctx context.Context, w Writer, fn func(*Store) (T, error)) (T, error) {
	var out T
	err := w.Do(ctx, func(s *Store) error {
		v, err := fn(s)
		out = v
		return err
	})
	return out, err
}

func (l *Lane) loop() {
	defer close(l.exitedCh)
	for {
		select {
		case <-l.doneCh:
			return
		case t := <-l.mailbox:
			t.result <- l.run(t)
		}
	}
}

func (l *Lane) run(t *task) (err error) {
	// [SKIP_ABANDONED] The producer already gave up; do not mutate on its behalf.
	if err := t.ctx.Err(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("LANE_TASK_PANIC", "panic", r)
			err = fmt.Errorf("%w: %v", ErrLanePanic, r)
		}
	}()
	return t.fn(l.store)
}

// Close stops the lane after the running closure, if any, returns.
// Queued closures fail with ErrLaneClosed.
func (l *Lane) Close() {
	l.closeOnce.Do(func() {
		close(l.doneCh)

		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()

		<-l.exitedCh

		for {
			select {
			case t := <-l.mailbox:
				t.result <- ErrLaneClosed
			default:
				return
			}
		}
	})
}
