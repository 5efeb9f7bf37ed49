package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

// TimedAction is one armed, cancellable delayed side effect (auto-unmute).
type TimedAction struct {
	key     model.MemberKey
	armedAt time.Time
	delay   time.Duration

	ctx      context.Context
	cancelFn context.CancelFunc

	// [FIRE_GATE]
	// Firing and cancelling both claim the action under mu; whoever claims first wins,
	// so a stopped action never starts its callback.
	mu      sync.Mutex
	stopped bool
}

func (a *TimedAction) Key() model.MemberKey { return a.key }
func (a *TimedAction) ExpiresAt() time.Time { return a.armedAt.Add(a.delay) }

// stop cancels an action that has not fired yet. It reports whether it won the claim.
func (a *TimedAction) stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.stopped = true
	a.cancelFn()
	return true
}

func (a *TimedAction) claim() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.stopped = true
	return true
}

// MuteTimers is the per-member timed action registry.
// At most one action is installed per MemberKey.
type MuteTimers struct {
	actions *xsync.Map[model.MemberKey, *TimedAction]

	// [ROOT] Cancelled by Close; every action also watches it.
	ctx      context.Context
	cancelFn context.CancelFunc
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup

	logger *slog.Logger
}

func NewMuteTimers(opts ...Option) *MuteTimers {
	o := newOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &MuteTimers{
		actions:  xsync.NewMap[model.MemberKey, *TimedAction](),
		ctx:      ctx,
		cancelFn: cancel,
		logger:   o.logger.With("component", "mute_timers"),
	}
}

// Arm installs a new action for key, cancelling the previous one in the same atomic step.
// The action is cancelled with parent. onExpire receives a context that is still bound to parent.
func (m *MuteTimers) Arm(parent context.Context, key model.MemberKey, d time.Duration, onExpire func(ctx context.Context)) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	a := &TimedAction{
		key:      key,
		armedAt:  time.Now(),
		delay:    d,
		ctx:      ctx,
		cancelFn: cancel,
	}

	// [ATOMIC_SWAP]
	m.actions.Compute(key, func(prev *TimedAction, loaded bool) (*TimedAction, xsync.ComputeOp) {
		if loaded {
			prev.stop()
		}
		return a, xsync.UpdateOp
	})

	m.wg.Add(1)
	go m.run(a, onExpire)
	return true
}

func (m *MuteTimers) run(a *TimedAction, onExpire func(ctx context.Context)) {
	defer m.wg.Done()
	// [ROOT_LINK] Close cancels the action even after it fired.
	unlink := context.AfterFunc(m.ctx, a.cancelFn)
	defer unlink()
	defer a.cancelFn()

	timer := time.NewTimer(a.delay)
	defer timer.Stop()

	select {
	case <-a.ctx.Done():
		// Disarmed, replaced, or the guild went away.
		m.release(a)
		return
	case <-timer.C:
	}

	if !a.claim() {
		return
	}
	m.release(a)

	m.logger.Debug("MUTE_TIMER_FIRED", "key", a.key.String())
	onExpire(a.ctx)
}

// release self-removes a only when it is still the installed action.
func (m *MuteTimers) release(a *TimedAction) {
	m.actions.Compute(a.key, func(cur *TimedAction, loaded bool) (*TimedAction, xsync.ComputeOp) {
		if loaded && cur == a {
			return nil, xsync.DeleteOp
		}
		return cur, xsync.CancelOp
	})
}

// Disarm cancels and removes the action of key. No-op when none is armed.
func (m *MuteTimers) Disarm(key model.MemberKey) bool {
	disarmed := false
	m.actions.Compute(key, func(cur *TimedAction, loaded bool) (*TimedAction, xsync.ComputeOp) {
		if !loaded {
			return cur, xsync.CancelOp
		}
		disarmed = cur.stop()
		return nil, xsync.DeleteOp
	})
	return disarmed
}

// DisarmGuild cancels every action keyed under guildID and returns how many were removed.
func (m *MuteTimers) DisarmGuild(guildID string) int {
	var keys []model.MemberKey
	m.actions.Range(func(k model.MemberKey, _ *TimedAction) bool {
		if k.GuildID == guildID {
			keys = append(keys, k)
		}
		return true
	})

	n := 0
	for _, k := range keys {
		if m.Disarm(k) {
			n++
		}
	}
	return n
}

func (m *MuteTimers) Armed(key model.MemberKey) bool {
	_, ok := m.actions.Load(key)
	return ok
}

// Lookup returns the installed action of key.
func (m *MuteTimers) Lookup(key model.MemberKey) (*TimedAction, bool) {
	return m.actions.Load(key)
}

func (m *MuteTimers) Len() int { return m.actions.Size() }

// Close cancels every action, including callbacks already running, and waits for them.
func (m *MuteTimers) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancelFn()
	m.actions.Range(func(k model.MemberKey, _ *TimedAction) bool {
		m.actions.Delete(k)
		return true
	})
	m.wg.Wait()
}
