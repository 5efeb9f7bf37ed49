package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/webitel/kook-mirror-service/internal/domain/registry"
)

// Mirror owns the root scope of one bot instance and sequences its lifecycle.
type Mirror struct {
	api        RemoteAPI
	scope      *Scope
	self       *Identity
	reconciler *Reconciler
	emitter    *Emitter
	timers     *registry.MuteTimers
	lane       *registry.Lane
	logger     *slog.Logger
}

func NewMirror(
	api RemoteAPI,
	scope *Scope,
	self *Identity,
	reconciler *Reconciler,
	emitter *Emitter,
	timers *registry.MuteTimers,
	lane *registry.Lane,
	logger *slog.Logger,
) *Mirror {
	return &Mirror{
		api:        api,
		scope:      scope,
		self:       self,
		reconciler: reconciler,
		emitter:    emitter,
		timers:     timers,
		lane:       lane,
		logger:     logger.With("component", "mirror"),
	}
}

// Start resolves the bot identity, runs the initial full crawl and schedules the next ones.
// A failed initial crawl is logged; the scheduler retries it.
func (m *Mirror) Start(ctx context.Context) error {
	me, err := m.api.Me(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}
	m.self.Set(me.ID)
	m.logger.Info("MIRROR_IDENTITY_RESOLVED", "user_id", me.ID, "username", me.Username)

	// [BOOTSTRAP] Bound by the root scope, not by the start deadline.
	if _, err := m.reconciler.RunOnce(m.scope.Context()); err != nil {
		m.logger.Warn("INITIAL_SYNC_FAILED", "err", err)
	}
	return m.reconciler.Start()
}

// Stop cancels everything beneath the root scope and waits for it, bounded by ctx.
func (m *Mirror) Stop(ctx context.Context) error {
	err := errors.Join(
		m.scope.Close(ctx),
		m.reconciler.Stop(ctx),
	)
	m.timers.Close()
	m.lane.Close()
	err = errors.Join(err, m.emitter.Drain(ctx))

	if err != nil {
		m.logger.Warn("MIRROR_STOPPED_UNCLEAN", "err", err)
		return err
	}
	m.logger.Info("MIRROR_STOPPED")
	return nil
}

func (m *Mirror) IsMe(userID string) bool { return m.self.IsMe(userID) }
