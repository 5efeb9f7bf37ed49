package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/webitel/kook-mirror-service/internal/service")

// hydration is one shared in-flight guild build. Fields are final once done is closed.
type hydration struct {
	done  chan struct{}
	guild *model.Guild
	err   error
}

// Hydrator deduplicates concurrent "build full state for guild X" requests.
type Hydrator struct {
	api    RemoteAPI
	lane   registry.Writer
	scope  *Scope
	delay  time.Duration
	logger *slog.Logger

	// [IN_FLIGHT] At most one entry per guild id.
	inflight *xsync.Map[string, *hydration]
}

func NewHydrator(api RemoteAPI, lane registry.Writer, scope *Scope, batchDelay time.Duration, logger *slog.Logger) *Hydrator {
	return &Hydrator{
		api:      api,
		lane:     lane,
		scope:    scope,
		delay:    batchDelay,
		logger:   logger.With("component", "hydrator"),
		inflight: xsync.NewMap[string, *hydration](),
	}
}

// Hydrate builds the cached state of guildID, joining a hydration already in flight.
// ctx bounds only this caller's wait; the crawl itself runs under the root scope.
func (x *Hydrator) Hydrate(ctx context.Context, guildID string) (*model.Guild, error) {
	h := &hydration{done: make(chan struct{})}

	// [COMPUTE_IF_ABSENT]
	started := false
	actual, _ := x.inflight.Compute(guildID, func(cur *hydration, loaded bool) (*hydration, xsync.ComputeOp) {
		if loaded {
			return cur, xsync.CancelOp
		}
		started = true
		return h, xsync.UpdateOp
	})

	if started {
		if !x.scope.Go(func(root context.Context) { x.run(root, guildID, h) }) {
			x.finish(guildID, h, nil, ErrStopped)
		}
	} else {
		x.logger.Debug("HYDRATION_JOINED", "guild_id", guildID)
	}

	select {
	case <-actual.done:
		return actual.guild, actual.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports whether a hydration of guildID is pending.
func (x *Hydrator) InFlight(guildID string) bool {
	_, ok := x.inflight.Load(guildID)
	return ok
}

// Await waits for a pending hydration of guildID. ok is false when none is pending or it failed.
func (x *Hydrator) Await(ctx context.Context, guildID string) (*model.Guild, bool) {
	h, ok := x.inflight.Load(guildID)
	if !ok {
		return nil, false
	}
	select {
	case <-h.done:
		return h.guild, h.err == nil
	case <-ctx.Done():
		return nil, false
	}
}

func (x *Hydrator) run(root context.Context, guildID string, h *hydration) {
	ctx, span := tracer.Start(root, "hydrate")
	span.SetAttributes(attribute.String("guild.id", guildID))
	defer span.End()

	start := time.Now()
	guild, err := x.build(ctx, root, guildID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		x.logger.Warn("GUILD_HYDRATION_FAILED",
			"guild_id", guildID,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		x.logger.Info("GUILD_HYDRATED",
			"guild_id", guildID,
			"name", guild.Name(),
			"members", guild.Info().MemberCount,
			"channels", guild.Info().ChannelCount,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	x.finish(guildID, h, guild, err)
}

// build fetches metadata and members, then installs everything in one lane closure.
func (x *Hydrator) build(ctx, root context.Context, guildID string) (*model.Guild, error) {
	view, err := x.api.ViewGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("view guild: %w", err)
	}

	// [CONSTRUCTION_TIMESTAMP] Taken before the slow member crawl; see Store.MergeGuild.
	candidate := model.NewGuild(root, view.GuildInfo)

	members, err := collect(ctx, x.delay, func(ctx context.Context, page int) (model.Page[model.MemberInfo], error) {
		return x.api.ListMembers(ctx, guildID, page)
	})
	if err != nil {
		candidate.Abandon()
		return nil, fmt.Errorf("crawl members: %w", err)
	}

	info := view.GuildInfo
	info.MemberCount = len(members)
	info.ChannelCount = len(view.Channels)
	candidate.SetInfo(info)

	guild, err := registry.Modify(ctx, x.lane, func(s *registry.Store) (*model.Guild, error) {
		g, _ := s.MergeGuild(candidate)
		// categories first so channel parents resolve against this guild
		for _, ch := range view.Channels {
			if ch.IsCategory {
				s.UpsertChannel(guildID, ch)
			}
		}
		for _, ch := range view.Channels {
			if !ch.IsCategory {
				s.UpsertChannel(guildID, ch)
			}
		}
		for _, m := range members {
			s.UpsertMember(guildID, m)
		}
		return g, nil
	})
	if err != nil {
		candidate.Abandon()
		return nil, fmt.Errorf("merge guild: %w", err)
	}
	return guild, nil
}

// finish drops the in-flight entry before publishing the result, so a later join starts fresh.
func (x *Hydrator) finish(guildID string, h *hydration, guild *model.Guild, err error) {
	x.inflight.Compute(guildID, func(cur *hydration, loaded bool) (*hydration, xsync.ComputeOp) {
		if loaded && cur == h {
			return nil, xsync.DeleteOp
		}
		return cur, xsync.CancelOp
	})
	h.guild, h.err = guild, err
	close(h.done)
}
