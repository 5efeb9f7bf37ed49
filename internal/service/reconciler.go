package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// CycleStats summarizes one reconciliation pass.
type CycleStats struct {
	Guilds       int
	FailedGuilds int
	Channels     int
	Categories   int
	Members      int
	Pruned       registry.PruneStats
	PrunedGuilds int
	Duration     time.Duration
}

// Reconciler periodically re-derives the cache from the listing API.
type Reconciler struct {
	api    RemoteAPI
	lane   registry.Writer
	scope  *Scope
	period time.Duration
	delay  time.Duration
	logger *slog.Logger

	cron *cron.Cron

	// [CYCLE_GUARD] Serializes the initial pass with scheduled ones.
	cycleMu sync.Mutex
}

func NewReconciler(api RemoteAPI, lane registry.Writer, scope *Scope, period, batchDelay time.Duration, logger *slog.Logger) *Reconciler {
	logger = logger.With("component", "reconciler")
	return &Reconciler{
		api:    api,
		lane:   lane,
		scope:  scope,
		period: period,
		delay:  batchDelay,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		),
	}
}

// Start schedules recurring cycles. A non-positive period leaves only the initial pass.
func (r *Reconciler) Start() error {
	if r.period <= 0 {
		r.logger.Info("RECONCILIATION_DISABLED")
		return nil
	}
	spec := fmt.Sprintf("@every %s", r.period)
	if _, err := r.cron.AddFunc(spec, func() {
		_, _ = r.RunOnce(r.scope.Context())
	}); err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", spec, err)
	}
	r.cron.Start()
	r.logger.Info("RECONCILIATION_SCHEDULED", "period", r.period.String())
	return nil
}

// Stop halts scheduling and waits for a running cycle, bounded by ctx.
func (r *Reconciler) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one full crawl. Errors are logged here; the returned error only reports
// whether the guild list itself could be crawled.
func (r *Reconciler) RunOnce(ctx context.Context) (CycleStats, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	ctx, span := tracer.Start(ctx, "reconcile")
	defer span.End()

	var st CycleStats
	start := time.Now()
	cycleStart := start

	_, err := crawl(ctx, r.delay, r.api.ListGuilds, func(items []model.GuildInfo) error {
		for _, info := range items {
			st.Guilds++
			if err := r.reconcileGuild(ctx, cycleStart, info, &st); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				st.FailedGuilds++
				r.logger.Warn("GUILD_RECONCILIATION_FAILED", "guild_id", info.ID, "err", err)
			}
		}
		return nil
	})
	st.Duration = time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("RECONCILIATION_CYCLE_ABORTED",
			"err", err,
			"guilds", st.Guilds,
			"duration_ms", st.Duration.Milliseconds(),
		)
		return st, err
	}

	// [PRUNE] Only a complete guild list proves absence.
	pruned, err := registry.Modify(ctx, r.lane, func(s *registry.Store) ([]*model.Guild, error) {
		return s.PruneGuilds(cycleStart), nil
	})
	if err != nil {
		r.logger.Warn("GUILD_PRUNE_FAILED", "err", err)
	}
	st.PrunedGuilds = len(pruned)
	st.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("guilds", st.Guilds),
		attribute.Int("guilds.failed", st.FailedGuilds),
		attribute.Int("members", st.Members),
	)
	r.logger.Info("RECONCILIATION_CYCLE_COMPLETED",
		"guilds", st.Guilds,
		"failed_guilds", st.FailedGuilds,
		"channels", st.Channels,
		"categories", st.Categories,
		"members", st.Members,
		"pruned_guilds", st.PrunedGuilds,
		"pruned_channels", st.Pruned.Channels+st.Pruned.Categories,
		"pruned_members", st.Pruned.Members,
		"duration_ms", st.Duration.Milliseconds(),
	)
	return st, nil
}

// reconcileGuild merges one guild row, then crawls its channels and members concurrently.
func (r *Reconciler) reconcileGuild(ctx context.Context, cycleStart time.Time, info model.GuildInfo, st *CycleStats) error {
	guildID := info.ID
	candidate := model.NewGuild(r.scope.Context(), info)
	guild, err := registry.Modify(ctx, r.lane, func(s *registry.Store) (*model.Guild, error) {
		// [DERIVED_COUNTS] The listing row has no counts. Keep the last crawled ones until
		// this guild's crawl completes.
		if cur, ok := s.Guild(guildID); ok {
			prev := cur.Info()
			info.MemberCount, info.ChannelCount = prev.MemberCount, prev.ChannelCount
			candidate.SetInfo(info)
		}
		g, _ := s.MergeGuild(candidate)
		return g, nil
	})
	if err != nil {
		candidate.Abandon()
		return fmt.Errorf("merge guild: %w", err)
	}

	var channels, categories, members int
	// [SCOPE] Removing the guild mid-crawl cancels both cursors.
	crawlCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(guild.Scope(), cancel)()

	g, gCtx := errgroup.WithContext(crawlCtx)

	// [CURSOR] channels
	g.Go(func() error {
		_, err := crawl(gCtx, r.delay, func(ctx context.Context, page int) (model.Page[model.ChannelInfo], error) {
			return r.api.ListChannels(ctx, guildID, page)
		}, func(items []model.ChannelInfo) error {
			return r.lane.Do(gCtx, func(s *registry.Store) error {
				for _, ch := range items {
					s.UpsertChannel(guildID, ch)
					if ch.IsCategory {
						categories++
					} else {
						channels++
					}
				}
				return nil
			})
		})
		if err != nil {
			return fmt.Errorf("crawl channels: %w", err)
		}
		return nil
	})

	// [CURSOR] members
	g.Go(func() error {
		_, err := crawl(gCtx, r.delay, func(ctx context.Context, page int) (model.Page[model.MemberInfo], error) {
			return r.api.ListMembers(ctx, guildID, page)
		}, func(items []model.MemberInfo) error {
			return r.lane.Do(gCtx, func(s *registry.Store) error {
				for _, m := range items {
					s.UpsertMember(guildID, m)
				}
				members += len(items)
				return nil
			})
		})
		if err != nil {
			return fmt.Errorf("crawl members: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && guild.IsAbandoned() {
			// the guild left the cache mid-crawl; nothing to reconcile
			return nil
		}
		return err
	}

	st.Channels += channels
	st.Categories += categories
	st.Members += members

	pruned, err := registry.Modify(ctx, r.lane, func(s *registry.Store) (registry.PruneStats, error) {
		if cur, ok := s.Guild(guildID); !ok || cur != guild {
			return registry.PruneStats{}, nil
		}
		info := guild.Info()
		info.ChannelCount = channels + categories
		info.MemberCount = members
		guild.SetInfo(info)
		return s.PruneGuild(guildID, cycleStart), nil
	})
	if err != nil {
		return fmt.Errorf("prune guild: %w", err)
	}
	st.Pruned.Channels += pruned.Channels
	st.Pruned.Categories += pruned.Categories
	st.Pruned.Members += pruned.Members
	return nil
}

// cronLogger adapts slog to the cron.Logger contract.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug("CRON_"+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("CRON_"+msg, append(kv, "err", err)...)
}
