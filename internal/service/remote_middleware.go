package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

// remoteMiddleware implements [DECORATOR_PATTERN] to add observability
// to remote API calls without touching crawl logic.
type remoteMiddleware struct {
	next   RemoteAPI
	logger *slog.Logger
}

// NewRemoteMiddleware creates a new logging decorator for the RemoteAPI.
func NewRemoteMiddleware(next RemoteAPI, logger *slog.Logger) RemoteAPI {
	return &remoteMiddleware{
		next:   next,
		logger: logger.With("component", "remote_api"),
	}
}

// observe logs failures at warn and successes at debug, both with timing.
func (m *remoteMiddleware) observe(op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "op", op, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		m.logger.Warn("REMOTE_CALL_FAILED", append(attrs, "err", err)...)
		return
	}
	m.logger.Debug("REMOTE_CALL_COMPLETED", attrs...)
}

func (m *remoteMiddleware) Me(ctx context.Context) (model.MemberInfo, error) {
	start := time.Now()
	res, err := m.next.Me(ctx)
	m.observe("me", start, err)
	return res, err
}

func (m *remoteMiddleware) ListGuilds(ctx context.Context, page int) (model.Page[model.GuildInfo], error) {
	start := time.Now()
	res, err := m.next.ListGuilds(ctx, page)
	m.observe("guild.list", start, err, "page", page, "items", len(res.Items))
	return res, err
}

func (m *remoteMiddleware) ViewGuild(ctx context.Context, guildID string) (model.GuildView, error) {
	start := time.Now()
	res, err := m.next.ViewGuild(ctx, guildID)
	m.observe("guild.view", start, err, "guild_id", guildID)
	return res, err
}

func (m *remoteMiddleware) ListChannels(ctx context.Context, guildID string, page int) (model.Page[model.ChannelInfo], error) {
	start := time.Now()
	res, err := m.next.ListChannels(ctx, guildID, page)
	m.observe("channel.list", start, err, "guild_id", guildID, "page", page, "items", len(res.Items))
	return res, err
}

func (m *remoteMiddleware) ListMembers(ctx context.Context, guildID string, page int) (model.Page[model.MemberInfo], error) {
	start := time.Now()
	res, err := m.next.ListMembers(ctx, guildID, page)
	m.observe("guild.user-list", start, err, "guild_id", guildID, "page", page, "items", len(res.Items))
	return res, err
}

func (m *remoteMiddleware) ViewUser(ctx context.Context, guildID, userID string) (model.MemberInfo, error) {
	start := time.Now()
	res, err := m.next.ViewUser(ctx, guildID, userID)
	m.observe("user.view", start, err, "guild_id", guildID, "user_id", userID)
	return res, err
}

func (m *remoteMiddleware) CreateGuildMute(ctx context.Context, guildID, userID string, t model.MuteType) error {
	start := time.Now()
	err := m.next.CreateGuildMute(ctx, guildID, userID, t)
	m.observe("guild-mute.create", start, err, "guild_id", guildID, "user_id", userID, "type", int(t))
	return err
}

func (m *remoteMiddleware) DeleteGuildMute(ctx context.Context, guildID, userID string, t model.MuteType) error {
	start := time.Now()
	err := m.next.DeleteGuildMute(ctx, guildID, userID, t)
	m.observe("guild-mute.delete", start, err, "guild_id", guildID, "user_id", userID, "type", int(t))
	return err
}
