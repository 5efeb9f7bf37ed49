package service

import (
	"context"

	"github.com/webitel/kook-mirror-service/internal/domain/event"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

// RemoteAPI is the request/response surface of the platform the mirror crawls.
// Listings are 1-based and paginated.
type RemoteAPI interface {
	Me(ctx context.Context) (model.MemberInfo, error)
	ListGuilds(ctx context.Context, page int) (model.Page[model.GuildInfo], error)
	ViewGuild(ctx context.Context, guildID string) (model.GuildView, error)
	ListChannels(ctx context.Context, guildID string, page int) (model.Page[model.ChannelInfo], error)
	ListMembers(ctx context.Context, guildID string, page int) (model.Page[model.MemberInfo], error)
	ViewUser(ctx context.Context, guildID, userID string) (model.MemberInfo, error)
	CreateGuildMute(ctx context.Context, guildID, userID string, t model.MuteType) error
	DeleteGuildMute(ctx context.Context, guildID, userID string, t model.MuteType) error
}

// Processor is the downstream consumer of derived domain events.
type Processor interface {
	// Subscribed is asked before an event is built; false skips construction entirely.
	Subscribed(kind event.EventKind) bool
	Push(ctx context.Context, ev event.Eventer) error
}
