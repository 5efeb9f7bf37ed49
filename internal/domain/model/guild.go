package model

import (
	"context"
	"sync/atomic"
	"time"
)

// GuildInfo is an immutable snapshot of guild (server) metadata as reported by the remote API.
type GuildInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Topic            string `json:"topic"`
	OwnerID          string `json:"user_id"`
	Icon             string `json:"icon"`
	NotifyType       int    `json:"notify_type"`
	Region           string `json:"region"`
	EnableOpen       bool   `json:"enable_open"`
	OpenID           string `json:"open_id"`
	DefaultChannelID string `json:"default_channel_id"`
	WelcomeChannelID string `json:"welcome_channel_id"`

	// [DERIVED] Filled by crawls, not by the listing payload itself.
	MemberCount  int `json:"member_count"`
	ChannelCount int `json:"channel_count"`
}

// GuildView is the single-guild view payload: metadata plus its channel tree.
type GuildView struct {
	GuildInfo
	Channels []ChannelInfo `json:"channels"`
}

// constructionSeq breaks ties between guild objects built within the same clock tick.
var constructionSeq atomic.Uint64

// Guild is the cached identity object for one guild.
//
// [IDENTITY] The pointer is stable for as long as the guild stays cached; reconciliation and
// incremental updates swap the snapshot, never the object.
// [SCOPE] Every guild owns a cancellable context; timers armed for its members derive from it,
// so dropping the guild cancels them.
type Guild struct {
	id        string
	createdAt time.Time
	seq       uint64

	info      atomic.Pointer[GuildInfo]
	touchedAt atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGuild constructs a guild in ready state scoped beneath parent.
func NewGuild(parent context.Context, info GuildInfo) *Guild {
	ctx, cancel := context.WithCancel(parent)
	g := &Guild{
		id:        info.ID,
		createdAt: time.Now(),
		seq:       constructionSeq.Add(1),
		ctx:       ctx,
		cancel:    cancel,
	}
	g.SetInfo(info)
	return g
}

func (g *Guild) ID() string             { return g.id }
func (g *Guild) Info() GuildInfo        { return *g.info.Load() }
func (g *Guild) Name() string           { return g.info.Load().Name }
func (g *Guild) CreatedAt() time.Time   { return g.createdAt }
func (g *Guild) Scope() context.Context { return g.ctx }
func (g *Guild) TouchedAt() time.Time   { return time.Unix(0, g.touchedAt.Load()) }
func (g *Guild) Abandon()               { g.cancel() }
func (g *Guild) IsAbandoned() bool      { return g.ctx.Err() != nil }

// SetInfo overwrites the snapshot in place. The id is never changed.
func (g *Guild) SetInfo(info GuildInfo) {
	info.ID = g.id
	g.info.Store(&info)
	g.touchedAt.Store(time.Now().UnixNano())
}

// ConstructedBefore reports whether g was built earlier than other.
func (g *Guild) ConstructedBefore(other *Guild) bool {
	if g.createdAt.Equal(other.createdAt) {
		return g.seq < other.seq
	}
	return g.createdAt.Before(other.createdAt)
}
