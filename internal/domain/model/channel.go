package model

import (
	"sync/atomic"
	"time"
)

// ChannelKind discriminates the two variants a guild channel tree is made of.
type ChannelKind int8

const (
	ChannelKindChat     ChannelKind = iota + 1 // [ROOM] text/voice channel
	ChannelKindCategory                        // [GROUP] named grouping of channels
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelKindChat:
		return "chat"
	case ChannelKindCategory:
		return "category"
	default:
		return "unknown"
	}
}

// ChannelInfo is an immutable snapshot of a channel or category.
type ChannelInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	OwnerID      string `json:"user_id"`
	GuildID      string `json:"guild_id"`
	Topic        string `json:"topic"`
	IsCategory   bool   `json:"is_category"`
	ParentID     string `json:"parent_id"`
	Level        int    `json:"level"`
	SlowMode     int    `json:"slow_mode"`
	Type         int    `json:"type"`
	LimitAmount  int    `json:"limit_amount"`
	PermissionOK bool   `json:"permission_sync"`
}

// Kind maps the payload flag onto the discriminator.
func (i ChannelInfo) Kind() ChannelKind {
	if i.IsCategory {
		return ChannelKindCategory
	}
	return ChannelKindChat
}

// Channel is the cached identity object for a chat channel or a category.
type Channel struct {
	id      string
	guildID string
	kind    ChannelKind

	info      atomic.Pointer[ChannelInfo]
	touchedAt atomic.Int64
}

// NewChannel builds a ready channel scoped to guildID. The kind is fixed at construction.
func NewChannel(guildID string, info ChannelInfo) *Channel {
	c := &Channel{
		id:      info.ID,
		guildID: guildID,
		kind:    info.Kind(),
	}
	c.SetInfo(info)
	return c
}

func (c *Channel) ID() string           { return c.id }
func (c *Channel) GuildID() string      { return c.guildID }
func (c *Channel) Kind() ChannelKind    { return c.kind }
func (c *Channel) IsCategory() bool     { return c.kind == ChannelKindCategory }
func (c *Channel) Info() ChannelInfo    { return *c.info.Load() }
func (c *Channel) Name() string         { return c.info.Load().Name }
func (c *Channel) ParentID() string     { return c.info.Load().ParentID }
func (c *Channel) TouchedAt() time.Time { return time.Unix(0, c.touchedAt.Load()) }

// SetInfo overwrites the snapshot in place, pinning id and guild.
func (c *Channel) SetInfo(info ChannelInfo) {
	info.ID = c.id
	info.GuildID = c.guildID
	info.IsCategory = c.kind == ChannelKindCategory
	c.info.Store(&info)
	c.touchedAt.Store(time.Now().UnixNano())
}
