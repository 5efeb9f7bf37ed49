package model

import (
	"slices"
	"sync/atomic"
	"time"
)

// MemberKey is the compound (guild, user) key shared by the member map and the mute timer map.
type MemberKey struct {
	GuildID string
	UserID  string
}

func (k MemberKey) String() string { return k.GuildID + ":" + k.UserID }

// MemberInfo is an immutable snapshot of a user's profile inside one guild.
type MemberInfo struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Nickname    string  `json:"nickname"`
	IdentifyNum string  `json:"identify_num"`
	Online      bool    `json:"online"`
	Bot         bool    `json:"bot"`
	OS          string  `json:"os"`
	Status      int     `json:"status"`
	Avatar      string  `json:"avatar"`
	VipAvatar   string  `json:"vip_avatar"`
	MobileVerif bool    `json:"mobile_verified"`
	Roles       []int64 `json:"roles"`
	JoinedAt    int64   `json:"joined_at"`
	ActiveTime  int64   `json:"active_time"`
}

// Clone returns a deep copy so snapshots never share the roles slice.
func (i MemberInfo) Clone() MemberInfo {
	i.Roles = slices.Clone(i.Roles)
	return i
}

// DisplayName prefers the guild nickname over the account username.
func (i MemberInfo) DisplayName() string {
	if i.Nickname != "" {
		return i.Nickname
	}
	return i.Username
}

// Member is the cached identity object for a (guild, user) association.
// It is not a process-wide entity: it lives and dies with its guild.
type Member struct {
	key MemberKey

	info      atomic.Pointer[MemberInfo]
	touchedAt atomic.Int64
}

func NewMember(guildID string, info MemberInfo) *Member {
	m := &Member{key: MemberKey{GuildID: guildID, UserID: info.ID}}
	m.SetInfo(info)
	return m
}

func (m *Member) Key() MemberKey       { return m.key }
func (m *Member) GuildID() string      { return m.key.GuildID }
func (m *Member) UserID() string       { return m.key.UserID }
func (m *Member) Info() MemberInfo     { return m.info.Load().Clone() }
func (m *Member) TouchedAt() time.Time { return time.Unix(0, m.touchedAt.Load()) }

// SetInfo overwrites the snapshot in place.
func (m *Member) SetInfo(info MemberInfo) {
	info = info.Clone()
	info.ID = m.key.UserID
	m.info.Store(&info)
	m.touchedAt.Store(time.Now().UnixNano())
}

// Update applies fn to a copy of the current snapshot and stores the result.
// It returns the previous snapshot. Callers must hold the single-writer lane.
func (m *Member) Update(fn func(*MemberInfo)) (old MemberInfo) {
	old = m.Info()
	next := old.Clone()
	fn(&next)
	m.SetInfo(next)
	return old
}
