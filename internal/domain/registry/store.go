package registry

import (
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

// Reader is the lock-free query side of the cache.
type Reader interface {
	Guild(id string) (*model.Guild, bool)
	Channel(id string) (*model.Channel, bool)
	Category(id string) (*model.Channel, bool)
	AnyChannel(id string) (*model.Channel, bool)
	Member(key model.MemberKey) (*model.Member, bool)
	Guilds() []*model.Guild
	Channels(guildID string) []*model.Channel
	Categories(guildID string) []*model.Channel
	Members(guildID string) []*model.Member
	MembersOfUser(userID string) []*model.Member
	Stats() Stats
}

// Stats is a point-in-time size report of the cache.
type Stats struct {
	Guilds     int `json:"guilds"`
	Channels   int `json:"channels"`
	Categories int `json:"categories"`
	Members    int `json:"members"`
	Timers     int `json:"timers"`
}

// PruneStats counts rows dropped by one prune pass.
type PruneStats struct {
	Channels   int
	Categories int
	Members    int
}

// Store is the [SINGLE_OWNER] cache of one bot instance.
//
// [READS] Lookups and listings go straight to the concurrent maps and never tear a single entity.
// [WRITES] Every mutating method assumes the caller runs inside the Lane.
type Store struct {
	guilds     *xsync.Map[string, *model.Guild]
	channels   *xsync.Map[string, *model.Channel]
	categories *xsync.Map[string, *model.Channel]
	members    *xsync.Map[model.MemberKey, *model.Member]

	// timers share the member key space; removals below disarm them.
	timers *MuteTimers

	logger *slog.Logger
}

var _ Reader = (*Store)(nil)

func NewStore(timers *MuteTimers, opts ...Option) *Store {
	o := newOptions(opts)
	return &Store{
		guilds:     xsync.NewMap[string, *model.Guild](),
		channels:   xsync.NewMap[string, *model.Channel](),
		categories: xsync.NewMap[string, *model.Channel](),
		members:    xsync.NewMap[model.MemberKey, *model.Member](),
		timers:     timers,
		logger:     o.logger.With("component", "store"),
	}
}

// --- READ SIDE ---

func (s *Store) Guild(id string) (*model.Guild, bool)             { return s.guilds.Load(id) }
func (s *Store) Channel(id string) (*model.Channel, bool)         { return s.channels.Load(id) }
func (s *Store) Category(id string) (*model.Channel, bool)        { return s.categories.Load(id) }
func (s *Store) Member(key model.MemberKey) (*model.Member, bool) { return s.members.Load(key) }

// AnyChannel resolves an id against both variants of the channel union.
func (s *Store) AnyChannel(id string) (*model.Channel, bool) {
	if ch, ok := s.channels.Load(id); ok {
		return ch, true
	}
	return s.categories.Load(id)
}

func (s *Store) Guilds() []*model.Guild {
	out := make([]*model.Guild, 0, s.guilds.Size())
	s.guilds.Range(func(_ string, g *model.Guild) bool {
		out = append(out, g)
		return true
	})
	return out
}

func (s *Store) Channels(guildID string) []*model.Channel {
	return scoped(s.channels, guildID)
}

func (s *Store) Categories(guildID string) []*model.Channel {
	return scoped(s.categories, guildID)
}

func (s *Store) Members(guildID string) []*model.Member {
	var out []*model.Member
	s.members.Range(func(k model.MemberKey, m *model.Member) bool {
		if k.GuildID == guildID {
			out = append(out, m)
		}
		return true
	})
	return out
}

// MembersOfUser returns every guild-scoped row of one user.
func (s *Store) MembersOfUser(userID string) []*model.Member {
	var out []*model.Member
	s.members.Range(func(k model.MemberKey, m *model.Member) bool {
		if k.UserID == userID {
			out = append(out, m)
		}
		return true
	})
	return out
}

func (s *Store) Stats() Stats {
	return Stats{
		Guilds:     s.guilds.Size(),
		Channels:   s.channels.Size(),
		Categories: s.categories.Size(),
		Members:    s.members.Size(),
		Timers:     s.timers.Len(),
	}
}

func scoped(m *xsync.Map[string, *model.Channel], guildID string) []*model.Channel {
	var out []*model.Channel
	m.Range(func(_ string, ch *model.Channel) bool {
		if ch.GuildID() == guildID {
			out = append(out, ch)
		}
		return true
	})
	return out
}

// --- WRITE SIDE (lane only) ---

// MergeGuild installs candidate or merges it into the cached guild with the same id.
//
// [TIE_BREAK] The object constructed earlier stays canonical. The loser's snapshot is copied into
// the winner and the loser is abandoned, which cancels everything scoped beneath it.
// Returns the canonical guild and whether candidate itself was installed.
func (s *Store) MergeGuild(candidate *model.Guild) (*model.Guild, bool) {
	existing, ok := s.guilds.Load(candidate.ID())
	switch {
	case !ok:
		s.guilds.Store(candidate.ID(), candidate)
		return candidate, true
	case existing == candidate:
		candidate.SetInfo(candidate.Info())
		return candidate, false
	case existing.ConstructedBefore(candidate):
		existing.SetInfo(candidate.Info())
		candidate.Abandon()
		return existing, false
	default:
		s.logger.Debug("GUILD_IDENTITY_REPLACED", "guild_id", candidate.ID())
		candidate.SetInfo(existing.Info())
		s.guilds.Store(candidate.ID(), candidate)
		existing.Abandon()
		return candidate, true
	}
}

// UpsertChannel merges a channel or category snapshot into guildID.
// A variant switch (chat <-> category) replaces the row in the other map.
func (s *Store) UpsertChannel(guildID string, info model.ChannelInfo) (*model.Channel, bool) {
	// [SAME_GUILD] A parent must be a category of the same guild.
	if info.ParentID != "" {
		if parent, ok := s.categories.Load(info.ParentID); ok && parent.GuildID() != guildID {
			s.logger.Warn("CHANNEL_PARENT_FOREIGN_GUILD",
				"channel_id", info.ID,
				"guild_id", guildID,
				"parent_id", info.ParentID,
				"parent_guild_id", parent.GuildID(),
			)
			info.ParentID = ""
		}
	}

	target, other := s.channels, s.categories
	if info.Kind() == model.ChannelKindCategory {
		target, other = s.categories, s.channels
	}
	other.Delete(info.ID)

	if existing, ok := target.Load(info.ID); ok && existing.GuildID() == guildID {
		existing.SetInfo(info)
		return existing, false
	}
	ch := model.NewChannel(guildID, info)
	target.Store(info.ID, ch)
	return ch, true
}

// UpsertMember merges a member snapshot into guildID.
func (s *Store) UpsertMember(guildID string, info model.MemberInfo) (*model.Member, bool) {
	key := model.MemberKey{GuildID: guildID, UserID: info.ID}
	if existing, ok := s.members.Load(key); ok {
		existing.SetInfo(info)
		return existing, false
	}
	m := model.NewMember(guildID, info)
	s.members.Store(key, m)
	return m, true
}

// UpdateMember applies fn to a cached member in place. ok is false when the member is unknown.
func (s *Store) UpdateMember(key model.MemberKey, fn func(*model.MemberInfo)) (m *model.Member, old model.MemberInfo, ok bool) {
	m, ok = s.members.Load(key)
	if !ok {
		return nil, model.MemberInfo{}, false
	}
	return m, m.Update(fn), true
}

// RemoveChannel drops a chat channel or a category by id.
func (s *Store) RemoveChannel(id string) (*model.Channel, bool) {
	if ch, ok := s.channels.LoadAndDelete(id); ok {
		return ch, true
	}
	return s.categories.LoadAndDelete(id)
}

// RemoveMember drops a member row and its armed timer, if any.
func (s *Store) RemoveMember(key model.MemberKey) (*model.Member, bool) {
	s.timers.Disarm(key)
	return s.members.LoadAndDelete(key)
}

// RemoveGuild performs the [CASCADE]: channels, categories, members, timers, then the guild scope.
func (s *Store) RemoveGuild(id string) (*model.Guild, bool) {
	g, ok := s.guilds.LoadAndDelete(id)

	// [ORPHANS] Sweep scoped rows even when the guild row itself is already gone.
	channels := deleteScoped(s.channels, id)
	categories := deleteScoped(s.categories, id)
	members := 0
	s.members.Range(func(k model.MemberKey, _ *model.Member) bool {
		if k.GuildID == id {
			s.members.Delete(k)
			members++
		}
		return true
	})
	timers := s.timers.DisarmGuild(id)

	if ok {
		g.Abandon()
	}
	s.logger.Debug("GUILD_REMOVED",
		"guild_id", id,
		"channels", channels,
		"categories", categories,
		"members", members,
		"timers", timers,
	)
	return g, ok
}

// PruneGuild drops rows of guildID that no merge touched since before.
func (s *Store) PruneGuild(guildID string, before time.Time) PruneStats {
	var st PruneStats
	st.Channels = deleteStale(s.channels, guildID, before)
	st.Categories = deleteStale(s.categories, guildID, before)
	s.members.Range(func(k model.MemberKey, m *model.Member) bool {
		if k.GuildID == guildID && m.TouchedAt().Before(before) {
			s.RemoveMember(k)
			st.Members++
		}
		return true
	})
	return st
}

// PruneGuilds cascade-removes guilds that no merge touched since before.
func (s *Store) PruneGuilds(before time.Time) []*model.Guild {
	var stale []*model.Guild
	s.guilds.Range(func(_ string, g *model.Guild) bool {
		if g.TouchedAt().Before(before) {
			stale = append(stale, g)
		}
		return true
	})
	for _, g := range stale {
		s.RemoveGuild(g.ID())
	}
	return stale
}

func deleteScoped(m *xsync.Map[string, *model.Channel], guildID string) int {
	n := 0
	m.Range(func(id string, ch *model.Channel) bool {
		if ch.GuildID() == guildID {
			m.Delete(id)
			n++
		}
		return true
	})
	return n
}

func deleteStale(m *xsync.Map[string, *model.Channel], guildID string, before time.Time) int {
	n := 0
	m.Range(func(id string, ch *model.Channel) bool {
		if ch.GuildID() == guildID && ch.TouchedAt().Before(before) {
			m.Delete(id)
			n++
		}
		return true
	})
	return n
}
