package service

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/kook-mirror-service/internal/domain/event"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
)

// Applier keeps the cache incrementally current from the raw event stream and derives domain events.
//
// [MISSING_ENTITY] An event whose guild, channel or member cannot be resolved is logged and
// dropped: no mutation, no domain event, no error. The next reconciliation heals the drift.
type Applier struct {
	store    registry.Reader
	lane     registry.Writer
	hydrator *Hydrator
	emitter  *Emitter
	api      RemoteAPI
	self     *Identity
	logger   *slog.Logger

	// [DEDUP] Recently applied msg_ids; nil disables the window.
	seen *lru.Cache[string, struct{}]
}

func NewApplier(
	store registry.Reader,
	lane registry.Writer,
	hydrator *Hydrator,
	emitter *Emitter,
	api RemoteAPI,
	self *Identity,
	dedupSize int,
	logger *slog.Logger,
) *Applier {
	a := &Applier{
		store:    store,
		lane:     lane,
		hydrator: hydrator,
		emitter:  emitter,
		api:      api,
		self:     self,
		logger:   logger.With("component", "applier"),
	}
	if dedupSize > 0 {
		a.seen, _ = lru.New[string, struct{}](dedupSize)
	}
	return a
}

type systemRule func(a *Applier, ctx context.Context, raw *model.RawEvent) error

// systemRules is the flat extra-type -> (mutation, domain event) mapping of system frames.
var systemRules = map[string]systemRule{
	model.ExtraSelfJoinedGuild:    (*Applier).selfJoinedGuild,
	model.ExtraSelfExitedGuild:    (*Applier).selfExitedGuild,
	model.ExtraJoinedGuild:        (*Applier).memberJoinedGuild,
	model.ExtraExitedGuild:        (*Applier).memberExitedGuild,
	model.ExtraUpdatedGuildMember: (*Applier).memberUpdated,
	model.ExtraJoinedChannel:      (*Applier).memberChannel,
	model.ExtraExitedChannel:      (*Applier).memberChannel,
	model.ExtraGuildMemberOnline:  (*Applier).presence,
	model.ExtraGuildMemberOffline: (*Applier).presence,
	model.ExtraUserUpdated:        (*Applier).userUpdated,
	model.ExtraAddedChannel:       (*Applier).channelUpserted,
	model.ExtraUpdatedChannel:     (*Applier).channelUpserted,
	model.ExtraDeletedChannel:     (*Applier).channelDeleted,
	model.ExtraPinnedMessage:      (*Applier).pin,
	model.ExtraUnpinnedMessage:    (*Applier).pin,
}

// passThrough are system frames forwarded without any cache mapping.
var passThrough = map[string]event.EventKind{
	model.ExtraUpdatedMessage:        event.ChannelMessageUpdated,
	model.ExtraDeletedMessage:        event.ChannelMessageDeleted,
	model.ExtraMessageBtnClick:       event.MessageBtnClick,
	model.ExtraUpdatedPrivateMessage: event.PrivateMessageUpdated,
	model.ExtraDeletedPrivateMessage: event.PrivateMessageDeleted,
}

// Apply consumes one raw event. The only errors returned are lane failures (shutdown);
// everything else is absorbed and logged.
func (a *Applier) Apply(ctx context.Context, raw *model.RawEvent) error {
	if raw == nil {
		return nil
	}
	if !a.claim(raw) {
		a.logger.Debug("EVENT_DUPLICATE_SKIPPED", "msg_id", raw.MsgID)
		return nil
	}

	var err error
	switch {
	case raw.Type == model.RawSystem:
		err = a.applySystem(ctx, raw)
	case raw.Type.IsMessage():
		err = a.applyMessage(ctx, raw)
	default:
		a.unsupported(ctx, raw)
	}
	if err != nil {
		// a redelivery must be able to apply it again
		a.release(raw)
		return err
	}
	return nil
}

// claim reserves raw.MsgID in the dedup window. It is false when the id is already taken,
// so concurrent deliveries of one frame apply it once.
func (a *Applier) claim(raw *model.RawEvent) bool {
	if a.seen == nil || raw.MsgID == "" {
		return true
	}
	found, _ := a.seen.ContainsOrAdd(raw.MsgID, struct{}{})
	return !found
}

func (a *Applier) release(raw *model.RawEvent) {
	if a.seen != nil && raw.MsgID != "" {
		a.seen.Remove(raw.MsgID)
	}
}

func (a *Applier) applySystem(ctx context.Context, raw *model.RawEvent) error {
	extra := raw.ExtraType()
	if rule, ok := systemRules[extra]; ok {
		return rule(a, ctx, raw)
	}
	if kind, ok := passThrough[extra]; ok {
		a.emitter.Emit(ctx, kind, func() event.Eventer {
			return event.NewRawEvent(kind, raw.Extra.GuildID, raw)
		})
		return nil
	}
	a.unsupported(ctx, raw)
	return nil
}

func (a *Applier) applyMessage(ctx context.Context, raw *model.RawEvent) error {
	self := a.self.IsMe(raw.AuthorID)

	switch raw.ChannelType {
	case model.ChannelTypePerson:
		kind := event.ContactMessage
		if self {
			kind = event.BotSelfMessage
		}
		a.emitter.Emit(ctx, kind, func() event.Eventer { return event.NewContactMessageEvent(self, raw) })
		return nil

	case model.ChannelTypeGroup:
		guild, ok := a.guild(ctx, raw, raw.Extra.GuildID)
		if !ok {
			return nil
		}
		ch, ok := a.channel(raw, guild, raw.TargetID, a.store.Channel)
		if !ok {
			return nil
		}
		// the author row is optional: webhooks and system users are never members
		author, _ := a.store.Member(model.MemberKey{GuildID: guild.ID(), UserID: raw.AuthorID})

		kind := event.ChannelMessage
		if self {
			kind = event.BotSelfChannelMessage
		}
		a.emitter.Emit(ctx, kind, func() event.Eventer {
			return event.NewChannelMessageEvent(self, guild, ch, author, raw)
		})
		return nil

	default:
		a.unsupported(ctx, raw)
		return nil
	}
}

func (a *Applier) unsupported(ctx context.Context, raw *model.RawEvent) {
	a.emitter.Emit(ctx, event.Unsupported, func() event.Eventer { return event.NewUnsupportedEvent(raw) })
}

// --- RESOLUTION ---

// guild resolves a cached guild, waiting for a hydration of it that is still running.
func (a *Applier) guild(ctx context.Context, raw *model.RawEvent, id string) (*model.Guild, bool) {
	if g, ok := a.store.Guild(id); ok {
		return g, true
	}
	if g, ok := a.hydrator.Await(ctx, id); ok {
		return g, true
	}
	a.missing(raw, "guild", id)
	return nil, false
}

// channel resolves id through lookup. A row owned by another guild counts as missing.
func (a *Applier) channel(raw *model.RawEvent, guild *model.Guild, id string, lookup func(string) (*model.Channel, bool)) (*model.Channel, bool) {
	ch, ok := lookup(id)
	if !ok || ch.GuildID() != guild.ID() {
		a.missing(raw, "channel", id)
		return nil, false
	}
	return ch, true
}

func (a *Applier) missing(raw *model.RawEvent, entity, id string) {
	a.logger.Warn("EVENT_DROPPED_MISSING_ENTITY",
		"extra_type", raw.ExtraType(),
		"entity", entity,
		"id", id,
		"msg_id", raw.MsgID,
	)
}

func (a *Applier) malformed(raw *model.RawEvent, err error) {
	a.logger.Warn("EVENT_DROPPED_MALFORMED", "extra_type", raw.ExtraType(), "msg_id", raw.MsgID, "err", err)
}

// --- RULES ---

func (a *Applier) selfJoinedGuild(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.SelfGuildBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	// [DETACHED_WAIT] Not bound to the handler deadline. Root scope shutdown still ends it.
	ctx = context.WithoutCancel(ctx)
	guild, err := a.hydrator.Hydrate(ctx, body.GuildID)
	if err != nil {
		a.logger.Warn("EVENT_DROPPED_HYDRATION_FAILED", "guild_id", body.GuildID, "err", err)
		return nil
	}
	a.emitter.Emit(ctx, event.BotSelfJoinedGuild, func() event.Eventer {
		return event.NewSelfJoinedGuildEvent(guild, raw)
	})
	return nil
}

func (a *Applier) selfExitedGuild(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.SelfGuildBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}

	var removed *model.Guild
	err = a.lane.Do(ctx, func(s *registry.Store) error {
		removed, _ = s.RemoveGuild(body.GuildID)
		return nil
	})
	if err != nil {
		return err
	}
	if removed == nil {
		a.missing(raw, "guild", body.GuildID)
		return nil
	}
	a.emitter.Emit(ctx, event.BotSelfExitedGuild, func() event.Eventer {
		return event.NewSelfExitedGuildEvent(removed, raw)
	})
	return nil
}

func (a *Applier) memberJoinedGuild(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.GuildMemberBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	guild, ok := a.guild(ctx, raw, raw.TargetID)
	if !ok {
		return nil
	}

	info, err := a.api.ViewUser(ctx, guild.ID(), body.UserID)
	if err != nil {
		// keep the row; reconciliation fills in the profile
		a.logger.Warn("MEMBER_VIEW_FAILED", "guild_id", guild.ID(), "user_id", body.UserID, "err", err)
		info = model.MemberInfo{ID: body.UserID}
	}
	if info.JoinedAt == 0 {
		info.JoinedAt = body.JoinedAt
	}
	info.ID = body.UserID

	var member *model.Member
	err = a.lane.Do(ctx, func(s *registry.Store) error {
		if cur, ok := s.Guild(guild.ID()); !ok || cur != guild {
			return nil
		}
		member, _ = s.UpsertMember(guild.ID(), info)
		return nil
	})
	if err != nil {
		return err
	}
	if member == nil {
		a.missing(raw, "guild", guild.ID())
		return nil
	}
	a.emitter.Emit(ctx, event.MemberJoinedGuild, func() event.Eventer {
		return event.NewMemberJoinedGuildEvent(guild, member, raw)
	})
	return nil
}

func (a *Applier) memberExitedGuild(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.GuildMemberBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	guild, ok := a.guild(ctx, raw, raw.TargetID)
	if !ok {
		return nil
	}

	key := model.MemberKey{GuildID: guild.ID(), UserID: body.UserID}
	var member *model.Member
	err = a.lane.Do(ctx, func(s *registry.Store) error {
		member, _ = s.RemoveMember(key)
		return nil
	})
	if err != nil {
		return err
	}
	if member == nil {
		a.missing(raw, "member", key.String())
		return nil
	}
	a.emitter.Emit(ctx, event.MemberExitedGuild, func() event.Eventer {
		return event.NewMemberExitedGuildEvent(guild, member, raw)
	})
	return nil
}

func (a *Applier) memberUpdated(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.MemberUpdatedBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	guild, ok := a.guild(ctx, raw, raw.TargetID)
	if !ok {
		return nil
	}

	key := model.MemberKey{GuildID: guild.ID(), UserID: body.UserID}
	var (
		member *model.Member
		old    model.MemberInfo
	)
	err = a.lane.Do(ctx, func(s *registry.Store) error {
		member, old, _ = s.UpdateMember(key, func(i *model.MemberInfo) {
			i.Nickname = body.Nickname
		})
		return nil
	})
	if err != nil {
		return err
	}
	if member == nil {
		a.missing(raw, "member", key.String())
		return nil
	}
	a.emitter.Emit(ctx, event.MemberUpdated, func() event.Eventer {
		return event.NewMemberUpdatedEvent(guild, member, old, raw)
	})
	return nil
}

func (a *Applier) memberChannel(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.ChannelMemberBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	guild, ok := a.guild(ctx, raw, raw.TargetID)
	if !ok {
		return nil
	}
	ch, ok := a.channel(raw, guild, body.ChannelID, a.store.AnyChannel)
	if !ok {
		return nil
	}
	key := model.MemberKey{GuildID: guild.ID(), UserID: body.UserID}
	member, ok := a.store.Member(key)
	if !ok {
		a.missing(raw, "member", key.String())
		return nil
	}

	joined := raw.ExtraType() == model.ExtraJoinedChannel
	kind := event.MemberExitedChannel
	if joined {
		kind = event.MemberJoinedChannel
	}
	a.emitter.Emit(ctx, kind, func() event.Eventer {
		return event.NewMemberChannelEvent(joined, guild, ch, member, body, raw)
	})
	return nil
}

// presence flips the online flag on every known row of the user within the listed guilds.
func (a *Applier) presence(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.OnlineStatusBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	online := raw.ExtraType() == model.ExtraGuildMemberOnline

	members, err := registry.Modify(ctx, a.lane, func(s *registry.Store) ([]*model.Member, error) {
		var touched []*model.Member
		for _, guildID := range body.Guilds {
			m, _, ok := s.UpdateMember(model.MemberKey{GuildID: guildID, UserID: body.UserID}, func(i *model.MemberInfo) {
				i.Online = online
			})
			if ok {
				touched = append(touched, m)
			}
		}
		return touched, nil
	})
	if err != nil {
		return err
	}
	if len(members) == 0 {
		a.missing(raw, "member", body.UserID)
		return nil
	}

	kind := event.MemberOffline
	if online {
		kind = event.MemberOnline
	}
	a.emitter.Emit(ctx, kind, func() event.Eventer {
		return event.NewPresenceEvent(online, body, members, raw)
	})
	return nil
}

// userUpdated rewrites the account-level fields on every guild row of the user.
func (a *Applier) userUpdated(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.UserUpdatedBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}

	members, err := registry.Modify(ctx, a.lane, func(s *registry.Store) ([]*model.Member, error) {
		rows := s.MembersOfUser(body.UserID)
		for _, m := range rows {
			m.Update(func(i *model.MemberInfo) {
				if body.Username != "" {
					i.Username = body.Username
				}
				if body.Avatar != "" {
					i.Avatar = body.Avatar
				}
			})
		}
		return rows, nil
	})
	if err != nil {
		return err
	}
	if len(members) == 0 {
		a.missing(raw, "member", body.UserID)
		return nil
	}
	a.emitter.Emit(ctx, event.UserUpdated, func() event.Eventer {
		return event.NewUserUpdatedEvent(body, members, raw)
	})
	return nil
}

// channelUpserted handles added and updated channels. The body is the full channel snapshot,
// so an update for an unknown channel installs it.
func (a *Applier) channelUpserted(ctx context.Context, raw *model.RawEvent) error {
	info, err := decodeBody[model.ChannelInfo](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	guildID := info.GuildID
	if guildID == "" {
		guildID = raw.TargetID
	}
	guild, ok := a.guild(ctx, raw, guildID)
	if !ok {
		return nil
	}

	var ch *model.Channel
	err = a.lane.Do(ctx, func(s *registry.Store) error {
		if cur, ok := s.Guild(guild.ID()); !ok || cur != guild {
			return nil
		}
		ch, _ = s.UpsertChannel(guild.ID(), info)
		return nil
	})
	if err != nil {
		return err
	}
	if ch == nil {
		a.missing(raw, "guild", guild.ID())
		return nil
	}

	added := raw.ExtraType() == model.ExtraAddedChannel
	kind := channelEventKind(ch, added)
	a.emitter.Emit(ctx, kind, func() event.Eventer {
		if added {
			return event.NewChannelAddedEvent(guild, ch, raw)
		}
		return event.NewChannelUpdatedEvent(guild, ch, raw)
	})
	return nil
}

func channelEventKind(ch *model.Channel, added bool) event.EventKind {
	switch {
	case ch.IsCategory() && added:
		return event.CategoryAdded
	case ch.IsCategory():
		return event.CategoryUpdated
	case added:
		return event.ChannelAdded
	default:
		return event.ChannelUpdated
	}
}

func (a *Applier) channelDeleted(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.ChannelDeletedBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	guild, ok := a.guild(ctx, raw, raw.TargetID)
	if !ok {
		return nil
	}

	var ch *model.Channel
	err = a.lane.Do(ctx, func(s *registry.Store) error {
		cur, ok := s.AnyChannel(body.ID)
		if !ok || cur.GuildID() != guild.ID() {
			return nil
		}
		ch, _ = s.RemoveChannel(body.ID)
		return nil
	})
	if err != nil {
		return err
	}
	if ch == nil {
		a.missing(raw, "channel", body.ID)
		return nil
	}

	kind := event.ChannelDeleted
	if ch.IsCategory() {
		kind = event.CategoryDeleted
	}
	a.emitter.Emit(ctx, kind, func() event.Eventer {
		return event.NewChannelDeletedEvent(guild, ch, raw)
	})
	return nil
}

func (a *Applier) pin(ctx context.Context, raw *model.RawEvent) error {
	body, err := decodeBody[model.PinBody](raw)
	if err != nil {
		a.malformed(raw, err)
		return nil
	}
	guild, ok := a.guild(ctx, raw, raw.TargetID)
	if !ok {
		return nil
	}
	ch, ok := a.channel(raw, guild, body.ChannelID, a.store.Channel)
	if !ok {
		return nil
	}

	pinned := raw.ExtraType() == model.ExtraPinnedMessage
	kind := event.MessageUnpinned
	if pinned {
		kind = event.MessagePinned
	}
	a.emitter.Emit(ctx, kind, func() event.Eventer {
		return event.NewPinEvent(pinned, guild, ch, body, raw)
	})
	return nil
}
