package event

import "github.com/webitel/kook-mirror-service/internal/domain/model"

var (
	_ Eventer = (*MemberEvent)(nil)
	_ Eventer = (*MemberUpdatedEvent)(nil)
	_ Eventer = (*MemberChannelEvent)(nil)
	_ Eventer = (*PresenceEvent)(nil)
	_ Eventer = (*UserUpdatedEvent)(nil)
)

// MemberEvent reports a member joining or leaving a guild.
type MemberEvent struct {
	envelope
	Guild  *model.Guild
	Member *model.Member
}

func NewMemberJoinedGuildEvent(guild *model.Guild, member *model.Member, raw *model.RawEvent) *MemberEvent {
	return &MemberEvent{
		envelope: newEnvelope(MemberJoinedGuild, PriorityNormal, guild.ID(), raw),
		Guild:    guild,
		Member:   member,
	}
}

func NewMemberExitedGuildEvent(guild *model.Guild, member *model.Member, raw *model.RawEvent) *MemberEvent {
	return &MemberEvent{
		envelope: newEnvelope(MemberExitedGuild, PriorityNormal, guild.ID(), raw),
		Guild:    guild,
		Member:   member,
	}
}

func (e *MemberEvent) GetPayload() any { return e.Member.Info() }

// MemberUpdatedEvent carries both the snapshot before and the cached member after the change.
// Member keeps its identity; Previous is a detached copy.
type MemberUpdatedEvent struct {
	envelope
	Guild    *model.Guild
	Member   *model.Member
	Previous model.MemberInfo
}

func NewMemberUpdatedEvent(guild *model.Guild, member *model.Member, previous model.MemberInfo, raw *model.RawEvent) *MemberUpdatedEvent {
	return &MemberUpdatedEvent{
		envelope: newEnvelope(MemberUpdated, PriorityNormal, guild.ID(), raw),
		Guild:    guild,
		Member:   member,
		Previous: previous,
	}
}

func (e *MemberUpdatedEvent) GetPayload() any { return e.Member.Info() }

// MemberChannelEvent reports a member entering or leaving a (voice) channel.
type MemberChannelEvent struct {
	envelope
	Guild   *model.Guild
	Channel *model.Channel
	Member  *model.Member
	Body    model.ChannelMemberBody
}

func NewMemberChannelEvent(joined bool, guild *model.Guild, ch *model.Channel, member *model.Member, body model.ChannelMemberBody, raw *model.RawEvent) *MemberChannelEvent {
	kind := MemberExitedChannel
	if joined {
		kind = MemberJoinedChannel
	}
	return &MemberChannelEvent{
		envelope: newEnvelope(kind, PriorityLow, guild.ID(), raw),
		Guild:    guild,
		Channel:  ch,
		Member:   member,
		Body:     body,
	}
}

func (e *MemberChannelEvent) GetPayload() any { return e.Body }

// PresenceEvent reports a user going online or offline; Members are the cached rows touched.
type PresenceEvent struct {
	envelope
	Body    model.OnlineStatusBody
	Members []*model.Member
}

func NewPresenceEvent(online bool, body model.OnlineStatusBody, members []*model.Member, raw *model.RawEvent) *PresenceEvent {
	kind := MemberOffline
	if online {
		kind = MemberOnline
	}
	return &PresenceEvent{
		envelope: newEnvelope(kind, PriorityLow, "", raw),
		Body:     body,
		Members:  members,
	}
}

func (e *PresenceEvent) GetPayload() any { return e.Body }

// UserUpdatedEvent reports a profile change; Members are the cached rows rewritten.
type UserUpdatedEvent struct {
	envelope
	Body    model.UserUpdatedBody
	Members []*model.Member
}

func NewUserUpdatedEvent(body model.UserUpdatedBody, members []*model.Member, raw *model.RawEvent) *UserUpdatedEvent {
	return &UserUpdatedEvent{
		envelope: newEnvelope(UserUpdated, PriorityLow, "", raw),
		Body:     body,
		Members:  members,
	}
}

func (e *UserUpdatedEvent) GetPayload() any { return e.Body }
