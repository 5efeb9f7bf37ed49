package event

import "github.com/webitel/kook-mirror-service/internal/domain/model"

var (
	_ Eventer    = (*GuildEvent)(nil)
	_ Exportable = (*GuildEvent)(nil)
	_ Eventer    = (*ChannelEvent)(nil)
	_ Eventer    = (*PinEvent)(nil)
)

// GuildEvent reports the bot itself joining or leaving a guild.
type GuildEvent struct {
	envelope
	Guild *model.Guild
}

func NewSelfJoinedGuildEvent(guild *model.Guild, raw *model.RawEvent) *GuildEvent {
	return &GuildEvent{
		envelope: newEnvelope(BotSelfJoinedGuild, PriorityHigh, guild.ID(), raw),
		Guild:    guild,
	}
}

// NewSelfExitedGuildEvent carries the removed guild; it is no longer reachable from the cache.
func NewSelfExitedGuildEvent(guild *model.Guild, raw *model.RawEvent) *GuildEvent {
	return &GuildEvent{
		envelope: newEnvelope(BotSelfExitedGuild, PriorityHigh, guild.ID(), raw),
		Guild:    guild,
	}
}

func (e *GuildEvent) GetPayload() any { return e.Guild.Info() }

// ChannelEvent reports a channel or category being added, updated or deleted.
// The kind follows the channel's discriminator.
type ChannelEvent struct {
	envelope
	Guild   *model.Guild
	Channel *model.Channel
}

type channelChange int

const (
	channelAdded channelChange = iota
	channelUpdated
	channelDeleted
)

func channelKind(ch *model.Channel, change channelChange) EventKind {
	if ch.IsCategory() {
		return [...]EventKind{CategoryAdded, CategoryUpdated, CategoryDeleted}[change]
	}
	return [...]EventKind{ChannelAdded, ChannelUpdated, ChannelDeleted}[change]
}

func newChannelEvent(change channelChange, guild *model.Guild, ch *model.Channel, raw *model.RawEvent) *ChannelEvent {
	return &ChannelEvent{
		envelope: newEnvelope(channelKind(ch, change), PriorityNormal, guild.ID(), raw),
		Guild:    guild,
		Channel:  ch,
	}
}

func NewChannelAddedEvent(guild *model.Guild, ch *model.Channel, raw *model.RawEvent) *ChannelEvent {
	return newChannelEvent(channelAdded, guild, ch, raw)
}

func NewChannelUpdatedEvent(guild *model.Guild, ch *model.Channel, raw *model.RawEvent) *ChannelEvent {
	return newChannelEvent(channelUpdated, guild, ch, raw)
}

func NewChannelDeletedEvent(guild *model.Guild, ch *model.Channel, raw *model.RawEvent) *ChannelEvent {
	return newChannelEvent(channelDeleted, guild, ch, raw)
}

func (e *ChannelEvent) GetPayload() any { return e.Channel.Info() }

// PinEvent reports a message being pinned or unpinned in a cached channel.
type PinEvent struct {
	envelope
	Guild   *model.Guild
	Channel *model.Channel
	Body    model.PinBody
}

func NewPinEvent(pinned bool, guild *model.Guild, ch *model.Channel, body model.PinBody, raw *model.RawEvent) *PinEvent {
	kind := MessageUnpinned
	if pinned {
		kind = MessagePinned
	}
	return &PinEvent{
		envelope: newEnvelope(kind, PriorityNormal, guild.ID(), raw),
		Guild:    guild,
		Channel:  ch,
		Body:     body,
	}
}

func (e *PinEvent) GetPayload() any { return e.Body }
