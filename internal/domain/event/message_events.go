package event

import "github.com/webitel/kook-mirror-service/internal/domain/model"

var (
	_ Eventer = (*MessageEvent)(nil)
	_ Eventer = (*RawEvent)(nil)
)

// MessageEvent wraps a message frame together with the cache entities it refers to.
//
// [STRATEGY]
//   - channel messages carry Guild, Channel and Author;
//   - contact (direct) messages carry none of them.
//
// Content stays raw; rendering mentions or cards is a consumer concern.
type MessageEvent struct {
	envelope
	Guild   *model.Guild
	Channel *model.Channel
	Author  *model.Member
}

func NewChannelMessageEvent(self bool, guild *model.Guild, ch *model.Channel, author *model.Member, raw *model.RawEvent) *MessageEvent {
	kind := ChannelMessage
	if self {
		kind = BotSelfChannelMessage
	}
	return &MessageEvent{
		envelope: newEnvelope(kind, PriorityHigh, guild.ID(), raw),
		Guild:    guild,
		Channel:  ch,
		Author:   author,
	}
}

func NewContactMessageEvent(self bool, raw *model.RawEvent) *MessageEvent {
	kind := ContactMessage
	if self {
		kind = BotSelfMessage
	}
	return &MessageEvent{envelope: newEnvelope(kind, PriorityHigh, "", raw)}
}

func (e *MessageEvent) GetPayload() any { return e.raw.Content }

// RawEvent passes a frame through without any cache mapping. It backs the
// message update/delete/button kinds and everything unsupported.
type RawEvent struct {
	envelope
}

func NewRawEvent(kind EventKind, guildID string, raw *model.RawEvent) *RawEvent {
	return &RawEvent{envelope: newEnvelope(kind, PriorityLow, guildID, raw)}
}

// NewUnsupportedEvent wraps a frame no mapping rule recognizes.
func NewUnsupportedEvent(raw *model.RawEvent) *RawEvent {
	return NewRawEvent(Unsupported, raw.Extra.GuildID, raw)
}

func (e *RawEvent) GetPayload() any { return e.raw }
