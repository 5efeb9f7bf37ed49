package event

import "github.com/webitel/kook-mirror-service/internal/domain/model"

type EventKind int16

const (
	Unsupported EventKind = iota + 1 // [RAW] no cache mapping

	// [MESSAGE]
	ChannelMessage
	BotSelfChannelMessage
	ContactMessage
	BotSelfMessage
	ChannelMessageUpdated
	ChannelMessageDeleted
	PrivateMessageUpdated
	PrivateMessageDeleted
	MessageBtnClick
	MessagePinned
	MessageUnpinned

	// [GUILD]
	BotSelfJoinedGuild
	BotSelfExitedGuild

	// [MEMBER]
	MemberJoinedGuild
	MemberExitedGuild
	MemberUpdated
	MemberJoinedChannel
	MemberExitedChannel
	MemberOnline
	MemberOffline
	UserUpdated

	// [CHANNEL]
	ChannelAdded
	ChannelUpdated
	ChannelDeleted
	CategoryAdded
	CategoryUpdated
	CategoryDeleted
)

var kindNames = map[EventKind]string{
	Unsupported:           "unsupported",
	ChannelMessage:        "channel.message",
	BotSelfChannelMessage: "channel.message.self",
	ContactMessage:        "contact.message",
	BotSelfMessage:        "contact.message.self",
	ChannelMessageUpdated: "channel.message.updated",
	ChannelMessageDeleted: "channel.message.deleted",
	PrivateMessageUpdated: "contact.message.updated",
	PrivateMessageDeleted: "contact.message.deleted",
	MessageBtnClick:       "message.button.click",
	MessagePinned:         "message.pinned",
	MessageUnpinned:       "message.unpinned",
	BotSelfJoinedGuild:    "guild.self.joined",
	BotSelfExitedGuild:    "guild.self.exited",
	MemberJoinedGuild:     "member.guild.joined",
	MemberExitedGuild:     "member.guild.exited",
	MemberUpdated:         "member.updated",
	MemberJoinedChannel:   "member.channel.joined",
	MemberExitedChannel:   "member.channel.exited",
	MemberOnline:          "member.online",
	MemberOffline:         "member.offline",
	UserUpdated:           "user.updated",
	ChannelAdded:          "channel.added",
	ChannelUpdated:        "channel.updated",
	ChannelDeleted:        "channel.deleted",
	CategoryAdded:         "category.added",
	CategoryUpdated:       "category.updated",
	CategoryDeleted:       "category.deleted",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves a kind by its routing name.
func ParseKind(name string) (EventKind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Kinds lists every known kind.
func Kinds() []EventKind {
	out := make([]EventKind, 0, len(kindNames))
	for k := Unsupported; k <= CategoryDeleted; k++ {
		out = append(out, k)
	}
	return out
}

type EventPriority int32

const (
	PriorityLow    EventPriority = 10
	PriorityNormal EventPriority = 20
	PriorityHigh   EventPriority = 30
)

// Eventer defines the contract for every derived domain event handed to the processor.
type Eventer interface {
	GetID() string
	GetKind() EventKind
	GetPriority() EventPriority
	GetOccurredAt() int64
	GetGuildID() string
	GetRaw() *model.RawEvent
	GetPayload() any
}

// Exportable defines an event that should be re-published to the message bus.
type Exportable interface {
	// An empty key means the dispatcher skips the event.
	GetRoutingKey() string
}
