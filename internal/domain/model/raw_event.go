package model

import "strconv"

// RawEventType is the frame-level `type` discriminator of a gateway event.
type RawEventType int

const (
	RawText      RawEventType = 1
	RawImage     RawEventType = 2
	RawVideo     RawEventType = 3
	RawFile      RawEventType = 4
	RawAudio     RawEventType = 8
	RawKMarkdown RawEventType = 9
	RawCard      RawEventType = 10
	RawSystem    RawEventType = 255
)

// IsMessage reports whether the frame carries user message content.
func (t RawEventType) IsMessage() bool {
	switch t {
	case RawText, RawImage, RawVideo, RawFile, RawAudio, RawKMarkdown, RawCard:
		return true
	default:
		return false
	}
}

// Channel types of a raw event.
const (
	ChannelTypeGroup     = "GROUP"
	ChannelTypePerson    = "PERSON"
	ChannelTypeBroadcast = "BROADCAST"
)

// System extra types (extra.type of a RawSystem frame).
const (
	ExtraSelfJoinedGuild       = "self_joined_guild"
	ExtraSelfExitedGuild       = "self_exited_guild"
	ExtraJoinedGuild           = "joined_guild"
	ExtraExitedGuild           = "exited_guild"
	ExtraUpdatedGuildMember    = "updated_guild_member"
	ExtraGuildMemberOnline     = "guild_member_online"
	ExtraGuildMemberOffline    = "guild_member_offline"
	ExtraJoinedChannel         = "joined_channel"
	ExtraExitedChannel         = "exited_channel"
	ExtraUserUpdated           = "user_updated"
	ExtraAddedChannel          = "added_channel"
	ExtraUpdatedChannel        = "updated_channel"
	ExtraDeletedChannel        = "deleted_channel"
	ExtraPinnedMessage         = "pinned_message"
	ExtraUnpinnedMessage       = "unpinned_message"
	ExtraUpdatedMessage        = "updated_message"
	ExtraDeletedMessage        = "deleted_message"
	ExtraMessageBtnClick       = "message_btn_click"
	ExtraUpdatedPrivateMessage = "updated_private_message"
	ExtraDeletedPrivateMessage = "deleted_private_message"
)

// RawEvent is the `d` section of a gateway event frame. The extra body is kept opaque
// until the applier decides which shape it needs.
type RawEvent struct {
	ChannelType  string       `json:"channel_type"`
	Type         RawEventType `json:"type"`
	TargetID     string       `json:"target_id"`
	AuthorID     string       `json:"author_id"`
	Content      string       `json:"content"`
	MsgID        string       `json:"msg_id"`
	MsgTimestamp int64        `json:"msg_timestamp"`
	Nonce        string       `json:"nonce"`
	Extra        RawExtra     `json:"extra"`
}

// RawExtra holds the polymorphic part of a frame.
type RawExtra struct {
	// Type is a string for system frames and a number for message frames.
	Type        any            `json:"type"`
	GuildID     string         `json:"guild_id,omitempty"`
	ChannelName string         `json:"channel_name,omitempty"`
	Mention     []string       `json:"mention,omitempty"`
	Body        map[string]any `json:"body,omitempty"`
}

// ExtraType renders extra.type as a string regardless of its wire form.
func (e *RawEvent) ExtraType() string {
	switch v := e.Extra.Type.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// [BODIES] Shapes of extra.body per system extra type.

type GuildMemberBody struct {
	UserID   string `json:"user_id"`
	JoinedAt int64  `json:"joined_at"`
	ExitedAt int64  `json:"exited_at"`
}

type MemberUpdatedBody struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

type OnlineStatusBody struct {
	UserID    string   `json:"user_id"`
	EventTime int64    `json:"event_time"`
	Guilds    []string `json:"guilds"`
}

type ChannelMemberBody struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	JoinedAt  int64  `json:"joined_at"`
	ExitedAt  int64  `json:"exited_at"`
}

type UserUpdatedBody struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type SelfGuildBody struct {
	GuildID string `json:"guild_id"`
	State   string `json:"state"`
}

type ChannelDeletedBody struct {
	ID        string `json:"id"`
	DeletedAt int64  `json:"deleted_at"`
}

type PinBody struct {
	ChannelID  string `json:"channel_id"`
	OperatorID string `json:"operator_id"`
	MsgID      string `json:"msg_id"`
}
