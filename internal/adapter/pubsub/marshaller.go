package pubsub

import (
	"encoding/json"

	"github.com/webitel/kook-mirror-service/internal/domain/event"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

// WireEvent is the JSON shape of a domain event on the bus and on watch sockets.
type WireEvent struct {
	Event    string    `json:"event"` // e.g. "member.updated", "channel.message"
	ID       string    `json:"id"`
	GuildID  string    `json:"guild_id,omitempty"`
	MsgID    string    `json:"msg_id,omitempty"`
	SentAt   int64     `json:"sent_at"`
	Priority int32     `json:"priority"`
	Refs     *WireRefs `json:"refs,omitempty"`
	Payload  any       `json:"payload"`
}

// WireRefs flattens the cache entities an event points to.
type WireRefs struct {
	GuildName   string            `json:"guild_name,omitempty"`
	ChannelID   string            `json:"channel_id,omitempty"`
	ChannelName string            `json:"channel_name,omitempty"`
	UserIDs     []string          `json:"user_ids,omitempty"`
	GuildIDs    []string          `json:"guild_ids,omitempty"`
	Previous    *model.MemberInfo `json:"previous,omitempty"`
}

// MarshalEvent maps a domain event onto its wire form.
func MarshalEvent(ev event.Eventer) ([]byte, error) {
	res := &WireEvent{
		Event:    ev.GetKind().String(),
		ID:       ev.GetID(),
		GuildID:  ev.GetGuildID(),
		SentAt:   ev.GetOccurredAt(),
		Priority: int32(ev.GetPriority()),
		Refs:     mapRefs(ev),
		Payload:  ev.GetPayload(),
	}
	if raw := ev.GetRaw(); raw != nil {
		res.MsgID = raw.MsgID
	}
	return json.Marshal(res)
}

func mapRefs(ev event.Eventer) *WireRefs {
	switch e := ev.(type) {
	case *event.GuildEvent:
		return &WireRefs{GuildName: e.Guild.Name()}
	case *event.ChannelEvent:
		return withChannel(e.Guild, e.Channel, nil)
	case *event.PinEvent:
		return withChannel(e.Guild, e.Channel, nil)
	case *event.MessageEvent:
		if e.Guild == nil {
			return nil
		}
		var users []string
		if e.Author != nil {
			users = []string{e.Author.UserID()}
		}
		return withChannel(e.Guild, e.Channel, users)
	case *event.MemberEvent:
		return &WireRefs{GuildName: e.Guild.Name(), UserIDs: []string{e.Member.UserID()}}
	case *event.MemberUpdatedEvent:
		prev := e.Previous.Clone()
		return &WireRefs{GuildName: e.Guild.Name(), UserIDs: []string{e.Member.UserID()}, Previous: &prev}
	case *event.MemberChannelEvent:
		return withChannel(e.Guild, e.Channel, []string{e.Member.UserID()})
	case *event.PresenceEvent:
		return &WireRefs{UserIDs: []string{e.Body.UserID}, GuildIDs: guildsOf(e.Members)}
	case *event.UserUpdatedEvent:
		return &WireRefs{UserIDs: []string{e.Body.UserID}, GuildIDs: guildsOf(e.Members)}
	default:
		return nil
	}
}

func withChannel(g *model.Guild, ch *model.Channel, users []string) *WireRefs {
	refs := &WireRefs{GuildName: g.Name(), UserIDs: users}
	if ch != nil {
		refs.ChannelID = ch.ID()
		refs.ChannelName = ch.Name()
	}
	return refs
}

func guildsOf(members []*model.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.GuildID())
	}
	return out
}
