package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

// RoutingPrefix is the topic namespace of exported domain events.
const RoutingPrefix = "kook.events."

// envelope carries the fields every derived event shares.
type envelope struct {
	id         string
	kind       EventKind
	priority   EventPriority
	occurredAt int64
	guildID    string
	raw        *model.RawEvent
}

func newEnvelope(kind EventKind, priority EventPriority, guildID string, raw *model.RawEvent) envelope {
	occurredAt := time.Now().UnixMilli()
	if raw != nil && raw.MsgTimestamp > 0 {
		occurredAt = raw.MsgTimestamp
	}
	return envelope{
		id:         uuid.NewString(),
		kind:       kind,
		priority:   priority,
		occurredAt: occurredAt,
		guildID:    guildID,
		raw:        raw,
	}
}

func (e *envelope) GetID() string              { return e.id }
func (e *envelope) GetKind() EventKind         { return e.kind }
func (e *envelope) GetPriority() EventPriority { return e.priority }
func (e *envelope) GetOccurredAt() int64       { return e.occurredAt }
func (e *envelope) GetGuildID() string         { return e.guildID }
func (e *envelope) GetRaw() *model.RawEvent    { return e.raw }

// GetRoutingKey generates the bus topic.
// [PATTERN] kook.events.{kind}
func (e *envelope) GetRoutingKey() string {
	return RoutingPrefix + e.kind.String()
}
