package registry

import (
	"context"
	"testing"

	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store  *Store
	lane   *Lane
	timers *MuteTimers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	timers := NewMuteTimers()
	store := NewStore(timers)
	lane := NewLane(store, WithMailboxSize(8))
	t.Cleanup(func() {
		timers.Close()
		lane.Close()
	})
	return &fixture{store: store, lane: lane, timers: timers}
}

func (f *fixture) guild(t *testing.T, id string) *model.Guild {
	t.Helper()
	g, _ := f.store.MergeGuild(model.NewGuild(context.Background(), model.GuildInfo{ID: id, Name: id}))
	return g
}
