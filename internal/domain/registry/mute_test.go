package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

var testKey = model.MemberKey{GuildID: "g1", UserID: "u1"}

func TestMuteTimers_FiresAndSelfRemoves(t *testing.T) {
	timers := NewMuteTimers()
	defer timers.Close()

	fired := make(chan struct{})
	require.True(t, timers.Arm(context.Background(), testKey, 10*time.Millisecond, func(context.Context) { close(fired) }))
	assert.True(t, timers.Armed(testKey))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return !timers.Armed(testKey) }, time.Second, 5*time.Millisecond)
}

func TestMuteTimers_DisarmBeforeExpiry(t *testing.T) {
	timers := NewMuteTimers()
	defer timers.Close()

	var calls atomic.Int32
	timers.Arm(context.Background(), testKey, 50*time.Millisecond, func(context.Context) { calls.Add(1) })

	assert.True(t, timers.Disarm(testKey))
	assert.False(t, timers.Armed(testKey))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestMuteTimers_DisarmUnknownIsNoop(t *testing.T) {
	timers := NewMuteTimers()
	defer timers.Close()

	assert.False(t, timers.Disarm(testKey))
}

func TestMuteTimers_RearmReplaces(t *testing.T) {
	timers := NewMuteTimers()
	defer timers.Close()

	var first, second atomic.Int32
	timers.Arm(context.Background(), testKey, 40*time.Millisecond, func(context.Context) { first.Add(1) })
	timers.Arm(context.Background(), testKey, 60*time.Millisecond, func(context.Context) { second.Add(1) })
	assert.Equal(t, 1, timers.Len())

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, first.Load())
	assert.Equal(t, int32(1), second.Load())
	assert.Zero(t, timers.Len())
}

func TestMuteTimers_ParentCancellation(t *testing.T) {
	timers := NewMuteTimers()
	defer timers.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	timers.Arm(ctx, testKey, 30*time.Millisecond, func(context.Context) { calls.Add(1) })

	cancel()

	assert.Eventually(t, func() bool { return !timers.Armed(testKey) }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestMuteTimers_DisarmGuild(t *testing.T) {
	timers := NewMuteTimers()
	defer timers.Close()

	for _, k := range []model.MemberKey{
		{GuildID: "g1", UserID: "a"},
		{GuildID: "g1", UserID: "b"},
		{GuildID: "g2", UserID: "a"},
	} {
		timers.Arm(context.Background(), k, time.Hour, func(context.Context) {})
	}

	assert.Equal(t, 2, timers.DisarmGuild("g1"))
	assert.Equal(t, 1, timers.Len())
}

func TestMuteTimers_CloseCancelsRunningCallback(t *testing.T) {
	timers := NewMuteTimers()

	started := make(chan struct{})
	timers.Arm(context.Background(), testKey, time.Millisecond, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started

	timers.Close()

	assert.False(t, timers.Arm(context.Background(), testKey, time.Millisecond, func(context.Context) {}))
}
