package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
)

func TestMuter_AutoUnmuteFires(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "g1", seedChannels, seedMembers)
	key := model.MemberKey{GuildID: "g1", UserID: "u1"}

	require.NoError(t, h.muter.Mute(context.Background(), "g1", "u1", model.MuteMicrophone, 30*time.Millisecond))
	assert.True(t, h.timers.Armed(key))

	require.Eventually(t, func() bool { return h.api.count("unmute") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"+g1:u1", "-g1:u1"}, h.api.muteLog())
	require.Eventually(t, func() bool { return !h.timers.Armed(key) }, time.Second, 5*time.Millisecond)
}

func TestMuter_RemuteReplacesTimer(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "g1", seedChannels, seedMembers)
	key := model.MemberKey{GuildID: "g1", UserID: "u1"}

	require.NoError(t, h.muter.Mute(context.Background(), "g1", "u1", model.MuteHeadset, 30*time.Millisecond))
	first, _ := h.timers.Lookup(key)
	require.NoError(t, h.muter.Mute(context.Background(), "g1", "u1", model.MuteHeadset, time.Hour))
	second, _ := h.timers.Lookup(key)

	assert.NotSame(t, first, second)
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, h.api.count("unmute"))
	assert.True(t, h.timers.Armed(key))
}

func TestMuter_PermanentMuteDisarms(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "g1", seedChannels, seedMembers)
	key := model.MemberKey{GuildID: "g1", UserID: "u1"}

	require.NoError(t, h.muter.Mute(context.Background(), "g1", "u1", model.MuteMicrophone, time.Hour))
	require.NoError(t, h.muter.Mute(context.Background(), "g1", "u1", model.MuteMicrophone, 0))

	assert.False(t, h.timers.Armed(key))
	assert.Equal(t, 2, h.api.count("mute"))
}

func TestMuter_UnmuteDisarms(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "g1", seedChannels, seedMembers)
	key := model.MemberKey{GuildID: "g1", UserID: "u1"}

	require.NoError(t, h.muter.Mute(context.Background(), "g1", "u1", model.MuteMicrophone, time.Hour))
	require.NoError(t, h.muter.Unmute(context.Background(), "g1", "u1", model.MuteMicrophone))

	assert.False(t, h.timers.Armed(key))
	assert.Equal(t, 1, h.api.count("unmute"))
}

func TestMuter_Rejections(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "g1", seedChannels, seedMembers)

	err := h.muter.Mute(context.Background(), "g404", "u1", model.MuteMicrophone, time.Minute)
	assert.ErrorIs(t, err, ErrUnknownGuild)

	err = h.muter.Mute(context.Background(), "g1", "u1", model.MuteType(7), time.Minute)
	assert.ErrorIs(t, err, ErrInvalidMuteType)

	h.api.setFail("mute", errRemote)
	err = h.muter.Mute(context.Background(), "g1", "u1", model.MuteMicrophone, time.Minute)
	assert.ErrorIs(t, err, errRemote)
	assert.Zero(t, h.timers.Len())
}
