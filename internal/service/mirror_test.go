package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
)

func newMirror(h *harness) *Mirror {
	h.self = new(Identity)
	return NewMirror(h.api, h.scope, h.self, h.reconciler, h.emitter, h.timers, h.lane, discard())
}

func TestMirror_StartResolvesIdentityAndSyncs(t *testing.T) {
	h := newHarness(t)
	stubListing(h.api)
	m := newMirror(h)

	require.NoError(t, m.Start(context.Background()))

	assert.True(t, m.IsMe("bot"))
	assert.False(t, m.IsMe("u1"))
	assert.Equal(t, 2, h.store.Stats().Guilds)
	require.NoError(t, m.Stop(context.Background()))
}

func TestMirror_StartFailsWithoutIdentity(t *testing.T) {
	h := newHarness(t)
	h.api.setFail("me", errRemote)
	m := newMirror(h)

	err := m.Start(context.Background())

	require.ErrorIs(t, err, errRemote)
	assert.Zero(t, h.api.count("guilds"))
}

func TestMirror_InitialSyncFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.api.setFail("guilds", errRemote)
	m := newMirror(h)

	require.NoError(t, m.Start(context.Background()))
	assert.Zero(t, h.store.Stats().Guilds)
}

func TestMirror_StopShutsEverythingDown(t *testing.T) {
	h := newHarness(t)
	stubListing(h.api)
	m := newMirror(h)
	require.NoError(t, m.Start(context.Background()))
	g, _ := h.store.Guild("g1")

	require.NoError(t, m.Stop(context.Background()))

	assert.True(t, g.IsAbandoned())
	err := h.lane.Do(context.Background(), func(*registry.Store) error { return nil })
	assert.ErrorIs(t, err, registry.ErrLaneClosed)
	_, err = h.hydrator.Hydrate(context.Background(), "g1")
	assert.ErrorIs(t, err, ErrStopped)
}
