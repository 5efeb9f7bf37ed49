package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	httpsrv "github.com/webitel/kook-mirror-service/infra/server/http"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
	"github.com/webitel/kook-mirror-service/internal/service"
)

type stubMuter struct {
	calls []string
	err   error
	last  time.Duration
}

func (s *stubMuter) Mute(_ context.Context, guildID, userID string, t model.MuteType, d time.Duration) error {
	s.calls = append(s.calls, "mute:"+guildID+":"+userID)
	s.last = d
	if s.err != nil {
		return s.err
	}
	if !t.Valid() {
		return service.ErrInvalidMuteType
	}
	return nil
}

func (s *stubMuter) Unmute(_ context.Context, guildID, userID string, _ model.MuteType) error {
	s.calls = append(s.calls, "unmute:"+guildID+":"+userID)
	return s.err
}

type stubSyncer struct{ err error }

func (s stubSyncer) RunOnce(context.Context) (service.CycleStats, error) {
	return service.CycleStats{Guilds: 2, Members: 5}, s.err
}

func newServer(t *testing.T, token string, muter *stubMuter) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	timers := registry.NewMuteTimers(registry.WithLogger(logger))
	store := registry.NewStore(timers, registry.WithLogger(logger))
	lane := registry.NewLane(store, registry.WithLogger(logger))
	t.Cleanup(func() {
		timers.Close()
		lane.Close()
	})

	err := lane.Do(context.Background(), func(s *registry.Store) error {
		s.MergeGuild(model.NewGuild(context.Background(), model.GuildInfo{ID: "g1", Name: "guild"}))
		s.UpsertChannel("g1", model.ChannelInfo{ID: "cat", Name: "text", IsCategory: true})
		s.UpsertChannel("g1", model.ChannelInfo{ID: "c1", Name: "general", ParentID: "cat"})
		s.UpsertMember("g1", model.MemberInfo{ID: "u2", Username: "bob"})
		s.UpsertMember("g1", model.MemberInfo{ID: "u1", Username: "alice"})
		return nil
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	h := NewHandler(store, muter, stubSyncer{}, logger)
	r.Group(func(r chi.Router) {
		r.Use(httpsrv.NewBearerAuth(token))
		h.Routes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHandler_ReadEndpoints(t *testing.T) {
	srv := newServer(t, "", &stubMuter{})

	resp := do(t, http.MethodGet, srv.URL+"/v1/stats", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats registry.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, registry.Stats{Guilds: 1, Channels: 1, Categories: 1, Members: 2}, stats)

	resp = do(t, http.MethodGet, srv.URL+"/v1/guilds/g1/members", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var members struct {
		Items []model.MemberInfo `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&members))
	require.Len(t, members.Items, 2)
	assert.Equal(t, "u1", members.Items[0].ID)

	resp = do(t, http.MethodGet, srv.URL+"/v1/guilds/g1/channels", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var channels struct {
		Categories []model.ChannelInfo `json:"categories"`
		Channels   []model.ChannelInfo `json:"channels"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&channels))
	assert.Len(t, channels.Categories, 1)
	assert.Equal(t, "cat", channels.Channels[0].ParentID)

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/v1/guilds/nope", "", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/v1/guilds/g1/members/ghost", "", "").StatusCode)
}

func TestHandler_BearerAuth(t *testing.T) {
	srv := newServer(t, "s3cret", &stubMuter{})

	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/v1/stats", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/v1/stats", "", "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/v1/stats", "", "s3cret").StatusCode)
}

func TestHandler_Mute(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"timed", `{"type":1,"duration":"10m"}`, nil, http.StatusNoContent},
		{"bad duration", `{"type":1,"duration":"soon"}`, nil, http.StatusBadRequest},
		{"bad type", `{"type":9}`, nil, http.StatusBadRequest},
		{"unknown guild", `{"type":1}`, service.ErrUnknownGuild, http.StatusNotFound},
		{"upstream", `{"type":2}`, io.ErrUnexpectedEOF, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &stubMuter{err: tt.err}
			srv := newServer(t, "", m)

			resp := do(t, http.MethodPut, srv.URL+"/v1/guilds/g1/members/u1/mute", tt.body, "")
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHandler_MuteParsesDuration(t *testing.T) {
	m := &stubMuter{}
	srv := newServer(t, "", m)

	resp := do(t, http.MethodPut, srv.URL+"/v1/guilds/g1/members/u1/mute", `{"type":1,"duration":"90s"}`, "")

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 90*time.Second, m.last)
	assert.Equal(t, []string{"mute:g1:u1"}, m.calls)
}

func TestHandler_Unmute(t *testing.T) {
	m := &stubMuter{}
	srv := newServer(t, "", m)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodDelete, srv.URL+"/v1/guilds/g1/members/u1/mute", "", "").StatusCode)
	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, srv.URL+"/v1/guilds/g1/members/u1/mute?type=2", "", "").StatusCode)
	assert.Equal(t, []string{"unmute:g1:u1"}, m.calls)
}

func TestHandler_Sync(t *testing.T) {
	srv := newServer(t, "", &stubMuter{})

	resp := do(t, http.MethodPost, srv.URL+"/v1/sync", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body["guilds"])
	assert.Equal(t, 5, body["members"])
}
