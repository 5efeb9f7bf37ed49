package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
	"github.com/webitel/kook-mirror-service/internal/service"
)

// Muter is the subset of the mute service the API drives.
type Muter interface {
	Mute(ctx context.Context, guildID, userID string, t model.MuteType, d time.Duration) error
	Unmute(ctx context.Context, guildID, userID string, t model.MuteType) error
}

// Syncer triggers an out-of-band reconciliation pass.
type Syncer interface {
	RunOnce(ctx context.Context) (service.CycleStats, error)
}

// Handler exposes the cache read side and the mute operations over HTTP.
type Handler struct {
	store  registry.Reader
	muter  Muter
	syncer Syncer
	logger *slog.Logger
}

func NewHandler(store registry.Reader, muter Muter, syncer Syncer, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		muter:  muter,
		syncer: syncer,
		logger: logger.With("component", "rest_handler"),
	}
}

// Routes registers every endpoint on r. Callers wrap r with auth beforehand.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/v1/stats", h.Stats)
	r.Get("/v1/guilds", h.ListGuilds)
	r.Get("/v1/guilds/{guildID}", h.GetGuild)
	r.Get("/v1/guilds/{guildID}/channels", h.ListChannels)
	r.Get("/v1/guilds/{guildID}/members", h.ListMembers)
	r.Get("/v1/guilds/{guildID}/members/{userID}", h.GetMember)
	r.Put("/v1/guilds/{guildID}/members/{userID}/mute", h.Mute)
	r.Delete("/v1/guilds/{guildID}/members/{userID}/mute", h.Unmute)
	r.Post("/v1/sync", h.Sync)
}

// --- READ SIDE ---

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Stats())
}

func (h *Handler) ListGuilds(w http.ResponseWriter, _ *http.Request) {
	guilds := h.store.Guilds()
	out := make([]model.GuildInfo, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, g.Info())
	}
	slices.SortFunc(out, func(a, b model.GuildInfo) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) GetGuild(w http.ResponseWriter, r *http.Request) {
	g, ok := h.store.Guild(chi.URLParam(r, "guildID"))
	if !ok {
		http.Error(w, "guild not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, g.Info())
}

func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if _, ok := h.store.Guild(guildID); !ok {
		http.Error(w, "guild not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": channelInfos(h.store.Categories(guildID)),
		"channels":   channelInfos(h.store.Channels(guildID)),
	})
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	if _, ok := h.store.Guild(guildID); !ok {
		http.Error(w, "guild not found", http.StatusNotFound)
		return
	}
	members := h.store.Members(guildID)
	out := make([]model.MemberInfo, 0, len(members))
	for _, m := range members {
		out = append(out, m.Info())
	}
	slices.SortFunc(out, func(a, b model.MemberInfo) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	key := model.MemberKey{GuildID: chi.URLParam(r, "guildID"), UserID: chi.URLParam(r, "userID")}
	m, ok := h.store.Member(key)
	if !ok {
		http.Error(w, "member not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m.Info())
}

func channelInfos(chs []*model.Channel) []model.ChannelInfo {
	out := make([]model.ChannelInfo, 0, len(chs))
	for _, ch := range chs {
		out = append(out, ch.Info())
	}
	slices.SortFunc(out, func(a, b model.ChannelInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// --- COMMANDS ---

type muteRequest struct {
	Type     model.MuteType `json:"type"`
	Duration string         `json:"duration"` // Go duration; empty or "0" mutes until lifted
}

func (h *Handler) Mute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var d time.Duration
	if req.Duration != "" {
		var err error
		if d, err = time.ParseDuration(req.Duration); err != nil {
			http.Error(w, "invalid duration", http.StatusBadRequest)
			return
		}
	}

	err := h.muter.Mute(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "userID"), req.Type, d)
	h.commandResult(w, "MUTE_FAILED", err)
}

func (h *Handler) Unmute(w http.ResponseWriter, r *http.Request) {
	t, err := strconv.Atoi(r.URL.Query().Get("type"))
	if err != nil {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}
	err = h.muter.Unmute(r.Context(), chi.URLParam(r, "guildID"), chi.URLParam(r, "userID"), model.MuteType(t))
	h.commandResult(w, "UNMUTE_FAILED", err)
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	st, err := h.syncer.RunOnce(r.Context())
	if err != nil {
		h.logger.Warn("MANUAL_SYNC_FAILED", "err", err)
		http.Error(w, "sync failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"guilds":        st.Guilds,
		"failed_guilds": st.FailedGuilds,
		"channels":      st.Channels,
		"categories":    st.Categories,
		"members":       st.Members,
		"pruned_guilds": st.PrunedGuilds,
		"duration_ms":   st.Duration.Milliseconds(),
	})
}

func (h *Handler) commandResult(w http.ResponseWriter, logKey string, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, service.ErrUnknownGuild):
		http.Error(w, "guild not found", http.StatusNotFound)
	case errors.Is(err, service.ErrInvalidMuteType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Warn(logKey, "err", err)
		http.Error(w, "upstream failure", http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
