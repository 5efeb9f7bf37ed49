package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/kook-mirror-service/internal/adapter/pubsub"
	"github.com/webitel/kook-mirror-service/internal/domain/event"
)

const writeWait = 10 * time.Second

// WatchHandler streams exported domain events to websocket clients.
type WatchHandler struct {
	provider pubsub.Provider
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWatchHandler(provider pubsub.Provider, logger *slog.Logger) *WatchHandler {
	return &WatchHandler{
		provider: provider,
		logger:   logger.With("component", "ws_watch"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // bearer auth guards the route
		},
	}
}

// ServeHTTP handles GET /v1/watch?kinds=member.updated,channel.message.
// An absent kinds parameter watches every kind.
func (h *WatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. RESOLVE KINDS
	kinds, ok := parseKinds(r.URL.Query().Get("kinds"))
	if !ok {
		http.Error(w, "unknown event kind", http.StatusBadRequest)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 3. SUBSCRIBE
	msgs, err := pubsub.Watch(ctx, h.provider, kinds)
	if err != nil {
		h.logger.Error("WS_WATCH_FAILED", "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "watch failed"),
			time.Now().Add(writeWait))
		return
	}

	// [READ_PUMP] Control frames are processed only while reading; a read error means the peer left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info("WS_WATCH_OPENED", "remote", r.RemoteAddr, "kinds", len(kinds))
	defer h.logger.Info("WS_WATCH_CLOSED", "remote", r.RemoteAddr)

	// 4. MAIN WS PUMP LOOP
	for msg := range msgs {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.TextMessage, msg.Payload)
		msg.Ack()
		if err != nil {
			h.logger.Warn("WS_SEND_FAILED", "err", err)
			cancel()
		}
	}
}

func parseKinds(raw string) ([]event.EventKind, bool) {
	if raw == "" {
		return event.Kinds(), true
	}
	var out []event.EventKind
	for name := range strings.SplitSeq(raw, ",") {
		kind, ok := event.ParseKind(strings.TrimSpace(name))
		if !ok {
			return nil, false
		}
		out = append(out, kind)
	}
	return out, true
}
