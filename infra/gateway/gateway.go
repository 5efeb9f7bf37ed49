package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/webitel/kook-mirror-service/infra/client/kook"
	"github.com/webitel/kook-mirror-service/internal/adapter/pubsub"
)

// Signal codes of the websocket protocol.
const (
	sigEvent     = 0
	sigHello     = 1
	sigPing      = 2
	sigPong      = 3
	sigResume    = 4
	sigReconnect = 5
	sigResumeAck = 6
)

// codeTokenExpired in a hello frame means the session cannot be resumed.
const codeTokenExpired = 40103

// maxPending bounds the out-of-order buffer; past it the gap is skipped.
const maxPending = 64

var (
	errReconnect    = errors.New("gateway: server requested reconnect")
	errHelloTimeout = errors.New("gateway: hello timeout")
	errPongTimeout  = errors.New("gateway: pong timeout")
)

// HelloError is a rejected handshake.
type HelloError struct {
	Code int
}

func (e *HelloError) Error() string { return fmt.Sprintf("gateway: hello rejected: code %d", e.Code) }

type frame struct {
	S  int             `json:"s"`
	D  json.RawMessage `json:"d,omitempty"`
	SN int64           `json:"sn,omitempty"`
}

type helloBody struct {
	Code      int    `json:"code"`
	SessionID string `json:"session_id"`
}

// Locator resolves the websocket endpoint.
type Locator interface {
	Gateway(ctx context.Context, compress bool, resume *kook.Resume) (string, error)
}

var _ Locator = (*kook.Client)(nil)

type Options struct {
	// URL skips the endpoint lookup when set.
	URL      string
	Compress bool

	HelloTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func DefaultOptions() Options {
	return Options{
		Compress:     true,
		HelloTimeout: 6 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  6 * time.Second,
		ReconnectMin: time.Second,
		ReconnectMax: time.Minute,
	}
}

// Gateway reads the event stream and publishes every event frame, in sn order,
// to the raw event topic.
type Gateway struct {
	locator Locator
	pub     message.Publisher
	opts    Options
	dialer  *websocket.Dialer
	logger  *slog.Logger

	// [SESSION] Owned by the run goroutine.
	sessionID string
	sn        int64
	pending   map[int64]json.RawMessage

	cancel context.CancelFunc
	done   chan struct{}
}

func New(locator Locator, pub message.Publisher, opts Options, logger *slog.Logger) *Gateway {
	return &Gateway{
		locator: locator,
		pub:     pub,
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HelloTimeout},
		logger:  logger.With("component", "gateway"),
		pending: make(map[int64]json.RawMessage),
	}
}

// Start runs the connection loop in the background until Stop.
func (g *Gateway) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.run(ctx)
	return nil
}

func (g *Gateway) Stop(ctx context.Context) error {
	if g.cancel == nil {
		return nil
	}
	g.cancel()
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) run(ctx context.Context) {
	defer close(g.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.opts.ReconnectMin
	bo.MaxInterval = g.opts.ReconnectMax
	bo.Reset()

	for {
		helloed, err := g.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if helloed {
			bo.Reset()
		}
		if errors.Is(err, errReconnect) {
			g.reset()
		}
		var hello *HelloError
		if errors.As(err, &hello) && hello.Code == codeTokenExpired {
			g.reset()
		}

		wait := bo.NextBackOff()
		g.logger.Warn("GATEWAY_DISCONNECTED", "err", err, "sn", g.sn, "retry_in_ms", wait.Milliseconds())

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// reset forgets the session so the next connection starts fresh.
func (g *Gateway) reset() {
	g.sessionID = ""
	g.sn = 0
	clear(g.pending)
}

func (g *Gateway) resolve(ctx context.Context) (string, error) {
	var resume *kook.Resume
	if g.sessionID != "" {
		resume = &kook.Resume{SN: g.sn, SessionID: g.sessionID}
	}
	if g.opts.URL != "" {
		return kook.WithResume(g.opts.URL, resume)
	}
	return g.locator.Gateway(ctx, g.opts.Compress, resume)
}

// session serves one connection. helloed reports whether the handshake completed.
func (g *Gateway) session(ctx context.Context) (helloed bool, err error) {
	target, err := g.resolve(ctx)
	if err != nil {
		return false, fmt.Errorf("resolve gateway: %w", err)
	}

	conn, _, err := g.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return false, fmt.Errorf("dial gateway: %w", err)
	}

	frames := make(chan frame)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	readDone := make(chan struct{})
	go g.read(conn, frames, errc, stop, readDone)
	defer func() {
		close(stop)
		_ = conn.Close()
		<-readDone
	}()

	hello := time.NewTimer(g.opts.HelloTimeout)
	defer hello.Stop()
	ping := time.NewTicker(g.opts.PingInterval)
	defer ping.Stop()
	var pong <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return helloed, ctx.Err()

		case err := <-errc:
			return helloed, fmt.Errorf("read gateway: %w", err)

		case <-hello.C:
			return false, errHelloTimeout

		case <-ping.C:
			if !helloed {
				continue
			}
			if err := g.write(conn, frame{S: sigPing, SN: g.sn}); err != nil {
				return true, fmt.Errorf("send ping: %w", err)
			}
			if pong == nil {
				pong = time.After(g.opts.PongTimeout)
			}

		case <-pong:
			return helloed, errPongTimeout

		case f := <-frames:
			switch f.S {
			case sigHello:
				var body helloBody
				if err := json.Unmarshal(f.D, &body); err != nil {
					return false, fmt.Errorf("decode hello: %w", err)
				}
				if body.Code != 0 {
					return false, &HelloError{Code: body.Code}
				}
				hello.Stop()
				helloed = true
				resumed := body.SessionID == g.sessionID && g.sessionID != ""
				if !resumed {
					g.reset()
				}
				g.sessionID = body.SessionID
				g.logger.Info("GATEWAY_CONNECTED", "session_id", body.SessionID, "resumed", resumed, "sn", g.sn)

			case sigEvent:
				if err := g.onEvent(ctx, f); err != nil {
					return helloed, err
				}

			case sigPong:
				pong = nil

			case sigReconnect:
				return helloed, errReconnect

			case sigResumeAck:
				g.logger.Info("GATEWAY_RESUMED", "session_id", g.sessionID, "sn", g.sn)

			default:
				g.logger.Debug("GATEWAY_SIGNAL_IGNORED", "s", f.S)
			}
		}
	}
}

func (g *Gateway) read(conn *websocket.Conn, frames chan<- frame, errc chan<- error, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		f, err := g.decode(kind, data)
		if err != nil {
			g.logger.Warn("GATEWAY_FRAME_DROPPED", "err", err)
			continue
		}
		select {
		case frames <- f:
		case <-stop:
			return
		}
	}
}

// decode inflates binary frames when compression is on.
func (g *Gateway) decode(kind int, data []byte) (frame, error) {
	var f frame
	if kind == websocket.BinaryMessage && g.opts.Compress {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return f, fmt.Errorf("inflate: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return f, fmt.Errorf("inflate: %w", err)
		}
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func (g *Gateway) write(conn *websocket.Conn, f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(g.opts.PongTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// onEvent publishes frames in sn order: duplicates are dropped and early frames wait
// in pending until the gap closes.
func (g *Gateway) onEvent(ctx context.Context, f frame) error {
	switch {
	case f.SN <= g.sn:
		g.logger.Debug("GATEWAY_DUPLICATE_DROPPED", "sn", f.SN)
		return nil
	case f.SN > g.sn+1:
		g.pending[f.SN] = f.D
		if len(g.pending) <= maxPending {
			return nil
		}
		g.logger.Warn("GATEWAY_SN_GAP_SKIPPED", "from", g.sn+1, "pending", len(g.pending))
		return g.flush(ctx, true)
	}

	if err := g.publish(ctx, f.SN, f.D); err != nil {
		return err
	}
	return g.flush(ctx, false)
}

// flush publishes buffered frames that are now contiguous, or all of them when force is set.
func (g *Gateway) flush(ctx context.Context, force bool) error {
	keys := make([]int64, 0, len(g.pending))
	for sn := range g.pending {
		keys = append(keys, sn)
	}
	slices.Sort(keys)

	for _, sn := range keys {
		if sn != g.sn+1 && !force {
			break
		}
		if err := g.publish(ctx, sn, g.pending[sn]); err != nil {
			return err
		}
		delete(g.pending, sn)
	}
	return nil
}

// publish advances sn only after the broker accepted the frame, so a failure resumes from it.
func (g *Gateway) publish(ctx context.Context, sn int64, payload json.RawMessage) error {
	msg := message.NewMessage(watermill.NewUUID(), message.Payload(payload))
	msg.Metadata.Set(pubsub.MetadataTraceID, uuid.NewString())
	msg.Metadata.Set(pubsub.MetadataSN, strconv.FormatInt(sn, 10))
	msg.SetContext(ctx)

	if err := g.pub.Publish(pubsub.TopicRawEvents, msg); err != nil {
		return fmt.Errorf("publish sn %d: %w", sn, err)
	}
	g.sn = sn
	return nil
}
