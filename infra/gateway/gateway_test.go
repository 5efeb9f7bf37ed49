package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/kook-mirror-service/infra/client/kook"
	"github.com/webitel/kook-mirror-service/internal/adapter/pubsub"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fake platform ---

type script func(conn *websocket.Conn)

type fakeServer struct {
	srv     *httptest.Server
	scripts []script
	conns   atomic.Int32
}

func newFakeServer(t *testing.T, scripts ...script) *fakeServer {
	t.Helper()
	fs := &fakeServer{scripts: scripts}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n := int(fs.conns.Add(1)) - 1; n < len(fs.scripts) {
			fs.scripts[n](conn)
		}
		drain(conn)
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) URL() string { return "ws" + strings.TrimPrefix(fs.srv.URL, "http") }

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func send(conn *websocket.Conn, f frame) {
	data, _ := json.Marshal(f)
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func sendCompressed(conn *websocket.Conn, f frame) {
	data, _ := json.Marshal(f)
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	_ = conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

func hello(session string) frame {
	return frame{S: sigHello, D: json.RawMessage(`{"code":0,"session_id":"` + session + `"}`)}
}

func event(sn int64, msgID string) frame {
	return frame{S: sigEvent, SN: sn, D: json.RawMessage(`{"msg_id":"` + msgID + `"}`)}
}

type stubLocator struct {
	url string

	mu      sync.Mutex
	resumes []*kook.Resume
}

func (s *stubLocator) Gateway(_ context.Context, _ bool, resume *kook.Resume) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resume != nil {
		cp := *resume
		resume = &cp
	}
	s.resumes = append(s.resumes, resume)
	return s.url, nil
}

func (s *stubLocator) calls() []*kook.Resume {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kook.Resume(nil), s.resumes...)
}

// --- harness ---

// recorder is a message.Publisher that keeps frames in publish order.
type recorder struct {
	msgs chan *message.Message
}

func newRecorder() *recorder { return &recorder{msgs: make(chan *message.Message, 64)} }

func (r *recorder) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		if topic == pubsub.TopicRawEvents {
			r.msgs <- msg
		}
	}
	return nil
}

func (r *recorder) Close() error { return nil }

func startGateway(t *testing.T, loc Locator, pub message.Publisher, mutate func(*Options)) {
	t.Helper()
	opts := DefaultOptions()
	opts.HelloTimeout = time.Second
	opts.ReconnectMin = 10 * time.Millisecond
	opts.ReconnectMax = 50 * time.Millisecond
	if mutate != nil {
		mutate(&opts)
	}

	g := New(loc, pub, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, g.Stop(ctx))
	})
}

// next returns the msg_id and sn of the next published frame.
func next(t *testing.T, rec *recorder) (string, string) {
	t.Helper()
	select {
	case msg := <-rec.msgs:
		var body struct {
			MsgID string `json:"msg_id"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &body))
		assert.NotEmpty(t, msg.Metadata.Get(pubsub.MetadataTraceID))
		return body.MsgID, msg.Metadata.Get(pubsub.MetadataSN)
	case <-time.After(3 * time.Second):
		t.Fatal("no frame published")
		return "", ""
	}
}

func assertQuiet(t *testing.T, rec *recorder) {
	t.Helper()
	select {
	case msg := <-rec.msgs:
		t.Fatalf("unexpected frame %s", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

// --- tests ---

func TestGateway_PublishesInSequenceOrder(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		sendCompressed(conn, hello("s1"))
		sendCompressed(conn, event(1, "m1"))
		send(conn, event(3, "m3"))
		send(conn, event(2, "m2"))
		send(conn, event(2, "m2-dup"))
		send(conn, event(1, "m1-dup"))
	})
	rec := newRecorder()
	startGateway(t, &stubLocator{url: fs.URL()}, rec, nil)

	for _, want := range []struct{ id, sn string }{{"m1", "1"}, {"m2", "2"}, {"m3", "3"}} {
		id, sn := next(t, rec)
		assert.Equal(t, want.id, id)
		assert.Equal(t, want.sn, sn)
	}
	assertQuiet(t, rec)
}

func TestGateway_ResumesAfterDrop(t *testing.T) {
	fs := newFakeServer(t,
		func(conn *websocket.Conn) {
			send(conn, hello("s1"))
			send(conn, event(1, "m1"))
			send(conn, event(2, "m2"))
			_ = conn.Close()
		},
		func(conn *websocket.Conn) {
			send(conn, hello("s1"))
			send(conn, frame{S: sigResumeAck, D: json.RawMessage(`{"session_id":"s1"}`)})
			send(conn, event(2, "m2-dup"))
			send(conn, event(3, "m3"))
		},
	)
	loc := &stubLocator{url: fs.URL()}
	rec := newRecorder()
	startGateway(t, loc, rec, nil)

	for _, want := range []string{"m1", "m2", "m3"} {
		id, _ := next(t, rec)
		assert.Equal(t, want, id)
	}
	assertQuiet(t, rec)

	calls := loc.calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Nil(t, calls[0])
	assert.Equal(t, &kook.Resume{SN: 2, SessionID: "s1"}, calls[1])
}

func TestGateway_ReconnectSignalStartsFreshSession(t *testing.T) {
	fs := newFakeServer(t,
		func(conn *websocket.Conn) {
			send(conn, hello("s1"))
			send(conn, event(1, "m1"))
			send(conn, frame{S: sigReconnect, D: json.RawMessage(`{"code":41008}`)})
		},
		func(conn *websocket.Conn) {
			send(conn, hello("s2"))
			send(conn, event(1, "n1"))
		},
	)
	loc := &stubLocator{url: fs.URL()}
	rec := newRecorder()
	startGateway(t, loc, rec, nil)

	id, _ := next(t, rec)
	assert.Equal(t, "m1", id)
	id, sn := next(t, rec)
	assert.Equal(t, "n1", id)
	assert.Equal(t, "1", sn)

	calls := loc.calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Nil(t, calls[1])
}

func TestGateway_PingCarriesLastSequence(t *testing.T) {
	pings := make(chan int64, 8)
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, hello("s1"))
		send(conn, event(1, "m1"))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil && f.S == sigPing {
				select {
				case pings <- f.SN:
				default:
				}
				send(conn, frame{S: sigPong})
			}
		}
	})
	loc := &stubLocator{url: fs.URL()}
	rec := newRecorder()
	startGateway(t, loc, rec, func(o *Options) {
		o.PingInterval = 20 * time.Millisecond
		o.PongTimeout = 500 * time.Millisecond
	})

	next(t, rec)
	assert.Eventually(t, func() bool {
		select {
		case sn := <-pings:
			return sn == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, loc.calls(), 1)
}

func TestGateway_PongTimeoutReconnectsWithResume(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, hello("s1"))
		send(conn, event(1, "m1"))
	})
	loc := &stubLocator{url: fs.URL()}
	rec := newRecorder()
	startGateway(t, loc, rec, func(o *Options) {
		o.PingInterval = 20 * time.Millisecond
		o.PongTimeout = 30 * time.Millisecond
	})

	next(t, rec)
	assert.Eventually(t, func() bool {
		calls := loc.calls()
		return len(calls) >= 2 && calls[1] != nil && calls[1].SessionID == "s1" && calls[1].SN == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestGateway_FixedURLSkipsLookup(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, hello("s1"))
		send(conn, event(1, "m1"))
	})
	loc := &stubLocator{url: "ws://unused.invalid"}
	rec := newRecorder()
	startGateway(t, loc, rec, func(o *Options) { o.URL = fs.URL() })

	id, _ := next(t, rec)
	assert.Equal(t, "m1", id)
	assert.Empty(t, loc.calls())
}

func TestGateway_RejectedHelloRetries(t *testing.T) {
	fs := newFakeServer(t,
		func(conn *websocket.Conn) {
			send(conn, frame{S: sigHello, D: json.RawMessage(`{"code":40101}`)})
		},
		func(conn *websocket.Conn) {
			send(conn, hello("s1"))
			send(conn, event(1, "m1"))
		},
	)
	rec := newRecorder()
	startGateway(t, &stubLocator{url: fs.URL()}, rec, nil)

	id, _ := next(t, rec)
	assert.Equal(t, "m1", id)
	assert.GreaterOrEqual(t, int(fs.conns.Load()), 2)
}

func TestHelloError(t *testing.T) {
	err := &HelloError{Code: codeTokenExpired}
	assert.Contains(t, err.Error(), "40103")
}
