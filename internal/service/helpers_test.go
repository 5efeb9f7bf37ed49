package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/webitel/kook-mirror-service/internal/domain/event"
	"github.com/webitel/kook-mirror-service/internal/domain/model"
	"github.com/webitel/kook-mirror-service/internal/domain/registry"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errRemote = errors.New("remote unavailable")

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// pageOf serves pages[page-1] with meta reporting len(pages) as the total.
func pageOf[T any](pages [][]T, page int) model.Page[T] {
	p := model.Page[T]{Meta: model.PageMeta{Page: page, PageTotal: len(pages)}}
	if page >= 1 && page <= len(pages) {
		p.Items = pages[page-1]
	}
	return p
}

// stubAPI is an in-memory RemoteAPI with call counters and injectable failures.
type stubAPI struct {
	mu       sync.Mutex
	me       model.MemberInfo
	guilds   [][]model.GuildInfo
	views    map[string]model.GuildView
	channels map[string][][]model.ChannelInfo
	members  map[string][][]model.MemberInfo
	users    map[model.MemberKey]model.MemberInfo
	fail     map[string]error
	calls    map[string]int
	mutes    []string

	// viewGate, when set, blocks ViewGuild until closed.
	viewGate chan struct{}
	// listGate, when set, runs before each channel and member page request.
	// The returned func runs once the page has been served.
	listGate func(ctx context.Context, op string, page int) (func(), error)
}

func newStubAPI() *stubAPI {
	return &stubAPI{
		me:       model.MemberInfo{ID: "bot", Username: "mirror", Bot: true},
		views:    map[string]model.GuildView{},
		channels: map[string][][]model.ChannelInfo{},
		members:  map[string][][]model.MemberInfo{},
		users:    map[model.MemberKey]model.MemberInfo{},
		fail:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (s *stubAPI) hit(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.fail[op]
}

func (s *stubAPI) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *stubAPI) setFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *stubAPI) update(fn func(s *stubAPI)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *stubAPI) Me(context.Context) (model.MemberInfo, error) {
	if err := s.hit("me"); err != nil {
		return model.MemberInfo{}, err
	}
	return s.me, nil
}

func (s *stubAPI) ListGuilds(_ context.Context, page int) (model.Page[model.GuildInfo], error) {
	if err := s.hit("guilds"); err != nil {
		return model.Page[model.GuildInfo]{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return pageOf(s.guilds, page), nil
}

func (s *stubAPI) ViewGuild(ctx context.Context, guildID string) (model.GuildView, error) {
	if err := s.hit("view:" + guildID); err != nil {
		return model.GuildView{}, err
	}
	s.mu.Lock()
	gate := s.viewGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return model.GuildView{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[guildID]
	if !ok {
		return model.GuildView{}, errRemote
	}
	return v, nil
}

func (s *stubAPI) gate(ctx context.Context, op string, page int) (func(), error) {
	s.mu.Lock()
	g := s.listGate
	s.mu.Unlock()
	if g == nil {
		return func() {}, nil
	}
	return g(ctx, op, page)
}

func (s *stubAPI) ListChannels(ctx context.Context, guildID string, page int) (model.Page[model.ChannelInfo], error) {
	if err := s.hit("channels:" + guildID); err != nil {
		return model.Page[model.ChannelInfo]{}, err
	}
	served, err := s.gate(ctx, "channels:"+guildID, page)
	if err != nil {
		return model.Page[model.ChannelInfo]{}, err
	}
	defer served()
	s.mu.Lock()
	defer s.mu.Unlock()
	return pageOf(s.channels[guildID], page), nil
}

func (s *stubAPI) ListMembers(ctx context.Context, guildID string, page int) (model.Page[model.MemberInfo], error) {
	if err := s.hit("members:" + guildID); err != nil {
		return model.Page[model.MemberInfo]{}, err
	}
	served, err := s.gate(ctx, "members:"+guildID, page)
	if err != nil {
		return model.Page[model.MemberInfo]{}, err
	}
	defer served()
	s.mu.Lock()
	defer s.mu.Unlock()
	return pageOf(s.members[guildID], page), nil
}

func (s *stubAPI) ViewUser(_ context.Context, guildID, userID string) (model.MemberInfo, error) {
	if err := s.hit("user"); err != nil {
		return model.MemberInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[model.MemberKey{GuildID: guildID, UserID: userID}]
	if !ok {
		return model.MemberInfo{}, errRemote
	}
	return u, nil
}

func (s *stubAPI) CreateGuildMute(_ context.Context, guildID, userID string, _ model.MuteType) error {
	if err := s.hit("mute"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutes = append(s.mutes, "+"+guildID+":"+userID)
	return nil
}

func (s *stubAPI) DeleteGuildMute(_ context.Context, guildID, userID string, _ model.MuteType) error {
	if err := s.hit("unmute"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutes = append(s.mutes, "-"+guildID+":"+userID)
	return nil
}

func (s *stubAPI) muteLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.mutes...)
}

// recorder is a Processor capturing every pushed event.
type recorder struct {
	mu     sync.Mutex
	only   map[event.EventKind]bool
	events []event.Eventer
	err    error
}

func (r *recorder) Subscribed(kind event.EventKind) bool {
	return r.only == nil || r.only[kind]
}

func (r *recorder) Push(_ context.Context, ev event.Eventer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) all() []event.Eventer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Eventer(nil), r.events...)
}

func (r *recorder) kinds() []event.EventKind {
	var out []event.EventKind
	for _, ev := range r.all() {
		out = append(out, ev.GetKind())
	}
	return out
}

type harness struct {
	api        *stubAPI
	proc       *recorder
	timers     *registry.MuteTimers
	store      *registry.Store
	lane       *registry.Lane
	scope      *Scope
	self       *Identity
	hydrator   *Hydrator
	reconciler *Reconciler
	emitter    *Emitter
	applier    *Applier
	muter      *Muter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		api:    newStubAPI(),
		proc:   &recorder{},
		timers: registry.NewMuteTimers(registry.WithLogger(discard())),
		scope:  NewScope(),
		self:   new(Identity),
	}
	h.self.Set("bot")
	h.store = registry.NewStore(h.timers, registry.WithLogger(discard()))
	h.lane = registry.NewLane(h.store, registry.WithLogger(discard()))
	h.hydrator = NewHydrator(h.api, h.lane, h.scope, 0, discard())
	h.reconciler = NewReconciler(h.api, h.lane, h.scope, 0, 0, discard())
	h.emitter = NewEmitter(h.proc, false, discard())
	h.applier = NewApplier(h.store, h.lane, h.hydrator, h.emitter, h.api, h.self, 0, discard())
	h.muter = NewMuter(h.api, h.store, h.timers, discard())

	t.Cleanup(func() {
		_ = h.scope.Close(context.Background())
		_ = h.reconciler.Stop(context.Background())
		h.timers.Close()
		h.lane.Close()
		_ = h.emitter.Drain(context.Background())
	})
	return h
}

// seed installs a guild with channels and members straight through the lane.
func (h *harness) seed(t *testing.T, guildID string, channels []model.ChannelInfo, members []model.MemberInfo) *model.Guild {
	t.Helper()
	g, err := registry.Modify(context.Background(), h.lane, func(s *registry.Store) (*model.Guild, error) {
		g, _ := s.MergeGuild(model.NewGuild(h.scope.Context(), model.GuildInfo{ID: guildID, Name: guildID}))
		for _, ch := range channels {
			s.UpsertChannel(guildID, ch)
		}
		for _, m := range members {
			s.UpsertMember(guildID, m)
		}
		return g, nil
	})
	if err != nil {
		t.Fatalf("seed %s: %v", guildID, err)
	}
	return g
}

var msgSeq int

func systemEvent(extra, target string, body map[string]any) *model.RawEvent {
	msgSeq++
	return &model.RawEvent{
		ChannelType: model.ChannelTypeGroup,
		Type:        model.RawSystem,
		TargetID:    target,
		AuthorID:    "1",
		MsgID:       "msg-" + strconv.Itoa(msgSeq),
		Extra:       model.RawExtra{Type: extra, Body: body},
	}
}
