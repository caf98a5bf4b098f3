package lobby

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/dice"
	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/QuincyvanDeursen/diceonline/internal/store"
	"github.com/sirupsen/logrus"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errStoreDown = errors.New("store down")

// flakyStore wraps a MemoryStore and fails writes on demand. With lateReply set a write
// is applied and then reported as timed out, like a reply lost after the server committed.
type flakyStore struct {
	*store.MemoryStore
	mu          sync.Mutex
	failWrites  bool
	lateReply   bool
	replaceHits int
}

func (s *flakyStore) setLateReply(v bool) {
	s.mu.Lock()
	s.lateReply = v
	s.mu.Unlock()
}

func (s *flakyStore) replyLate(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil && s.lateReply {
		return context.DeadlineExceeded
	}
	return err
}

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	s.failWrites = v
	s.mu.Unlock()
}

func (s *flakyStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failWrites
}

func (s *flakyStore) Insert(ctx context.Context, l *models.Lobby) error {
	if s.failing() {
		return errStoreDown
	}
	return s.replyLate(s.MemoryStore.Insert(ctx, l))
}

func (s *flakyStore) ReplaceByID(ctx context.Context, l *models.Lobby) error {
	s.mu.Lock()
	s.replaceHits++
	s.mu.Unlock()
	if s.failing() {
		return errStoreDown
	}
	return s.replyLate(s.MemoryStore.ReplaceByID(ctx, l))
}

func (s *flakyStore) DeleteByID(ctx context.Context, id string) error {
	if s.failing() {
		return errStoreDown
	}
	return s.replyLate(s.MemoryStore.DeleteByID(ctx, id))
}

var errClosedConnection = errors.New("closed connection")

// recordingTransport keeps every delivered event per connection instead of writing to sockets.
// Every connection id counts as open until closeConn is called for it.
type recordingTransport struct {
	mu        sync.Mutex
	groups    map[string]map[string]bool
	delivered map[string][]models.Event
	closed    map[string]bool
	// closeOnAdd closes a connection right before it would join a group.
	closeOnAdd string
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		groups:    make(map[string]map[string]bool),
		delivered: make(map[string][]models.Event),
		closed:    make(map[string]bool),
	}
}

func (t *recordingTransport) closeConn(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed[connectionID] = true
	for _, members := range t.groups {
		delete(members, connectionID)
	}
}

func (t *recordingTransport) Has(connectionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed[connectionID]
}

func (t *recordingTransport) AddToGroup(connectionID, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if connectionID == t.closeOnAdd {
		t.closed[connectionID] = true
	}
	if t.closed[connectionID] {
		return errClosedConnection
	}
	if t.groups[group] == nil {
		t.groups[group] = make(map[string]bool)
	}
	t.groups[group][connectionID] = true
	return nil
}

func (t *recordingTransport) RemoveFromGroup(connectionID, group string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups[group], connectionID)
}

func (t *recordingTransport) SendToGroup(_ context.Context, group string, ev models.Event, exclude string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.groups[group] {
		if id == exclude {
			continue
		}
		t.delivered[id] = append(t.delivered[id], ev)
	}
	return 0, nil
}

func (t *recordingTransport) Send(_ context.Context, connectionID string, ev models.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delivered[connectionID] = append(t.delivered[connectionID], ev)
	return nil
}

func (t *recordingTransport) eventsFor(connectionID string) []models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Event(nil), t.delivered[connectionID]...)
}

func (t *recordingTransport) members(group string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.groups[group])
}

type countingRecorder struct {
	mu      sync.Mutex
	created int
	ops     map[string]int
	rolled  int
	gaps    int
}

func (r *countingRecorder) LobbyCreated() {
	r.mu.Lock()
	r.created++
	r.mu.Unlock()
}

func (r *countingRecorder) Operation(op, result string) {
	r.mu.Lock()
	if r.ops == nil {
		r.ops = make(map[string]int)
	}
	r.ops[op+":"+result]++
	r.mu.Unlock()
}

func (r *countingRecorder) DiceRolled(n int) {
	r.mu.Lock()
	r.rolled += n
	r.mu.Unlock()
}

func (r *countingRecorder) DeliveryGap(string, int) {
	r.mu.Lock()
	r.gaps++
	r.mu.Unlock()
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[key]
}

type memorySink struct {
	mu    sync.Mutex
	items []models.Activity
}

func (m *memorySink) Push(_ context.Context, a models.Activity) error {
	m.mu.Lock()
	m.items = append(m.items, a)
	m.mu.Unlock()
	return nil
}

func (m *memorySink) types() []models.ActivityType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ActivityType, 0, len(m.items))
	for _, a := range m.items {
		out = append(out, a.Type)
	}
	return out
}

type fixture struct {
	svc      *Service
	reg      *Registry
	dir      *Directory
	store    *flakyStore
	tr       *recordingTransport
	clock    *fakeClock
	recorder *countingRecorder
	sink     *memorySink
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T, tweak ...func(*RegistryConfig)) *fixture {
	t.Helper()
	clock := newFakeClock()
	logger := quietLogger()
	st := &flakyStore{MemoryStore: store.NewMemoryStore(DefaultTTL, clock.Now, logger)}

	cfg := RegistryConfig{TTL: DefaultTTL, Now: clock.Now, Logger: logger}
	for _, fn := range tweak {
		fn(&cfg)
	}
	reg := NewRegistry(st, cfg)
	dir := NewDirectory()
	tr := newRecordingTransport()
	rec := &countingRecorder{}
	sink := &memorySink{}
	svc := NewService(reg, dir, NewBroadcaster(tr, rec, logger), ServiceConfig{
		Roller:   dice.NewRoller(),
		Activity: sink,
		Recorder: rec,
		Location: LoadLocation(DefaultTimezone),
		Now:      clock.Now,
		Logger:   logger,
	})
	return &fixture{svc: svc, reg: reg, dir: dir, store: st, tr: tr, clock: clock, recorder: rec, sink: sink}
}

func sixSided(count int) models.DiceSettings {
	return models.DiceSettings{Count: count, MinValue: 1, MaxValue: 6}
}

func eventTypes(evs []models.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}
