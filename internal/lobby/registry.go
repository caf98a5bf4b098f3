// internal/lobby/registry.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/QuincyvanDeursen/diceonline/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL          = 180 * time.Minute
	DefaultCodeAttempts = 8
	DefaultWriteTimeout = 5 * time.Second
)

// CommitFunc runs after a mutation has been persisted, while the lobby is still locked.
// It receives a copy of the committed lobby.
type CommitFunc func(l *models.Lobby)

// LeaveCommitFunc is CommitFunc for Leave, which also reports the removed player.
type LeaveCommitFunc func(l *models.Lobby, removed models.Player)

// ExpireFunc is told about a cached lobby that was found past its TTL, with its lock held.
type ExpireFunc func(ctx context.Context, l *models.Lobby)

// RegistryConfig tunes a Registry. Zero values fall back to the defaults.
type RegistryConfig struct {
	TTL          time.Duration
	CodeAttempts int
	// KeepEmpty keeps a lobby alive after its last player leaves; by default it is deleted.
	KeepEmpty bool
	// WriteTimeout bounds a store write once it has started. The write runs detached from
	// the caller's context so it always reaches an outcome.
	WriteTimeout time.Duration
	Now          func() time.Time
	NewID        func() string
	NewCode      func() (string, error)
	Logger       logrus.FieldLogger
}

type entry struct {
	sem   chan struct{} // capacity 1; holding the token owns the code
	refs  int           // goroutines holding or waiting on sem, guarded by Registry.mu
	lobby *models.Lobby // cached committed state, guarded by Registry.mu
}

// Registry is the in-process authority over live lobbies. All calls for one code are
// serialized; calls for different codes run in parallel. Every mutation is written
// through to the store before the cached copy changes.
type Registry struct {
	store    store.LobbyStore
	ttl      time.Duration
	attempts int
	keep     bool
	writeTTL time.Duration
	now      func() time.Time
	newID    func() string
	newCode  func() (string, error)
	logger   logrus.FieldLogger

	mu       sync.Mutex
	entries  map[string]*entry
	onExpire ExpireFunc
}

func NewRegistry(st store.LobbyStore, cfg RegistryConfig) *Registry {
	r := &Registry{
		store:    st,
		ttl:      cfg.TTL,
		attempts: cfg.CodeAttempts,
		keep:     cfg.KeepEmpty,
		writeTTL: cfg.WriteTimeout,
		now:      cfg.Now,
		newID:    cfg.NewID,
		newCode:  cfg.NewCode,
		logger:   cfg.Logger,
		entries:  make(map[string]*entry),
	}
	if r.ttl <= 0 {
		r.ttl = DefaultTTL
	}
	if r.attempts <= 0 {
		r.attempts = DefaultCodeAttempts
	}
	if r.writeTTL <= 0 {
		r.writeTTL = DefaultWriteTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if r.newCode == nil {
		r.newCode = NewCode
	}
	if r.logger == nil {
		r.logger = logrus.StandardLogger()
	}
	return r
}

// SetOnExpire installs the hook called when a cached lobby is dropped for being past its TTL.
func (r *Registry) SetOnExpire(fn ExpireFunc) {
	r.mu.Lock()
	r.onExpire = fn
	r.mu.Unlock()
}

// TTL is the inactivity window after which a lobby is gone.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Create allocates a fresh code and stores a new lobby with first as its only player.
func (r *Registry) Create(ctx context.Context, dice []models.Die, first models.Player, onCommit CommitFunc) (*models.Lobby, error) {
	for attempt := 1; attempt <= r.attempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		l, err := r.createWithCode(ctx, code, dice, first, onCommit)
		if errors.Is(err, errCodeTaken) {
			r.logger.WithFields(logrus.Fields{"lobby_code": code, "attempt": attempt}).Debug("lobby code collision, retrying")
			continue
		}
		return l, err
	}
	return nil, ErrCodeAllocationExhausted
}

var errCodeTaken = errors.New("lobby code taken")

func (r *Registry) createWithCode(ctx context.Context, code string, dice []models.Die, first models.Player, onCommit CommitFunc) (*models.Lobby, error) {
	e, err := r.acquire(ctx, code)
	if err != nil {
		return nil, err
	}
	defer r.release(code, e, true)

	if _, err := r.load(ctx, e, code); err == nil {
		return nil, errCodeTaken
	} else if !errors.Is(err, ErrLobbyNotFound) {
		return nil, err
	}

	now := r.now()
	l := &models.Lobby{
		ID:        r.newID(),
		Code:      code,
		Players:   []models.Player{first},
		Dice:      append([]models.Die(nil), dice...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.write(ctx, func(wctx context.Context) error { return r.store.Insert(wctx, l) }); err != nil {
		if !r.insertLanded(ctx, l) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		r.logger.WithError(err).WithField("lobby_code", code).Warn("insert reported failure but the lobby was stored")
	}
	r.setCached(e, l)

	if onCommit != nil {
		onCommit(l.Clone())
	}
	return l.Clone(), nil
}

// Join appends player to the lobby unless a case-insensitively equal name is present.
func (r *Registry) Join(ctx context.Context, code string, player models.Player, onCommit CommitFunc) (*models.Lobby, error) {
	return r.mutate(ctx, code, func(l *models.Lobby) error {
		if l.HasPlayer(player.Name) {
			return ErrDuplicatePlayerName
		}
		l.Players = append(l.Players, player)
		return nil
	}, onCommit)
}

// Leave removes one player. With a connectionID the (name, connectionID) pair must match
// exactly; without one the first case-insensitive name match is removed.
func (r *Registry) Leave(ctx context.Context, code, playerName, connectionID string, onCommit LeaveCommitFunc) (*models.Lobby, models.Player, error) {
	var removed models.Player
	l, err := r.mutate(ctx, code, func(l *models.Lobby) error {
		idx := -1
		for i, p := range l.Players {
			if connectionID != "" {
				if p.Name == playerName && p.ConnectionID == connectionID {
					idx = i
					break
				}
			} else if strings.EqualFold(p.Name, playerName) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrPlayerNotFound
		}
		removed = l.Players[idx]
		l.Players = append(l.Players[:idx], l.Players[idx+1:]...)
		return nil
	}, func(l *models.Lobby) {
		if onCommit != nil {
			onCommit(l, removed)
		}
	})
	return l, removed, err
}

// Get returns a copy of the live lobby.
func (r *Registry) Get(ctx context.Context, code string) (*models.Lobby, error) {
	var out *models.Lobby
	err := r.View(ctx, code, func(l *models.Lobby) error {
		out = l
		return nil
	})
	return out, err
}

// View calls fn with a copy of the live lobby while holding its lock, so anything fn
// broadcasts is ordered with membership changes.
func (r *Registry) View(ctx context.Context, code string, fn func(l *models.Lobby) error) error {
	e, err := r.acquire(ctx, code)
	if err != nil {
		return err
	}
	defer r.release(code, e, true)

	l, err := r.load(ctx, e, code)
	if err != nil {
		return err
	}
	return fn(l.Clone())
}

// Sweep drops every cached lobby past its TTL and returns how many went.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()
	var stale []string
	r.mu.Lock()
	for code, e := range r.entries {
		if e.lobby != nil && e.lobby.ExpiredAt(now, r.ttl) {
			stale = append(stale, code)
		}
	}
	r.mu.Unlock()

	swept := 0
	for _, code := range stale {
		e, err := r.acquire(ctx, code)
		if err != nil {
			break
		}
		if l := r.cached(e); l != nil && l.ExpiredAt(r.now(), r.ttl) {
			r.expire(ctx, e, l)
			swept++
		}
		r.release(code, e, true)
	}
	return swept
}

// Cached reports how many lobbies are held in memory.
func (r *Registry) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.lobby != nil {
			n++
		}
	}
	return n
}

func (r *Registry) mutate(ctx context.Context, code string, apply func(l *models.Lobby) error, onCommit CommitFunc) (*models.Lobby, error) {
	e, err := r.acquire(ctx, code)
	if err != nil {
		return nil, err
	}
	defer r.release(code, e, true)

	cur, err := r.load(ctx, e, code)
	if err != nil {
		return nil, err
	}

	// Work on a copy; the cache only moves once the store accepted the write.
	next := cur.Clone()
	if err := apply(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.now()

	if len(next.Players) == 0 && !r.keep {
		err := r.write(ctx, func(wctx context.Context) error { return r.store.DeleteByID(wctx, next.ID) })
		if err != nil && !errors.Is(err, store.ErrNotFound) && !r.settled(ctx, e, code, nil) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		r.setCached(e, nil)
	} else {
		err := r.write(ctx, func(wctx context.Context) error { return r.store.ReplaceByID(wctx, next) })
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Evicted by the store underneath us.
			r.setCached(e, nil)
			return nil, ErrLobbyNotFound
		case err != nil && !r.settled(ctx, e, code, next):
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		r.setCached(e, next)
	}

	if onCommit != nil {
		onCommit(next.Clone())
	}
	return next.Clone(), nil
}

// write runs a store write that has been decided on. Cancelling the caller no longer
// abandons it halfway; only the write timeout does.
func (r *Registry) write(ctx context.Context, fn func(ctx context.Context) error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTTL)
	defer cancel()
	return fn(wctx)
}

// settled is asked after a write reported failure. It reads the stored document back and
// reports whether it already holds want (nil meaning deleted). When the store cannot say,
// the cached copy is dropped so the next call reloads whatever the store ended up with.
// The caller must hold e.sem.
func (r *Registry) settled(ctx context.Context, e *entry, code string, want *models.Lobby) bool {
	var stored *models.Lobby
	err := r.write(ctx, func(wctx context.Context) error {
		l, err := r.store.FindByCode(wctx, code)
		stored = l
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		if want == nil {
			return true
		}
	case err != nil:
		r.logger.WithError(err).WithField("lobby_code", code).Warn("could not verify failed lobby write")
	case want != nil && sameState(stored, want):
		return true
	}
	r.setCached(e, nil)
	return false
}

// insertLanded checks whether a failed insert was stored anyway. If the store cannot
// answer, the document is removed so no unreachable lobby is left behind.
func (r *Registry) insertLanded(ctx context.Context, l *models.Lobby) bool {
	var stored *models.Lobby
	err := r.write(ctx, func(wctx context.Context) error {
		found, err := r.store.FindByCode(wctx, l.Code)
		stored = found
		return err
	})
	switch {
	case err == nil:
		return stored.ID == l.ID
	case errors.Is(err, store.ErrNotFound):
		return false
	}
	derr := r.write(ctx, func(wctx context.Context) error { return r.store.DeleteByID(wctx, l.ID) })
	if derr != nil && !errors.Is(derr, store.ErrNotFound) {
		r.logger.WithError(derr).WithField("lobby_code", l.Code).Error("could not remove lobby after failed insert")
	}
	return false
}

// sameState compares what a write would have produced. Timestamps are compared at
// millisecond precision, which is what Mongo keeps.
func sameState(a, b *models.Lobby) bool {
	if a.ID != b.ID || len(a.Players) != len(b.Players) {
		return false
	}
	if !a.UpdatedAt.Truncate(time.Millisecond).Equal(b.UpdatedAt.Truncate(time.Millisecond)) {
		return false
	}
	for i := range a.Players {
		if a.Players[i] != b.Players[i] {
			return false
		}
	}
	return true
}

// load returns the live lobby for code. The caller must hold e.sem.
func (r *Registry) load(ctx context.Context, e *entry, code string) (*models.Lobby, error) {
	if l := r.cached(e); l != nil {
		if l.ExpiredAt(r.now(), r.ttl) {
			r.expire(ctx, e, l)
			return nil, ErrLobbyNotFound
		}
		return l, nil
	}

	l, err := r.store.FindByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLobbyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	r.setCached(e, l)
	return l, nil
}

func (r *Registry) expire(ctx context.Context, e *entry, l *models.Lobby) {
	r.setCached(e, nil)
	r.logger.WithFields(logrus.Fields{
		"lobby_code": l.Code,
		"updated_at": l.UpdatedAt,
	}).Info("lobby expired")

	r.mu.Lock()
	hook := r.onExpire
	r.mu.Unlock()
	if hook != nil {
		hook(ctx, l.Clone())
	}
}

func (r *Registry) cached(e *entry) *models.Lobby {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.lobby
}

func (r *Registry) setCached(e *entry, l *models.Lobby) {
	r.mu.Lock()
	e.lobby = l
	r.mu.Unlock()
}

// acquire takes the per-code lock, giving up when ctx is done.
func (r *Registry) acquire(ctx context.Context, code string) (*entry, error) {
	r.mu.Lock()
	e, ok := r.entries[code]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.entries[code] = e
	}
	e.refs++
	r.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return e, nil
	case <-ctx.Done():
		r.release(code, e, false)
		return nil, fmt.Errorf("%w: waiting for lobby %s: %w", ErrUnavailable, code, ctx.Err())
	}
}

// release gives the lock back and reclaims the entry once nobody needs it.
func (r *Registry) release(code string, e *entry, held bool) {
	if held {
		<-e.sem
	}
	r.mu.Lock()
	e.refs--
	if e.refs == 0 && e.lobby == nil {
		delete(r.entries, code)
	}
	r.mu.Unlock()
}
