package lobby

import (
	"context"
	"testing"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/QuincyvanDeursen/diceonline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCodeAllocationIsBounded(t *testing.T) {
	calls := 0
	f := newFixture(t, func(c *RegistryConfig) {
		c.CodeAttempts = 3
		c.NewCode = func() (string, error) {
			calls++
			return "AAAAAA", nil
		}
	})
	ctx := context.Background()

	_, err := f.svc.CreateLobby(ctx, "Alice", "c1", sixSided(1))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = f.svc.CreateLobby(ctx, "Bob", "c2", sixSided(1))
	assert.ErrorIs(t, err, ErrCodeAllocationExhausted)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, 4, calls)
}

func TestRegistryRetriesOnCollision(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	f := newFixture(t, func(c *RegistryConfig) {
		c.NewCode = func() (string, error) {
			code := codes[0]
			codes = codes[1:]
			return code, nil
		}
	})
	ctx := context.Background()

	first, err := f.svc.CreateLobby(ctx, "Alice", "c1", sixSided(1))
	require.NoError(t, err)
	second, err := f.svc.CreateLobby(ctx, "Bob", "c2", sixSided(1))
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first)
	assert.Equal(t, "BBBBBB", second)
}

func TestRegistryReusesExpiredCode(t *testing.T) {
	f := newFixture(t, func(c *RegistryConfig) {
		c.NewCode = func() (string, error) { return "CCCCCC", nil }
	})
	ctx := context.Background()

	_, err := f.svc.CreateLobby(ctx, "Alice", "c1", sixSided(1))
	require.NoError(t, err)
	f.clock.Advance(DefaultTTL + 1)

	_, err = f.svc.CreateLobby(ctx, "Bob", "c2", sixSided(1))
	require.NoError(t, err)

	l, err := f.svc.GetLobby(ctx, "CCCCCC")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, l.PlayerNames())
}

func TestRegistryReclaimsIdleEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, code := range []string{"QQQQQQ", "WWWWWW", "EEEEEE"} {
		_, err := f.reg.Get(ctx, code)
		assert.ErrorIs(t, err, ErrLobbyNotFound)
	}

	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	assert.Empty(t, f.reg.entries)
}

func TestRegistryLoadsFromStoreOnMiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.clock.Now()
	require.NoError(t, f.store.Insert(ctx, &models.Lobby{
		ID:        "seeded",
		Code:      "DDDDDD",
		Players:   []models.Player{{Name: "Alice", ConnectionID: "old"}},
		Dice:      sixSided(1).Expand(),
		CreatedAt: now,
		UpdatedAt: now,
	}))

	l, err := f.reg.Join(ctx, "DDDDDD", models.Player{Name: "Bob", ConnectionID: "c2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, l.PlayerNames())
	assert.Equal(t, 1, f.reg.Cached())
}

func TestRegistryLeaveExactPairMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.reg.Create(ctx, sixSided(1).Expand(), models.Player{Name: "Alice", ConnectionID: "c1"}, nil)
	require.NoError(t, err)
	_, err = f.reg.Join(ctx, l.Code, models.Player{Name: "Bob", ConnectionID: "c2"}, nil)
	require.NoError(t, err)

	// Wrong connection for the name: nothing is removed.
	_, _, err = f.reg.Leave(ctx, l.Code, "Bob", "c1", nil)
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	var committed []string
	after, removed, err := f.reg.Leave(ctx, l.Code, "Bob", "c2", func(l *models.Lobby, p models.Player) {
		committed = append(committed, p.Name)
	})
	require.NoError(t, err)
	assert.Equal(t, models.Player{Name: "Bob", ConnectionID: "c2"}, removed)
	assert.Equal(t, []string{"Alice"}, after.PlayerNames())
	assert.Equal(t, []string{"Bob"}, committed)
}

func TestRegistryCommitHookSeesCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	l, err := f.reg.Create(ctx, sixSided(1).Expand(), models.Player{Name: "Alice", ConnectionID: "c1"}, func(l *models.Lobby) {
		l.Players[0].Name = "Tampered"
	})
	require.NoError(t, err)

	got, err := f.reg.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, got.PlayerNames())
}

// cancellingStore cancels the caller right as a write reaches the store.
type cancellingStore struct {
	*store.MemoryStore
	cancel context.CancelFunc
}

func (s *cancellingStore) Insert(ctx context.Context, l *models.Lobby) error {
	s.cancel()
	return s.MemoryStore.Insert(ctx, l)
}

func (s *cancellingStore) ReplaceByID(ctx context.Context, l *models.Lobby) error {
	s.cancel()
	return s.MemoryStore.ReplaceByID(ctx, l)
}

func TestRegistryWriteOutlivesCallerCancel(t *testing.T) {
	clock := newFakeClock()
	logger := quietLogger()
	st := &cancellingStore{MemoryStore: store.NewMemoryStore(DefaultTTL, clock.Now, logger)}
	reg := NewRegistry(st, RegistryConfig{TTL: DefaultTTL, Now: clock.Now, Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	l, err := reg.Create(ctx, []models.Die{{MinValue: 1, MaxValue: 6}}, models.Player{Name: "Alice", ConnectionID: "c1"}, nil)
	require.NoError(t, err)

	ctx, cancel = context.WithCancel(context.Background())
	st.cancel = cancel
	_, err = reg.Join(ctx, l.Code, models.Player{Name: "Bob", ConnectionID: "c2"}, nil)
	require.NoError(t, err)

	// A fresh registry only sees what the store holds.
	fresh := NewRegistry(st, RegistryConfig{TTL: DefaultTTL, Now: clock.Now, Logger: logger})
	got, err := fresh.Get(context.Background(), l.Code)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, got.PlayerNames())
}
