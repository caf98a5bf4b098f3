package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a real MongoDB, e.g. MONGODB_TEST_URI=mongodb://localhost:27017.
func TestMongoStoreRoundTrip(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := ConnectMongo(ctx, MongoConfig{URI: uri, Database: "diceonline_test"}, nil)
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	coll := client.Database("diceonline_test").Collection("lobbies_" + uuid.NewString()[:8])
	defer coll.Drop(context.Background())

	now := time.Now().UTC().Truncate(time.Millisecond)
	clock := &fakeClock{t: now}
	s := NewMongoStore(coll, time.Hour, clock.Now)
	require.NoError(t, s.EnsureIndexes(ctx))

	l := sampleLobby(uuid.NewString(), "ABCDEF", now)
	require.NoError(t, s.Insert(ctx, l))
	assert.ErrorIs(t, s.Insert(ctx, l), ErrDuplicateID)

	got, err := s.FindByCode(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
	assert.Equal(t, []string{"Alice"}, got.PlayerNames())
	assert.Len(t, got.Dice, 1)

	got.Players = append(got.Players, sampleLobby("", "", now).Players[0])
	got.Players[1].Name = "Bob"
	require.NoError(t, s.ReplaceByID(ctx, got))

	got, err = s.FindByCode(ctx, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, got.PlayerNames())

	clock.Advance(2 * time.Hour)
	_, err = s.FindByCode(ctx, "ABCDEF")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteByID(ctx, l.ID))
	assert.ErrorIs(t, s.ReplaceByID(ctx, l), ErrNotFound)
}
