package lobby

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/dice"
	"github.com/QuincyvanDeursen/diceonline/internal/hub"
	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/QuincyvanDeursen/diceonline/internal/store"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubFixture struct {
	svc    *Service
	dir    *Directory
	h      *hub.Hub
	srv    *httptest.Server
	closed chan string
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	logger := quietLogger()
	clock := newFakeClock()
	reg := NewRegistry(store.NewMemoryStore(DefaultTTL, clock.Now, logger), RegistryConfig{TTL: DefaultTTL, Now: clock.Now, Logger: logger})
	dir := NewDirectory()
	h := hub.New(hub.Options{Logger: logger})
	svc := NewService(reg, dir, NewBroadcaster(h, nil, logger), ServiceConfig{
		Roller:   dice.NewRoller(),
		Location: LoadLocation(DefaultTimezone),
		Now:      clock.Now,
		Logger:   logger,
	})

	closed := make(chan string, 4)
	h.SetOnClose(func(id string) {
		svc.OnDisconnect(id)
		closed <- id
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &hubFixture{svc: svc, dir: dir, h: h, srv: srv, closed: closed}
}

func (f *hubFixture) connect(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{hub.Subprotocol}})
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })

	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var ev struct {
		Type string                  `json:"type"`
		Data models.ConnectedPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, models.EventConnected, ev.Type)
	return c, ev.Data.ConnectionID
}

func TestJoinFromUnknownConnectionIsRejected(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	_, alice := f.connect(t)
	code, err := f.svc.CreateLobby(ctx, "Alice", alice, sixSided(1))
	require.NoError(t, err)

	bob, bobID := f.connect(t)
	require.NoError(t, bob.Close(websocket.StatusNormalClosure, "bye"))
	select {
	case got := <-f.closed:
		require.Equal(t, bobID, got)
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not closed")
	}

	for _, id := range []string{bobID, "never-connected"} {
		err = f.svc.JoinLobby(ctx, code, "Bob", id)
		assert.ErrorIs(t, err, ErrUnknownConnection, "connection %q", id)
		assert.Equal(t, KindInvalidInput, KindOf(err))

		_, err = f.svc.CreateLobby(ctx, "Bob", id, sixSided(1))
		assert.ErrorIs(t, err, ErrUnknownConnection, "connection %q", id)
	}

	l, err := f.svc.GetLobby(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, l.PlayerNames())
	assert.Equal(t, 1, f.dir.Len())
	assert.Equal(t, 1, f.h.GroupSize(code))
}

func TestClosedConnectionLeavesItsLobby(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()

	_, alice := f.connect(t)
	code, err := f.svc.CreateLobby(ctx, "Alice", alice, sixSided(1))
	require.NoError(t, err)
	bob, bobID := f.connect(t)
	require.NoError(t, f.svc.JoinLobby(ctx, code, "Bob", bobID))
	assert.Equal(t, 2, f.h.GroupSize(code))

	require.NoError(t, bob.Close(websocket.StatusNormalClosure, "bye"))
	select {
	case <-f.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("connection was not closed")
	}

	l, err := f.svc.GetLobby(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, l.PlayerNames())
	_, bound := f.dir.Lookup(bobID)
	assert.False(t, bound)
}
