// internal/hub/hub.go
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/middleware"
	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	Subprotocol = "diceonline"

	defaultBufferSize = 32
	pingInterval      = 30 * time.Second
	pingTimeout       = 15 * time.Second
	writeTimeout      = 5 * time.Second
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrBufferFull        = errors.New("connection send buffer full")
)

// Gauge tracks live connections; a prometheus.Gauge fits.
type Gauge interface {
	Inc()
	Dec()
}

type Options struct {
	// OriginPatterns is handed to websocket.Accept. Empty means same-origin only.
	OriginPatterns []string
	// BufferSize is the per-connection outbound queue length.
	BufferSize  int
	Connections Gauge
	Logger      logrus.FieldLogger
}

// Hub owns every websocket connection and the lobby groups they belong to.
// Outbound messages go through a bounded per-connection queue; a full queue drops the
// message rather than stalling the sender.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	groups  map[string]map[string]*client
	onClose func(connectionID string)
	closing bool
	// active counts ServeHTTP calls, close callbacks included.
	active sync.WaitGroup

	origins    []string
	bufferSize int
	gauge      Gauge
	logger     logrus.FieldLogger
}

type client struct {
	id     string
	out    chan []byte
	cancel context.CancelFunc
	groups map[string]struct{} // guarded by Hub.mu
}

func New(opts Options) *Hub {
	h := &Hub{
		clients:    make(map[string]*client),
		groups:     make(map[string]map[string]*client),
		origins:    opts.OriginPatterns,
		bufferSize: opts.BufferSize,
		gauge:      opts.Connections,
		logger:     opts.Logger,
	}
	if h.bufferSize <= 0 {
		h.bufferSize = defaultBufferSize
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	return h
}

// SetOnClose registers the callback run after a connection has gone away.
func (h *Hub) SetOnClose(fn func(connectionID string)) {
	h.mu.Lock()
	h.onClose = fn
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.active.Add(1)
	h.mu.Unlock()
	defer h.active.Done()

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.WithError(err).Warn("websocket accept failed")
		return
	}
	defer c.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cl := &client{
		id:     uuid.NewString(),
		out:    make(chan []byte, h.bufferSize),
		cancel: cancel,
		groups: make(map[string]struct{}),
	}
	h.register(cl)
	middleware.LogWebSocketConnect(h.logger, r.RemoteAddr, r.URL.Path)

	h.sendConnected(cl)
	go h.writePump(ctx, c, cl)
	err = h.readPump(ctx, c, cl)

	cancel()
	h.unregister(cl)
	middleware.LogWebSocketDisconnect(h.logger, r.RemoteAddr, r.URL.Path, err)

	h.mu.RLock()
	onClose := h.onClose
	h.mu.RUnlock()
	if onClose != nil {
		onClose(cl.id)
	}
	c.Close(websocket.StatusNormalClosure, "")
}

type inbound struct {
	Type string `json:"type"`
}

func (h *Hub) readPump(ctx context.Context, c *websocket.Conn, cl *client) error {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var in inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			h.enqueue(cl, models.Event{Type: models.EventError, Data: models.ErrorPayload{Message: "invalid JSON"}})
			continue
		}
		switch in.Type {
		case "GetConnectionId":
			h.sendConnected(cl)
		default:
			h.enqueue(cl, models.Event{Type: models.EventError, Data: models.ErrorPayload{Message: "unknown message type " + in.Type}})
		}
	}
}

func (h *Hub) writePump(ctx context.Context, c *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-cl.out:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.WithError(err).WithField("connection_id", cl.id).Debug("websocket write failed")
				cl.cancel()
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.WithError(err).WithField("connection_id", cl.id).Debug("websocket ping failed")
				cl.cancel()
				return
			}
		}
	}
}

func (h *Hub) sendConnected(cl *client) {
	h.enqueue(cl, models.Event{
		Type: models.EventConnected,
		Data: models.ConnectedPayload{ConnectionID: cl.id},
	})
}

func (h *Hub) enqueue(cl *client, ev models.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).WithField("event", ev.Type).Error("could not encode event")
		return false
	}
	return offer(cl, data)
}

func offer(cl *client, data []byte) bool {
	select {
	case cl.out <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
	if h.gauge != nil {
		h.gauge.Inc()
	}
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl.id)
	for g := range cl.groups {
		h.removeLocked(cl.id, g)
	}
	h.mu.Unlock()
	if h.gauge != nil {
		h.gauge.Dec()
	}
}

// AddToGroup puts a live connection into group.
func (h *Hub) AddToGroup(connectionID, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cl, ok := h.clients[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*client)
		h.groups[group] = members
	}
	members[connectionID] = cl
	cl.groups[group] = struct{}{}
	return nil
}

func (h *Hub) RemoveFromGroup(connectionID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(connectionID, group)
}

func (h *Hub) removeLocked(connectionID, group string) {
	if members, ok := h.groups[group]; ok {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if cl, ok := h.clients[connectionID]; ok {
		delete(cl.groups, group)
	}
}

// SendToGroup queues ev for every member of group except exclude and returns how many
// members had no room for it.
func (h *Hub) SendToGroup(ctx context.Context, group string, ev models.Event, exclude string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	missed := 0
	for id, cl := range h.groups[group] {
		if id == exclude {
			continue
		}
		if !offer(cl, data) {
			missed++
		}
	}
	return missed, nil
}

// Send queues ev for a single connection.
func (h *Hub) Send(ctx context.Context, connectionID string, ev models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	cl, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	if !offer(cl, data) {
		return ErrBufferFull
	}
	return nil
}

// Has reports whether connectionID is open.
func (h *Hub) Has(connectionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connectionID]
	return ok
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupSize reports how many connections are in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Shutdown refuses new connections, asks every open one to close and waits until their
// close callbacks have returned or ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for _, cl := range h.clients {
		cl.cancel()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
