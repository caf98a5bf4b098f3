// internal/lobby/broadcaster.go
package lobby

import (
	"context"
	"fmt"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/sirupsen/logrus"
)

// Transport is the realtime group messaging the broadcaster fans out through.
type Transport interface {
	AddToGroup(connectionID, group string) error
	RemoveFromGroup(connectionID, group string)
	// SendToGroup delivers ev to every member of group except exclude and reports how many
	// members missed it.
	SendToGroup(ctx context.Context, group string, ev models.Event, exclude string) (int, error)
	Send(ctx context.Context, connectionID string, ev models.Event) error
	// Has reports whether connectionID is an open connection.
	Has(connectionID string) bool
}

// Recorder receives operational counters. The metrics package provides the real one.
type Recorder interface {
	LobbyCreated()
	Operation(op, result string)
	DiceRolled(n int)
	DeliveryGap(event string, n int)
}

type nopRecorder struct{}

func (nopRecorder) LobbyCreated()            {}
func (nopRecorder) Operation(string, string) {}
func (nopRecorder) DiceRolled(int)           {}
func (nopRecorder) DeliveryGap(string, int)  {}

// Broadcaster sends lobby events after their mutation has committed. Delivery is best
// effort: failures are logged and counted as gaps, never returned.
type Broadcaster struct {
	transport Transport
	recorder  Recorder
	logger    logrus.FieldLogger
}

func NewBroadcaster(t Transport, rec Recorder, logger logrus.FieldLogger) *Broadcaster {
	if rec == nil {
		rec = nopRecorder{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Broadcaster{transport: t, recorder: rec, logger: logger}
}

// Broadcast sends event to the lobby's group, skipping exclude when it is non-empty.
func (b *Broadcaster) Broadcast(ctx context.Context, code, event string, payload any, exclude string) {
	ev := models.Event{Type: event, LobbyCode: code, Data: payload}
	missed, err := b.transport.SendToGroup(ctx, code, ev, exclude)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"lobby_code": code,
			"event":      event,
		}).Warn("broadcast failed")
		if missed == 0 {
			missed = 1
		}
	}
	if missed > 0 {
		b.logger.WithFields(logrus.Fields{
			"lobby_code": code,
			"event":      event,
			"missed":     missed,
		}).Debug("broadcast delivery gap")
		b.recorder.DeliveryGap(event, missed)
	}
}

// SendTo delivers event to a single connection.
func (b *Broadcaster) SendTo(ctx context.Context, connectionID, code, event string, payload any) {
	ev := models.Event{Type: event, LobbyCode: code, Data: payload}
	if err := b.transport.Send(ctx, connectionID, ev); err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"lobby_code":    code,
			"connection_id": connectionID,
			"event":         event,
		}).Debug("direct send failed")
		b.recorder.DeliveryGap(event, 1)
	}
}

// Live reports whether connectionID is open on the transport.
func (b *Broadcaster) Live(connectionID string) bool {
	return connectionID != "" && b.transport.Has(connectionID)
}

// Subscribe adds connectionID to the lobby's group. It fails with ErrUnknownConnection
// when the transport does not know the connection, e.g. because it already closed.
func (b *Broadcaster) Subscribe(connectionID, code string) error {
	if connectionID == "" {
		return ErrUnknownConnection
	}
	if err := b.transport.AddToGroup(connectionID, code); err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"lobby_code":    code,
			"connection_id": connectionID,
		}).Debug("could not add connection to lobby group")
		return fmt.Errorf("%w: %w", ErrUnknownConnection, err)
	}
	return nil
}

func (b *Broadcaster) Unsubscribe(connectionID, code string) {
	if connectionID == "" {
		return
	}
	b.transport.RemoveFromGroup(connectionID, code)
}
