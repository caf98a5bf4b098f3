// internal/lobby/service.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/dice"
	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/sirupsen/logrus"
)

const DefaultDisconnectTimeout = 5 * time.Second

// Roller resolves dice; *dice.Roller is the production implementation.
type Roller interface {
	Roll(dice []models.Die) ([]models.RollResult, error)
}

// ActivitySink receives a record of every committed operation. Failures are logged only.
type ActivitySink interface {
	Push(ctx context.Context, a models.Activity) error
}

// ServiceConfig wires the optional collaborators of a Service.
type ServiceConfig struct {
	Roller            Roller
	Activity          ActivitySink
	Recorder          Recorder
	Location          *time.Location
	Now               func() time.Time
	DisconnectTimeout time.Duration
	Logger            logrus.FieldLogger
}

// Service is the session lifecycle coordinator. Each operation runs under the lobby's
// lock: persist first, then update the directory, then notify the group.
type Service struct {
	registry    *Registry
	directory   *Directory
	broadcaster *Broadcaster

	roller            Roller
	activity          ActivitySink
	recorder          Recorder
	loc               *time.Location
	now               func() time.Time
	disconnectTimeout time.Duration
	logger            logrus.FieldLogger
}

func NewService(reg *Registry, dir *Directory, bc *Broadcaster, cfg ServiceConfig) *Service {
	s := &Service{
		registry:          reg,
		directory:         dir,
		broadcaster:       bc,
		roller:            cfg.Roller,
		activity:          cfg.Activity,
		recorder:          cfg.Recorder,
		loc:               cfg.Location,
		now:               cfg.Now,
		disconnectTimeout: cfg.DisconnectTimeout,
		logger:            cfg.Logger,
	}
	if s.roller == nil {
		s.roller = dice.NewRoller()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.loc == nil {
		s.loc = LoadLocation(DefaultTimezone)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.disconnectTimeout <= 0 {
		s.disconnectTimeout = DefaultDisconnectTimeout
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	reg.SetOnExpire(s.lobbyExpired)
	return s
}

// CreateLobby opens a lobby with playerName as its first member and returns the join code.
func (s *Service) CreateLobby(ctx context.Context, playerName, connectionID string, settings models.DiceSettings) (string, error) {
	name, err := cleanName(playerName)
	if err != nil {
		return "", s.observe("create", err)
	}
	if settings.Count < 1 {
		return "", s.observe("create", fmt.Errorf("%w: dice count %d", dice.ErrInvalidRange, settings.Count))
	}
	dieList := settings.Expand()
	if err := dice.Validate(dieList); err != nil {
		return "", s.observe("create", err)
	}

	if !s.broadcaster.Live(connectionID) {
		return "", s.observe("create", fmt.Errorf("%w: %q", ErrUnknownConnection, connectionID))
	}

	var (
		prev   Binding
		moved  bool
		subErr error
	)
	first := models.Player{Name: name, ConnectionID: connectionID}
	l, err := s.registry.Create(ctx, dieList, first, func(l *models.Lobby) {
		prev, moved = s.directory.Bind(connectionID, l.Code, name)
		subErr = s.broadcaster.Subscribe(connectionID, l.Code)
	})
	if err != nil {
		return "", s.observe("create", err)
	}
	if subErr != nil {
		// The connection closed after the check above.
		s.undoJoin(ctx, l.Code, name, connectionID)
		return "", s.observe("create", subErr)
	}
	if moved {
		s.leavePrevious(ctx, prev, l.Code, name)
	}

	s.recorder.LobbyCreated()
	s.log("create", l.Code, connectionID).WithField("player", name).Info("lobby created")
	s.record(ctx, l, models.ActivityLobbyCreated, name, map[string]interface{}{"dice": l.Dice})
	return l.Code, s.observe("create", nil)
}

// JoinLobby adds playerName to the lobby and tells everyone else.
func (s *Service) JoinLobby(ctx context.Context, code, playerName, connectionID string) error {
	name, err := cleanName(playerName)
	if err != nil {
		return s.observe("join", err)
	}

	if !s.broadcaster.Live(connectionID) {
		return s.observe("join", fmt.Errorf("%w: %q", ErrUnknownConnection, connectionID))
	}

	var (
		prev   Binding
		moved  bool
		subErr error
	)
	l, err := s.registry.Join(ctx, code, models.Player{Name: name, ConnectionID: connectionID}, func(l *models.Lobby) {
		prev, moved = s.directory.Bind(connectionID, code, name)
		if subErr = s.broadcaster.Subscribe(connectionID, code); subErr != nil {
			return
		}
		s.broadcaster.Broadcast(ctx, code, models.EventPlayerJoined, models.PlayerPayload{PlayerName: name}, connectionID)
	})
	if err != nil {
		return s.observe("join", err)
	}
	if subErr != nil {
		s.undoJoin(ctx, code, name, connectionID)
		return s.observe("join", subErr)
	}
	if moved {
		s.leavePrevious(ctx, prev, code, name)
	}

	s.log("join", code, connectionID).WithField("player", name).Info("player joined lobby")
	s.record(ctx, l, models.ActivityPlayerJoined, name, nil)
	return s.observe("join", nil)
}

// LeaveLobby removes the player by name. The connection that player joined with is
// released from the lobby's group.
func (s *Service) LeaveLobby(ctx context.Context, code, playerName, connectionID string) error {
	name, err := cleanName(playerName)
	if err != nil {
		return s.observe("leave", err)
	}

	l, removed, err := s.registry.Leave(ctx, code, name, "", s.leftCommit(ctx, code))
	if err != nil {
		return s.observe("leave", err)
	}

	s.log("leave", code, connectionID).WithField("player", removed.Name).Info("player left lobby")
	s.afterLeave(ctx, l, removed)
	return s.observe("leave", nil)
}

// OnDisconnect handles a closed transport connection. Unknown connections are ignored.
// It never blocks longer than the disconnect timeout.
func (s *Service) OnDisconnect(connectionID string) {
	b, ok := s.directory.Lookup(connectionID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.disconnectTimeout)
	defer cancel()

	l, removed, err := s.registry.Leave(ctx, b.LobbyCode, b.PlayerName, connectionID, s.leftCommit(ctx, b.LobbyCode))
	s.observe("disconnect", err)
	logger := s.log("disconnect", b.LobbyCode, connectionID).WithField("player", b.PlayerName)
	switch {
	case err == nil:
		logger.Info("player disconnected from lobby")
		s.afterLeave(ctx, l, removed)
		return
	case KindOf(err) == KindNotFound:
		logger.Debug("disconnected player was already gone")
	default:
		logger.WithError(err).Warn("failed to remove disconnected player")
	}
	// The connection is dead either way; keep the index free of it.
	s.directory.UnbindIf(connectionID, b.LobbyCode, b.PlayerName)
}

func (s *Service) leftCommit(ctx context.Context, code string) LeaveCommitFunc {
	return func(l *models.Lobby, removed models.Player) {
		s.directory.UnbindIf(removed.ConnectionID, code, removed.Name)
		// The leaver still gets its own PlayerLeft.
		s.broadcaster.Broadcast(ctx, code, models.EventPlayerLeft, models.PlayerPayload{PlayerName: removed.Name}, "")
		if b, ok := s.directory.Lookup(removed.ConnectionID); !ok || b.LobbyCode != code {
			s.broadcaster.Unsubscribe(removed.ConnectionID, code)
		}
		if len(l.Players) == 0 {
			for _, id := range s.directory.UnbindLobby(code) {
				s.broadcaster.Unsubscribe(id, code)
			}
		}
	}
}

// undoJoin takes back a membership whose connection could not be subscribed. Nobody was
// told about the join, so nothing is broadcast.
func (s *Service) undoJoin(ctx context.Context, code, name, connectionID string) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.disconnectTimeout)
	defer cancel()

	_, _, err := s.registry.Leave(uctx, code, name, connectionID, func(l *models.Lobby, removed models.Player) {
		s.directory.UnbindIf(removed.ConnectionID, code, removed.Name)
		if len(l.Players) == 0 {
			s.directory.UnbindLobby(code)
		}
	})
	if err != nil {
		s.log("undo_join", code, connectionID).WithError(err).Warn("could not remove player of a closed connection")
		s.directory.UnbindIf(connectionID, code, name)
	}
}

// leavePrevious removes the player a connection was bound to before it joined code as
// name, so a connection is a member of at most one lobby.
func (s *Service) leavePrevious(ctx context.Context, prev Binding, code, name string) {
	if prev.LobbyCode == code && prev.PlayerName == name {
		return
	}
	l, removed, err := s.registry.Leave(ctx, prev.LobbyCode, prev.PlayerName, prev.ConnectionID, s.leftCommit(ctx, prev.LobbyCode))
	logger := s.log("leave", prev.LobbyCode, prev.ConnectionID).WithField("player", prev.PlayerName)
	switch {
	case err == nil:
		logger.Info("connection moved to another lobby")
		s.afterLeave(ctx, l, removed)
	case KindOf(err) == KindNotFound:
	default:
		logger.WithError(err).Warn("failed to leave previous lobby")
	}
}

func (s *Service) afterLeave(ctx context.Context, l *models.Lobby, removed models.Player) {
	s.record(ctx, l, models.ActivityPlayerLeft, removed.Name, nil)
	if len(l.Players) == 0 {
		s.record(ctx, l, models.ActivityLobbyClosed, "", map[string]interface{}{"reason": "empty"})
	}
}

// RollDice rolls for a member of the lobby. An empty dice list rolls the lobby's own dice.
// The whole group, roller included, receives the results.
func (s *Service) RollDice(ctx context.Context, code, playerName string, requested []models.Die) ([]models.RollResult, error) {
	name, err := cleanName(playerName)
	if err != nil {
		return nil, s.observe("roll", err)
	}

	var (
		results []models.RollResult
		lobby   *models.Lobby
	)
	err = s.registry.View(ctx, code, func(l *models.Lobby) error {
		idx := l.PlayerIndex(name)
		if idx < 0 {
			return ErrPlayerNotFound
		}
		toRoll := requested
		if len(toRoll) == 0 {
			toRoll = l.Dice
		}
		res, err := s.roller.Roll(toRoll)
		if err != nil {
			return err
		}
		results, lobby = res, l
		s.broadcaster.Broadcast(ctx, code, models.EventDiceRolled, models.DiceRolledPayload{
			PlayerName: l.Players[idx].Name,
			Results:    res,
		}, "")
		return nil
	})
	if err != nil {
		return nil, s.observe("roll", err)
	}

	s.recorder.DiceRolled(len(results))
	s.record(ctx, lobby, models.ActivityDiceRolled, name, map[string]interface{}{"results": results})
	return results, s.observe("roll", nil)
}

// SendMessage relays a chat message to the whole lobby.
func (s *Service) SendMessage(ctx context.Context, code, playerName, text string) error {
	name, err := cleanName(playerName)
	if err != nil {
		return s.observe("message", err)
	}
	if strings.TrimSpace(text) == "" {
		return s.observe("message", ErrEmptyMessage)
	}

	var lobby *models.Lobby
	err = s.registry.View(ctx, code, func(l *models.Lobby) error {
		lobby = l
		s.broadcaster.Broadcast(ctx, code, models.EventMessageSent, models.MessagePayload{
			PlayerName: name,
			Message:    text,
			SentAt:     s.now().In(s.loc),
		}, "")
		return nil
	})
	if err != nil {
		return s.observe("message", err)
	}

	s.record(ctx, lobby, models.ActivityMessageSent, name, map[string]interface{}{"message": text})
	return s.observe("message", nil)
}

// GetLobby returns the live lobby with timestamps in the service's civil timezone.
func (s *Service) GetLobby(ctx context.Context, code string) (*models.Lobby, error) {
	l, err := s.registry.Get(ctx, code)
	if err != nil {
		return nil, s.observe("get", err)
	}
	l.CreatedAt = l.CreatedAt.In(s.loc)
	l.UpdatedAt = l.UpdatedAt.In(s.loc)
	return l, s.observe("get", nil)
}

// Sweep drops expired lobbies from memory; their members get LobbyExpired.
func (s *Service) Sweep(ctx context.Context) int {
	return s.registry.Sweep(ctx)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.logger.WithField("expired", n).Info("swept expired lobbies")
			}
		}
	}
}

func (s *Service) lobbyExpired(ctx context.Context, l *models.Lobby) {
	for _, id := range s.directory.UnbindLobby(l.Code) {
		s.broadcaster.SendTo(ctx, id, l.Code, models.EventLobbyExpired, struct{}{})
		s.broadcaster.Unsubscribe(id, l.Code)
	}
	s.record(ctx, l, models.ActivityLobbyClosed, "", map[string]interface{}{"reason": "expired"})
}

func (s *Service) record(ctx context.Context, l *models.Lobby, typ models.ActivityType, player string, payload map[string]interface{}) {
	if s.activity == nil || l == nil {
		return
	}
	a := models.NewActivity(l, typ, player, payload, s.now())
	if err := s.activity.Push(ctx, a); err != nil {
		s.log(string(typ), l.Code, "").WithError(err).Debug("activity not recorded")
	}
}

func (s *Service) observe(op string, err error) error {
	s.recorder.Operation(op, resultLabel(err))
	if err != nil && !errors.Is(err, ErrUnavailable) && KindOf(err) == KindUnavailable {
		// Context errors from the store surface as Unavailable too.
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (s *Service) log(op, code, connectionID string) *logrus.Entry {
	fields := logrus.Fields{"op": op, "lobby_code": code}
	if connectionID != "" {
		fields["connection_id"] = connectionID
	}
	return s.logger.WithFields(fields)
}
