// internal/handlers/lobby.go
package handlers

import (
	"context"
	"net/http"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// LobbyService is the slice of lobby.Service the HTTP layer drives.
type LobbyService interface {
	CreateLobby(ctx context.Context, playerName, connectionID string, settings models.DiceSettings) (string, error)
	JoinLobby(ctx context.Context, code, playerName, connectionID string) error
	LeaveLobby(ctx context.Context, code, playerName, connectionID string) error
	RollDice(ctx context.Context, code, playerName string, dice []models.Die) ([]models.RollResult, error)
	SendMessage(ctx context.Context, code, playerName, text string) error
	GetLobby(ctx context.Context, code string) (*models.Lobby, error)
}

type diceSettingsRequest struct {
	Count    int `json:"count" validate:"min=1,max=8"`
	MinValue int `json:"minValue" validate:"gt=0"`
	MaxValue int `json:"maxValue" validate:"gtfield=MinValue"`
}

type createLobbyRequest struct {
	PlayerName   string              `json:"playerName" validate:"required,max=20,alpha"`
	ConnectionID string              `json:"connectionId" validate:"required"`
	DiceSettings diceSettingsRequest `json:"diceSettings"`
}

type createLobbyResponse struct {
	LobbyCode string `json:"lobbyCode"`
}

type membershipRequest struct {
	LobbyCode    string `json:"lobbyCode" validate:"len=6,alphanum"`
	PlayerName   string `json:"playerName" validate:"required,max=20,alpha"`
	ConnectionID string `json:"connectionId" validate:"required"`
}

type dieRequest struct {
	Index    int `json:"index" validate:"gte=0"`
	MinValue int `json:"minValue" validate:"gt=0"`
	MaxValue int `json:"maxValue"`
}

type rollDiceRequest struct {
	LobbyCode  string       `json:"lobbyCode" validate:"len=6,alphanum"`
	PlayerName string       `json:"playerName" validate:"required,max=20,alpha"`
	Dices      []dieRequest `json:"dices" validate:"max=64,dive"`
}

type sendMessageRequest struct {
	LobbyCode  string `json:"lobbyCode" validate:"len=6,alphanum"`
	PlayerName string `json:"playerName" validate:"required,max=20,alpha"`
	Message    string `json:"message" validate:"required,max=200"`
}

func (r *membershipRequest) normalize()  { r.LobbyCode = normalizeCode(r.LobbyCode) }
func (r *rollDiceRequest) normalize()    { r.LobbyCode = normalizeCode(r.LobbyCode) }
func (r *sendMessageRequest) normalize() { r.LobbyCode = normalizeCode(r.LobbyCode) }

// bind decodes and validates a request body. It writes the 400 itself on failure.
func bind(w http.ResponseWriter, r *http.Request, v *Validator, dst any) bool {
	if !decode(w, r, dst) {
		return false
	}
	if n, ok := dst.(interface{ normalize() }); ok {
		n.normalize()
	}
	if errs := v.Check(dst); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, validationResponse{Errors: errs})
		return false
	}
	return true
}

// CreateLobbyHandler opens a lobby for the requesting player and answers with its code.
func CreateLobbyHandler(svc LobbyService, v *Validator, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := createLobbyRequest{DiceSettings: diceSettingsRequest(models.DefaultDiceSettings())}
		if !bind(w, r, v, &req) {
			return
		}
		code, err := svc.CreateLobby(r.Context(), req.PlayerName, req.ConnectionID, models.DiceSettings(req.DiceSettings))
		if err != nil {
			writeServiceError(w, logger, "create", err)
			return
		}
		writeJSON(w, http.StatusOK, createLobbyResponse{LobbyCode: code})
	}
}

func JoinLobbyHandler(svc LobbyService, v *Validator, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req membershipRequest
		if !bind(w, r, v, &req) {
			return
		}
		if err := svc.JoinLobby(r.Context(), req.LobbyCode, req.PlayerName, req.ConnectionID); err != nil {
			writeServiceError(w, logger, "join", err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func LeaveLobbyHandler(svc LobbyService, v *Validator, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req membershipRequest
		if !bind(w, r, v, &req) {
			return
		}
		if err := svc.LeaveLobby(r.Context(), req.LobbyCode, req.PlayerName, req.ConnectionID); err != nil {
			writeServiceError(w, logger, "leave", err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// RollDiceHandler rolls the requested dice, or the lobby's own dice when none are sent.
func RollDiceHandler(svc LobbyService, v *Validator, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rollDiceRequest
		if !bind(w, r, v, &req) {
			return
		}

		dice := make([]models.Die, 0, len(req.Dices))
		for _, d := range req.Dices {
			dice = append(dice, models.Die(d))
		}
		results, err := svc.RollDice(r.Context(), req.LobbyCode, req.PlayerName, dice)
		if err != nil {
			writeServiceError(w, logger, "roll", err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func SendMessageHandler(svc LobbyService, v *Validator, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if !bind(w, r, v, &req) {
			return
		}
		if err := svc.SendMessage(r.Context(), req.LobbyCode, req.PlayerName, req.Message); err != nil {
			writeServiceError(w, logger, "message", err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetLobbyHandler returns the live lobby addressed by the {lobbyCode} path parameter.
func GetLobbyHandler(svc LobbyService, logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := normalizeCode(chi.URLParam(r, "lobbyCode"))
		l, err := svc.GetLobby(r.Context(), code)
		if err != nil {
			writeServiceError(w, logger, "get", err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}
