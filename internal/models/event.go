package models

import "time"

// Event names delivered to websocket clients.
const (
	EventConnected    = "Connected"
	EventPlayerJoined = "PlayerJoined"
	EventPlayerLeft   = "PlayerLeft"
	EventDiceRolled   = "DiceRolled"
	EventMessageSent  = "MessageSent"
	EventLobbyExpired = "LobbyExpired"
	EventError        = "Error"
)

// Event is the envelope written to every websocket client.
type Event struct {
	Type      string `json:"type"`
	LobbyCode string `json:"lobbyCode,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type PlayerPayload struct {
	PlayerName string `json:"playerName"`
}

type DiceRolledPayload struct {
	PlayerName string       `json:"playerName"`
	Results    []RollResult `json:"results"`
}

type MessagePayload struct {
	PlayerName string    `json:"playerName"`
	Message    string    `json:"message"`
	SentAt     time.Time `json:"sentAt"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
