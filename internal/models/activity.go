package models

import "time"

// ActivityType names a committed lobby operation recorded for history.
type ActivityType string

const (
	ActivityLobbyCreated ActivityType = "lobby_created"
	ActivityPlayerJoined ActivityType = "player_joined"
	ActivityPlayerLeft   ActivityType = "player_left"
	ActivityDiceRolled   ActivityType = "dice_rolled"
	ActivityMessageSent  ActivityType = "message_sent"
	ActivityLobbyClosed  ActivityType = "lobby_closed"
)

// Activity is the record pushed to the activity queue after an operation commits.
type Activity struct {
	LobbyID    string                 `json:"lobby_id"`
	LobbyCode  string                 `json:"lobby_code"`
	Type       ActivityType           `json:"type"`
	PlayerName string                 `json:"player_name,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  int64                  `json:"timestamp"` // epoch millis
}

// NewActivity stamps an activity with the given time.
func NewActivity(l *Lobby, typ ActivityType, player string, payload map[string]interface{}, at time.Time) Activity {
	return Activity{
		LobbyID:    l.ID,
		LobbyCode:  l.Code,
		Type:       typ,
		PlayerName: player,
		Payload:    payload,
		Timestamp:  at.UnixMilli(),
	}
}
