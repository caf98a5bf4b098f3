// internal/models/lobby.go
package models

import (
	"strings"
	"time"
)

// Lobby is the persisted state of a single dice lobby. Players are kept in join order,
// which is also the display and turn order.
type Lobby struct {
	ID        string    `json:"id" bson:"_id"`
	Code      string    `json:"lobbyCode" bson:"code"`
	Players   []Player  `json:"players" bson:"players"`
	Dice      []Die     `json:"dices" bson:"dice"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"` // drives TTL eviction
}

// Clone returns a deep copy so callers can mutate the result without touching shared state.
func (l *Lobby) Clone() *Lobby {
	if l == nil {
		return nil
	}
	c := *l
	c.Players = append([]Player(nil), l.Players...)
	c.Dice = append([]Die(nil), l.Dice...)
	return &c
}

// PlayerIndex returns the position of the player whose name equals name case-insensitively,
// or -1 if there is none.
func (l *Lobby) PlayerIndex(name string) int {
	for i, p := range l.Players {
		if strings.EqualFold(p.Name, name) {
			return i
		}
	}
	return -1
}

// HasPlayer reports whether a case-insensitively equal name is already present.
func (l *Lobby) HasPlayer(name string) bool {
	return l.PlayerIndex(name) >= 0
}

// PlayerNames lists the player names in join order.
func (l *Lobby) PlayerNames() []string {
	names := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		names = append(names, p.Name)
	}
	return names
}

// ExpiredAt reports whether the lobby's last update is older than ttl at the instant now.
func (l *Lobby) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return !l.UpdatedAt.After(now.Add(-ttl))
}
