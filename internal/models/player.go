package models

// Player is a member of exactly one lobby. It has no identity outside that lobby's
// player list.
type Player struct {
	Name         string `json:"name" bson:"name"`
	ConnectionID string `json:"connectionId" bson:"connectionId"`
}
