// internal/store/store.go
package store

import (
	"context"
	"errors"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
)

var (
	// ErrNotFound is returned when no live document matches.
	ErrNotFound = errors.New("lobby document not found")

	// ErrDuplicateID is returned by Insert when the id is already taken.
	ErrDuplicateID = errors.New("lobby document id already exists")
)

// LobbyStore is a keyed document store for lobbies with TTL eviction on updatedAt.
// Implementations must never return a document whose updatedAt is past the TTL,
// even if the engine has not physically removed it yet.
type LobbyStore interface {
	FindByCode(ctx context.Context, code string) (*models.Lobby, error)
	Insert(ctx context.Context, l *models.Lobby) error
	// ReplaceByID overwrites every mutable field of the document with the same id.
	ReplaceByID(ctx context.Context, l *models.Lobby) error
	DeleteByID(ctx context.Context, id string) error
}
