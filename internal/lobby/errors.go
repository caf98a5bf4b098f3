package lobby

import (
	"context"
	"errors"

	"github.com/QuincyvanDeursen/diceonline/internal/dice"
)

var (
	ErrLobbyNotFound           = errors.New("lobby not found")
	ErrPlayerNotFound          = errors.New("player not found in lobby")
	ErrDuplicatePlayerName     = errors.New("player name already taken in lobby")
	ErrCodeAllocationExhausted = errors.New("could not allocate a free lobby code")
	ErrInvalidPlayerName       = errors.New("invalid player name")
	ErrEmptyMessage            = errors.New("message is empty")
	ErrUnknownConnection       = errors.New("connection is not open")

	// ErrUnavailable wraps store and transport failures. The underlying cause stays reachable
	// through errors.Is / errors.As.
	ErrUnavailable = errors.New("lobby service unavailable")
)

// Kind groups errors the way callers are expected to react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindInvalidInput
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}

// KindOf classifies err. A nil error has KindUnknown; use it only on failures.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrLobbyNotFound), errors.Is(err, ErrPlayerNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicatePlayerName), errors.Is(err, ErrCodeAllocationExhausted):
		return KindConflict
	case errors.Is(err, dice.ErrInvalidRange), errors.Is(err, ErrInvalidPlayerName), errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrUnknownConnection):
		return KindInvalidInput
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindUnavailable
	default:
		return KindUnknown
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
