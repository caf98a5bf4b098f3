// internal/dice/dice.go
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
)

// ErrInvalidRange is returned when a die has a non-positive minimum or a minimum above its maximum.
var ErrInvalidRange = errors.New("invalid dice range")

// Roller draws independent uniform values over each die's closed interval.
// The underlying ChaCha8 stream is seeded from crypto/rand, so every process gets a fresh sequence.
type Roller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller returns a Roller seeded from the operating system's entropy source.
func NewRoller() *Roller {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand only fails on a broken platform; fall back to the runtime-seeded source.
		binary.LittleEndian.PutUint64(seed[:8], rand.Uint64())
		binary.LittleEndian.PutUint64(seed[8:16], rand.Uint64())
		binary.LittleEndian.PutUint64(seed[16:24], rand.Uint64())
		binary.LittleEndian.PutUint64(seed[24:], rand.Uint64())
	}
	return &Roller{rng: rand.New(rand.NewChaCha8(seed))}
}

// NewSeededRoller builds a deterministic Roller. Only tests should need it.
func NewSeededRoller(seed [32]byte) *Roller {
	return &Roller{rng: rand.New(rand.NewChaCha8(seed))}
}

// Validate checks every die before anything is rolled.
func Validate(dice []models.Die) error {
	for _, d := range dice {
		if d.MinValue <= 0 || d.MinValue > d.MaxValue {
			return fmt.Errorf("%w: die %d has [%d, %d]", ErrInvalidRange, d.Index, d.MinValue, d.MaxValue)
		}
	}
	return nil
}

// Roll returns one result per die, in request order. Nothing is rolled if any die is invalid.
func (r *Roller) Roll(dice []models.Die) ([]models.RollResult, error) {
	if err := Validate(dice); err != nil {
		return nil, err
	}

	results := make([]models.RollResult, len(dice))
	r.mu.Lock()
	for i, d := range dice {
		// IntN(n) is uniform over [0, n), so the upper bound is reachable.
		results[i] = models.RollResult{
			Index: d.Index,
			Value: d.MinValue + r.rng.IntN(d.MaxValue-d.MinValue+1),
		}
	}
	r.mu.Unlock()
	return results, nil
}
