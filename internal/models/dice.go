// internal/models/dice.go
package models

// Die describes one die of a lobby: it rolls uniformly over [MinValue, MaxValue].
type Die struct {
	Index    int `json:"index" bson:"index"`
	MinValue int `json:"minValue" bson:"minValue"`
	MaxValue int `json:"maxValue" bson:"maxValue"`
}

// DiceSettings is the create-time shorthand for Count identical dice.
type DiceSettings struct {
	// Count is how many dice the lobby plays with.
	Count int `json:"count"`

	// MinValue is the lowest face of every die (default 1).
	MinValue int `json:"minValue"`

	// MaxValue is the highest face of every die (default 6).
	MaxValue int `json:"maxValue"`
}

// DefaultDiceSettings mirrors a single classic six-sided die.
func DefaultDiceSettings() DiceSettings {
	return DiceSettings{Count: 1, MinValue: 1, MaxValue: 6}
}

// Expand turns the settings into the per-die list stored on a lobby, indexed from 0.
func (s DiceSettings) Expand() []Die {
	dice := make([]Die, 0, s.Count)
	for i := 0; i < s.Count; i++ {
		dice = append(dice, Die{Index: i, MinValue: s.MinValue, MaxValue: s.MaxValue})
	}
	return dice
}

// RollResult is the outcome of a single die.
type RollResult struct {
	Index int `json:"index"`
	Value int `json:"value"`
}
