package lobby

import (
	"errors"
	"fmt"
	"testing"

	"github.com/QuincyvanDeursen/diceonline/internal/dice"
	"github.com/stretchr/testify/assert"
)

func TestStripCheat(t *testing.T) {
	cases := map[string]string{
		"cheater123filtered": "er123filtered",
		"Alice":              "Alice",
		"CHEATcheatChEaT":    "",
		"chcheateat":         "",
		"MyCheatName":        "MyName",
		"":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripCheat(in), "input %q", in)
	}
}

func TestCodes(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := NewCode()
		assert.NoError(t, err)
		assert.True(t, ValidCode(code), code)
	}
	assert.False(t, ValidCode("ABCDE"))
	assert.False(t, ValidCode("ABCDEI"))
	assert.False(t, ValidCode("ABCDE0"))
	assert.False(t, ValidCode("abcdef"))
	assert.True(t, ValidCode("XYZ234"))
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{ErrLobbyNotFound, KindNotFound},
		{fmt.Errorf("wrapped: %w", ErrPlayerNotFound), KindNotFound},
		{ErrDuplicatePlayerName, KindConflict},
		{ErrCodeAllocationExhausted, KindConflict},
		{dice.ErrInvalidRange, KindInvalidInput},
		{ErrInvalidPlayerName, KindInvalidInput},
		{ErrEmptyMessage, KindInvalidInput},
		{fmt.Errorf("%w: %w", ErrUnavailable, errors.New("boom")), KindUnavailable},
		{errors.New("boom"), KindUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, KindOf(c.err), "%v", c.err)
	}
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "ok", resultLabel(nil))
}
