package lobby

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryBindLookupUnbind(t *testing.T) {
	d := NewDirectory()
	d.Bind("c1", "AAAAAA", "Alice")
	d.Bind("c2", "AAAAAA", "Bob")
	d.Bind("", "AAAAAA", "Nobody")

	b, ok := d.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, "Alice", b.PlayerName)
	assert.Equal(t, 2, d.Len())

	b, ok = d.Unbind("c1")
	require.True(t, ok)
	assert.Equal(t, "AAAAAA", b.LobbyCode)
	_, ok = d.Unbind("c1")
	assert.False(t, ok)
	assert.Equal(t, []string{"c2"}, d.Connections("AAAAAA"))
}

func TestDirectoryRebindMovesConnection(t *testing.T) {
	d := NewDirectory()
	_, moved := d.Bind("c1", "AAAAAA", "Alice")
	assert.False(t, moved)
	prev, moved := d.Bind("c1", "BBBBBB", "Alice")
	assert.True(t, moved)
	assert.Equal(t, Binding{ConnectionID: "c1", LobbyCode: "AAAAAA", PlayerName: "Alice"}, prev)

	assert.Empty(t, d.Connections("AAAAAA"))
	assert.Equal(t, []string{"c1"}, d.Connections("BBBBBB"))

	// A stale unbind for the old lobby leaves the new binding alone.
	assert.False(t, d.UnbindIf("c1", "AAAAAA", "Alice"))
	assert.True(t, d.UnbindIf("c1", "BBBBBB", "Alice"))
	assert.Equal(t, 0, d.Len())
}

func TestDirectoryUnbindLobby(t *testing.T) {
	d := NewDirectory()
	d.Bind("c1", "AAAAAA", "Alice")
	d.Bind("c2", "AAAAAA", "Bob")
	d.Bind("c3", "BBBBBB", "Carol")

	ids := d.UnbindLobby("AAAAAA")
	sort.Strings(ids)
	assert.Equal(t, []string{"c1", "c2"}, ids)
	assert.Equal(t, 1, d.Len())
	assert.Empty(t, d.UnbindLobby("AAAAAA"))
}
