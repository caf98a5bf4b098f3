// internal/lobby/directory.go
package lobby

import "sync"

// Binding ties a live connection to the player it joined a lobby as.
type Binding struct {
	ConnectionID string
	LobbyCode    string
	PlayerName   string
}

// Directory is the reverse index from connection ids to lobby members. It is process
// local and never persisted; the Registry stays authoritative for membership.
type Directory struct {
	mu      sync.RWMutex
	byConn  map[string]Binding
	byLobby map[string]map[string]struct{}
}

func NewDirectory() *Directory {
	return &Directory{
		byConn:  make(map[string]Binding),
		byLobby: make(map[string]map[string]struct{}),
	}
}

// Bind records connectionID as playerName in code. A connection holds a single binding,
// so binding it again moves it; the replaced binding is returned.
func (d *Directory) Bind(connectionID, code, playerName string) (Binding, bool) {
	if connectionID == "" {
		return Binding{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	old, moved := d.byConn[connectionID]
	if moved {
		d.dropLocked(old)
	}
	b := Binding{ConnectionID: connectionID, LobbyCode: code, PlayerName: playerName}
	d.byConn[connectionID] = b
	set, ok := d.byLobby[code]
	if !ok {
		set = make(map[string]struct{})
		d.byLobby[code] = set
	}
	set[connectionID] = struct{}{}
	return old, moved
}

// Unbind removes and returns the binding of connectionID.
func (d *Directory) Unbind(connectionID string) (Binding, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.byConn[connectionID]
	if ok {
		d.dropLocked(b)
	}
	return b, ok
}

// UnbindIf removes the binding only if it still points at code and playerName.
// A connection that has since been rebound elsewhere is left alone.
func (d *Directory) UnbindIf(connectionID, code, playerName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.byConn[connectionID]
	if !ok || b.LobbyCode != code || b.PlayerName != playerName {
		return false
	}
	d.dropLocked(b)
	return true
}

func (d *Directory) Lookup(connectionID string) (Binding, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.byConn[connectionID]
	return b, ok
}

// UnbindLobby drops every binding into code and returns the affected connection ids.
func (d *Directory) UnbindLobby(code string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.byLobby[code]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
		delete(d.byConn, id)
	}
	delete(d.byLobby, code)
	return ids
}

// Connections lists the connection ids bound to code.
func (d *Directory) Connections(code string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.byLobby[code]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byConn)
}

func (d *Directory) dropLocked(b Binding) {
	delete(d.byConn, b.ConnectionID)
	if set, ok := d.byLobby[b.LobbyCode]; ok {
		delete(set, b.ConnectionID)
		if len(set) == 0 {
			delete(d.byLobby, b.LobbyCode)
		}
	}
}
