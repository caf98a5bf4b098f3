package lobby

import "strings"

const bannedWord = "cheat"

// StripCheat removes every case-insensitive occurrence of "cheat", repeating until the
// result no longer contains one ("chcheateat" becomes "").
func StripCheat(name string) string {
	for {
		i := indexFold(name, bannedWord)
		if i < 0 {
			return name
		}
		name = name[:i] + name[i+len(bannedWord):]
	}
}

// indexFold is strings.Index with ASCII case folding; sub must be ASCII.
func indexFold(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

// cleanName applies the content filter and rejects names that end up empty.
func cleanName(name string) (string, error) {
	name = strings.TrimSpace(StripCheat(name))
	if name == "" {
		return "", ErrInvalidPlayerName
	}
	return name, nil
}
