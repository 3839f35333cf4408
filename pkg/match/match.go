// Package match defines how a reported finding is keyed and how it is
// matched to a catalog misuse. Matching is driven by an explicit hit
// mapping supplied with the upload, never by heuristics, so results
// stay deterministic and auditable.
package match

import (
	"fmt"
	"strconv"
)

// Key identifies a catalog misuse.
type Key struct {
	Project string
	Version string
	Misuse  string
}

// String renders the key for logs and error messages.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Project, k.Version, k.Misuse)
}

// HitMatch names the catalog misuse a hit attaches to. Entries parallel
// the upload's hits by index; an empty Misuse means "no match".
type HitMatch struct {
	Misuse string `json:"misuse,omitempty"`
}

// ForHit returns the misuse key for the hit at the given index, or
// false when the mapping has no entry or the entry names no misuse.
// The mapping is keyed 1:1 per hit index, so ties cannot occur.
func ForHit(
	project, version string, idx int, matches []HitMatch,
) (Key, bool) {
	if idx < 0 || idx >= len(matches) {
		return Key{}, false
	}

	if matches[idx].Misuse == "" {
		return Key{}, false
	}

	return Key{
		Project: project,
		Version: version,
		Misuse:  matches[idx].Misuse,
	}, true
}

// Rank returns the hit's order index. A numeric "rank" column on the
// hit itself wins; otherwise the upload position is used.
func Rank(hit map[string]any, idx int) int {
	raw, ok := hit["rank"]
	if !ok {
		return idx
	}

	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return idx
}
