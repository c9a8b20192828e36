package policy

import (
	"regexp"
	"sort"
	"strings"

	"github.com/privadome/privadome-api/internal/platform/httpx"
)

// ErrUnknownTile is returned for tile names outside the allowed set.
var ErrUnknownTile = httpx.Validation("Unknown tile")

var tileNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Tiles decides which tile names may be forwarded to the data port.
type Tiles struct {
	allowed map[string]struct{}
}

// NewTiles builds the tile filter. An empty list leaves dispatch open to
// any well-formed name.
func NewTiles(names []string) *Tiles {
	t := &Tiles{allowed: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			t.allowed[n] = struct{}{}
		}
	}
	return t
}

// Open reports whether no allowlist is configured.
func (t *Tiles) Open() bool {
	return t == nil || len(t.allowed) == 0
}

// Names returns the configured allowlist in sorted order.
func (t *Tiles) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.allowed))
	for n := range t.allowed {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Check validates name for dispatch.
func (t *Tiles) Check(name string) error {
	if t.Open() {
		if !tileNamePattern.MatchString(name) {
			return ErrUnknownTile
		}
		return nil
	}
	if _, ok := t.allowed[name]; !ok {
		return ErrUnknownTile
	}
	return nil
}
