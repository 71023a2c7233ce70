// Package advice picks an operational tip to show alongside each snapshot.
package advice

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Tip is a command worth knowing and what it does.
type Tip struct {
	Command     string `json:"command" yaml:"command"`
	Description string `json:"description" yaml:"description"`
}

// DefaultCatalog returns the built-in tips.
func DefaultCatalog() []Tip {
	return []Tip{
		{Command: "htop", Description: "Interactive process viewer"},
		{Command: "ss -tulnp", Description: "Show listening ports and processes"},
		{Command: "nmap -sV <target>", Description: "Scan open ports & service versions"},
		{Command: "journalctl -p 3 -xb", Description: "View recent critical system logs"},
		{Command: "nc -lvnp 4444", Description: "Start a simple TCP listener (for testing)"},
		{Command: "rsync -av src/ dest/", Description: "Efficient directory backup/sync"},
	}
}

// Selector draws tips uniformly from a fixed catalog.
type Selector struct {
	mu      sync.Mutex
	rng     *rand.Rand
	catalog []Tip
}

// NewSelector builds a selector over catalog (DefaultCatalog when empty)
// using src for randomness. A nil src seeds from the clock.
func NewSelector(catalog []Tip, src rand.Source) *Selector {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	if src == nil {
		now := uint64(time.Now().UnixNano())
		src = rand.NewPCG(now, now>>1|1)
	}

	tips := make([]Tip, len(catalog))
	copy(tips, catalog)

	return &Selector{
		rng:     rand.New(src),
		catalog: tips,
	}
}

// Pick returns one tip.
func (s *Selector) Pick() Tip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog[s.rng.IntN(len(s.catalog))]
}

// Catalog returns a copy of the tips the selector draws from.
func (s *Selector) Catalog() []Tip {
	out := make([]Tip, len(s.catalog))
	copy(out, s.catalog)
	return out
}
