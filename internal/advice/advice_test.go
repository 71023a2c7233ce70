package advice

import (
	"math/rand/v2"
	"testing"
)

func TestSelector_ReproducibleWithSeed(t *testing.T) {
	a := NewSelector(nil, rand.NewPCG(1, 2))
	b := NewSelector(nil, rand.NewPCG(1, 2))

	for i := 0; i < 50; i++ {
		if x, y := a.Pick(), b.Pick(); x != y {
			t.Fatalf("pick %d differs: %+v vs %+v", i, x, y)
		}
	}
}

func TestSelector_PicksFromCatalog(t *testing.T) {
	catalog := []Tip{
		{Command: "uptime", Description: "Show load"},
		{Command: "df -h", Description: "Show disk usage"},
	}
	s := NewSelector(catalog, rand.NewPCG(7, 7))

	seen := make(map[string]int)
	for i := 0; i < 500; i++ {
		tip := s.Pick()
		seen[tip.Command]++
	}

	if len(seen) != len(catalog) {
		t.Errorf("expected every tip to be drawn, got %v", seen)
	}

	for _, tip := range catalog {
		// Uniform draws over 500 picks land near 250 each.
		if n := seen[tip.Command]; n < 150 || n > 350 {
			t.Errorf("tip %q drawn %d times, not close to uniform", tip.Command, n)
		}
	}
}

func TestSelector_SingleTipCatalog(t *testing.T) {
	only := Tip{Command: "top", Description: "Process list"}
	s := NewSelector([]Tip{only}, rand.NewPCG(3, 4))

	for i := 0; i < 10; i++ {
		if got := s.Pick(); got != only {
			t.Fatalf("Pick() = %+v, want %+v", got, only)
		}
	}
}

func TestNewSelector_Defaults(t *testing.T) {
	s := NewSelector(nil, nil)

	if got := len(s.Catalog()); got != len(DefaultCatalog()) {
		t.Errorf("Catalog() length = %d, want %d", got, len(DefaultCatalog()))
	}

	tip := s.Pick()
	if tip.Command == "" || tip.Description == "" {
		t.Errorf("Pick() returned empty tip %+v", tip)
	}
}

func TestNewSelector_CopiesCatalog(t *testing.T) {
	catalog := []Tip{{Command: "a", Description: "first"}}
	s := NewSelector(catalog, rand.NewPCG(0, 1))

	catalog[0].Command = "mutated"

	if s.Pick().Command != "a" {
		t.Error("selector should not share the caller's catalog slice")
	}
}
