package agent

import (
	"math/rand/v2"
	"sync"

	"github.com/kalambet/scout/internal/retrieval"
)

// Signal is the engagement data the classifier needs for one contractor.
type Signal struct {
	// Activity is in [0.5, 1.0].
	Activity float64
	// DaysSinceContact is in [0, 30].
	DaysSinceContact int
	// Jitter in [0, 1) picks the day inside the suggested contact window.
	Jitter float64
}

// SignalProvider supplies engagement signals. Implementations backed by a CRM
// can replace RandomSignals without touching the classifier.
type SignalProvider interface {
	Signal(doc retrieval.Document) Signal
}

// RandomSignals draws synthetic signals from a seeded PCG source, so a given
// seed always yields the same sequence.
type RandomSignals struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSignals creates a provider seeded with seed.
func NewRandomSignals(seed uint64) *RandomSignals {
	return &RandomSignals{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *RandomSignals) Signal(retrieval.Document) Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Signal{
		Activity:         0.5 + 0.5*r.rng.Float64(),
		DaysSinceContact: r.rng.IntN(31),
		Jitter:           r.rng.Float64(),
	}
}

// StaticSignals returns the same signal for every document.
type StaticSignals Signal

func (s StaticSignals) Signal(retrieval.Document) Signal { return Signal(s) }
