package history

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

var adjectives = []string{
	"azure", "crimson", "emerald", "golden", "silver", "violet", "amber", "coral",
	"indigo", "jade", "onyx", "pearl", "ruby", "bronze", "copper", "ivory",
	"frost", "storm", "lunar", "solar", "arctic", "misty", "silent", "swift",
	"brave", "clever", "gentle", "noble", "quiet", "calm", "bold", "bright",
}

var animals = []string{
	"tiger", "falcon", "wolf", "eagle", "bear", "hawk", "lion", "raven",
	"fox", "deer", "owl", "crane", "otter", "badger", "heron", "sparrow",
	"lynx", "puma", "tortoise", "salmon", "whale", "seal", "penguin", "pelican",
	"finch", "robin", "wren", "oriole", "thrush", "marten", "ibex", "bison",
}

// maxNameAttempts bounds the search for a free name before a longer suffix is used.
const maxNameAttempts = 20

// NameGenerator generates anonymous names like "azure-tiger-42". It is safe
// for concurrent use.
type NameGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewNameGenerator creates a randomly seeded name generator.
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// Generate returns a name for which taken reports false. A nil taken
// accepts the first name.
func (g *NameGenerator) Generate(taken func(string) bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for range maxNameAttempts {
		n := name(g.rng, 100)
		if taken == nil || !taken(n) {
			return n
		}
	}
	return name(g.rng, 1_000_000)
}

func name(rng *rand.Rand, suffixes int) string {
	adj := adjectives[rng.IntN(len(adjectives))]
	animal := animals[rng.IntN(len(animals))]
	return fmt.Sprintf("%s-%s-%02d", adj, animal, rng.IntN(suffixes))
}
