package placement

import (
	"math/rand"
	"sync"

	"github.com/jbweber/homelab/placer/internal/domain"
)

// TieStrategy chooses one AZ out of several that are equally good. The
// candidates arrive in preference order and are never empty.
type TieStrategy interface {
	Pick(azs []*domain.AvailabilityZone) *domain.AvailabilityZone
}

// MinWins always takes the most preferred AZ.
type MinWins struct{}

func (MinWins) Pick(azs []*domain.AvailabilityZone) *domain.AvailabilityZone {
	return azs[0]
}

// RandomWins picks uniformly among the tied AZs.
type RandomWins struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomWins seeds the generator so runs can be reproduced.
func NewRandomWins(seed int64) *RandomWins {
	return &RandomWins{rng: rand.New(rand.NewSource(seed))}
}

func (r *RandomWins) Pick(azs []*domain.AvailabilityZone) *domain.AvailabilityZone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return azs[r.rng.Intn(len(azs))]
}
