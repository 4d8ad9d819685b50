package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinWins(t *testing.T) {
	azs := zones("z2", "z1")
	assert.Same(t, azs[0], MinWins{}.Pick(azs))
}

func TestRandomWins(t *testing.T) {
	azs := zones("z1", "z2", "z3")

	first := NewRandomWins(42)
	second := NewRandomWins(42)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		a := first.Pick(azs)
		b := second.Pick(azs)
		assert.Same(t, a, b, "same seed picks the same zones")
		seen[a.Name] = true
	}
	assert.Len(t, seen, 3)
}
