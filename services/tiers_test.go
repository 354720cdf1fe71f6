package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierFor(t *testing.T) {
	cases := []struct {
		total int64
		name  string
	}{
		{0, "Seedling"},
		{999, "Seedling"},
		{1_000, "Sprout"},
		{4_999, "Sprout"},
		{5_000, "Bloom"},
		{20_000, "Radiant"},
		{250_000, "Luminary"},
	}
	for _, c := range cases {
		assert.Equal(t, c.name, Tiers[TierFor(c.total)].Name, "total=%d", c.total)
	}
}

func TestTierProgress(t *testing.T) {
	assert.Equal(t, 0.0, TierProgress(0))
	assert.Equal(t, 50.0, TierProgress(500))
	assert.Equal(t, 25.0, TierProgress(2_000)) // Sprout 1000 -> Bloom 5000
	assert.Equal(t, 100.0, TierProgress(100_000))
	assert.Equal(t, 100.0, TierProgress(5_000_000))
}
