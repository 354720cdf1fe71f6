// services/tiers.go
package services

// Tier is a light-score band. DailyLimit caps how much a user in the band
// may mint per epoch.
type Tier struct {
	Name       string `json:"name"`
	Threshold  int64  `json:"threshold"`
	DailyLimit int64  `json:"daily_limit"`
}

// Tiers are ordered by Threshold ascending.
var Tiers = []Tier{
	{Name: "Seedling", Threshold: 0, DailyLimit: 500},
	{Name: "Sprout", Threshold: 1_000, DailyLimit: 1_000},
	{Name: "Bloom", Threshold: 5_000, DailyLimit: 2_500},
	{Name: "Radiant", Threshold: 20_000, DailyLimit: 5_000},
	{Name: "Luminary", Threshold: 100_000, DailyLimit: 10_000},
}

// TierFor returns the index of the highest tier whose threshold is reached.
func TierFor(total int64) int {
	for i := len(Tiers) - 1; i > 0; i-- {
		if total >= Tiers[i].Threshold {
			return i
		}
	}
	return 0
}

// TierProgress is the linear progress towards the next tier in [0,100].
// The top tier always reports 100.
func TierProgress(total int64) float64 {
	i := TierFor(total)
	if i == len(Tiers)-1 {
		return 100
	}
	lo, hi := Tiers[i].Threshold, Tiers[i+1].Threshold
	p := float64(total-lo) / float64(hi-lo) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
