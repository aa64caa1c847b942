package draft

import "math/rand/v2"

// Tier thresholds on a uniform [0,1) roll.
const (
	EpicChance = 0.05
	RareChance = 0.15
)

// Sampler draws reward options. It is not safe for concurrent use; the
// Authority owns one.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler wraps a random source. A nil source seeds from the runtime.
func NewSampler(rng *rand.Rand) *Sampler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sampler{rng: rng}
}

// Tier rolls a rarity tier independently of the catalog.
func (s *Sampler) Tier() Rarity {
	roll := s.rng.Float64()
	switch {
	case roll < EpicChance:
		return Epic
	case roll < EpicChance+RareChance:
		return Rare
	default:
		return Common
	}
}

// Draw picks up to count distinct catalog indices. Each draw rolls a tier
// and falls back one tier at a time when the tier has nothing left; a draw
// with no candidate in any lower tier is skipped.
func (s *Sampler) Draw(catalog Catalog, count int) []int {
	available := make([]bool, len(catalog))
	remaining := len(catalog)
	for i := range available {
		available[i] = true
	}

	picked := make([]int, 0, count)
	for n := 0; n < count && remaining > 0; n++ {
		tier := s.Tier()
		var candidates []int
		for {
			candidates = candidates[:0]
			for i, r := range catalog {
				if available[i] && r.Rarity == tier {
					candidates = append(candidates, i)
				}
			}
			if len(candidates) > 0 {
				break
			}
			next, ok := tier.lower()
			if !ok {
				break
			}
			tier = next
		}
		if len(candidates) == 0 {
			continue
		}
		choice := candidates[s.rng.IntN(len(candidates))]
		available[choice] = false
		remaining--
		picked = append(picked, choice)
	}
	return picked
}
