package draft

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func seeded(seed uint64) *Sampler {
	return NewSampler(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

func TestRarityFrequencyMatchesWeights(t *testing.T) {
	catalog := DefaultCatalog()
	sampler := seeded(7)
	const draws = 100_000
	counts := map[Rarity]int{}
	for i := 0; i < draws; i++ {
		picked := sampler.Draw(catalog, 1)
		if len(picked) != 1 {
			t.Fatalf("draw %d returned %d options", i, len(picked))
		}
		counts[catalog[picked[0]].Rarity]++
	}

	check := func(tier Rarity, want, tolerance float64) {
		got := float64(counts[tier]) / draws
		if math.Abs(got-want) > tolerance {
			t.Fatalf("%s frequency %.4f outside %.2f±%.3f", tier, got, want, tolerance)
		}
	}
	check(Epic, 0.05, 0.01)
	check(Rare, 0.15, 0.015)
	check(Common, 0.80, 0.02)
}

func TestDrawIsWithoutReplacement(t *testing.T) {
	sampler := seeded(1)
	catalog := DefaultCatalog()
	for i := 0; i < 1000; i++ {
		picked := sampler.Draw(catalog, OptionsPerPanel)
		if len(picked) != OptionsPerPanel {
			t.Fatalf("expected %d options, got %v", OptionsPerPanel, picked)
		}
		seen := map[int]bool{}
		for _, idx := range picked {
			if seen[idx] {
				t.Fatalf("duplicate option in %v", picked)
			}
			seen[idx] = true
		}
	}
}

func TestDrawFallsBackAndSkips(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		count   int
		check   func(t *testing.T, catalog Catalog, picked []int)
	}{
		{
			name:    "empty pool",
			catalog: nil,
			count:   3,
			check: func(t *testing.T, _ Catalog, picked []int) {
				if len(picked) != 0 {
					t.Fatalf("expected nothing from an empty pool, got %v", picked)
				}
			},
		},
		{
			name: "commons only",
			catalog: Catalog{
				{Name: "a", Effect: EffectDamage, Value: 1, Rarity: Common},
				{Name: "b", Effect: EffectDamage, Value: 2, Rarity: Common},
			},
			count: 3,
			check: func(t *testing.T, _ Catalog, picked []int) {
				if len(picked) != 2 || picked[0] == picked[1] {
					t.Fatalf("expected both commons exactly once, got %v", picked)
				}
			},
		},
		{
			name: "epic falls to rare",
			catalog: Catalog{
				{Name: "r", Effect: EffectDash, Rarity: Rare},
			},
			count: 1,
			check: func(t *testing.T, catalog Catalog, picked []int) {
				for _, idx := range picked {
					if catalog[idx].Rarity != Rare {
						t.Fatalf("unexpected pick %v", catalog[idx])
					}
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler := seeded(3)
			for i := 0; i < 200; i++ {
				tt.check(t, tt.catalog, sampler.Draw(tt.catalog, tt.count))
			}
		})
	}
}

func TestLowerTiersNeverClimb(t *testing.T) {
	catalog := Catalog{{Name: "e", Effect: EffectHoming, Rarity: Epic}}
	sampler := seeded(11)
	hits := 0
	for i := 0; i < 10_000; i++ {
		hits += len(sampler.Draw(catalog, 1))
	}
	if ratio := float64(hits) / 10_000; ratio > 0.07 {
		t.Fatalf("epic-only catalog should only be drawn on epic rolls, got %.3f", ratio)
	}
}

func TestReadCatalogValidates(t *testing.T) {
	good := `[{"name":"Bolt","effect":"damage","value":5,"rarity":"common"}]`
	catalog, err := ReadCatalog(bytes.NewBufferString(good))
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	if len(catalog) != 1 || catalog[0].Value != 5 {
		t.Fatalf("unexpected catalog %+v", catalog)
	}

	bad := `[{"name":"Bolt","effect":"teleport","rarity":"common"}]`
	if _, err := ReadCatalog(bytes.NewBufferString(bad)); !errors.Is(err, ErrBadCatalog) {
		t.Fatalf("expected ErrBadCatalog, got %v", err)
	}
	if err := DefaultCatalog().Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
}
