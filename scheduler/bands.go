// Package scheduler runs polling work on jittered, weighted random intervals
package scheduler

import (
	"fmt"
	"math/rand/v2"
	"time"

	"leadpilot/utils"
)

// Band is one piece of a piecewise-uniform interval distribution
type Band struct {
	Weight float64
	Min    time.Duration
	Max    time.Duration
}

// Bands picks intervals by first choosing a band in proportion to its weight,
// then a uniform duration inside it
type Bands []Band

// BandsFromConfig validates configured bands
func BandsFromConfig(cfg []utils.BandConfig) (Bands, error) {
	if len(cfg) == 0 {
		return nil, fmt.Errorf("no interval bands configured")
	}
	bands := make(Bands, 0, len(cfg))
	var total float64
	for i, c := range cfg {
		if c.Weight < 0 {
			return nil, fmt.Errorf("band %d: negative weight", i)
		}
		if c.Min <= 0 || c.Max < c.Min {
			return nil, fmt.Errorf("band %d: invalid range %s-%s", i, c.Min, c.Max)
		}
		total += c.Weight
		bands = append(bands, Band{Weight: c.Weight, Min: c.Min, Max: c.Max})
	}
	if total <= 0 {
		return nil, fmt.Errorf("interval band weights sum to zero")
	}
	return bands, nil
}

// Interval draws the next wait
func (b Bands) Interval(rng *rand.Rand) time.Duration {
	if len(b) == 0 {
		return time.Minute
	}
	var total float64
	for _, band := range b {
		total += band.Weight
	}

	pick := rng.Float64() * total
	chosen := b[len(b)-1]
	for _, band := range b {
		if pick < band.Weight {
			chosen = band
			break
		}
		pick -= band.Weight
	}

	span := chosen.Max - chosen.Min
	if span <= 0 {
		return chosen.Min
	}
	return chosen.Min + time.Duration(rng.Int64N(int64(span)+1))
}
