// Package pattern provides the daily demand curve and arrival sampling
// used to generate passengers waiting at stops.
package pattern

import (
	"math"
	"math/rand"
	"time"

	"github.com/rickar/cal/v2"
)

// TimeMultiplier returns the demand multiplier for an hour of the day.
// Morning and evening rush hours push demand up, nights pull it down.
func TimeMultiplier(hour int) float64 {
	switch {
	case hour >= 6 && hour < 9:
		return 1.5
	case hour >= 9 && hour < 12:
		return 0.6
	case hour >= 12 && hour < 15:
		return 1.2
	case hour >= 15 && hour < 18:
		return 0.8
	case hour >= 18 && hour < 21:
		return 1.4
	default:
		return 0.2
	}
}

// DayWeight scales demand on non-working days using a business calendar.
// A nil DayWeight or nil calendar weights every day at 1.0, keeping the
// hour table as the only demand shape.
type DayWeight struct {
	Calendar *cal.BusinessCalendar
	// RestDayFactor is applied on weekends and configured holidays
	RestDayFactor float64
}

// Factor returns the demand weighting for the date of t
func (w *DayWeight) Factor(t time.Time) float64 {
	if w == nil || w.Calendar == nil {
		return 1.0
	}
	if w.Calendar.IsWorkday(t) {
		return 1.0
	}
	return w.RestDayFactor
}

// ExpectedArrivals returns the Poisson mean for an interval of
// intervalMinutes at a stop with baseRatePerMinute, at the hour of day of
// at, weighted by dayWeight.
func ExpectedArrivals(baseRatePerMinute float64, at time.Time, intervalMinutes float64, dayWeight *DayWeight) float64 {
	return baseRatePerMinute * TimeMultiplier(at.Hour()) * intervalMinutes * dayWeight.Factor(at)
}

// Sampler draws arrival counts from a Poisson distribution. Not safe for
// concurrent use, each feeder owns its own.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a Sampler seeded with seed
func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Poisson returns a sample from a Poisson distribution with the given
// mean using Knuth's algorithm, switching to a normal approximation for
// large means where the product of uniforms underflows.
func (s *Sampler) Poisson(mean float64) int {
	if mean <= 0 {
		return 0
	}
	if mean > 30 {
		val := int(math.Round(s.rng.NormFloat64()*math.Sqrt(mean) + mean))
		if val < 0 {
			return 0
		}
		return val
	}
	limit := math.Exp(-mean)
	k := 0
	p := 1.0
	for p > limit {
		k++
		p *= s.rng.Float64()
	}
	return k - 1
}

// Normal returns a sample from a normal distribution with the given
// mean and standard deviation
func (s *Sampler) Normal(mean, stdDev float64) float64 {
	return s.rng.NormFloat64()*stdDev + mean
}

// UniformBetween returns a uniform sample in [low, high)
func (s *Sampler) UniformBetween(low, high float64) float64 {
	return low + s.rng.Float64()*(high-low)
}
