// Package passenger implements boarding, alighting and stop count rules.
package passenger

import (
	"fmt"
	"time"

	"github.com/citypulse-labs/bus-simulator/business/sim/pattern"
)

// fraction of passengers leaving a bus at a non terminal stop
const (
	minAlightFraction = 0.20
	maxAlightFraction = 0.40
)

// Alighting returns how many passengers leave the bus at a stop. At a
// terminal everyone disembarks, otherwise a uniform fraction between 20
// and 40 percent, rounded down.
func Alighting(s *pattern.Sampler, passengersOnBus int, isTerminal bool) (int, error) {
	if passengersOnBus < 0 {
		return 0, fmt.Errorf("passengersOnBus %d must not be negative", passengersOnBus)
	}
	if isTerminal {
		return passengersOnBus, nil
	}
	fraction := s.UniformBetween(minAlightFraction, maxAlightFraction)
	return int(float64(passengersOnBus) * fraction), nil
}

// Boarding returns how many waiting passengers can board a bus with the
// given free capacity.
func Boarding(waitingAtStop, availableCapacity int) (int, error) {
	if waitingAtStop < 0 {
		return 0, fmt.Errorf("waitingAtStop %d must not be negative", waitingAtStop)
	}
	if availableCapacity < 0 {
		return 0, fmt.Errorf("availableCapacity %d must not be negative", availableCapacity)
	}
	if waitingAtStop < availableCapacity {
		return waitingAtStop, nil
	}
	return availableCapacity, nil
}

// NextStopCount produces the new waiting count at a stop after one
// interval: previous count plus sampled natural arrivals minus the
// passengers that boarded buses during the interval, floored at zero.
func NextStopCount(s *pattern.Sampler,
	prevCount int,
	at time.Time,
	baseRatePerMinute float64,
	intervalMinutes float64,
	boardings int,
	dayWeight *pattern.DayWeight) (int, error) {

	if prevCount < 0 {
		return 0, fmt.Errorf("prevCount %d must not be negative", prevCount)
	}
	if intervalMinutes <= 0 {
		return 0, fmt.Errorf("intervalMinutes %f must be positive", intervalMinutes)
	}
	if boardings < 0 {
		return 0, fmt.Errorf("boardings %d must not be negative", boardings)
	}

	mean := pattern.ExpectedArrivals(baseRatePerMinute, at, intervalMinutes, dayWeight)
	count := prevCount + s.Poisson(mean) - boardings
	if count < 0 {
		return 0, nil
	}
	return count, nil
}
