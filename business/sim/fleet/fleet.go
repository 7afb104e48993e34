// Package fleet implements the bus movement state machine: per bus
// position, speed, passenger exchange at stops and terminal reversal,
// advanced one tick at a time over the catalog's route geometry.
//
// A Fleet also carries its own model of how many people wait at each
// stop. Feeders run in separate processes and never share memory, so
// every process that needs bus state owns a Fleet seeded from the same
// catalog.
package fleet

import (
	"fmt"
	logger "log"
	"time"

	"github.com/citypulse-labs/bus-simulator/business/data/catalog"
	"github.com/citypulse-labs/bus-simulator/business/sim/passenger"
	"github.com/citypulse-labs/bus-simulator/business/sim/pattern"
	"github.com/citypulse-labs/bus-simulator/business/sim/route"
)

// Bus is the mutable state of one simulated bus. Owned by exactly one
// Fleet, mutated only during Tick.
type Bus struct {
	BusId          string
	LineId         string
	Capacity       int
	PassengerCount int
	Position       float64
	SpeedKmh       float64
	Direction      route.Direction
	AtStop         bool

	route *route.Route
}

// PositionObservation is the per bus outcome of one tick
type PositionObservation struct {
	BusId               string
	LineId              string
	Position            float64
	Direction           route.Direction
	Latitude            float64
	Longitude           float64
	PassengerCount      int
	NextStopId          string
	DistanceToNextStopM float64
	SpeedKmh            float64
	AtStop              bool
}

// StopVisit records a bus reaching a stop during a tick, with both the
// bus side and stop side state after the passenger exchange.
type StopVisit struct {
	BusId              string
	LineId             string
	StopId             string
	Terminal           bool
	Boarding           int
	Alighting          int
	BusPassengersAfter int
	StopWaitingAfter   int
}

// TickResult collects everything one tick produced. Visits are ordered
// by bus and, per bus, by the order the stops were passed.
type TickResult struct {
	Positions []PositionObservation
	Visits    []StopVisit
}

// Fleet is one process's simulated world: the buses it owns plus its
// local model of people waiting at stops. Not safe for concurrent use.
type Fleet struct {
	catalog   *catalog.Catalog
	buses     []*Bus
	waiting   map[string]int
	sampler   *pattern.Sampler
	dayWeight *pattern.DayWeight
}

// NewFleet seeds a Fleet from the catalog. All buses start outbound at
// their configured initial position with no passengers, all stops start
// empty.
func NewFleet(c *catalog.Catalog, sampler *pattern.Sampler, dayWeight *pattern.DayWeight) *Fleet {
	f := Fleet{
		catalog:   c,
		waiting:   make(map[string]int),
		sampler:   sampler,
		dayWeight: dayWeight,
	}
	for _, bus := range c.Buses() {
		f.buses = append(f.buses, &Bus{
			BusId:     bus.BusId,
			LineId:    bus.LineId,
			Capacity:  bus.Capacity,
			Position:  bus.InitialPosition,
			SpeedKmh:  bus.SpeedKmh,
			Direction: route.Outbound,
			route:     c.Route(bus.LineId),
		})
	}
	for _, stop := range c.Stops() {
		f.waiting[stop.StopId] = 0
	}
	return &f
}

// Buses returns a snapshot copy of the current bus states
func (f *Fleet) Buses() []Bus {
	snapshot := make([]Bus, 0, len(f.buses))
	for _, bus := range f.buses {
		copied := *bus
		copied.route = nil
		snapshot = append(snapshot, copied)
	}
	return snapshot
}

// Waiting returns a snapshot copy of the stop waiting counts
func (f *Fleet) Waiting() map[string]int {
	snapshot := make(map[string]int, len(f.waiting))
	for stopId, count := range f.waiting {
		snapshot[stopId] = count
	}
	return snapshot
}

// Tick advances the world by interval at time now: passengers arrive at
// stops, every bus moves, exchanges passengers at stops it passes and
// reverses at terminals. A failure generating one bus is logged and
// skips only that bus.
func (f *Fleet) Tick(log *logger.Logger, now time.Time, interval time.Duration) TickResult {
	minutes := interval.Minutes()
	for _, stop := range f.catalog.Stops() {
		mean := pattern.ExpectedArrivals(stop.BaseArrivalRate, now, minutes, f.dayWeight)
		f.waiting[stop.StopId] += f.sampler.Poisson(mean)
	}

	result := TickResult{
		Positions: make([]PositionObservation, 0, len(f.buses)),
	}
	for _, bus := range f.buses {
		observation, visits, err := f.moveBus(bus, interval)
		if err != nil {
			log.Printf("error generating movement for bus %s, skipping it this tick. error: %v",
				bus.BusId, err)
			continue
		}
		result.Positions = append(result.Positions, observation)
		result.Visits = append(result.Visits, visits...)
	}
	return result
}

// moveBus advances one bus for a tick and processes every stop it passes
func (f *Fleet) moveBus(b *Bus, interval time.Duration) (observation PositionObservation, visits []StopVisit, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while moving bus: %v", r)
		}
	}()

	meters := b.SpeedKmh * 1000 / 3600 * interval.Seconds()
	oldPosition := b.Position
	newPosition := b.route.Advance(oldPosition, meters)
	passed := b.route.StopsBetween(oldPosition, newPosition, b.Direction)
	if len(passed) == 0 && oldPosition >= 1 && meters > 0 {
		// a bus parked exactly at the end of the route still needs its
		// terminal visit so it can reverse
		passed = b.route.StopsBetween(1-1e-9, 1, b.Direction)
	}

	b.AtStop = false
	for _, stop := range passed {
		var visit StopVisit
		visit, err = f.exchangePassengers(b, stop)
		if err != nil {
			return observation, nil, err
		}
		visits = append(visits, visit)
		b.AtStop = true
		if stop.IsTerminal {
			// a terminal ends the tick's motion: reverse and restart
			// from the direction's origin
			b.Direction = b.Direction.Toggle()
			newPosition = 0
			break
		}
	}
	b.Position = newPosition

	latitude, longitude := b.route.Coordinates(b.Position, b.Direction)
	nextStopId := ""
	distanceToNext := 0.0
	if next := b.route.NextStop(b.Position, b.Direction); next != nil {
		nextStopId = next.StopId
		if d := b.route.DistanceToStop(b.Position, next.StopId, b.Direction); d > 0 {
			distanceToNext = d
		}
	}

	observation = PositionObservation{
		BusId:               b.BusId,
		LineId:              b.LineId,
		Position:            b.Position,
		Direction:           b.Direction,
		Latitude:            latitude,
		Longitude:           longitude,
		PassengerCount:      b.PassengerCount,
		NextStopId:          nextStopId,
		DistanceToNextStopM: distanceToNext,
		SpeedKmh:            b.SpeedKmh,
		AtStop:              b.AtStop,
	}
	return observation, visits, nil
}

// exchangePassengers runs the alight-then-board exchange for one stop
// visit and updates both the bus and the stop's waiting count.
func (f *Fleet) exchangePassengers(b *Bus, stop route.Stop) (StopVisit, error) {
	alighting, err := passenger.Alighting(f.sampler, b.PassengerCount, stop.IsTerminal)
	if err != nil {
		return StopVisit{}, err
	}
	available := b.Capacity - (b.PassengerCount - alighting)
	boarding, err := passenger.Boarding(f.waiting[stop.StopId], available)
	if err != nil {
		return StopVisit{}, err
	}

	b.PassengerCount = b.PassengerCount - alighting + boarding
	f.waiting[stop.StopId] -= boarding

	return StopVisit{
		BusId:              b.BusId,
		LineId:             b.LineId,
		StopId:             stop.StopId,
		Terminal:           stop.IsTerminal,
		Boarding:           boarding,
		Alighting:          alighting,
		BusPassengersAfter: b.PassengerCount,
		StopWaitingAfter:   f.waiting[stop.StopId],
	}, nil
}
