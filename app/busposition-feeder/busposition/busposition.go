// Package busposition runs the bus position feeder: it owns the fleet
// simulation, persists a batch of bus position observations every tick
// and publishes the matching arrival and position update events.
package busposition

import (
	"context"
	logger "log"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/rickar/cal/v2"

	"github.com/citypulse-labs/bus-simulator/business/data/catalog"
	"github.com/citypulse-labs/bus-simulator/business/data/events"
	"github.com/citypulse-labs/bus-simulator/business/data/timeseries"
	"github.com/citypulse-labs/bus-simulator/business/sim/fleet"
	"github.com/citypulse-labs/bus-simulator/business/sim/pattern"
	"github.com/citypulse-labs/bus-simulator/foundation/webstatus"
)

// Settings carries the feeder's runtime configuration
type Settings struct {
	TickSeconds        int
	MaxRetries         int
	CallTimeoutSeconds int
	Seed               int64
	RestDayFactor      float64
	StatusPort         int
}

// observationRecorder is the slice of timeseries.Store the feeder needs
type observationRecorder interface {
	Write(ctx context.Context, table timeseries.Table, records interface{}) error
}

// eventPublisher is the slice of events.Publisher the feeder needs
type eventPublisher interface {
	PublishPositionUpdate(update events.PositionUpdate) error
	PublishArrival(arrival events.Arrival) error
}

// RunBusPositionLoop runs the feeder until shutdownSignal fires
func RunBusPositionLoop(log *logger.Logger,
	db *sqlx.DB,
	natsConnection *nats.Conn,
	c *catalog.Catalog,
	settings Settings,
	shutdownSignal chan os.Signal) error {

	store := timeseries.NewStore(log, db, settings.MaxRetries,
		time.Duration(settings.CallTimeoutSeconds)*time.Second)
	publisher := events.NewPublisher(log, natsConnection, settings.MaxRetries)
	simFleet := fleet.NewFleet(c, pattern.NewSampler(settings.Seed), makeDayWeight(settings.RestDayFactor))

	feeder := makeFeeder(log, store, publisher, simFleet,
		time.Duration(settings.TickSeconds)*time.Second)

	if settings.StatusPort > 0 {
		srv := webstatus.Run(log, settings.StatusPort, feeder.Snapshot)
		defer func() {
			_ = srv.Close()
		}()
	}

	return feeder.run(shutdownSignal)
}

// makeDayWeight builds the optional weekend and holiday demand damper.
// A factor of zero or one means no damping and skips the calendar.
func makeDayWeight(restDayFactor float64) *pattern.DayWeight {
	if restDayFactor <= 0 || restDayFactor == 1 {
		return nil
	}
	return &pattern.DayWeight{
		Calendar:      cal.NewBusinessCalendar(),
		RestDayFactor: restDayFactor,
	}
}

// Feeder drives the fleet simulation one tick at a time and fans the
// results out to the store and the event publisher.
type Feeder struct {
	log          *logger.Logger
	recorder     observationRecorder
	publisher    eventPublisher
	fleet        *fleet.Fleet
	tickInterval time.Duration
	now          func() time.Time

	mu           sync.Mutex
	lastSnapshot Snapshot
}

func makeFeeder(log *logger.Logger,
	recorder observationRecorder,
	publisher eventPublisher,
	simFleet *fleet.Fleet,
	tickInterval time.Duration) *Feeder {

	return &Feeder{
		log:          log,
		recorder:     recorder,
		publisher:    publisher,
		fleet:        simFleet,
		tickInterval: tickInterval,
		now:          time.Now,
	}
}

// run ticks the feeder every tickInterval, subtracting the time the work
// took, until shutdownSignal fires.
func (f *Feeder) run(shutdownSignal chan os.Signal) error {
	sleepChan := make(chan bool)
	sleep := time.Duration(0) //sleep for zero seconds the first time

	for {

		go func() {
			time.Sleep(sleep)
			sleepChan <- true
		}()

		select {
		case <-shutdownSignal:
			f.log.Printf("Exiting on shutdown signal")
			return nil
		case <-sleepChan:
			break
		}

		//set default sleep for next loop in the event of an error after continue statements
		sleep = f.tickInterval

		// mark the time we start working
		start := f.now()

		f.runTick(start)

		// attempt to run the loop every tickInterval by subtracting the time it took to perform the work
		workTook := time.Now().Sub(start)

		// if the work took longer than tickInterval don't sleep at all on the next loop
		if workTook >= f.tickInterval {
			sleep = time.Duration(0)
		} else {
			sleep = f.tickInterval - workTook
		}

	}
}

// runTick advances the simulation once and records and publishes the
// results. The simulation always moves forward: a failed write or
// publish is logged and its output dropped, never replayed.
func (f *Feeder) runTick(now time.Time) {
	result := f.fleet.Tick(f.log, now, f.tickInterval)

	positions := make([]timeseries.BusPosition, 0, len(result.Positions))
	for _, observation := range result.Positions {
		positions = append(positions, busPositionRecord(observation, now))
	}

	if err := f.recorder.Write(context.Background(), timeseries.TableBusPosition, positions); err != nil {
		f.log.Printf("error writing %d bus positions, dropping this tick's batch. error:%v\n",
			len(positions), err)
	} else if len(positions) > 0 {
		f.log.Printf("recorded %d bus positions\n", len(positions))
	}

	// arrivals go out before the position updates that reflect them,
	// in the order the stops were reached
	for _, visit := range result.Visits {
		if err := f.publisher.PublishArrival(arrivalEvent(visit, now)); err != nil {
			f.log.Printf("error publishing arrival of bus %s at stop %s. error:%v\n",
				visit.BusId, visit.StopId, err)
		}
	}
	for _, observation := range result.Positions {
		if err := f.publisher.PublishPositionUpdate(positionUpdateEvent(observation, now)); err != nil {
			f.log.Printf("error publishing position update for bus %s. error:%v\n",
				observation.BusId, err)
		}
	}

	f.updateSnapshot(now)
}

func busPositionRecord(observation fleet.PositionObservation, now time.Time) timeseries.BusPosition {
	return timeseries.BusPosition{
		BusId:               observation.BusId,
		LineId:              observation.LineId,
		Time:                now,
		Latitude:            observation.Latitude,
		Longitude:           observation.Longitude,
		PassengerCount:      observation.PassengerCount,
		NextStopId:          observation.NextStopId,
		DistanceToNextStopM: observation.DistanceToNextStopM,
		SpeedKmh:            observation.SpeedKmh,
		Direction:           int(observation.Direction),
	}
}

func positionUpdateEvent(observation fleet.PositionObservation, now time.Time) events.PositionUpdate {
	return events.PositionUpdate{
		BusId:               observation.BusId,
		LineId:              observation.LineId,
		Time:                now,
		Latitude:            observation.Latitude,
		Longitude:           observation.Longitude,
		PassengerCount:      observation.PassengerCount,
		NextStopId:          observation.NextStopId,
		DistanceToNextStopM: observation.DistanceToNextStopM,
		SpeedKmh:            observation.SpeedKmh,
	}
}

func arrivalEvent(visit fleet.StopVisit, now time.Time) events.Arrival {
	return events.Arrival{
		BusId:               visit.BusId,
		LineId:              visit.LineId,
		StopId:              visit.StopId,
		Time:                now,
		PassengersBoarding:  visit.Boarding,
		PassengersAlighting: visit.Alighting,
		BusPassengerCount:   visit.BusPassengersAfter,
		StopPeopleCount:     visit.StopWaitingAfter,
	}
}

// Snapshot is the diagnostics view served on /state
type Snapshot struct {
	LastTick time.Time      `json:"last_tick"`
	Buses    []BusStatus    `json:"buses"`
	Waiting  map[string]int `json:"waiting"`
}

// BusStatus is one bus in the diagnostics snapshot
type BusStatus struct {
	BusId          string  `json:"bus_id"`
	LineId         string  `json:"line_id"`
	Position       float64 `json:"position"`
	Direction      string  `json:"direction"`
	PassengerCount int     `json:"passenger_count"`
	AtStop         bool    `json:"at_stop"`
}

func (f *Feeder) updateSnapshot(now time.Time) {
	buses := f.fleet.Buses()
	snapshot := Snapshot{
		LastTick: now,
		Buses:    make([]BusStatus, 0, len(buses)),
		Waiting:  f.fleet.Waiting(),
	}
	for _, bus := range buses {
		snapshot.Buses = append(snapshot.Buses, BusStatus{
			BusId:          bus.BusId,
			LineId:         bus.LineId,
			Position:       bus.Position,
			Direction:      bus.Direction.String(),
			PassengerCount: bus.PassengerCount,
			AtStop:         bus.AtStop,
		})
	}
	f.mu.Lock()
	f.lastSnapshot = snapshot
	f.mu.Unlock()
}

// Snapshot returns the diagnostics view of the last completed tick
func (f *Feeder) Snapshot() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSnapshot
}
