// Package peoplecount runs the people count feeder: every tick it
// evolves the waiting count at each stop from sampled passenger
// arrivals and the boardings reported by bus.arrival events, and
// persists one observation per stop.
package peoplecount

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
	"github.com/citypulse-labs/bus-simulator/business/sim/passenger"
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
	// SyntheticDrain is how many waiting passengers per stop give up and
	// leave each tick without boarding a bus. Zero disables it.
	SyntheticDrain int
	StatusPort     int
}

type observationRecorder interface {
	Write(ctx context.Context, table timeseries.Table, records interface{}) error
}

// RunPeopleCountLoop subscribes to bus.arrival events and runs the
// feeder until shutdownSignal fires.
func RunPeopleCountLoop(log *logger.Logger,
	db *sqlx.DB,
	natsConnection *nats.Conn,
	c *catalog.Catalog,
	settings Settings,
	shutdownSignal chan os.Signal) error {

	store := timeseries.NewStore(log, db, settings.MaxRetries,
		time.Duration(settings.CallTimeoutSeconds)*time.Second)

	var dayWeight *pattern.DayWeight
	if settings.RestDayFactor > 0 && settings.RestDayFactor != 1 {
		dayWeight = &pattern.DayWeight{
			Calendar:      cal.NewBusinessCalendar(),
			RestDayFactor: settings.RestDayFactor,
		}
	}

	feeder := makeFeeder(log, store, c, pattern.NewSampler(settings.Seed), dayWeight,
		time.Duration(settings.TickSeconds)*time.Second, settings.SyntheticDrain)

	listenerShutdown := make(chan bool)
	wg := sync.WaitGroup{}
	if err := events.StartArrivalListener(log, &wg, natsConnection, listenerShutdown, feeder.onArrival); err != nil {
		return err
	}

	if settings.StatusPort > 0 {
		srv := webstatus.Run(log, settings.StatusPort, feeder.Snapshot)
		defer func() {
			_ = srv.Close()
		}()
	}

	err := feeder.run(shutdownSignal)
	close(listenerShutdown)
	wg.Wait()
	return err
}

// Feeder owns the per stop waiting counts and the boardings reported
// since the last tick.
type Feeder struct {
	log            *logger.Logger
	recorder       observationRecorder
	catalog        *catalog.Catalog
	sampler        *pattern.Sampler
	dayWeight      *pattern.DayWeight
	tickInterval   time.Duration
	syntheticDrain int
	now            func() time.Time

	counts map[string]int

	mu               sync.Mutex
	pendingBoardings map[string]int
	lastSnapshot     Snapshot
}

func makeFeeder(log *logger.Logger,
	recorder observationRecorder,
	c *catalog.Catalog,
	sampler *pattern.Sampler,
	dayWeight *pattern.DayWeight,
	tickInterval time.Duration,
	syntheticDrain int) *Feeder {

	f := Feeder{
		log:              log,
		recorder:         recorder,
		catalog:          c,
		sampler:          sampler,
		dayWeight:        dayWeight,
		tickInterval:     tickInterval,
		syntheticDrain:   syntheticDrain,
		now:              time.Now,
		counts:           make(map[string]int),
		pendingBoardings: make(map[string]int),
	}
	for _, stop := range c.Stops() {
		f.counts[stop.StopId] = 0
	}
	return &f
}

// onArrival accumulates boardings per stop until the next tick consumes
// them. Called from the NATS listener goroutine.
func (f *Feeder) onArrival(arrival events.Arrival) {
	if arrival.PassengersBoarding <= 0 {
		return
	}
	f.mu.Lock()
	f.pendingBoardings[arrival.StopId] += arrival.PassengersBoarding
	f.mu.Unlock()
}

// takePendingBoardings returns and resets the accumulated boardings
func (f *Feeder) takePendingBoardings() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	taken := f.pendingBoardings
	f.pendingBoardings = make(map[string]int)
	return taken
}

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

		sleep = f.tickInterval

		// mark the time we start working
		start := f.now()

		f.runTick(start)

		// attempt to run the loop every tickInterval by subtracting the time it took to perform the work
		workTook := time.Now().Sub(start)

		if workTook >= f.tickInterval {
			sleep = time.Duration(0)
		} else {
			sleep = f.tickInterval - workTook
		}

	}
}

// runTick evolves every stop's count once and writes the batch. All
// records in the batch share the tick timestamp. A stop that fails to
// evolve is logged and keeps its previous count.
func (f *Feeder) runTick(now time.Time) {
	boardings := f.takePendingBoardings()
	minutes := f.tickInterval.Minutes()

	batch := make([]timeseries.PeopleCount, 0, len(f.counts))
	for _, stop := range f.catalog.Stops() {
		departed := boardings[stop.StopId] + f.syntheticDrain
		next, err := passenger.NextStopCount(f.sampler, f.counts[stop.StopId], now,
			stop.BaseArrivalRate, minutes, departed, f.dayWeight)
		if err != nil {
			f.log.Printf("error evolving count for stop %s, keeping previous count. error:%v\n",
				stop.StopId, err)
			continue
		}
		f.counts[stop.StopId] = next
		batch = append(batch, timeseries.PeopleCount{
			StopId:  stop.StopId,
			Time:    now,
			Count:   next,
			LineIds: timeseries.LineIdList(f.catalog.LinesServingStop(stop.StopId)),
		})
	}

	if err := f.recorder.Write(context.Background(), timeseries.TablePeopleCount, batch); err != nil {
		f.log.Printf("error writing %d people counts, dropping this tick's batch. error:%v\n",
			len(batch), err)
	} else if len(batch) > 0 {
		f.log.Printf("recorded %d people counts\n", len(batch))
	}

	f.updateSnapshot(now)
}

// Snapshot is the diagnostics view served on /state
type Snapshot struct {
	LastTick time.Time      `json:"last_tick"`
	Counts   map[string]int `json:"counts"`
}

func (f *Feeder) updateSnapshot(now time.Time) {
	counts := make(map[string]int, len(f.counts))
	for stopId, count := range f.counts {
		counts[stopId] = count
	}
	f.mu.Lock()
	f.lastSnapshot = Snapshot{LastTick: now, Counts: counts}
	f.mu.Unlock()
}

// Snapshot returns the diagnostics view of the last completed tick
func (f *Feeder) Snapshot() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSnapshot
}
