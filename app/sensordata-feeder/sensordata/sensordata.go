// Package sensordata runs the sensor data feeder: every tick it
// generates one environmental reading per stop and one per bus and
// persists them as a single batch.
//
// Bus readings depend on how full the bus is and whether it is at a
// stop, so the feeder runs its own fleet simulation over the shared
// catalog rather than depending on the position feeder being up.
package sensordata

import (
	"context"
	logger "log"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rickar/cal/v2"

	"github.com/citypulse-labs/bus-simulator/business/data/catalog"
	"github.com/citypulse-labs/bus-simulator/business/data/timeseries"
	"github.com/citypulse-labs/bus-simulator/business/sim/fleet"
	"github.com/citypulse-labs/bus-simulator/business/sim/pattern"
	"github.com/citypulse-labs/bus-simulator/business/sim/sensor"
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

type observationRecorder interface {
	Write(ctx context.Context, table timeseries.Table, records interface{}) error
}

// RunSensorDataLoop runs the feeder until shutdownSignal fires
func RunSensorDataLoop(log *logger.Logger,
	db *sqlx.DB,
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

	sampler := pattern.NewSampler(settings.Seed)
	simFleet := fleet.NewFleet(c, sampler, dayWeight)
	feeder := makeFeeder(log, store, simFleet, sensor.NewGenerator(sampler), c,
		time.Duration(settings.TickSeconds)*time.Second)

	if settings.StatusPort > 0 {
		srv := webstatus.Run(log, settings.StatusPort, feeder.Snapshot)
		defer func() {
			_ = srv.Close()
		}()
	}

	return feeder.run(shutdownSignal)
}

// Feeder generates stop and bus sensor readings from its own fleet state
type Feeder struct {
	log          *logger.Logger
	recorder     observationRecorder
	fleet        *fleet.Fleet
	generator    *sensor.Generator
	catalog      *catalog.Catalog
	tickInterval time.Duration
	now          func() time.Time

	mu           sync.Mutex
	lastSnapshot Snapshot
}

func makeFeeder(log *logger.Logger,
	recorder observationRecorder,
	simFleet *fleet.Fleet,
	generator *sensor.Generator,
	c *catalog.Catalog,
	tickInterval time.Duration) *Feeder {

	return &Feeder{
		log:          log,
		recorder:     recorder,
		fleet:        simFleet,
		generator:    generator,
		catalog:      c,
		tickInterval: tickInterval,
		now:          time.Now,
	}
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

// runTick advances the fleet, then generates one reading per stop and
// one per bus, all stamped with the tick time.
func (f *Feeder) runTick(now time.Time) {
	f.fleet.Tick(f.log, now, f.tickInterval)

	stops := f.catalog.Stops()
	buses := f.fleet.Buses()
	batch := make([]timeseries.SensorReading, 0, len(stops)+len(buses))

	for _, stop := range stops {
		reading := f.generator.Stop(now)
		batch = append(batch, timeseries.NewStopSensorReading(stop.StopId, now,
			reading.TemperatureC, reading.HumidityPct))
	}
	for _, bus := range buses {
		reading := f.generator.Bus(now, bus.PassengerCount, bus.AtStop)
		batch = append(batch, timeseries.NewBusSensorReading(bus.BusId, now,
			reading.TemperatureC, reading.HumidityPct, reading.CO2PPM, reading.DoorStatus))
	}

	if err := f.recorder.Write(context.Background(), timeseries.TableSensorData, batch); err != nil {
		f.log.Printf("error writing %d sensor readings, dropping this tick's batch. error:%v\n",
			len(batch), err)
	} else {
		f.log.Printf("recorded %d sensor readings\n", len(batch))
	}

	f.updateSnapshot(now, len(batch))
}

// Snapshot is the diagnostics view served on /state
type Snapshot struct {
	LastTick     time.Time `json:"last_tick"`
	ReadingCount int       `json:"reading_count"`
}

func (f *Feeder) updateSnapshot(now time.Time, readingCount int) {
	f.mu.Lock()
	f.lastSnapshot = Snapshot{LastTick: now, ReadingCount: readingCount}
	f.mu.Unlock()
}

// Snapshot returns the diagnostics view of the last completed tick
func (f *Feeder) Snapshot() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSnapshot
}
