package sensordata

import (
	"context"
	"errors"
	"io"
	logger "log"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/citypulse-labs/bus-simulator/business/data/catalog"
	"github.com/citypulse-labs/bus-simulator/business/data/timeseries"
	"github.com/citypulse-labs/bus-simulator/business/sim/fleet"
	"github.com/citypulse-labs/bus-simulator/business/sim/pattern"
	"github.com/citypulse-labs/bus-simulator/business/sim/sensor"
)

// bus-2 starts just short of the center stop so its first 30 second
// tick arrives there with the doors open
const testDocument = `{
  "lines": [
    {
      "line_id": "L1",
      "stops": [
        {"stop_id": "A", "latitude": 40.00, "longitude": -3.00, "is_terminal": true, "base_arrival_rate": 0},
        {"stop_id": "B", "latitude": 40.05, "longitude": -3.05, "base_arrival_rate": 0},
        {"stop_id": "C", "latitude": 40.10, "longitude": -3.10, "is_terminal": true, "base_arrival_rate": 0}
      ]
    }
  ],
  "buses": [
    {"bus_id": "bus-1", "line_id": "L1", "capacity": 40, "initial_position": 0.15, "speed_kmh": 30},
    {"bus_id": "bus-2", "line_id": "L1", "capacity": 40, "initial_position": 0.499, "speed_kmh": 30}
  ]
}`

type fakeRecorder struct {
	batches [][]timeseries.SensorReading
	err     error
}

func (r *fakeRecorder) Write(_ context.Context, table timeseries.Table, records interface{}) error {
	if table != timeseries.TableSensorData {
		return errors.New("unexpected table")
	}
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, records.([]timeseries.SensorReading))
	return nil
}

func testFeeder(t *testing.T) (*Feeder, *fakeRecorder) {
	t.Helper()
	c, err := catalog.Parse(strings.NewReader(testDocument))
	if err != nil {
		t.Fatalf("unable to parse catalog: %v", err)
	}
	recorder := &fakeRecorder{}
	log := logger.New(io.Discard, "", 0)
	sampler := pattern.NewSampler(1)
	feeder := makeFeeder(log, recorder, fleet.NewFleet(c, sampler, nil),
		sensor.NewGenerator(sampler), c, 30*time.Second)
	return feeder, recorder
}

func TestRunTick_ReadingPerStopAndBus(t *testing.T) {
	is := is.New(t)
	feeder, recorder := testFeeder(t)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	feeder.runTick(now)

	is.Equal(1, len(recorder.batches))
	batch := recorder.batches[0]
	// 3 stops plus 2 buses
	is.Equal(5, len(batch))

	stops, buses := 0, 0
	for _, reading := range batch {
		is.True(reading.Time.Equal(now))
		is.NoErr(reading.Validate())
		switch reading.EntityType {
		case timeseries.EntityTypeStop:
			stops++
			is.True(reading.CO2PPM == nil)
			is.True(reading.DoorStatus == nil)
		case timeseries.EntityTypeBus:
			buses++
			is.True(reading.CO2PPM != nil)
			is.True(reading.DoorStatus != nil)
		}
	}
	is.Equal(3, stops)
	is.Equal(2, buses)
}

// the door status tracks whether the bus reached a stop on the tick
func TestRunTick_DoorStatusFollowsArrivals(t *testing.T) {
	is := is.New(t)
	feeder, recorder := testFeeder(t)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	feeder.runTick(now)

	doors := make(map[string]string)
	for _, reading := range recorder.batches[0] {
		if reading.EntityType == timeseries.EntityTypeBus {
			doors[reading.EntityId] = *reading.DoorStatus
		}
	}
	is.Equal(sensor.DoorClosed, doors["bus-1"])
	is.Equal(sensor.DoorOpen, doors["bus-2"])
}

func TestRunTick_StoreFailureDoesNotStall(t *testing.T) {
	is := is.New(t)
	feeder, recorder := testFeeder(t)
	recorder.err = errors.New("connection refused")
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	feeder.runTick(now)
	is.Equal(0, len(recorder.batches))

	recorder.err = nil
	feeder.runTick(now.Add(30 * time.Second))
	is.Equal(1, len(recorder.batches))

	snapshot, ok := feeder.Snapshot().(Snapshot)
	is.True(ok)
	is.Equal(5, snapshot.ReadingCount)
}
