// Package sensor synthesises environmental readings for buses and stops
// from the time of day and the bus state.
package sensor

import (
	"math"
	"time"

	"github.com/citypulse-labs/bus-simulator/business/sim/pattern"
)

// Door status values reported on bus readings
const (
	DoorOpen   = "open"
	DoorClosed = "closed"
)

const (
	temperatureNoiseStdDev = 1.5
	humidityNoiseStdDev    = 5.0
	co2NoiseStdDev         = 50.0
	co2BasePPM             = 400.0
	co2PerPassengerPPM     = 50.0
)

// AmbientTemperature returns the ambient temperature in Celsius for an
// hour of day in [0,24). The curve is a cosine peaking at 28 degrees at
// 15:00 with its trough of 15 degrees at 03:00.
func AmbientTemperature(hour float64) float64 {
	return 21.5 + 6.5*math.Cos(2*math.Pi*(hour-15)/24)
}

// StopReading is an environmental reading for a stop
type StopReading struct {
	TemperatureC float64
	HumidityPct  float64
}

// BusReading is an environmental reading for a bus, which additionally
// carries cabin CO2 and the door state
type BusReading struct {
	TemperatureC float64
	HumidityPct  float64
	CO2PPM       int
	DoorStatus   string
}

// Generator produces noisy readings around the ambient curve. Not safe
// for concurrent use.
type Generator struct {
	sampler *pattern.Sampler
}

// NewGenerator creates a Generator drawing noise from sampler
func NewGenerator(sampler *pattern.Sampler) *Generator {
	return &Generator{sampler: sampler}
}

// Stop generates a reading for a stop at the given time
func (g *Generator) Stop(at time.Time) StopReading {
	temperature, humidity := g.temperatureAndHumidity(at)
	return StopReading{
		TemperatureC: temperature,
		HumidityPct:  humidity,
	}
}

// Bus generates a reading for a bus at the given time. CO2 rises with
// passenger load and the door status mirrors whether the bus is at a stop.
func (g *Generator) Bus(at time.Time, passengerCount int, atStop bool) BusReading {
	temperature, humidity := g.temperatureAndHumidity(at)
	co2 := co2BasePPM + co2PerPassengerPPM*float64(passengerCount) + g.sampler.Normal(0, co2NoiseStdDev)
	co2PPM := int(math.Round(co2))
	if co2PPM < 0 {
		co2PPM = 0
	}
	doorStatus := DoorClosed
	if atStop {
		doorStatus = DoorOpen
	}
	return BusReading{
		TemperatureC: temperature,
		HumidityPct:  humidity,
		CO2PPM:       co2PPM,
		DoorStatus:   doorStatus,
	}
}

// temperatureAndHumidity samples a temperature around the ambient curve
// and the anti correlated humidity, clamped to [20, 90] percent.
func (g *Generator) temperatureAndHumidity(at time.Time) (float64, float64) {
	hour := float64(at.Hour()) + float64(at.Minute())/60.0
	temperature := AmbientTemperature(hour) + g.sampler.Normal(0, temperatureNoiseStdDev)
	humidity := 70 - 2*(temperature-20) + g.sampler.Normal(0, humidityNoiseStdDev)
	if humidity < 20 {
		humidity = 20
	}
	if humidity > 90 {
		humidity = 90
	}
	return temperature, humidity
}
