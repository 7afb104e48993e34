package sensor

import (
	"math"
	"testing"
	"time"

	"github.com/citypulse-labs/bus-simulator/business/sim/pattern"
)

func TestAmbientTemperature(t *testing.T) {
	tests := []struct {
		name      string
		hour      float64
		want      float64
		tolerance float64
	}{
		{name: "peak at three in the afternoon", hour: 15, want: 28, tolerance: 0.001},
		{name: "trough at three in the morning", hour: 3, want: 15, tolerance: 0.001},
		{name: "average at nine", hour: 9, want: 21.5, tolerance: 0.001},
		{name: "average at twenty one", hour: 21, want: 21.5, tolerance: 0.001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AmbientTemperature(tt.hour)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("AmbientTemperature(%f) = %f, want %f", tt.hour, got, tt.want)
			}
		})
	}

	// the curve stays within the documented band all day
	for h := 0.0; h < 24; h += 0.25 {
		got := AmbientTemperature(h)
		if got < 15-0.001 || got > 28+0.001 {
			t.Errorf("AmbientTemperature(%f) = %f outside [15, 28]", h, got)
		}
	}
}

func TestGenerator_Stop(t *testing.T) {
	g := NewGenerator(pattern.NewSampler(5))
	noon := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		reading := g.Stop(noon)
		if reading.HumidityPct < 20 || reading.HumidityPct > 90 {
			t.Fatalf("humidity %f outside [20, 90]", reading.HumidityPct)
		}
		if reading.TemperatureC < -50 || reading.TemperatureC > 60 {
			t.Fatalf("temperature %f outside plausible range", reading.TemperatureC)
		}
	}
}

func TestGenerator_BusDoorStatus(t *testing.T) {
	g := NewGenerator(pattern.NewSampler(5))
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	if got := g.Bus(now, 10, true).DoorStatus; got != DoorOpen {
		t.Errorf("door status at stop = %s, want %s", got, DoorOpen)
	}
	if got := g.Bus(now, 10, false).DoorStatus; got != DoorClosed {
		t.Errorf("door status in transit = %s, want %s", got, DoorClosed)
	}
}

func TestGenerator_BusCO2TracksLoad(t *testing.T) {
	g := NewGenerator(pattern.NewSampler(5))
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	meanCO2 := func(passengers int) float64 {
		sum := 0.0
		for i := 0; i < 500; i++ {
			reading := g.Bus(now, passengers, false)
			if reading.CO2PPM < 0 {
				t.Fatalf("co2 %d is negative", reading.CO2PPM)
			}
			sum += float64(reading.CO2PPM)
		}
		return sum / 500
	}

	empty := meanCO2(0)
	full := meanCO2(40)

	if math.Abs(empty-400) > 20 {
		t.Errorf("empty bus mean co2 = %f, want about 400", empty)
	}
	if math.Abs(full-2400) > 20 {
		t.Errorf("full bus mean co2 = %f, want about 2400", full)
	}
	if full <= empty {
		t.Errorf("co2 does not grow with load: empty %f, full %f", empty, full)
	}
}

// hotter samples come with lower humidity
func TestGenerator_HumidityAntiCorrelation(t *testing.T) {
	g := NewGenerator(pattern.NewSampler(21))
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	n := 2000
	var sumT, sumH, sumTT, sumTH float64
	for i := 0; i < n; i++ {
		r := g.Stop(now)
		sumT += r.TemperatureC
		sumH += r.HumidityPct
		sumTT += r.TemperatureC * r.TemperatureC
		sumTH += r.TemperatureC * r.HumidityPct
	}
	covariance := sumTH/float64(n) - (sumT/float64(n))*(sumH/float64(n))
	if covariance >= 0 {
		t.Errorf("temperature/humidity covariance = %f, want negative", covariance)
	}
}
