package timeseries

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Entity types carried on sensor readings
const (
	EntityTypeBus  = "bus"
	EntityTypeStop = "stop"
)

// LineIdList stores the list of lines serving a stop as a single comma
// separated column so the same schema works on postgres and sqlite.
type LineIdList []string

// Value implements driver.Valuer
func (l LineIdList) Value() (driver.Value, error) {
	return strings.Join(l, ","), nil
}

// Scan implements sql.Scanner
func (l *LineIdList) Scan(src interface{}) error {
	var joined string
	switch v := src.(type) {
	case string:
		joined = v
	case []byte:
		joined = string(v)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into LineIdList", src)
	}
	if joined == "" {
		*l = nil
		return nil
	}
	*l = strings.Split(joined, ",")
	return nil
}

// PeopleCount is one observation of how many people are waiting at a stop
type PeopleCount struct {
	StopId  string     `db:"stop_id" json:"stop_id"`
	Time    time.Time  `db:"time" json:"time"`
	Count   int        `db:"count" json:"count"`
	LineIds LineIdList `db:"line_ids" json:"line_ids"`
}

// Validate checks the observation before it is written
func (p *PeopleCount) Validate() error {
	if p.StopId == "" {
		return fmt.Errorf("people count requires a stop_id")
	}
	if p.Count < 0 {
		return fmt.Errorf("people count for stop %s is negative: %d", p.StopId, p.Count)
	}
	if len(p.LineIds) == 0 {
		return fmt.Errorf("people count for stop %s requires serving line_ids", p.StopId)
	}
	return nil
}

// SensorReading is one environmental observation for a bus or a stop.
// CO2PPM and DoorStatus are present exactly when EntityType is "bus".
type SensorReading struct {
	EntityId     string    `db:"entity_id" json:"entity_id"`
	EntityType   string    `db:"entity_type" json:"entity_type"`
	Time         time.Time `db:"time" json:"time"`
	TemperatureC float64   `db:"temperature_c" json:"temperature_c"`
	HumidityPct  float64   `db:"humidity_pct" json:"humidity_pct"`
	CO2PPM       *int      `db:"co2_ppm" json:"co2_ppm,omitempty"`
	DoorStatus   *string   `db:"door_status" json:"door_status,omitempty"`
}

// NewStopSensorReading builds the stop variant of a SensorReading
func NewStopSensorReading(stopId string, at time.Time, temperatureC, humidityPct float64) SensorReading {
	return SensorReading{
		EntityId:     stopId,
		EntityType:   EntityTypeStop,
		Time:         at,
		TemperatureC: temperatureC,
		HumidityPct:  humidityPct,
	}
}

// NewBusSensorReading builds the bus variant of a SensorReading
func NewBusSensorReading(busId string, at time.Time, temperatureC, humidityPct float64, co2PPM int, doorStatus string) SensorReading {
	return SensorReading{
		EntityId:     busId,
		EntityType:   EntityTypeBus,
		Time:         at,
		TemperatureC: temperatureC,
		HumidityPct:  humidityPct,
		CO2PPM:       &co2PPM,
		DoorStatus:   &doorStatus,
	}
}

// Validate checks ranges and the bus/stop variant rules
func (r *SensorReading) Validate() error {
	if r.EntityId == "" {
		return fmt.Errorf("sensor reading requires an entity_id")
	}
	if r.TemperatureC < -50 || r.TemperatureC > 60 {
		return fmt.Errorf("sensor reading for %s temperature %f out of range", r.EntityId, r.TemperatureC)
	}
	if r.HumidityPct < 0 || r.HumidityPct > 100 {
		return fmt.Errorf("sensor reading for %s humidity %f out of range", r.EntityId, r.HumidityPct)
	}
	switch r.EntityType {
	case EntityTypeBus:
		if r.CO2PPM == nil || r.DoorStatus == nil {
			return fmt.Errorf("bus sensor reading for %s requires co2_ppm and door_status", r.EntityId)
		}
		if *r.CO2PPM < 0 {
			return fmt.Errorf("bus sensor reading for %s co2 %d is negative", r.EntityId, *r.CO2PPM)
		}
		if *r.DoorStatus != "open" && *r.DoorStatus != "closed" {
			return fmt.Errorf("bus sensor reading for %s has invalid door_status %s", r.EntityId, *r.DoorStatus)
		}
	case EntityTypeStop:
		if r.CO2PPM != nil || r.DoorStatus != nil {
			return fmt.Errorf("stop sensor reading for %s must not carry co2_ppm or door_status", r.EntityId)
		}
	default:
		return fmt.Errorf("sensor reading for %s has invalid entity_type %s", r.EntityId, r.EntityType)
	}
	return nil
}

// BusPosition is one observation of where a bus is on its line
type BusPosition struct {
	BusId               string    `db:"bus_id" json:"bus_id"`
	LineId              string    `db:"line_id" json:"line_id"`
	Time                time.Time `db:"time" json:"time"`
	Latitude            float64   `db:"latitude" json:"latitude"`
	Longitude           float64   `db:"longitude" json:"longitude"`
	PassengerCount      int       `db:"passenger_count" json:"passenger_count"`
	NextStopId          string    `db:"next_stop_id" json:"next_stop_id"`
	DistanceToNextStopM float64   `db:"distance_to_next_stop_m" json:"distance_to_next_stop_m"`
	SpeedKmh            float64   `db:"speed_kmh" json:"speed_kmh"`
	Direction           int       `db:"direction" json:"direction"`
}

// Validate checks the observation before it is written
func (b *BusPosition) Validate() error {
	if b.BusId == "" || b.LineId == "" {
		return fmt.Errorf("bus position requires bus_id and line_id")
	}
	if b.Latitude < -90 || b.Latitude > 90 {
		return fmt.Errorf("bus position for %s latitude %f out of range", b.BusId, b.Latitude)
	}
	if b.Longitude < -180 || b.Longitude > 180 {
		return fmt.Errorf("bus position for %s longitude %f out of range", b.BusId, b.Longitude)
	}
	if b.PassengerCount < 0 {
		return fmt.Errorf("bus position for %s passenger count %d is negative", b.BusId, b.PassengerCount)
	}
	if b.DistanceToNextStopM < 0 {
		return fmt.Errorf("bus position for %s distance to next stop %f is negative", b.BusId, b.DistanceToNextStopM)
	}
	if b.SpeedKmh < 0 {
		return fmt.Errorf("bus position for %s speed %f is negative", b.BusId, b.SpeedKmh)
	}
	if b.Direction != 0 && b.Direction != 1 {
		return fmt.Errorf("bus position for %s direction %d is invalid", b.BusId, b.Direction)
	}
	return nil
}
