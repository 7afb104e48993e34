// Package events publishes simulator change events over NATS. Events
// are best effort: publishes are retried with the shared backoff
// schedule and a final failure is reported to the caller to log, never
// to abort a tick. The time-series store remains the authoritative
// record.
package events

import (
	"encoding/json"
	"fmt"
	logger "log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/citypulse-labs/bus-simulator/foundation/backoff"
)

// Source identifies this system on every published event
const Source = "bus-simulator"

// Detail types and the NATS subjects they are published on
const (
	DetailTypePositionUpdate = "bus.position.updated"
	DetailTypeArrival        = "bus.arrival"

	SubjectPositionUpdate = "bus.position.updated"
	SubjectArrival        = "bus.arrival"
)

// Envelope is the stable wire shape wrapping every event detail
type Envelope struct {
	Id         string          `json:"id"`
	Source     string          `json:"source"`
	DetailType string          `json:"detail_type"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

// PositionUpdate is the detail payload of a bus.position.updated event
type PositionUpdate struct {
	BusId               string    `json:"bus_id"`
	LineId              string    `json:"line_id"`
	Time                time.Time `json:"time"`
	Latitude            float64   `json:"lat"`
	Longitude           float64   `json:"lon"`
	PassengerCount      int       `json:"passenger_count"`
	NextStopId          string    `json:"next_stop_id"`
	DistanceToNextStopM float64   `json:"distance_to_next_stop"`
	SpeedKmh            float64   `json:"speed"`
}

// Arrival is the detail payload of a bus.arrival event, carrying both
// the bus side and the stop side state after the exchange.
type Arrival struct {
	BusId               string    `json:"bus_id"`
	LineId              string    `json:"line_id"`
	StopId              string    `json:"stop_id"`
	Time                time.Time `json:"time"`
	PassengersBoarding  int       `json:"passengers_boarding"`
	PassengersAlighting int       `json:"passengers_alighting"`
	BusPassengerCount   int       `json:"bus_passenger_count"`
	StopPeopleCount     int       `json:"stop_people_count"`
}

// Publisher sends simulator events over a NATS connection
type Publisher struct {
	log            *logger.Logger
	natsConnection *nats.Conn
	retrier        *backoff.Retrier
}

// NewPublisher creates a Publisher retrying failed publishes maxRetries
// times.
func NewPublisher(log *logger.Logger, natsConnection *nats.Conn, maxRetries int) *Publisher {
	return &Publisher{
		log:            log,
		natsConnection: natsConnection,
		retrier:        backoff.NewRetrier(log, maxRetries),
	}
}

// Retrier exposes the publisher's retrier so tests can replace its sleep
func (p *Publisher) Retrier() *backoff.Retrier {
	return p.retrier
}

// PublishPositionUpdate publishes a bus.position.updated event.
// The returned error is soft: callers log it and continue the tick.
func (p *Publisher) PublishPositionUpdate(update PositionUpdate) error {
	return p.publish(SubjectPositionUpdate, DetailTypePositionUpdate, update.Time, update)
}

// PublishArrival publishes a bus.arrival event.
// The returned error is soft: callers log it and continue the tick.
func (p *Publisher) PublishArrival(arrival Arrival) error {
	return p.publish(SubjectArrival, DetailTypeArrival, arrival.Time, arrival)
}

func (p *Publisher) publish(subject, detailType string, at time.Time, detail interface{}) error {
	jsonData, err := MarshalEnvelope(detailType, at, detail)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", detailType, err)
	}
	return p.retrier.Run(fmt.Sprintf("publishing %s", detailType), func() error {
		return p.natsConnection.Publish(subject, jsonData)
	})
}

// MarshalEnvelope wraps a detail payload in the event envelope and
// returns the wire bytes.
func MarshalEnvelope(detailType string, at time.Time, detail interface{}) ([]byte, error) {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Id:         uuid.NewString(),
		Source:     Source,
		DetailType: detailType,
		Time:       at.UTC(),
		Detail:     detailJSON,
	})
}
