// Package route provides the line geometry model for the simulator:
// stops, segment distances and direction aware traversal of a position
// expressed as a fraction of the total line distance.
package route

import (
	"fmt"
	"math"
)

// earthRadiusMeters is the sphere radius used for haversine distances
const earthRadiusMeters = 6371000.0

// Direction of travel along a route.
// Outbound traverses the stops first to last, Inbound traverses them in
// reverse. A position p in [0,1] is the fraction of the total distance
// travelled from the direction's origin stop, so p=0 Inbound is the last
// stop of the line.
type Direction int

const (
	Outbound Direction = 0
	Inbound  Direction = 1
)

// Toggle returns the opposite direction
func (d Direction) Toggle() Direction {
	if d == Outbound {
		return Inbound
	}
	return Outbound
}

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Stop is a single stop on a line. Immutable after the catalog is loaded.
type Stop struct {
	StopId     string  `json:"stop_id"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	IsTerminal bool    `json:"is_terminal"`
	// BaseArrivalRate is expected passenger arrivals per minute before
	// the time of day multiplier is applied
	BaseArrivalRate float64 `json:"base_arrival_rate"`
}

// Validate checks coordinate and rate ranges on the stop
func (s *Stop) Validate() error {
	if s.StopId == "" {
		return fmt.Errorf("stop requires a stop_id")
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("stop %s latitude %f out of range", s.StopId, s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("stop %s longitude %f out of range", s.StopId, s.Longitude)
	}
	if s.BaseArrivalRate < 0 {
		return fmt.Errorf("stop %s base_arrival_rate %f must not be negative", s.StopId, s.BaseArrivalRate)
	}
	return nil
}

// Route is an ordered sequence of stops on a line with memoised segment
// distances. Read only after construction, safe for concurrent use.
type Route struct {
	LineId string
	Stops  []Stop

	//segmentMeters[i] is the distance between stop i and stop i+1
	segmentMeters []float64
	//cumulativeMeters[i] is the distance from the first stop to stop i
	cumulativeMeters []float64
	totalMeters      float64
}

// NewRoute validates stops and builds a Route with its distance table.
func NewRoute(lineId string, stops []Stop) (*Route, error) {
	if lineId == "" {
		return nil, fmt.Errorf("route requires a line_id")
	}
	if len(stops) < 2 {
		return nil, fmt.Errorf("route %s requires at least 2 stops, has %d", lineId, len(stops))
	}
	seen := make(map[string]bool, len(stops))
	terminals := 0
	for i := range stops {
		stop := &stops[i]
		if err := stop.Validate(); err != nil {
			return nil, fmt.Errorf("route %s: %w", lineId, err)
		}
		if seen[stop.StopId] {
			return nil, fmt.Errorf("route %s has duplicate stop_id %s", lineId, stop.StopId)
		}
		seen[stop.StopId] = true
		if stop.IsTerminal {
			terminals++
		}
	}
	if terminals < 1 {
		return nil, fmt.Errorf("route %s requires at least one terminal stop", lineId)
	}

	r := Route{
		LineId:           lineId,
		Stops:            stops,
		segmentMeters:    make([]float64, len(stops)-1),
		cumulativeMeters: make([]float64, len(stops)),
	}
	for i := 0; i+1 < len(stops); i++ {
		d := HaversineMeters(stops[i].Latitude, stops[i].Longitude,
			stops[i+1].Latitude, stops[i+1].Longitude)
		r.segmentMeters[i] = d
		r.cumulativeMeters[i+1] = r.cumulativeMeters[i] + d
	}
	r.totalMeters = r.cumulativeMeters[len(stops)-1]
	if r.totalMeters <= 0 {
		return nil, fmt.Errorf("route %s has zero total distance", lineId)
	}
	return &r, nil
}

// HaversineMeters returns the great circle distance between two
// coordinates in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// TotalDistance returns the memoised length of the route in meters
func (r *Route) TotalDistance() float64 {
	return r.totalMeters
}

// Advance moves a position p forward by meters of travel, capped at 1.0.
// Direction does not enter the arithmetic, it only changes which stop p
// is measured from.
func (r *Route) Advance(p float64, meters float64) float64 {
	return math.Min(1.0, p+meters/r.totalMeters)
}

// directedCumulativeMeters returns the distance of stop index i from the
// origin stop of the given direction
func (r *Route) directedCumulativeMeters(i int, direction Direction) float64 {
	if direction == Inbound {
		return r.totalMeters - r.cumulativeMeters[i]
	}
	return r.cumulativeMeters[i]
}

// Coordinates locates position p travelling in direction as a lat/lon
// pair by linear interpolation within the segment containing p.
// Endpoints return exact stop coordinates, so Coordinates(1, Inbound)
// equals Coordinates(0, Outbound).
func (r *Route) Coordinates(p float64, direction Direction) (float64, float64) {
	effective := p
	if direction == Inbound {
		effective = 1.0 - p
	}
	target := effective * r.totalMeters
	if target <= 0 {
		first := r.Stops[0]
		return first.Latitude, first.Longitude
	}
	if target >= r.totalMeters {
		last := r.Stops[len(r.Stops)-1]
		return last.Latitude, last.Longitude
	}
	for i := 0; i+1 < len(r.Stops); i++ {
		segStart := r.cumulativeMeters[i]
		segLen := r.segmentMeters[i]
		if target <= segStart+segLen {
			if segLen == 0 {
				return r.Stops[i].Latitude, r.Stops[i].Longitude
			}
			frac := (target - segStart) / segLen
			from := r.Stops[i]
			to := r.Stops[i+1]
			return from.Latitude + (to.Latitude-from.Latitude)*frac,
				from.Longitude + (to.Longitude-from.Longitude)*frac
		}
	}
	last := r.Stops[len(r.Stops)-1]
	return last.Latitude, last.Longitude
}

// StopsBetween returns the stops passed when moving from pStart to pEnd
// in direction, in the order they are passed. A stop exactly at pStart is
// not included, a stop exactly at pEnd is, so a bus sitting at a stop
// does not re-arrive at it until it has moved.
func (r *Route) StopsBetween(pStart, pEnd float64, direction Direction) []Stop {
	startMeters := pStart * r.totalMeters
	endMeters := pEnd * r.totalMeters
	passed := make([]Stop, 0)
	for _, i := range r.traversalOrder(direction) {
		d := r.directedCumulativeMeters(i, direction)
		if d > startMeters && d <= endMeters {
			passed = append(passed, r.Stops[i])
		}
	}
	return passed
}

// NextStop returns the first stop strictly ahead of position p in the
// direction of travel, or nil past the final stop.
func (r *Route) NextStop(p float64, direction Direction) *Stop {
	positionMeters := p * r.totalMeters
	for _, i := range r.traversalOrder(direction) {
		if r.directedCumulativeMeters(i, direction) > positionMeters {
			stop := r.Stops[i]
			return &stop
		}
	}
	return nil
}

// DistanceToStop returns the forward distance in meters from position p
// to the stop with stopId in the direction of travel, or -1 if the stop
// is behind the position or not on the route.
func (r *Route) DistanceToStop(p float64, stopId string, direction Direction) float64 {
	positionMeters := p * r.totalMeters
	for i := range r.Stops {
		if r.Stops[i].StopId != stopId {
			continue
		}
		d := r.directedCumulativeMeters(i, direction) - positionMeters
		if d < 0 {
			return -1
		}
		return d
	}
	return -1
}

// traversalOrder returns stop indexes in the order the direction visits them
func (r *Route) traversalOrder(direction Direction) []int {
	order := make([]int, len(r.Stops))
	for i := range order {
		if direction == Inbound {
			order[i] = len(r.Stops) - 1 - i
		} else {
			order[i] = i
		}
	}
	return order
}
