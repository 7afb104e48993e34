// Package catalog loads and validates the simulator's line, stop and bus
// configuration document, and builds the read only route geometry the
// feeders share.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/citypulse-labs/bus-simulator/business/sim/route"
)

// DefaultSpeedKmh is used for buses whose config omits a speed
const DefaultSpeedKmh = 30.0

// BusConfig describes one bus in the configuration document
type BusConfig struct {
	BusId           string  `json:"bus_id"`
	LineId          string  `json:"line_id"`
	Capacity        int     `json:"capacity"`
	InitialPosition float64 `json:"initial_position"`
	SpeedKmh        float64 `json:"speed_kmh"`
}

// LineConfig describes one line and its ordered stops
type LineConfig struct {
	LineId string       `json:"line_id"`
	Stops  []route.Stop `json:"stops"`
}

// Document is the top level configuration file shape
type Document struct {
	Lines []LineConfig `json:"lines"`
	Buses []BusConfig  `json:"buses"`
}

// Catalog is the validated, immutable world description the feeders load
// once at startup. Safe for concurrent reads.
type Catalog struct {
	routes      map[string]*route.Route
	buses       []BusConfig
	linesByStop map[string][]string
}

// Load reads and validates a catalog document from path
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f)
}

// Parse reads and validates a catalog document from r
func Parse(r io.Reader) (*Catalog, error) {
	var doc Document
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing catalog document: %w", err)
	}
	return build(&doc)
}

func build(doc *Document) (*Catalog, error) {
	if len(doc.Lines) == 0 {
		return nil, fmt.Errorf("catalog requires at least one line")
	}
	if len(doc.Buses) == 0 {
		return nil, fmt.Errorf("catalog requires at least one bus")
	}

	c := Catalog{
		routes:      make(map[string]*route.Route, len(doc.Lines)),
		buses:       make([]BusConfig, 0, len(doc.Buses)),
		linesByStop: make(map[string][]string),
	}

	for _, line := range doc.Lines {
		if _, present := c.routes[line.LineId]; present {
			return nil, fmt.Errorf("catalog has duplicate line_id %s", line.LineId)
		}
		r, err := route.NewRoute(line.LineId, line.Stops)
		if err != nil {
			return nil, err
		}
		c.routes[line.LineId] = r
		for _, stop := range r.Stops {
			c.linesByStop[stop.StopId] = append(c.linesByStop[stop.StopId], line.LineId)
		}
	}

	seenBuses := make(map[string]bool, len(doc.Buses))
	for _, bus := range doc.Buses {
		if bus.BusId == "" {
			return nil, fmt.Errorf("bus requires a bus_id")
		}
		if seenBuses[bus.BusId] {
			return nil, fmt.Errorf("catalog has duplicate bus_id %s", bus.BusId)
		}
		seenBuses[bus.BusId] = true
		if _, present := c.routes[bus.LineId]; !present {
			return nil, fmt.Errorf("bus %s references unknown line_id %s", bus.BusId, bus.LineId)
		}
		if bus.Capacity <= 0 {
			return nil, fmt.Errorf("bus %s capacity %d must be positive", bus.BusId, bus.Capacity)
		}
		if bus.InitialPosition < 0 || bus.InitialPosition > 1 {
			return nil, fmt.Errorf("bus %s initial_position %f out of range", bus.BusId, bus.InitialPosition)
		}
		if bus.SpeedKmh < 0 {
			return nil, fmt.Errorf("bus %s speed_kmh %f must not be negative", bus.BusId, bus.SpeedKmh)
		}
		if bus.SpeedKmh == 0 {
			bus.SpeedKmh = DefaultSpeedKmh
		}
		c.buses = append(c.buses, bus)
	}

	for stopId := range c.linesByStop {
		sort.Strings(c.linesByStop[stopId])
	}

	return &c, nil
}

// Route returns the route for lineId, or nil when unknown
func (c *Catalog) Route(lineId string) *route.Route {
	return c.routes[lineId]
}

// LineIds returns all line ids in the catalog, sorted
func (c *Catalog) LineIds() []string {
	ids := make([]string, 0, len(c.routes))
	for id := range c.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Buses returns the configured buses
func (c *Catalog) Buses() []BusConfig {
	return c.buses
}

// LinesServingStop returns the sorted line ids that stop at stopId
func (c *Catalog) LinesServingStop(stopId string) []string {
	return c.linesByStop[stopId]
}

// Stops returns every distinct stop in the catalog, ordered by stop id.
// A stop shared between lines appears once.
func (c *Catalog) Stops() []route.Stop {
	byId := make(map[string]route.Stop)
	for _, r := range c.routes {
		for _, stop := range r.Stops {
			byId[stop.StopId] = stop
		}
	}
	stops := make([]route.Stop, 0, len(byId))
	for _, stop := range byId {
		stops = append(stops, stop)
	}
	sort.Slice(stops, func(i, j int) bool { return stops[i].StopId < stops[j].StopId })
	return stops
}
