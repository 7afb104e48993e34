package route

import (
	"math"
	"testing"
)

// testRoute returns a three stop line running roughly north-east to
// south-west near Madrid. The middle stop sits very close to the halfway
// point of the total distance.
func testRoute(t *testing.T) *Route {
	t.Helper()
	r, err := NewRoute("L1", []Stop{
		{StopId: "A", Name: "North Terminal", Latitude: 40.00, Longitude: -3.00, IsTerminal: true, BaseArrivalRate: 1.0},
		{StopId: "B", Name: "Center", Latitude: 40.05, Longitude: -3.05, BaseArrivalRate: 2.0},
		{StopId: "C", Name: "South Terminal", Latitude: 40.10, Longitude: -3.10, IsTerminal: true, BaseArrivalRate: 1.0},
	})
	if err != nil {
		t.Fatalf("unable to build test route: %v", err)
	}
	return r
}

func TestNewRouteValidation(t *testing.T) {
	valid := []Stop{
		{StopId: "A", Latitude: 40.0, Longitude: -3.0, IsTerminal: true},
		{StopId: "B", Latitude: 40.1, Longitude: -3.1},
	}
	tests := []struct {
		name    string
		lineId  string
		stops   []Stop
		wantErr bool
	}{
		{name: "valid route", lineId: "L1", stops: valid},
		{name: "missing line id", lineId: "", stops: valid, wantErr: true},
		{name: "single stop", lineId: "L1", stops: valid[:1], wantErr: true},
		{
			name:   "duplicate stop ids",
			lineId: "L1",
			stops: []Stop{
				{StopId: "A", Latitude: 40.0, Longitude: -3.0, IsTerminal: true},
				{StopId: "A", Latitude: 40.1, Longitude: -3.1},
			},
			wantErr: true,
		},
		{
			name:   "no terminal",
			lineId: "L1",
			stops: []Stop{
				{StopId: "A", Latitude: 40.0, Longitude: -3.0},
				{StopId: "B", Latitude: 40.1, Longitude: -3.1},
			},
			wantErr: true,
		},
		{
			name:   "latitude out of range",
			lineId: "L1",
			stops: []Stop{
				{StopId: "A", Latitude: 91.0, Longitude: -3.0, IsTerminal: true},
				{StopId: "B", Latitude: 40.1, Longitude: -3.1},
			},
			wantErr: true,
		},
		{
			name:   "negative arrival rate",
			lineId: "L1",
			stops: []Stop{
				{StopId: "A", Latitude: 40.0, Longitude: -3.0, IsTerminal: true, BaseArrivalRate: -0.5},
				{StopId: "B", Latitude: 40.1, Longitude: -3.1},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stops := make([]Stop, len(tt.stops))
			copy(stops, tt.stops)
			_, err := NewRoute(tt.lineId, stops)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRoute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHaversineMeters(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lon1      float64
		lat2      float64
		lon2      float64
		want      float64
		tolerance float64
	}{
		{
			name: "zero distance",
			lat1: 40.0, lon1: -3.0, lat2: 40.0, lon2: -3.0,
			want: 0, tolerance: 0.001,
		},
		{
			name: "about fourteen kilometers",
			lat1: 40.00, lon1: -3.00, lat2: 40.10, lon2: -3.10,
			want: 14003, tolerance: 25,
		},
		{
			name: "one degree of latitude",
			lat1: 0, lon1: 0, lat2: 1, lon2: 0,
			want: 111195, tolerance: 50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineMeters() = %f, want %f within %f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestRoute_TotalDistance(t *testing.T) {
	r := testRoute(t)
	if r.TotalDistance() < 13900 || r.TotalDistance() > 14100 {
		t.Errorf("TotalDistance() = %f, want about 14000", r.TotalDistance())
	}
}

func TestRoute_Advance(t *testing.T) {
	r := testRoute(t)
	total := r.TotalDistance()

	tests := []struct {
		name   string
		p      float64
		meters float64
		want   float64
	}{
		{name: "no movement", p: 0.25, meters: 0, want: 0.25},
		{name: "quarter of route", p: 0, meters: total / 4, want: 0.25},
		{name: "capped at one", p: 0.9, meters: total, want: 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Advance(tt.p, tt.meters)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Advance() = %f, want %f", got, tt.want)
			}
		})
	}

	// advancing d1+d2 equals advancing d1 then d2 below the cap
	oneShot := r.Advance(0.1, 3000)
	twoShot := r.Advance(r.Advance(0.1, 1800), 1200)
	if math.Abs(oneShot-twoShot) > 1e-9 {
		t.Errorf("advance is not additive: %f vs %f", oneShot, twoShot)
	}
}

func TestRoute_Coordinates(t *testing.T) {
	r := testRoute(t)
	first := r.Stops[0]
	last := r.Stops[2]

	tests := []struct {
		name      string
		p         float64
		direction Direction
		wantLat   float64
		wantLon   float64
		tolerance float64
	}{
		{name: "outbound origin is first stop", p: 0, direction: Outbound, wantLat: first.Latitude, wantLon: first.Longitude},
		{name: "outbound end is last stop", p: 1, direction: Outbound, wantLat: last.Latitude, wantLon: last.Longitude},
		{name: "inbound origin is last stop", p: 0, direction: Inbound, wantLat: last.Latitude, wantLon: last.Longitude},
		{name: "inbound end is first stop", p: 1, direction: Inbound, wantLat: first.Latitude, wantLon: first.Longitude},
		{name: "outbound midpoint", p: 0.5, direction: Outbound, wantLat: 40.05, wantLon: -3.05, tolerance: 0.001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLat, gotLon := r.Coordinates(tt.p, tt.direction)
			if math.Abs(gotLat-tt.wantLat) > tt.tolerance || math.Abs(gotLon-tt.wantLon) > tt.tolerance {
				t.Errorf("Coordinates() = (%f, %f), want (%f, %f)", gotLat, gotLon, tt.wantLat, tt.wantLon)
			}
		})
	}

	// the two direction origins mirror each other exactly
	outLat, outLon := r.Coordinates(0, Outbound)
	inLat, inLon := r.Coordinates(1, Inbound)
	if outLat != inLat || outLon != inLon {
		t.Errorf("Coordinates(1, Inbound) = (%f, %f), want Coordinates(0, Outbound) = (%f, %f)",
			inLat, inLon, outLat, outLon)
	}
}

// every interpolated point must sit within 50 meters of the segment it
// interpolates, checked against the distance to the nearest stop pair
func TestRoute_CoordinatesStayNearRoute(t *testing.T) {
	r := testRoute(t)
	for p := 0.0; p <= 1.0; p += 0.05 {
		lat, lon := r.Coordinates(p, Outbound)
		nearest := math.MaxFloat64
		for i := 0; i+1 < len(r.Stops); i++ {
			from := r.Stops[i]
			to := r.Stops[i+1]
			// point to segment distance via projection in degree space,
			// close enough at this scale
			d := pointToSegmentMeters(lat, lon, from, to)
			if d < nearest {
				nearest = d
			}
		}
		if nearest > 50 {
			t.Errorf("Coordinates(%f) is %f meters from the route", p, nearest)
		}
	}
}

func pointToSegmentMeters(lat, lon float64, from, to Stop) float64 {
	dLat := to.Latitude - from.Latitude
	dLon := to.Longitude - from.Longitude
	lenSq := dLat*dLat + dLon*dLon
	frac := 0.0
	if lenSq > 0 {
		frac = ((lat-from.Latitude)*dLat + (lon-from.Longitude)*dLon) / lenSq
		frac = math.Max(0, math.Min(1, frac))
	}
	projLat := from.Latitude + dLat*frac
	projLon := from.Longitude + dLon*frac
	return HaversineMeters(lat, lon, projLat, projLon)
}

func TestRoute_StopsBetween(t *testing.T) {
	r := testRoute(t)

	tests := []struct {
		name      string
		pStart    float64
		pEnd      float64
		direction Direction
		want      []string
	}{
		{name: "no stops in short hop", pStart: 0.1, pEnd: 0.2, direction: Outbound, want: []string{}},
		{name: "middle stop crossed", pStart: 0.4, pEnd: 0.6, direction: Outbound, want: []string{"B"}},
		{name: "stop at start excluded", pStart: 0, pEnd: 0.3, direction: Outbound, want: []string{}},
		{name: "full outbound run skips origin", pStart: 0, pEnd: 1, direction: Outbound, want: []string{"B", "C"}},
		{name: "inbound crosses middle stop", pStart: 0.4, pEnd: 0.6, direction: Inbound, want: []string{"B"}},
		{name: "full inbound run", pStart: 0, pEnd: 1, direction: Inbound, want: []string{"B", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.StopsBetween(tt.pStart, tt.pEnd, tt.direction)
			if len(got) != len(tt.want) {
				t.Fatalf("StopsBetween() returned %d stops, want %d", len(got), len(tt.want))
			}
			for i, wantId := range tt.want {
				if got[i].StopId != wantId {
					t.Errorf("StopsBetween()[%d] = %s, want %s", i, got[i].StopId, wantId)
				}
			}
		})
	}
}

func TestRoute_NextStop(t *testing.T) {
	r := testRoute(t)

	tests := []struct {
		name      string
		p         float64
		direction Direction
		want      string
		wantNone  bool
	}{
		{name: "before middle outbound", p: 0.2, direction: Outbound, want: "B"},
		{name: "past middle outbound", p: 0.6, direction: Outbound, want: "C"},
		{name: "at end outbound", p: 1.0, direction: Outbound, wantNone: true},
		{name: "before middle inbound", p: 0.2, direction: Inbound, want: "B"},
		{name: "past middle inbound", p: 0.6, direction: Inbound, want: "A"},
		{name: "at end inbound", p: 1.0, direction: Inbound, wantNone: true},
		{name: "at origin next is middle", p: 0, direction: Outbound, want: "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.NextStop(tt.p, tt.direction)
			if tt.wantNone {
				if got != nil {
					t.Errorf("NextStop() = %s, want none", got.StopId)
				}
				return
			}
			if got == nil {
				t.Fatalf("NextStop() = none, want %s", tt.want)
			}
			if got.StopId != tt.want {
				t.Errorf("NextStop() = %s, want %s", got.StopId, tt.want)
			}
		})
	}
}

func TestRoute_DistanceToStop(t *testing.T) {
	r := testRoute(t)
	total := r.TotalDistance()

	tests := []struct {
		name      string
		p         float64
		stopId    string
		direction Direction
		want      float64
		tolerance float64
	}{
		{name: "ahead outbound", p: 0.25, stopId: "C", direction: Outbound, want: 0.75 * total, tolerance: 1},
		{name: "behind outbound", p: 0.75, stopId: "B", direction: Outbound, want: -1},
		{name: "not on route", p: 0.25, stopId: "Z", direction: Outbound, want: -1},
		{name: "ahead inbound", p: 0.25, stopId: "A", direction: Inbound, want: 0.75 * total, tolerance: 1},
		{name: "behind inbound", p: 0.75, stopId: "C", direction: Inbound, want: -1},
		{name: "exactly at stop", p: 1.0, stopId: "C", direction: Outbound, want: 0, tolerance: 0.001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.DistanceToStop(tt.p, tt.stopId, tt.direction)
			if tt.want == -1 {
				if got != -1 {
					t.Errorf("DistanceToStop() = %f, want -1", got)
				}
				return
			}
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceToStop() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestDirection_Toggle(t *testing.T) {
	if Outbound.Toggle() != Inbound || Inbound.Toggle() != Outbound {
		t.Errorf("Toggle() does not flip directions")
	}
}
