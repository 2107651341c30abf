package fusion

import (
	"fmt"
	"testing"
	"time"
)

func TestDashboardAggregate(t *testing.T) {
	agg := NewDashboardAggregator()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	pilots := map[string]*PilotRecord{
		"1": {UID: "1", AircraftType: "B738", FlightPlan: &FlightPlanRecord{Departure: "EDDF", Arrival: "EGLL"}},
		"2": {UID: "2", AircraftType: "B738", FlightPlan: &FlightPlanRecord{Departure: "EDDF", Arrival: "EGLL"}},
		"3": {UID: "3", AircraftType: "A320", FlightPlan: &FlightPlanRecord{Departure: "EGLL", Arrival: "EDDF"}},
		"4": {UID: "4", AircraftType: "A320"},
	}
	controllers := map[string]*MergedController{
		"fir_EDGG": {ID: "fir_EDGG", Sessions: []*ControllerRecord{
			{Callsign: "EDGG_CTR", Connections: 12},
			{Callsign: "EDGG_DKB_CTR", Connections: 3},
		}},
		"airport_EDDF": {ID: "airport_EDDF", Sessions: []*ControllerRecord{
			{Callsign: "EDDF_TWR", Connections: 5},
		}},
	}
	airports := map[string]*AirportRecord{
		"EDDF": {ICAO: "EDDF", Departures: TrafficBlock{Count: 2}, Arrivals: TrafficBlock{Count: 1}},
		"EGLL": {ICAO: "EGLL", Departures: TrafficBlock{Count: 1}, Arrivals: TrafficBlock{Count: 2}},
		"LFPG": {ICAO: "LFPG", Departures: TrafficBlock{Count: 1}},
	}

	dash := agg.Aggregate(pilots, controllers, airports, now)

	if dash.TotalPilots != 4 {
		t.Errorf("total pilots = %d, want 4", dash.TotalPilots)
	}
	// Raw sessions, not merged groups
	if dash.TotalControllers != 3 {
		t.Errorf("total controllers = %d, want 3", dash.TotalControllers)
	}

	if len(dash.BusiestAirports) != 3 || dash.BusiestAirports[0].ID != "EDDF" {
		t.Errorf("busiest airports = %+v", dash.BusiestAirports)
	}
	if dash.QuietestAirports[0].ID != "LFPG" {
		t.Errorf("quietest airports = %+v", dash.QuietestAirports)
	}

	if dash.BusiestRoutes[0].ID != "EDDF-EGLL" || dash.BusiestRoutes[0].Count != 2 {
		t.Errorf("busiest routes = %+v", dash.BusiestRoutes)
	}
	// Pilot 4 has no plan: counted in aircraft types, absent from routes
	if len(dash.BusiestRoutes) != 2 {
		t.Errorf("route list = %+v, want 2 entries", dash.BusiestRoutes)
	}

	if dash.BusiestAircraft[0].Count != 2 {
		t.Errorf("busiest aircraft = %+v", dash.BusiestAircraft)
	}

	if dash.BusiestControllers[0].ID != "fir_EDGG" || dash.BusiestControllers[0].Count != 15 {
		t.Errorf("busiest controllers = %+v", dash.BusiestControllers)
	}

	if !dash.UpdatedAt.Equal(now) {
		t.Errorf("updated at = %v, want %v", dash.UpdatedAt, now)
	}
}

func TestTopCountsLimitsAndTieBreak(t *testing.T) {
	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		counts[fmt.Sprintf("airport-%d", i)] = 10 - i
	}

	top := topCounts(counts, 5, false)
	if len(top) != 5 {
		t.Fatalf("len = %d, want 5", len(top))
	}
	if top[0].ID != "airport-0" || top[4].ID != "airport-4" {
		t.Errorf("descending order wrong: %+v", top)
	}

	// Equal counts order lexicographically by id
	tied := map[string]int{"b": 1, "a": 1, "c": 1}
	got := topCounts(tied, 5, false)
	if got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("tie-break order = %+v", got)
	}

	asc := topCounts(counts, 3, true)
	if asc[0].ID != "airport-7" {
		t.Errorf("ascending order wrong: %+v", asc)
	}
}

// Busiest/quietest aircraft with B738=2 vs A320=2 tie: lexicographic order
// must make the ranking stable across cycles.
func TestDashboardStableAcrossRuns(t *testing.T) {
	agg := NewDashboardAggregator()
	now := time.Now()

	pilots := map[string]*PilotRecord{
		"1": {UID: "1", AircraftType: "B738"},
		"2": {UID: "2", AircraftType: "A320"},
	}

	first := agg.Aggregate(pilots, nil, nil, now)
	for i := 0; i < 10; i++ {
		again := agg.Aggregate(pilots, nil, nil, now)
		if again.BusiestAircraft[0] != first.BusiestAircraft[0] {
			t.Fatalf("run %d: ranking flapped between %+v and %+v", i, first.BusiestAircraft, again.BusiestAircraft)
		}
	}
}
