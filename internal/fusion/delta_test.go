package fusion

import (
	"testing"
	"time"
)

func deltaPilot(uid string, altitude int) *PilotRecord {
	return &PilotRecord{
		UID:         uid,
		Callsign:    "TST" + uid,
		AltitudeMSL: altitude,
		LastUpdated: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func pilotIdentity(p *PilotRecord) string { return p.UID }

// Every identity must land in exactly one of: added, updated, unchanged
// (absent), or deleted.
func TestComputeDeltaPartition(t *testing.T) {
	previous := []*PilotRecord{
		deltaPilot("a", 1000),
		deltaPilot("b", 2000),
		deltaPilot("c", 3000),
	}
	current := []*PilotRecord{
		deltaPilot("b", 2500), // updated
		deltaPilot("c", 3000), // unchanged
		deltaPilot("d", 4000), // added
	}

	delta := ComputeDelta(previous, current, "uid", pilotIdentity, DiffPilots)

	if len(delta.Added) != 1 || delta.Added[0].UID != "d" {
		t.Errorf("added = %v, want [d]", delta.Added)
	}
	if len(delta.Updated) != 1 || delta.Updated[0]["uid"] != "b" {
		t.Errorf("updated = %v, want patch for b", delta.Updated)
	}
	if len(delta.Deleted) != 1 || delta.Deleted[0] != "a" {
		t.Errorf("deleted = %v, want [a]", delta.Deleted)
	}
}

func TestComputeDeltaUnchangedEmitsNothing(t *testing.T) {
	records := []*PilotRecord{deltaPilot("a", 1000), deltaPilot("b", 2000)}

	delta := ComputeDelta(records, records, "uid", pilotIdentity, DiffPilots)
	if !delta.Empty() {
		t.Errorf("identical snapshots should produce an empty delta, got %+v", delta)
	}
}

// Updated entries are patches: the identity plus changed fields, nothing
// else. An extra field here would corrupt subscriber state.
func TestComputeDeltaPatchMinimality(t *testing.T) {
	prev := deltaPilot("a", 10000)
	curr := deltaPilot("a", 11000)

	delta := ComputeDelta([]*PilotRecord{prev}, []*PilotRecord{curr}, "uid", pilotIdentity, DiffPilots)

	if len(delta.Updated) != 1 {
		t.Fatalf("want one patch, got %d", len(delta.Updated))
	}
	patch := delta.Updated[0]
	if len(patch) != 2 {
		t.Fatalf("patch = %v, want exactly uid and altitude_msl", patch)
	}
	if patch["uid"] != "a" {
		t.Errorf("patch identity = %v, want a", patch["uid"])
	}
	if patch["altitude_msl"] != 11000 {
		t.Errorf("patch altitude_msl = %v, want 11000", patch["altitude_msl"])
	}
}

func TestComputeDeltaDuplicateIdentityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate identity in one snapshot must panic")
		}
	}()

	current := []*PilotRecord{deltaPilot("a", 1000), deltaPilot("a", 2000)}
	ComputeDelta(nil, current, "uid", pilotIdentity, DiffPilots)
}

func TestDiffPilotsNestedStructures(t *testing.T) {
	prev := deltaPilot("a", 1000)
	prev.FlightPlan = &FlightPlanRecord{Departure: "EDDF", Arrival: "EGLL"}
	prev.Times = &TimesBlock{Phase: PhaseCruise}

	// Same nested values in fresh allocations: no diff
	curr := deltaPilot("a", 1000)
	curr.FlightPlan = &FlightPlanRecord{Departure: "EDDF", Arrival: "EGLL"}
	curr.Times = &TimesBlock{Phase: PhaseCruise}

	if patch := DiffPilots(prev, curr); len(patch) != 0 {
		t.Errorf("equal nested values should not diff, got %v", patch)
	}

	// Phase change surfaces as a whole times block
	curr.Times = &TimesBlock{Phase: PhaseDescent}
	patch := DiffPilots(prev, curr)
	if len(patch) != 1 {
		t.Fatalf("patch = %v, want only times", patch)
	}
	if _, ok := patch["times"]; !ok {
		t.Error("times block change not emitted")
	}
}

// The internal stop counter is bookkeeping, not payload: bumping it alone
// must not produce an update.
func TestDiffPilotsIgnoresStopCounter(t *testing.T) {
	prev := deltaPilot("a", 0)
	prev.Times = &TimesBlock{Phase: PhaseTaxiIn, StopCounter: 1}
	curr := deltaPilot("a", 0)
	curr.Times = &TimesBlock{Phase: PhaseTaxiIn, StopCounter: 2}

	if patch := DiffPilots(prev, curr); len(patch) != 0 {
		t.Errorf("stop counter change should not diff, got %v", patch)
	}
}

func TestDiffMergedControllers(t *testing.T) {
	prev := &MergedController{
		ID: "fir_EDGG", Kind: "fir", Prefix: "EDGG",
		Sessions: []*ControllerRecord{{Callsign: "EDGG_CTR", Frequency: "135.725", TextAtis: []string{"line one"}}},
	}
	curr := &MergedController{
		ID: "fir_EDGG", Kind: "fir", Prefix: "EDGG",
		Sessions: []*ControllerRecord{{Callsign: "EDGG_CTR", Frequency: "135.725", TextAtis: []string{"line one"}}},
	}

	if patch := DiffMergedControllers(prev, curr); len(patch) != 0 {
		t.Errorf("equal session lists should not diff, got %v", patch)
	}

	// ATIS text lines count as payload
	curr.Sessions[0].TextAtis = []string{"line one", "line two"}
	patch := DiffMergedControllers(prev, curr)
	if _, ok := patch["sessions"]; !ok {
		t.Error("session content change not emitted")
	}
}

func TestDiffAirports(t *testing.T) {
	metar := "EGLL 301150Z 24008KT 9999 SCT030 19/12 Q1018"
	prev := &AirportRecord{ICAO: "EGLL", Departures: TrafficBlock{Count: 3}, METAR: &metar}
	curr := &AirportRecord{ICAO: "EGLL", Departures: TrafficBlock{Count: 3}, METAR: &metar}

	if patch := DiffAirports(prev, curr); len(patch) != 0 {
		t.Errorf("equal airports should not diff, got %v", patch)
	}

	curr.Departures.Count = 4
	curr.METAR = nil
	patch := DiffAirports(prev, curr)
	if len(patch) != 2 {
		t.Fatalf("patch = %v, want dep_traffic and metar", patch)
	}
	if _, ok := patch["dep_traffic"]; !ok {
		t.Error("departure traffic change not emitted")
	}
	if v, ok := patch["metar"]; !ok || v.(*string) != nil {
		t.Error("cleared METAR should patch to nil")
	}
}

// Deltas for controllers and airports drop the deleted set at emission; a
// group that vanished simply stops appearing.
func TestCycleDeltasOmitDeletedForGroups(t *testing.T) {
	svc := &Service{
		pilots:      map[string]*PilotRecord{},
		controllers: map[string]*MergedController{"fir_EDGG": {ID: "fir_EDGG", Kind: "fir"}},
		airports:    map[string]*AirportRecord{"EGLL": {ICAO: "EGLL"}},
	}

	deltas := svc.computeDeltas(
		map[string]*PilotRecord{},
		map[string]*MergedController{},
		map[string]*AirportRecord{},
	)

	if deltas.Controllers.Deleted != nil {
		t.Errorf("controller deltas must not carry deleted ids, got %v", deltas.Controllers.Deleted)
	}
	if deltas.Airports.Deleted != nil {
		t.Errorf("airport deltas must not carry deleted ids, got %v", deltas.Airports.Deleted)
	}
}
