package fusion

import (
	"fmt"
	"reflect"
	"sort"
)

// Delta is the added/updated/deleted changeset for one entity family.
// Updated entries are shallow patches: the identity field plus only the
// fields whose value changed since the previous cycle. Downstream
// subscribers apply them as patches, so emitting an unchanged field is a
// correctness bug, not a performance nit.
type Delta[T any] struct {
	Added   []T              `json:"added"`
	Updated []map[string]any `json:"updated"`
	Deleted []string         `json:"deleted,omitempty"`
}

// Empty reports whether the delta carries no changes at all
func (d Delta[T]) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Deleted) == 0
}

// DiffFunc computes the shallow field diff between two entities with the
// same identity. It returns only changed fields (never the identity) and
// an empty map when nothing changed.
type DiffFunc[T any] func(prev, curr T) map[string]any

// ComputeDelta diffs two snapshots of one entity family.
//
//   - deleted: identities present previously and gone now
//   - added: current entities with a new identity, emitted in full
//   - updated: current entities whose identity existed before and whose
//     diff is non-empty; the identity is attached under idField
//
// An entity that is present but unchanged appears in none of the three
// sets. Two entities sharing an identity within one snapshot violates the
// identity contract and panics.
func ComputeDelta[T any](previous, current []T, idField string, identity func(T) string, diff DiffFunc[T]) Delta[T] {
	prevByID := make(map[string]T, len(previous))
	for _, entity := range previous {
		prevByID[identity(entity)] = entity
	}

	delta := Delta[T]{}
	seen := make(map[string]bool, len(current))

	for _, entity := range current {
		id := identity(entity)
		if seen[id] {
			panic(fmt.Sprintf("fusion: duplicate identity %q in snapshot", id))
		}
		seen[id] = true

		prev, existed := prevByID[id]
		if !existed {
			delta.Added = append(delta.Added, entity)
			continue
		}

		patch := diff(prev, entity)
		if len(patch) == 0 {
			continue
		}
		patch[idField] = id
		delta.Updated = append(delta.Updated, patch)
	}

	for id := range prevByID {
		if !seen[id] {
			delta.Deleted = append(delta.Deleted, id)
		}
	}
	sort.Strings(delta.Deleted)

	return delta
}

// DiffPilots is the shallow field diff for pilot records. The field set
// mirrors the record's JSON encoding; nested structures (flight plan,
// times block) compare by deep value and are emitted whole when changed.
func DiffPilots(prev, curr *PilotRecord) map[string]any {
	patch := map[string]any{}

	if prev.Name != curr.Name {
		patch["name"] = curr.Name
	}
	if prev.Server != curr.Server {
		patch["server"] = curr.Server
	}
	if prev.PilotRating != curr.PilotRating {
		patch["pilot_rating"] = curr.PilotRating
	}
	if prev.MilitaryRating != curr.MilitaryRating {
		patch["military_rating"] = curr.MilitaryRating
	}
	if prev.AircraftType != curr.AircraftType {
		patch["aircraft_type"] = curr.AircraftType
	}
	if prev.Latitude != curr.Latitude {
		patch["latitude"] = curr.Latitude
	}
	if prev.Longitude != curr.Longitude {
		patch["longitude"] = curr.Longitude
	}
	if prev.AltitudeMSL != curr.AltitudeMSL {
		patch["altitude_msl"] = curr.AltitudeMSL
	}
	if prev.AltitudeAGL != curr.AltitudeAGL {
		patch["altitude_agl"] = curr.AltitudeAGL
	}
	if prev.Groundspeed != curr.Groundspeed {
		patch["groundspeed"] = curr.Groundspeed
	}
	if prev.VerticalSpeed != curr.VerticalSpeed {
		patch["vertical_speed"] = curr.VerticalSpeed
	}
	if prev.Heading != curr.Heading {
		patch["heading"] = curr.Heading
	}
	if prev.HeadingTrue != curr.HeadingTrue {
		patch["heading_true"] = curr.HeadingTrue
	}
	if prev.Transponder != curr.Transponder {
		patch["transponder"] = curr.Transponder
	}
	if prev.Frequency != curr.Frequency {
		patch["frequency"] = curr.Frequency
	}
	if prev.QNHiHg != curr.QNHiHg {
		patch["qnh_i_hg"] = curr.QNHiHg
	}
	if prev.QNHMb != curr.QNHMb {
		patch["qnh_mb"] = curr.QNHMb
	}
	if !reflect.DeepEqual(prev.FlightPlan, curr.FlightPlan) {
		patch["flight_plan"] = curr.FlightPlan
	}
	if !timesEqual(prev.Times, curr.Times) {
		patch["times"] = curr.Times
	}
	if !prev.LastUpdated.Equal(curr.LastUpdated) {
		patch["last_updated"] = curr.LastUpdated
	}

	return patch
}

// timesEqual compares times blocks ignoring the internal stop counter,
// which is state-machine bookkeeping rather than payload
func timesEqual(prev, curr *TimesBlock) bool {
	if (prev == nil) != (curr == nil) {
		return false
	}
	if prev == nil {
		return true
	}

	a, b := *prev, *curr
	a.StopCounter, b.StopCounter = 0, 0
	return reflect.DeepEqual(a, b)
}

// DiffMergedControllers is the shallow diff for merged controller groups.
// Kind and prefix are fixed by the id; the payload is the session list,
// compared by deep value (ATIS text lines included).
func DiffMergedControllers(prev, curr *MergedController) map[string]any {
	patch := map[string]any{}

	if !reflect.DeepEqual(prev.Sessions, curr.Sessions) {
		patch["sessions"] = curr.Sessions
	}

	return patch
}

// DiffAirports is the shallow diff for airport records
func DiffAirports(prev, curr *AirportRecord) map[string]any {
	patch := map[string]any{}

	if prev.Departures != curr.Departures {
		patch["dep_traffic"] = curr.Departures
	}
	if prev.Arrivals != curr.Arrivals {
		patch["arr_traffic"] = curr.Arrivals
	}
	if !strPtrEqual(prev.METAR, curr.METAR) {
		patch["metar"] = curr.METAR
	}
	if !strPtrEqual(prev.TAF, curr.TAF) {
		patch["taf"] = curr.TAF
	}

	return patch
}

func strPtrEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
