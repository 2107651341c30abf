package fusion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vatfusion/vatfusion/internal/feed"
	"github.com/vatfusion/vatfusion/internal/geo"
	"github.com/vatfusion/vatfusion/internal/refdata"
	"github.com/vatfusion/vatfusion/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Defaults applied when feed values are absent or unrecognized
const (
	DefaultAircraftType   = "A320"
	DefaultPilotRating    = "NEW"
	DefaultMilitaryRating = "M0"
)

var pilotRatingNames = map[int]string{
	0:  "NEW",
	1:  "PPL",
	3:  "IR",
	7:  "CMEL",
	15: "ATPL",
	31: "FI",
	63: "FE",
}

var militaryRatingNames = map[int]string{
	0: "M0",
	1: "M1",
	3: "M2",
	7: "M3",
}

// PilotFusion merges each feed snapshot against the previous cycle's cached
// pilot collection
type PilotFusion struct {
	refdata      *refdata.Client
	phaseEngine  *PhaseEngine
	mergeWorkers int
	logger       *logger.Logger
}

// NewPilotFusion creates a pilot fusion stage
func NewPilotFusion(refdataClient *refdata.Client, phaseEngine *PhaseEngine, mergeWorkers int, loggerObj *logger.Logger) *PilotFusion {
	return &PilotFusion{
		refdata:      refdataClient,
		phaseEngine:  phaseEngine,
		mergeWorkers: mergeWorkers,
		logger:       loggerObj.Named("pilot-fusion"),
	}
}

// Fuse produces the new pilot collection. Every feed entry is represented
// exactly once; cached records whose identity is absent from the feed are
// simply not carried over (the delta engine reports them as deleted).
//
// Two pilots resolving to the same identity within one snapshot is an
// upstream contract violation and panics rather than silently merging.
func (f *PilotFusion) Fuse(ctx context.Context, snapshot *feed.Snapshot, previous map[string]*PilotRecord, now time.Time) map[string]*PilotRecord {
	merged := make([]*PilotRecord, len(snapshot.Pilots))

	// Per-pilot merging has no cross-pilot dependency; only the set of
	// airports needing coordinate resolution is shared.
	var airportMu sync.Mutex
	needCoords := make(map[string]bool)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(f.mergeWorkers)

	for i := range snapshot.Pilots {
		i := i
		g.Go(func() error {
			fp := &snapshot.Pilots[i]
			uid := PilotUID(fp.CID, fp.Callsign, fp.LogonTime)

			var record *PilotRecord
			if cached, ok := previous[uid]; ok {
				record = f.mergeExisting(cached, fp, snapshot.Transceivers, now)
			} else {
				record = f.newRecord(ctx, fp, snapshot.Transceivers, now)
			}

			if plan := record.FlightPlan; plan != nil {
				airportMu.Lock()
				if plan.DepartureCoords == nil && plan.Departure != "" {
					needCoords[plan.Departure] = true
				}
				if plan.ArrivalCoords == nil && plan.Arrival != "" {
					needCoords[plan.Arrival] = true
				}
				airportMu.Unlock()
			}

			merged[i] = record
			return nil
		})
	}
	_ = g.Wait()

	// One batched lookup per cycle for all unresolved airports. Partial
	// misses leave the geo fields nil; estimators degrade gracefully.
	f.resolveCoordinates(ctx, merged, needCoords)

	// With coordinates in place, finish the derived fields
	result := make(map[string]*PilotRecord, len(merged))
	for _, record := range merged {
		record.AltitudeAGL = altitudeAGL(record)
		f.phaseEngine.Evaluate(record, now)

		if _, exists := result[record.UID]; exists {
			panic(fmt.Sprintf("fusion: duplicate pilot identity in one snapshot: %s", record.UID))
		}
		result[record.UID] = record
	}

	return result
}

// mergeExisting refreshes kinematics over the cached copy while preserving
// flight plan, times block, and resolved coordinates. The exact preserved
// set is the type contract: everything assigned below is overwritten,
// everything else carries over.
func (f *PilotFusion) mergeExisting(cached *PilotRecord, fp *feed.Pilot, transceivers feed.TransceiverMap, now time.Time) *PilotRecord {
	record := *cached

	// The times block is copied, never shared: phase evaluation writes into
	// it and the delta engine diffs it against the cached cycle.
	if cached.Times != nil {
		times := *cached.Times
		record.Times = &times
	}

	record.Latitude = fp.Latitude
	record.Longitude = fp.Longitude
	record.Groundspeed = fp.Groundspeed
	record.Heading = fp.Heading
	record.Transponder = fp.Transponder
	record.QNHiHg = fp.QNHiHg
	record.QNHMb = fp.QNHMb
	record.Frequency = pilotFrequency(fp.Callsign, transceivers)
	record.HeadingTrue = trueHeading(fp, now)

	// Vertical speed from consecutive altitude samples, then the new sample
	record.VerticalSpeed = ComputeVerticalSpeed(cached.AltitudeMSL, fp.Altitude, fp.LastUpdated.Sub(cached.LastUpdated))
	record.AltitudeMSL = fp.Altitude
	record.LastUpdated = fp.LastUpdated

	// A plan filed mid-flight appears on a later cycle; a revised plan
	// keeps the already-resolved coordinates when the airports are unchanged.
	// Without a feed plan the cached one is copied so coordinate resolution
	// never writes into the previous cycle's record.
	if fp.FlightPlan != nil {
		record.FlightPlan = mergeFlightPlan(cached.FlightPlan, fp.FlightPlan)
	} else if cached.FlightPlan != nil {
		plan := *cached.FlightPlan
		record.FlightPlan = &plan
	}

	return &record
}

// newRecord constructs a fresh long record for a first-seen identity
func (f *PilotFusion) newRecord(ctx context.Context, fp *feed.Pilot, transceivers feed.TransceiverMap, now time.Time) *PilotRecord {
	record := &PilotRecord{
		UID:            PilotUID(fp.CID, fp.Callsign, fp.LogonTime),
		CID:            fp.CID,
		Name:           fp.Name,
		Callsign:       fp.Callsign,
		Server:         fp.Server,
		PilotRating:    ratingName(pilotRatingNames, fp.PilotRating, DefaultPilotRating),
		MilitaryRating: ratingName(militaryRatingNames, fp.MilitaryRating, DefaultMilitaryRating),
		AircraftType:   DefaultAircraftType,
		Latitude:       fp.Latitude,
		Longitude:      fp.Longitude,
		AltitudeMSL:    fp.Altitude,
		Groundspeed:    fp.Groundspeed,
		Heading:        fp.Heading,
		HeadingTrue:    trueHeading(fp, now),
		Transponder:    fp.Transponder,
		Frequency:      pilotFrequency(fp.Callsign, transceivers),
		QNHiHg:         fp.QNHiHg,
		QNHMb:          fp.QNHMb,
		LogonTime:      fp.LogonTime,
		LastUpdated:    fp.LastUpdated,
	}

	if fp.FlightPlan != nil {
		record.FlightPlan = newFlightPlan(fp.FlightPlan)
		if fp.FlightPlan.AircraftShort != "" {
			record.AircraftType = fp.FlightPlan.AircraftShort
		}
		if reg := registrationFromRemarks(fp.FlightPlan.Remarks); reg != "" {
			record.FlightPlan.Registration = f.refdata.NormalizeRegistration(ctx, reg)
		}
	}

	return record
}

// mergeFlightPlan folds a (possibly revised) feed plan into the cached one,
// keeping resolved coordinates and the normalized registration when the
// route endpoints did not change
func mergeFlightPlan(cachedPlan *FlightPlanRecord, feedPlan *feed.FlightPlan) *FlightPlanRecord {
	plan := newFlightPlan(feedPlan)
	if cachedPlan == nil {
		return plan
	}

	plan.Registration = cachedPlan.Registration
	if cachedPlan.Departure == plan.Departure {
		plan.DepartureCoords = cachedPlan.DepartureCoords
	}
	if cachedPlan.Arrival == plan.Arrival {
		plan.ArrivalCoords = cachedPlan.ArrivalCoords
	}

	return plan
}

func newFlightPlan(fp *feed.FlightPlan) *FlightPlanRecord {
	return &FlightPlanRecord{
		FlightRules: fp.FlightRules,
		Departure:   strings.ToUpper(fp.Departure),
		Arrival:     strings.ToUpper(fp.Arrival),
		Alternate:   strings.ToUpper(fp.Alternate),
		CruiseTAS:   fp.CruiseTAS,
		Altitude:    fp.Altitude,
		DepTime:     fp.DepTime,
		EnrouteTime: fp.EnrouteTime,
		Route:       fp.Route,
		Remarks:     fp.Remarks,
	}
}

// resolveCoordinates issues the single batched lookup and writes results
// into every plan that referenced a resolved code
func (f *PilotFusion) resolveCoordinates(ctx context.Context, records []*PilotRecord, needCoords map[string]bool) {
	if len(needCoords) == 0 {
		return
	}

	codes := make([]string, 0, len(needCoords))
	for code := range needCoords {
		codes = append(codes, code)
	}

	resolved, err := f.refdata.LookupAirports(ctx, codes)
	if err != nil {
		f.logger.Warn("Airport coordinate lookup failed",
			logger.Int("requested", len(codes)),
			logger.Error(err))
	}
	if len(resolved) == 0 {
		return
	}

	for _, record := range records {
		plan := record.FlightPlan
		if plan == nil {
			continue
		}
		if plan.DepartureCoords == nil {
			if coords, ok := resolved[plan.Departure]; ok {
				c := coords
				plan.DepartureCoords = &c
			}
		}
		if plan.ArrivalCoords == nil {
			if coords, ok := resolved[plan.Arrival]; ok {
				c := coords
				plan.ArrivalCoords = &c
			}
		}
	}
}

// altitudeAGL approximates height above ground as height above the closer
// route endpoint's field elevation. Without resolved coordinates the MSL
// altitude is used as-is.
func altitudeAGL(record *PilotRecord) int {
	plan := record.FlightPlan
	if plan == nil || (plan.DepartureCoords == nil && plan.ArrivalCoords == nil) {
		return record.AltitudeMSL
	}

	var elevation float64
	switch {
	case plan.DepartureCoords != nil && plan.ArrivalCoords != nil:
		distDep := geo.Haversine(record.Latitude, record.Longitude, plan.DepartureCoords.Latitude, plan.DepartureCoords.Longitude)
		distArr := geo.Haversine(record.Latitude, record.Longitude, plan.ArrivalCoords.Latitude, plan.ArrivalCoords.Longitude)
		if distDep < distArr {
			elevation = plan.DepartureCoords.ElevationFt
		} else {
			elevation = plan.ArrivalCoords.ElevationFt
		}
	case plan.DepartureCoords != nil:
		elevation = plan.DepartureCoords.ElevationFt
	default:
		elevation = plan.ArrivalCoords.ElevationFt
	}

	agl := record.AltitudeMSL - int(elevation)
	if agl < 0 {
		agl = 0
	}
	return agl
}

// pilotFrequency reports the pilot's tuned frequency from its transceiver
// entry, formatted the way controller sessions report theirs
func pilotFrequency(callsign string, transceivers feed.TransceiverMap) string {
	sets, ok := transceivers[callsign]
	if !ok || len(sets) == 0 {
		return ""
	}
	return fmt.Sprintf("%.3f", sets[0].FrequencyMHz())
}

func trueHeading(fp *feed.Pilot, now time.Time) float64 {
	variation := geo.MagneticVariation(fp.Latitude, fp.Longitude, float64(fp.Altitude), now)
	return geo.NormalizeHeading(float64(fp.Heading) + variation)
}

func ratingName(names map[int]string, id int, fallback string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return fallback
}

// registrationFromRemarks extracts the REG/ token from flight plan remarks
func registrationFromRemarks(remarks string) string {
	idx := strings.Index(strings.ToUpper(remarks), "REG/")
	if idx < 0 {
		return ""
	}
	token := remarks[idx+len("REG/"):]
	if end := strings.IndexAny(token, " /"); end >= 0 {
		token = token[:end]
	}
	return strings.ToUpper(strings.TrimSpace(token))
}
