package fusion

import (
	"fmt"
	"sort"

	"github.com/vatfusion/vatfusion/internal/feed"
	"github.com/vatfusion/vatfusion/internal/geo"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// GeoAssigner computes per-session connection counts: how many pilots each
// controller session is serving on its frequency
type GeoAssigner struct {
	logger *logger.Logger
}

// NewGeoAssigner creates a controller geo-assignment stage
func NewGeoAssigner(loggerObj *logger.Logger) *GeoAssigner {
	return &GeoAssigner{logger: loggerObj.Named("geo-assign")}
}

// Assign walks the fused pilot collection and counts each pilot against the
// controller session covering its tuned frequency. When several sessions
// share a frequency, the pilot goes to the session whose matching
// transceiver is geographically nearest; sessions without a matching
// transceiver cannot win. Ties go to the first candidate in session order,
// which is stable across runs.
func (a *GeoAssigner) Assign(sessions []*ControllerRecord, pilots map[string]*PilotRecord, transceivers feed.TransceiverMap) {
	byFrequency := make(map[string][]*ControllerRecord)
	for _, session := range sessions {
		session.Connections = 0
		if session.Frequency == "" {
			continue
		}
		byFrequency[session.Frequency] = append(byFrequency[session.Frequency], session)
	}

	// Stable pilot order keeps the logs and any tie outcomes reproducible
	uids := make([]string, 0, len(pilots))
	for uid := range pilots {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		pilot := pilots[uid]
		if pilot.Frequency == "" {
			continue
		}

		candidates, ok := byFrequency[pilot.Frequency]
		if !ok {
			continue
		}

		if len(candidates) == 1 {
			candidates[0].Connections++
			continue
		}

		if nearest := a.nearestSession(pilot, candidates, transceivers); nearest != nil {
			nearest.Connections++
		}
	}
}

// nearestSession returns the candidate whose matching transceiver is
// closest to the pilot by haversine ground distance. Strict less-than keeps
// the first candidate on exact ties.
func (a *GeoAssigner) nearestSession(pilot *PilotRecord, candidates []*ControllerRecord, transceivers feed.TransceiverMap) *ControllerRecord {
	var (
		nearest     *ControllerRecord
		nearestDist float64
	)

	for _, candidate := range candidates {
		dist, ok := sessionDistance(pilot, candidate, transceivers)
		if !ok {
			continue
		}
		if nearest == nil || dist < nearestDist {
			nearest = candidate
			nearestDist = dist
		}
	}

	return nearest
}

// sessionDistance finds the candidate's transceiver matching its own
// frequency and measures the ground distance from the pilot to it. Reports
// false when the session has no matching transceiver data.
func sessionDistance(pilot *PilotRecord, session *ControllerRecord, transceivers feed.TransceiverMap) (float64, bool) {
	sets, ok := transceivers[session.Callsign]
	if !ok {
		return 0, false
	}

	best := -1.0
	for _, txc := range sets {
		if fmt.Sprintf("%.3f", txc.FrequencyMHz()) != session.Frequency {
			continue
		}
		dist := geo.Haversine(pilot.Latitude, pilot.Longitude, txc.LatDeg, txc.LonDeg)
		if best < 0 || dist < best {
			best = dist
		}
	}

	if best < 0 {
		return 0, false
	}
	return best, true
}
