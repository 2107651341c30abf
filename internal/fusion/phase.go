package fusion

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vatfusion/vatfusion/internal/geo"
)

// Phase is one stage of a flight's lifecycle. Phases only ever move forward
// through this sequence; the only backwards-looking logic is the initial
// estimate for a pilot first seen mid-flight.
type Phase int

const (
	PhaseBoarding Phase = iota
	PhaseTaxiOut
	PhaseClimb
	PhaseCruise
	PhaseDescent
	PhaseTaxiIn
	PhaseOnBlock
)

var phaseNames = [...]string{
	"Boarding",
	"Taxi Out",
	"Climb",
	"Cruise",
	"Descent",
	"Taxi In",
	"On Block",
}

func (p Phase) String() string {
	if p < PhaseBoarding || p > PhaseOnBlock {
		return "Unknown"
	}
	return phaseNames[p]
}

// MarshalJSON emits the phase as its display name
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts the display name form
func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, candidate := range phaseNames {
		if candidate == name {
			*p = Phase(i)
			return nil
		}
	}
	*p = PhaseCruise
	return nil
}

// Vertical speed thresholds. The initial-state estimator and the transition
// table deliberately use different climb thresholds (500 vs 100 fpm); the
// looser transition value debounces lift-off detection against noisy samples.
const (
	climbDetectFPM   = 500
	cruiseBandFPM    = 100
	descentDetectFPM = -500
	liftOffDetectFPM = 100
	taxiInDetectFPM  = -100

	taxiInDetectAGLFt = 200
	groundEstimateFt  = 200

	schedulePushMinutes = 5
	scheduleRoundingMin = 5

	// Touchdown estimation constants
	routeInflation      = 1.10 // non-direct routing allowance
	decelFloorKts       = 100.0
	decelRateKtsPerSec  = 1.0
	descentRateFtPerSec = 25.0
)

// PhaseEngine evaluates the per-pilot state machine once per cycle
type PhaseEngine struct {
	taxiTime            time.Duration
	stopCyclesToOnBlock int
}

// NewPhaseEngine creates a phase engine with the configured taxi constant
// and taxi-in stop debounce
func NewPhaseEngine(taxiTime time.Duration, stopCyclesToOnBlock int) *PhaseEngine {
	return &PhaseEngine{
		taxiTime:            taxiTime,
		stopCyclesToOnBlock: stopCyclesToOnBlock,
	}
}

// Evaluate re-evaluates the pilot's TimesBlock from its current kinematics.
// A pilot without a cached block gets one initialized from the estimated
// phase and the filed schedule; a pilot with one advances by at most one
// transition per cycle.
func (e *PhaseEngine) Evaluate(p *PilotRecord, now time.Time) {
	if p.Times == nil {
		p.Times = e.initTimes(p, now)
		return
	}
	e.advance(p, now)
}

func (e *PhaseEngine) initTimes(p *PilotRecord, now time.Time) *TimesBlock {
	times := &TimesBlock{
		Phase: estimateInitialPhase(p),
	}

	if p.FlightPlan != nil {
		schedOff, schedOn := scheduledBlockTimes(p.FlightPlan, now)
		times.SchedOffBlock = schedOff
		times.SchedOnBlock = schedOn
	}

	return times
}

// estimateInitialPhase guesses the phase for a pilot with no prior cached
// record from current kinematics and position relative to the route ends.
// Missing coordinates disable the ground checks and the estimate falls
// through to the vertical speed bands.
func estimateInitialPhase(p *PilotRecord) Phase {
	plan := p.FlightPlan
	haveCoords := plan != nil && plan.DepartureCoords != nil && plan.ArrivalCoords != nil

	if haveCoords {
		distDep := geo.Haversine(p.Latitude, p.Longitude, plan.DepartureCoords.Latitude, plan.DepartureCoords.Longitude)
		distArr := geo.Haversine(p.Latitude, p.Longitude, plan.ArrivalCoords.Latitude, plan.ArrivalCoords.Longitude)
		onGround := p.AltitudeAGL < groundEstimateFt

		switch {
		case onGround && p.Groundspeed == 0 && distDep < distArr:
			return PhaseBoarding
		case onGround && p.Groundspeed > 0 && distDep < distArr:
			return PhaseTaxiOut
		case p.VerticalSpeed > climbDetectFPM:
			return PhaseClimb
		case abs(p.VerticalSpeed) < cruiseBandFPM && !onGround:
			return PhaseCruise
		case p.VerticalSpeed < descentDetectFPM:
			return PhaseDescent
		case onGround && p.Groundspeed > 0 && distArr <= distDep:
			return PhaseTaxiIn
		}
		return PhaseCruise
	}

	switch {
	case p.VerticalSpeed > climbDetectFPM:
		return PhaseClimb
	case p.VerticalSpeed < descentDetectFPM:
		return PhaseDescent
	}
	return PhaseCruise
}

// advance fires at most one transition, conditioned on the cached phase
func (e *PhaseEngine) advance(p *PilotRecord, now time.Time) {
	times := p.Times

	switch times.Phase {
	case PhaseBoarding:
		if p.Groundspeed > 0 {
			// Pushback/taxi started: off-block becomes actual
			offBlock := now
			times.Phase = PhaseTaxiOut
			times.OffBlock = &offBlock
			times.OnBlock = e.onBlockFrom(now, p)
		} else if times.SchedOffBlock != nil && now.After(*times.SchedOffBlock) {
			// Still at the gate past schedule: slide the estimate forward
			offBlock := now.Add(schedulePushMinutes * time.Minute)
			times.OffBlock = &offBlock
			times.OnBlock = e.onBlockFrom(offBlock, p)
		}

	case PhaseTaxiOut:
		if p.VerticalSpeed > liftOffDetectFPM {
			liftOff := now
			times.Phase = PhaseClimb
			times.LiftOff = &liftOff
			times.OnBlock = e.onBlockFrom(liftOff, p)
		}

	case PhaseClimb:
		if p.VerticalSpeed < climbDetectFPM {
			times.Phase = PhaseCruise
			e.updateTouchdownEstimate(p, now)
		}

	case PhaseCruise:
		if p.VerticalSpeed < descentDetectFPM {
			times.Phase = PhaseDescent
			e.updateTouchdownEstimate(p, now)
		}

	case PhaseDescent:
		if p.VerticalSpeed > taxiInDetectFPM && p.AltitudeAGL < taxiInDetectAGLFt {
			touchDown := now
			onBlock := now.Add(e.taxiTime)
			times.Phase = PhaseTaxiIn
			times.TouchDown = &touchDown
			times.OnBlock = &onBlock
			times.StopCounter = 0
		}

	case PhaseTaxiIn:
		if p.Groundspeed > 0 {
			times.StopCounter = 0
		} else if times.StopCounter > e.stopCyclesToOnBlock {
			onBlock := now
			times.Phase = PhaseOnBlock
			times.OnBlock = &onBlock
		} else {
			times.StopCounter++
		}

	case PhaseOnBlock:
		// Terminal
	}
}

// onBlockFrom estimates the on-block time from a reference instant plus the
// planned enroute duration and the taxi constant
func (e *PhaseEngine) onBlockFrom(from time.Time, p *PilotRecord) *time.Time {
	enroute := enrouteDuration(p.FlightPlan)
	onBlock := from.Add(enroute + e.taxiTime)
	return &onBlock
}

// updateTouchdownEstimate recomputes the estimated touchdown and the
// dependent on-block time. Early-returns when the estimate is unavailable
// (unresolved coordinates or implausible kinematics).
func (e *PhaseEngine) updateTouchdownEstimate(p *PilotRecord, now time.Time) {
	remaining := estimateRemainingFlightTime(p)
	if remaining <= 0 {
		return
	}

	touchDown := now.Add(remaining)
	onBlock := touchDown.Add(e.taxiTime)
	p.Times.TouchDown = &touchDown
	p.Times.OnBlock = &onBlock
}

// estimateRemainingFlightTime blends two heuristics and keeps whichever
// predicts the longer remaining time: great-circle progress at current
// groundspeed (route inflated 10% for non-direct routing), and a
// deceleration/descent-rate estimate.
func estimateRemainingFlightTime(p *PilotRecord) time.Duration {
	plan := p.FlightPlan
	if plan == nil || plan.DepartureCoords == nil || plan.ArrivalCoords == nil {
		return 0
	}
	if p.Groundspeed <= 0 {
		return 0
	}

	totalM := geo.Haversine(
		plan.DepartureCoords.Latitude, plan.DepartureCoords.Longitude,
		plan.ArrivalCoords.Latitude, plan.ArrivalCoords.Longitude,
	) * routeInflation
	flownM := geo.Haversine(
		p.Latitude, p.Longitude,
		plan.DepartureCoords.Latitude, plan.DepartureCoords.Longitude,
	)

	remainingM := totalM - flownM
	if remainingM < 0 {
		remainingM = 0
	}

	gsMs := float64(p.Groundspeed) * geo.MetersPerNM / 3600.0
	greatCircleSecs := remainingM / gsMs

	decelSecs := (float64(p.Groundspeed) - decelFloorKts) / decelRateKtsPerSec
	if decelSecs < 0 {
		decelSecs = 0
	}
	descentSecs := float64(p.AltitudeAGL) / descentRateFtPerSec
	energySecs := decelSecs + descentSecs

	secs := math.Max(greatCircleSecs, energySecs)
	return time.Duration(secs * float64(time.Second))
}

// scheduledBlockTimes derives the fixed scheduled off/on-block pair from the
// filed departure time and enroute duration, each rounded to the nearest
// 5-minute boundary. Returns nils when the plan carries no usable times.
func scheduledBlockTimes(plan *FlightPlanRecord, now time.Time) (*time.Time, *time.Time) {
	depHour, depMin, ok := parseFeedHHMM(plan.DepTime)
	if !ok {
		return nil, nil
	}

	schedOff := time.Date(now.Year(), now.Month(), now.Day(), depHour, depMin, 0, 0, time.UTC)
	// A departure time far in the past is tomorrow's schedule seen early
	if schedOff.Before(now.Add(-12 * time.Hour)) {
		schedOff = schedOff.Add(24 * time.Hour)
	}
	schedOff = roundToMinutes(schedOff, scheduleRoundingMin)

	schedOn := roundToMinutes(schedOff.Add(enrouteDuration(plan)), scheduleRoundingMin)

	return &schedOff, &schedOn
}

// enrouteDuration parses the filed enroute time; zero when absent
func enrouteDuration(plan *FlightPlanRecord) time.Duration {
	if plan == nil {
		return 0
	}
	hours, mins, ok := parseFeedHHMM(plan.EnrouteTime)
	if !ok {
		return 0
	}
	return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute
}

// parseFeedHHMM parses the feed's "HHMM" time strings
func parseFeedHHMM(s string) (int, int, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return 0, 0, false
	}
	hours, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, 0, false
	}
	mins, err := strconv.Atoi(s[2:])
	if err != nil {
		return 0, 0, false
	}
	if hours > 23 || mins > 59 {
		return 0, 0, false
	}
	return hours, mins, true
}

func roundToMinutes(t time.Time, minutes int) time.Time {
	return t.Round(time.Duration(minutes) * time.Minute)
}

// ComputeVerticalSpeed derives feet-per-minute from two consecutive
// altitude samples. Samples under one second apart return exactly 0 to
// avoid divide-by-near-zero spikes.
func ComputeVerticalSpeed(prevAltFt, currAltFt int, elapsed time.Duration) int {
	if elapsed < time.Second {
		return 0
	}
	return int(float64(currAltFt-prevAltFt) / elapsed.Seconds() * 60.0)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
