package fusion

import (
	"fmt"
	"time"

	"github.com/vatfusion/vatfusion/internal/refdata"
)

// PilotRecord is the long record held in the fusion cache for one pilot
// connection. Identity is cid + callsign + logon time: the same member
// reconnecting under the same callsign is a new record.
type PilotRecord struct {
	UID            string  `json:"uid"`
	CID            int     `json:"cid"`
	Name           string  `json:"name"`
	Callsign       string  `json:"callsign"`
	Server         string  `json:"server"`
	PilotRating    string  `json:"pilot_rating"`
	MilitaryRating string  `json:"military_rating"`
	AircraftType   string  `json:"aircraft_type"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AltitudeMSL    int     `json:"altitude_msl"`
	AltitudeAGL    int     `json:"altitude_agl"`
	Groundspeed    int     `json:"groundspeed"`
	VerticalSpeed  int     `json:"vertical_speed"`
	Heading        int     `json:"heading"`
	HeadingTrue    float64 `json:"heading_true"`
	Transponder    string  `json:"transponder"`
	Frequency      string  `json:"frequency"`
	QNHiHg         float64 `json:"qnh_i_hg"`
	QNHMb          int     `json:"qnh_mb"`

	FlightPlan *FlightPlanRecord `json:"flight_plan,omitempty"`
	Times      *TimesBlock       `json:"times,omitempty"`

	LogonTime   time.Time `json:"logon_time"`
	LastUpdated time.Time `json:"last_updated"`
}

// PilotUID builds the stable identity key for a pilot connection
func PilotUID(cid int, callsign string, logonTime time.Time) string {
	return fmt.Sprintf("%d_%s_%d", cid, callsign, logonTime.Unix())
}

// FlightPlanRecord is the cached flight plan with lazily-resolved airport
// coordinates. The geo fields stay nil until the batched lookup resolves
// them; downstream estimators early-return while they are nil.
type FlightPlanRecord struct {
	FlightRules  string `json:"flight_rules"`
	Registration string `json:"registration,omitempty"`
	Departure    string `json:"departure"`
	Arrival      string `json:"arrival"`
	Alternate    string `json:"alternate"`
	CruiseTAS    string `json:"cruise_tas"`
	Altitude     string `json:"altitude"`
	DepTime      string `json:"deptime"`
	EnrouteTime  string `json:"enroute_time"`
	Route        string `json:"route"`
	Remarks      string `json:"remarks"`

	DepartureCoords *refdata.Coordinates `json:"departure_coords,omitempty"`
	ArrivalCoords   *refdata.Coordinates `json:"arrival_coords,omitempty"`
}

// TimesBlock carries the flight phase and the scheduled / estimated /
// actual block times for one pilot. Scheduled times are derived once at
// record creation and never change; the remaining fields are re-evaluated
// every cycle by the phase engine.
//
// Whether OffBlock / TouchDown / OnBlock are estimates or actuals follows
// from the phase: OffBlock is actual once the phase has passed Boarding,
// TouchDown once it has passed Descent, OnBlock once the flight is On Block.
type TimesBlock struct {
	Phase         Phase      `json:"phase"`
	SchedOffBlock *time.Time `json:"sched_off_block,omitempty"`
	SchedOnBlock  *time.Time `json:"sched_on_block,omitempty"`
	OffBlock      *time.Time `json:"off_block,omitempty"`
	LiftOff       *time.Time `json:"lift_off,omitempty"`
	TouchDown     *time.Time `json:"touch_down,omitempty"`
	OnBlock       *time.Time `json:"on_block,omitempty"`
	StopCounter   int        `json:"-"`
}

// ControllerRecord is a raw controller (or ATIS) session active in the cycle
type ControllerRecord struct {
	CID         int       `json:"cid"`
	Name        string    `json:"name"`
	Callsign    string    `json:"callsign"`
	Frequency   string    `json:"frequency"`
	Facility    int       `json:"facility"`
	Rating      int       `json:"rating"`
	AtisCode    string    `json:"atis_code,omitempty"`
	TextAtis    []string  `json:"text_atis,omitempty"`
	Connections int       `json:"connections"`
	LogonTime   time.Time `json:"logon_time"`
	LastUpdated time.Time `json:"last_updated"`
}

// MergedController is a logical sector grouping of raw sessions. Membership
// is recomputed from scratch every cycle; every raw session belongs to
// exactly one group.
type MergedController struct {
	ID       string              `json:"id"`   // airport_<code> / tracon_<code> / fir_<code>
	Kind     string              `json:"kind"` // "airport", "tracon", or "fir"
	Prefix   string              `json:"prefix"`
	Sessions []*ControllerRecord `json:"sessions"`
}

// TrafficBlock accumulates one direction of traffic for an airport within
// the current cycle
type TrafficBlock struct {
	Count           int     `json:"count"`
	DelayedCount    int     `json:"delayed_count"`
	AvgDelayMinutes float64 `json:"avg_delay_minutes"`
	BusiestRoute    string  `json:"busiest_route,omitempty"`
	UniqueRoutes    int     `json:"unique_routes"`
}

// AirportRecord is the per-airport aggregate, fully recomputed each cycle
type AirportRecord struct {
	ICAO       string       `json:"icao"`
	Departures TrafficBlock `json:"dep_traffic"`
	Arrivals   TrafficBlock `json:"arr_traffic"`
	METAR      *string      `json:"metar"`
	TAF        *string      `json:"taf"`
}

// CountStat is one entry of a top-N dashboard list
type CountStat struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// Dashboard holds the derived top-N statistics recomputed each cycle from
// the fused snapshot
type Dashboard struct {
	TotalPilots        int         `json:"total_pilots"`
	TotalControllers   int         `json:"total_controllers"`
	BusiestAirports    []CountStat `json:"busiest_airports"`
	QuietestAirports   []CountStat `json:"quietest_airports"`
	BusiestRoutes      []CountStat `json:"busiest_routes"`
	BusiestAircraft    []CountStat `json:"busiest_aircraft"`
	BusiestControllers []CountStat `json:"busiest_controllers"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// CycleDeltas bundles the three per-family deltas emitted by one cycle
type CycleDeltas struct {
	Pilots      Delta[*PilotRecord]      `json:"pilots"`
	Controllers Delta[*MergedController] `json:"controllers"`
	Airports    Delta[*AirportRecord]    `json:"airports"`
}
