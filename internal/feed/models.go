package feed

import "time"

// Snapshot represents one full pull of the network datafeed. The feed is
// delivered whole once per cycle; there is no incremental form upstream.
type Snapshot struct {
	General      General        `json:"general"`
	Pilots       []Pilot        `json:"pilots"`
	Controllers  []Controller   `json:"controllers"`
	ATIS         []Controller   `json:"atis"`
	Transceivers TransceiverMap `json:"-"` // fetched from a companion document
}

// General contains feed-level metadata
type General struct {
	Version          int       `json:"version"`
	Reload           int       `json:"reload"`
	Update           string    `json:"update"`
	UpdateTimestamp  time.Time `json:"update_timestamp"`
	ConnectedClients int       `json:"connected_clients"`
	UniqueUsers      int       `json:"unique_users"`
}

// Pilot represents a single connected pilot in the raw feed
type Pilot struct {
	CID            int         `json:"cid"`
	Name           string      `json:"name"`
	Callsign       string      `json:"callsign"`
	Server         string      `json:"server"`
	PilotRating    int         `json:"pilot_rating"`
	MilitaryRating int         `json:"military_rating"`
	Latitude       float64     `json:"latitude"`
	Longitude      float64     `json:"longitude"`
	Altitude       int         `json:"altitude"`
	Groundspeed    int         `json:"groundspeed"`
	Transponder    string      `json:"transponder"`
	Heading        int         `json:"heading"`
	QNHiHg         float64     `json:"qnh_i_hg"`
	QNHMb          int         `json:"qnh_mb"`
	FlightPlan     *FlightPlan `json:"flight_plan,omitempty"`
	LogonTime      time.Time   `json:"logon_time"`
	LastUpdated    time.Time   `json:"last_updated"`
}

// FlightPlan represents a filed flight plan in the raw feed
type FlightPlan struct {
	FlightRules         string `json:"flight_rules"`
	Aircraft            string `json:"aircraft"`
	AircraftFaa         string `json:"aircraft_faa"`
	AircraftShort       string `json:"aircraft_short"`
	Departure           string `json:"departure"`
	Arrival             string `json:"arrival"`
	Alternate           string `json:"alternate"`
	CruiseTAS           string `json:"cruise_tas"`
	Altitude            string `json:"altitude"`
	DepTime             string `json:"deptime"`
	EnrouteTime         string `json:"enroute_time"`
	FuelTime            string `json:"fuel_time"`
	Remarks             string `json:"remarks"`
	Route               string `json:"route"`
	RevisionID          int    `json:"revision_id"`
	AssignedTransponder string `json:"assigned_transponder"`
}

// Controller represents a single controller (or ATIS) session in the raw feed
type Controller struct {
	CID         int       `json:"cid"`
	Name        string    `json:"name"`
	Callsign    string    `json:"callsign"`
	Frequency   string    `json:"frequency"`
	Facility    int       `json:"facility"`
	Rating      int       `json:"rating"`
	Server      string    `json:"server"`
	VisualRange int       `json:"visual_range"`
	AtisCode    string    `json:"atis_code,omitempty"`
	TextAtis    []string  `json:"text_atis"`
	LastUpdated time.Time `json:"last_updated"`
	LogonTime   time.Time `json:"logon_time"`
}

// Facility codes as used by the feed's "facility" field
const (
	FacilityObserver  = 0
	FacilityFSS       = 1
	FacilityDelivery  = 2
	FacilityGround    = 3
	FacilityTower     = 4
	FacilityApproach  = 5 // TRACON positions
	FacilityEnroute   = 6 // FIR/center positions
)

// Transceiver represents one radio transmitter position reported for a callsign
type Transceiver struct {
	ID         int     `json:"id"`
	Frequency  int64   `json:"frequency"` // Hz
	LatDeg     float64 `json:"latDeg"`
	LonDeg     float64 `json:"lonDeg"`
	HeightMslM float64 `json:"heightMslM"`
	HeightAglM float64 `json:"heightAglM"`
}

// TransceiverSet is the per-callsign entry of the transceivers document
type TransceiverSet struct {
	Callsign     string        `json:"callsign"`
	Transceivers []Transceiver `json:"transceivers"`
}

// TransceiverMap indexes transceiver sets by callsign
type TransceiverMap map[string][]Transceiver

// FrequencyMHz converts the transceiver's Hz frequency to the dotted MHz
// string format used by controller sessions (e.g. "121.700").
func (t Transceiver) FrequencyMHz() float64 {
	return float64(t.Frequency) / 1e6
}
