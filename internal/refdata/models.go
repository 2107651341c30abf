package refdata

// Coordinates is a resolved airport position
type Coordinates struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ElevationFt float64 `json:"elevation_ft"`
}

// Boundary represents one FIR or TRACON boundary polygon with its
// registered callsign prefix string (dash-delimited when it covers
// multiple prefixes, empty when the boundary's own id is the prefix)
type Boundary struct {
	ID     string       `json:"id"`
	Prefix string       `json:"prefix"`
	Name   string       `json:"name"`
	Points [][2]float64 `json:"points"`
}

// BoundaryData is the versioned boundary collection document
type BoundaryData struct {
	Version string     `json:"version"`
	FIRs    []Boundary `json:"firs"`
	TRACONs []Boundary `json:"tracons"`
}

// FleetEntry is a fleet registry record
type FleetEntry struct {
	Registration string `json:"registration"`
	TypeCode     string `json:"type_code"`
	Operator     string `json:"operator"`
}
