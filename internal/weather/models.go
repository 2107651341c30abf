package weather

import "time"

// StationText maps a station identifier (ICAO code) to the raw weather text
// published for it
type StationText map[string]string

// Report holds the cached weather text for one station
type Report struct {
	METAR *string `json:"metar"`
	TAF   *string `json:"taf"`
}

// Stats describes the state of the weather caches, for the status endpoint
type Stats struct {
	METARStations int       `json:"metar_stations"`
	TAFStations   int       `json:"taf_stations"`
	LastRefreshed time.Time `json:"last_refreshed"`
	LastError     string    `json:"last_error,omitempty"`
}

// metarCollection is the shape of the compressed METAR document
type metarCollection struct {
	Data struct {
		METARs []stationEntry `xml:"METAR"`
	} `xml:"data"`
}

// tafCollection is the shape of the compressed TAF document
type tafCollection struct {
	Data struct {
		TAFs []stationEntry `xml:"TAF"`
	} `xml:"data"`
}

type stationEntry struct {
	RawText   string `xml:"raw_text"`
	StationID string `xml:"station_id"`
}
