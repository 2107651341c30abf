package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vatfusion/vatfusion/internal/feed"
	"github.com/vatfusion/vatfusion/internal/fusion"
	"github.com/vatfusion/vatfusion/internal/refdata"
	"github.com/vatfusion/vatfusion/internal/weather"
	"github.com/vatfusion/vatfusion/internal/websocket"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

type staticFeed struct {
	snapshot *feed.Snapshot
}

func (f *staticFeed) Fetch(ctx context.Context) (*feed.Snapshot, error) {
	return f.snapshot, nil
}

type noWeather struct{}

func (noWeather) Lookup(station string) weather.Report { return weather.Report{} }

// testAPI stands up the full stack behind the router: one fused cycle is in
// the caches when it returns.
func testAPI(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	refMux := http.NewServeMux()
	refMux.HandleFunc("/boundaries/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("v1"))
	})
	refMux.HandleFunc("/boundaries", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(refdata.BoundaryData{Version: "v1"})
	})
	refMux.HandleFunc("/airports", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]refdata.Coordinates{})
	})
	refServer := httptest.NewServer(refMux)
	t.Cleanup(refServer.Close)

	nop := logger.NewNop()
	refClient, err := refdata.NewClient(refServer.URL+"/boundaries", refServer.URL+"/airports", "", 64, time.Second, nop)
	if err != nil {
		t.Fatalf("refdata client: %v", err)
	}

	logon := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	source := &staticFeed{snapshot: &feed.Snapshot{
		Pilots: []feed.Pilot{{
			CID:       1000001,
			Callsign:  "DLH400",
			LogonTime: logon,
			FlightPlan: &feed.FlightPlan{
				Departure: "EDDF",
				Arrival:   "EGLL",
			},
		}},
		Controllers: []feed.Controller{{
			CID: 800001, Callsign: "EDDF_TWR", Frequency: "119.900", Facility: feed.FacilityTower, LogonTime: logon,
		}},
	}}

	fusionService := fusion.NewService(
		source,
		fusion.NewPilotFusion(refClient, fusion.NewPhaseEngine(10*time.Minute, 2), 4, nop),
		fusion.NewGeoAssigner(nop),
		fusion.NewSectorMerger(refClient, nop),
		fusion.NewAirportAggregator(noWeather{}, nop),
		nil,
		nil,
		time.Hour,
		false,
		nop,
	)
	if err := fusionService.Start(context.Background()); err != nil {
		t.Fatalf("fusion start: %v", err)
	}
	t.Cleanup(fusionService.Stop)

	weatherService := weather.NewService(weather.NewClient("", "", time.Second, nop), time.Hour, nop)
	wsServer := websocket.NewServer(nop)

	router := NewRouter(fusionService, weatherService, wsServer, nop)
	server := httptest.NewServer(router.Routes())
	t.Cleanup(server.Close)

	uid := fusion.PilotUID(1000001, "DLH400", logon)
	return server, uid
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", url, err)
		}
	}
}

func TestPilotsEndpoint(t *testing.T) {
	server, uid := testAPI(t)

	var listing struct {
		Count  int               `json:"count"`
		Pilots []json.RawMessage `json:"pilots"`
	}
	getJSON(t, server.URL+"/api/v1/pilots", http.StatusOK, &listing)
	if listing.Count != 1 || len(listing.Pilots) != 1 {
		t.Fatalf("listing = %+v", listing)
	}

	getJSON(t, server.URL+"/api/v1/pilots?departure=EDDF", http.StatusOK, &listing)
	if listing.Count != 1 {
		t.Errorf("departure filter dropped the matching pilot")
	}

	getJSON(t, server.URL+"/api/v1/pilots?departure=LFPG", http.StatusOK, &listing)
	if listing.Count != 0 {
		t.Errorf("departure filter kept a non-matching pilot")
	}

	var pilot struct {
		UID      string `json:"uid"`
		Callsign string `json:"callsign"`
	}
	getJSON(t, server.URL+"/api/v1/pilots/"+uid, http.StatusOK, &pilot)
	if pilot.UID != uid || pilot.Callsign != "DLH400" {
		t.Errorf("pilot = %+v", pilot)
	}

	getJSON(t, server.URL+"/api/v1/pilots/0_NOPE_0", http.StatusNotFound, nil)
}

func TestControllersEndpoint(t *testing.T) {
	server, _ := testAPI(t)

	var listing struct {
		Count int `json:"count"`
	}
	getJSON(t, server.URL+"/api/v1/controllers", http.StatusOK, &listing)
	if listing.Count != 1 {
		t.Fatalf("controllers = %+v", listing)
	}

	getJSON(t, server.URL+"/api/v1/controllers?kind=fir", http.StatusOK, &listing)
	if listing.Count != 0 {
		t.Errorf("kind filter kept a non-matching group")
	}
}

func TestAirportsEndpoint(t *testing.T) {
	server, _ := testAPI(t)

	var listing struct {
		Count int `json:"count"`
	}
	getJSON(t, server.URL+"/api/v1/airports", http.StatusOK, &listing)
	if listing.Count != 2 {
		t.Fatalf("airports = %+v, want EDDF and EGLL", listing)
	}

	var airport struct {
		ICAO       string `json:"icao"`
		DepTraffic struct {
			Count int `json:"count"`
		} `json:"dep_traffic"`
	}
	getJSON(t, server.URL+"/api/v1/airports/eddf", http.StatusOK, &airport)
	if airport.ICAO != "EDDF" || airport.DepTraffic.Count != 1 {
		t.Errorf("airport = %+v", airport)
	}

	getJSON(t, server.URL+"/api/v1/airports/ZZZZ", http.StatusNotFound, nil)
}

func TestDashboardEndpoint(t *testing.T) {
	server, _ := testAPI(t)

	var dash struct {
		TotalPilots      int `json:"total_pilots"`
		TotalControllers int `json:"total_controllers"`
	}
	getJSON(t, server.URL+"/api/v1/dashboard", http.StatusOK, &dash)
	if dash.TotalPilots != 1 || dash.TotalControllers != 1 {
		t.Errorf("dashboard = %+v", dash)
	}
}

func TestWeatherEndpointMiss(t *testing.T) {
	server, _ := testAPI(t)
	getJSON(t, server.URL+"/api/v1/wx/EDDF", http.StatusNotFound, nil)
}

func TestStatusEndpoint(t *testing.T) {
	server, _ := testAPI(t)

	var status struct {
		Status string `json:"status"`
		Fusion struct {
			CycleCount int  `json:"cycle_count"`
			LastOK     bool `json:"last_cycle_ok"`
		} `json:"fusion"`
		WSClients int `json:"ws_clients"`
	}
	getJSON(t, server.URL+"/api/v1/status", http.StatusOK, &status)

	if status.Status != "ok" {
		t.Errorf("status = %q", status.Status)
	}
	if status.Fusion.CycleCount < 1 || !status.Fusion.LastOK {
		t.Errorf("fusion status = %+v", status.Fusion)
	}
	if status.WSClients != 0 {
		t.Errorf("ws clients = %d", status.WSClients)
	}
}
