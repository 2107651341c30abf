package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vatfusion/vatfusion/internal/feed"
	"github.com/vatfusion/vatfusion/internal/refdata"
	"github.com/vatfusion/vatfusion/internal/websocket"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

type stubFeed struct {
	snapshots []*feed.Snapshot
	idx       int
	err       error
}

func (f *stubFeed) Fetch(ctx context.Context) (*feed.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	snapshot := f.snapshots[f.idx]
	if f.idx < len(f.snapshots)-1 {
		f.idx++
	}
	return snapshot, nil
}

type memStorage struct {
	cycles     int
	lastPilots []*PilotRecord
}

func (m *memStorage) SaveCycle(pilots []*PilotRecord, controllers []*MergedController, airports []*AirportRecord, cycleTime time.Time) error {
	m.cycles++
	m.lastPilots = pilots
	return nil
}

type captureWS struct {
	messages []*websocket.Message
}

func (c *captureWS) Broadcast(message *websocket.Message) {
	c.messages = append(c.messages, message)
}

func (c *captureWS) types() []string {
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.Type
	}
	return out
}

// serviceRefClient backs both the airport lookups and the boundary document
// with one httptest server
func serviceRefClient(t *testing.T) *refdata.Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/boundaries/version", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("v1"))
	})
	mux.HandleFunc("/boundaries", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(refdata.BoundaryData{
			Version: "v1",
			FIRs:    []refdata.Boundary{{ID: "EDGG", Prefix: "EDGG"}},
		})
	})
	mux.HandleFunc("/airports", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]refdata.Coordinates{})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := refdata.NewClient(server.URL+"/boundaries", server.URL+"/airports", "", 64, time.Second, logger.NewNop())
	if err != nil {
		t.Fatalf("refdata client: %v", err)
	}
	return client
}

func testService(t *testing.T, feedSource FeedSource, storage Storage, ws WebSocketServer) *Service {
	t.Helper()

	refClient := serviceRefClient(t)
	nop := logger.NewNop()
	return NewService(
		feedSource,
		NewPilotFusion(refClient, NewPhaseEngine(10*time.Minute, 2), 4, nop),
		NewGeoAssigner(nop),
		NewSectorMerger(refClient, nop),
		NewAirportAggregator(stubWeather{}, nop),
		storage,
		ws,
		time.Hour,
		true,
		nop,
	)
}

func serviceSnapshot(logon time.Time, pilots []feed.Pilot) *feed.Snapshot {
	return &feed.Snapshot{
		General: feed.General{
			UpdateTimestamp:  logon,
			ConnectedClients: 1234,
		},
		Pilots: pilots,
		Controllers: []feed.Controller{
			{CID: 800001, Callsign: "EDDF_TWR", Frequency: "119.900", Facility: feed.FacilityTower, LogonTime: logon},
			{CID: 800002, Callsign: "EDGG_CTR", Frequency: "135.725", Facility: feed.FacilityEnroute, LogonTime: logon},
			{CID: 800003, Callsign: "OBS_TEST", Frequency: "199.998", Facility: feed.FacilityObserver, LogonTime: logon},
		},
		ATIS: []feed.Controller{
			{CID: 800004, Callsign: "EDDF_ATIS", Frequency: "118.025", Facility: feed.FacilityTower, AtisCode: "K", LogonTime: logon},
		},
	}
}

func TestRunCyclePipeline(t *testing.T) {
	logon := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)

	dlh := feedPilot(1000001, "DLH400", logon)
	dlh.FlightPlan = &feed.FlightPlan{Departure: "EDDF", Arrival: "EGLL"}
	baw := feedPilot(1000002, "BAW903", logon)

	source := &stubFeed{snapshots: []*feed.Snapshot{serviceSnapshot(logon, []feed.Pilot{dlh, baw})}}
	storage := &memStorage{}
	ws := &captureWS{}
	service := testService(t, source, storage, ws)

	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	if got := service.GetPilots(); len(got) != 2 {
		t.Fatalf("pilots = %d, want 2", len(got))
	}
	if _, ok := service.GetPilot(PilotUID(1000001, "DLH400", logon)); !ok {
		t.Error("DLH400 missing from the pilot cache")
	}

	// Observer dropped; tower and ATIS group under the airport, enroute
	// under its FIR
	groups := map[string]int{}
	for _, group := range service.GetControllers() {
		groups[group.ID] = len(group.Sessions)
	}
	want := map[string]int{"airport_EDDF": 2, "fir_EDGG": 1}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Errorf("controller groups mismatch (-want +got):\n%s", diff)
	}

	if airport, ok := service.GetAirport("EDDF"); !ok || airport.Departures.Count != 1 {
		t.Errorf("EDDF aggregate = %+v ok=%v", airport, ok)
	}
	if len(service.GetAirports()) != 2 {
		t.Errorf("airports = %d, want EDDF and EGLL", len(service.GetAirports()))
	}

	if dash := service.GetDashboard(); dash.TotalPilots != 2 || dash.TotalControllers != 3 {
		t.Errorf("dashboard = %+v", dash)
	}

	status := service.GetStatus()
	if status.CycleCount != 1 || !status.LastCycleOK {
		t.Errorf("status = %+v", status)
	}
	if status.ConnectedPilots != 1234 || !status.FeedUpdatedAt.Equal(logon) {
		t.Errorf("feed metadata not carried into status: %+v", status)
	}

	deltas := service.LastDeltas()
	if deltas == nil || len(deltas.Pilots.Added) != 2 {
		t.Fatalf("first cycle deltas = %+v", deltas)
	}
	if deltas.Controllers.Deleted != nil || deltas.Airports.Deleted != nil {
		t.Error("group deltas must not carry deleted sets")
	}

	if storage.cycles != 1 || len(storage.lastPilots) != 2 {
		t.Errorf("storage: cycles=%d pilots=%d", storage.cycles, len(storage.lastPilots))
	}

	wantTypes := []string{"pilots_delta", "controllers_delta", "airports_delta"}
	if diff := cmp.Diff(wantTypes, ws.types()); diff != "" {
		t.Errorf("broadcast types mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCycleSecondCycleDeltas(t *testing.T) {
	logon := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)

	dlh := feedPilot(1000001, "DLH400", logon)
	baw := feedPilot(1000002, "BAW903", logon)

	moved := dlh
	moved.Altitude = 2364
	moved.LastUpdated = logon.Add(15 * time.Second)

	source := &stubFeed{snapshots: []*feed.Snapshot{
		serviceSnapshot(logon, []feed.Pilot{dlh, baw}),
		serviceSnapshot(logon, []feed.Pilot{moved}), // BAW903 disconnected
	}}
	service := testService(t, source, &memStorage{}, &captureWS{})

	ctx := context.Background()
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	deltas := service.LastDeltas()
	if len(deltas.Pilots.Added) != 0 {
		t.Errorf("added = %+v, want none", deltas.Pilots.Added)
	}

	wantDeleted := []string{PilotUID(1000002, "BAW903", logon)}
	if diff := cmp.Diff(wantDeleted, deltas.Pilots.Deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}

	if len(deltas.Pilots.Updated) != 1 {
		t.Fatalf("updated = %+v, want one patch", deltas.Pilots.Updated)
	}
	patch := deltas.Pilots.Updated[0]
	if patch["uid"] != PilotUID(1000001, "DLH400", logon) {
		t.Errorf("patch identity = %v", patch["uid"])
	}
	if _, ok := patch["altitude_msl"]; !ok {
		t.Errorf("patch misses the changed altitude: %v", patch)
	}
	if _, ok := patch["callsign"]; ok {
		t.Errorf("patch carries an unchanged field: %v", patch)
	}
}

func TestRunCycleUnchangedControllersEmitNothing(t *testing.T) {
	logon := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)

	// The same snapshot two cycles in a row: no controller changed, so the
	// controllers delta must stay empty
	source := &stubFeed{snapshots: []*feed.Snapshot{
		serviceSnapshot(logon, []feed.Pilot{feedPilot(1000001, "DLH400", logon)}),
	}}
	ws := &captureWS{}
	service := testService(t, source, &memStorage{}, ws)

	ctx := context.Background()
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	deltas := service.LastDeltas()
	if !deltas.Controllers.Empty() {
		t.Errorf("controllers delta not empty: added=%d updated=%v",
			len(deltas.Controllers.Added), deltas.Controllers.Updated)
	}
	if !deltas.Airports.Empty() {
		t.Errorf("airports delta not empty: %v", deltas.Airports.Updated)
	}

	// Only the first cycle broadcast anything for controllers
	controllerBroadcasts := 0
	for _, msg := range ws.messages {
		if msg.Type == "controllers_delta" {
			controllerBroadcasts++
		}
	}
	if controllerBroadcasts != 1 {
		t.Errorf("controllers_delta broadcast %d times, want 1", controllerBroadcasts)
	}
}

func TestRunCycleFeedFailureKeepsCollections(t *testing.T) {
	logon := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	source := &stubFeed{snapshots: []*feed.Snapshot{
		serviceSnapshot(logon, []feed.Pilot{feedPilot(1000001, "DLH400", logon)}),
	}}
	service := testService(t, source, &memStorage{}, &captureWS{})

	ctx := context.Background()
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	source.err = errors.New("upstream down")
	if err := service.runCycle(ctx); err == nil {
		t.Fatal("expected the cycle to fail")
	}

	if len(service.GetPilots()) != 1 {
		t.Error("failed cycle must keep the previous collections")
	}
	status := service.GetStatus()
	if status.LastCycleOK {
		t.Error("status must report the failed cycle")
	}
	if status.CycleCount != 1 {
		t.Errorf("cycle count = %d, want 1", status.CycleCount)
	}
}

func TestServiceStartStop(t *testing.T) {
	logon := time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	source := &stubFeed{snapshots: []*feed.Snapshot{serviceSnapshot(logon, nil)}}
	service := testService(t, source, &memStorage{}, &captureWS{})

	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	service.Stop()

	if service.GetStatus().CycleCount != 1 {
		t.Error("initial cycle did not run before Start returned")
	}
}
