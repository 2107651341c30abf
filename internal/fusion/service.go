package fusion

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vatfusion/vatfusion/internal/feed"
	"github.com/vatfusion/vatfusion/internal/websocket"
	"github.com/vatfusion/vatfusion/pkg/logger"
)

// WebSocketServer defines the interface for a WebSocket server
type WebSocketServer interface {
	Broadcast(message *websocket.Message)
}

// Storage defines the interface for fused snapshot persistence
type Storage interface {
	SaveCycle(pilots []*PilotRecord, controllers []*MergedController, airports []*AirportRecord, cycleTime time.Time) error
}

// FeedSource defines the interface for the upstream snapshot feed
type FeedSource interface {
	Fetch(ctx context.Context) (*feed.Snapshot, error)
}

// Observer sessions carry no real frequency and take no part in fusion
const observerFrequency = "199.998"

// Status is the service health summary exposed over the API
type Status struct {
	CycleCount      int           `json:"cycle_count"`
	LastCycleTime   time.Time     `json:"last_cycle_time"`
	LastCycleOK     bool          `json:"last_cycle_ok"`
	LastCycleTook   time.Duration `json:"last_cycle_took_ns"`
	Pilots          int           `json:"pilots"`
	Controllers     int           `json:"controllers"`
	Airports        int           `json:"airports"`
	FeedUpdatedAt   time.Time     `json:"feed_updated_at"`
	ConnectedPilots int           `json:"feed_connected_clients"`
}

// Service runs the fusion pipeline: one cycle per feed pull, each cycle
// fully assembling the next pilot/controller/airport collections and the
// three deltas before swapping them in. Cycles never overlap; the loop is
// a single goroutine and the next tick waits for the previous cycle.
type Service struct {
	feedSource   FeedSource
	pilotFusion  *PilotFusion
	geoAssigner  *GeoAssigner
	sectorMerger *SectorMerger
	airportAgg   *AirportAggregator
	dashboardAgg *DashboardAggregator
	storage      Storage
	wsServer     WebSocketServer

	fetchInterval time.Duration
	deltaUpdates  bool
	logger        *logger.Logger

	mu          sync.RWMutex
	pilots      map[string]*PilotRecord
	controllers map[string]*MergedController
	airports    map[string]*AirportRecord
	dashboard   *Dashboard
	lastDeltas  *CycleDeltas
	status      Status

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates the fusion pipeline service
func NewService(
	feedSource FeedSource,
	pilotFusion *PilotFusion,
	geoAssigner *GeoAssigner,
	sectorMerger *SectorMerger,
	airportAgg *AirportAggregator,
	storage Storage,
	wsServer WebSocketServer,
	fetchInterval time.Duration,
	deltaUpdates bool,
	loggerObj *logger.Logger,
) *Service {
	return &Service{
		feedSource:    feedSource,
		pilotFusion:   pilotFusion,
		geoAssigner:   geoAssigner,
		sectorMerger:  sectorMerger,
		airportAgg:    airportAgg,
		dashboardAgg:  NewDashboardAggregator(),
		storage:       storage,
		wsServer:      wsServer,
		fetchInterval: fetchInterval,
		deltaUpdates:  deltaUpdates,
		logger:        loggerObj.Named("fusion"),
		pilots:        make(map[string]*PilotRecord),
		controllers:   make(map[string]*MergedController),
		airports:      make(map[string]*AirportRecord),
		dashboard:     &Dashboard{},
		stopCh:        make(chan struct{}),
	}
}

// Start runs an initial cycle and begins the background cycle loop
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting fusion service",
		logger.Duration("fetch_interval", s.fetchInterval),
		logger.Bool("delta_updates", s.deltaUpdates),
	)

	if err := s.runCycle(ctx); err != nil {
		s.logger.Error("Initial fusion cycle failed", logger.Error(err))
	}

	s.wg.Add(1)
	go s.cycleLoop(ctx)

	return nil
}

// Stop stops the fusion service and waits for the current cycle to finish
func (s *Service) Stop() {
	s.logger.Info("Stopping fusion service")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Fusion service stopped")
}

func (s *Service) cycleLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.fetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logger.Error("Fusion cycle failed", logger.Error(err))
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runCycle executes one full fusion cycle. Every stage completes and the
// three deltas are computed before anything becomes visible to readers; a
// failed feed pull leaves the previous collections untouched.
func (s *Service) runCycle(ctx context.Context) error {
	started := time.Now()

	snapshot, err := s.feedSource.Fetch(ctx)
	if err != nil {
		s.setCycleStatus(started, false)
		return err
	}

	if err := s.sectorMerger.Refresh(ctx); err != nil {
		// Stale prefix tables still merge correctly, keep going
		s.logger.Warn("Boundary refresh failed, keeping previous tables", logger.Error(err))
	}

	now := time.Now().UTC()

	pilots := s.pilotFusion.Fuse(ctx, snapshot, s.snapshotPilots(), now)

	sessions := sessionsFromSnapshot(snapshot)
	s.geoAssigner.Assign(sessions, pilots, snapshot.Transceivers)
	controllers := s.sectorMerger.Merge(sessions)

	airports := s.airportAgg.Aggregate(pilots)

	dashboard := s.dashboardAgg.Aggregate(pilots, controllers, airports, now)

	deltas := s.computeDeltas(pilots, controllers, airports)

	if s.deltaUpdates {
		s.broadcastDeltas(deltas)
	}

	if s.storage != nil {
		if err := s.storage.SaveCycle(sortedPilots(pilots), sortedControllers(controllers), sortedAirports(airports), now); err != nil {
			s.logger.Error("Failed to persist fused cycle", logger.Error(err))
		}
	}

	s.mu.Lock()
	s.pilots = pilots
	s.controllers = controllers
	s.airports = airports
	s.dashboard = dashboard
	s.lastDeltas = deltas
	s.status = Status{
		CycleCount:      s.status.CycleCount + 1,
		LastCycleTime:   now,
		LastCycleOK:     true,
		LastCycleTook:   time.Since(started),
		Pilots:          len(pilots),
		Controllers:     len(controllers),
		Airports:        len(airports),
		FeedUpdatedAt:   snapshot.General.UpdateTimestamp,
		ConnectedPilots: snapshot.General.ConnectedClients,
	}
	s.mu.Unlock()

	s.logger.Debug("Fusion cycle complete",
		logger.Int("pilots", len(pilots)),
		logger.Int("controllers", len(controllers)),
		logger.Int("airports", len(airports)),
		logger.Duration("took", time.Since(started)),
	)

	return nil
}

// computeDeltas diffs the three new collections against the current cache.
// Deleted sets are dropped for controllers and airports: a group or airport
// with no members simply stops appearing, there is nothing to patch.
func (s *Service) computeDeltas(pilots map[string]*PilotRecord, controllers map[string]*MergedController, airports map[string]*AirportRecord) *CycleDeltas {
	s.mu.RLock()
	prevPilots := sortedPilots(s.pilots)
	prevControllers := sortedControllers(s.controllers)
	prevAirports := sortedAirports(s.airports)
	s.mu.RUnlock()

	deltas := &CycleDeltas{
		Pilots: ComputeDelta(prevPilots, sortedPilots(pilots), "uid",
			func(p *PilotRecord) string { return p.UID }, DiffPilots),
		Controllers: ComputeDelta(prevControllers, sortedControllers(controllers), "id",
			func(c *MergedController) string { return c.ID }, DiffMergedControllers),
		Airports: ComputeDelta(prevAirports, sortedAirports(airports), "icao",
			func(a *AirportRecord) string { return a.ICAO }, DiffAirports),
	}
	deltas.Controllers.Deleted = nil
	deltas.Airports.Deleted = nil

	return deltas
}

func (s *Service) broadcastDeltas(deltas *CycleDeltas) {
	if s.wsServer == nil {
		return
	}

	if !deltas.Pilots.Empty() {
		s.wsServer.Broadcast(&websocket.Message{Type: "pilots_delta", Data: deltas.Pilots})
	}
	if !deltas.Controllers.Empty() {
		s.wsServer.Broadcast(&websocket.Message{Type: "controllers_delta", Data: deltas.Controllers})
	}
	if !deltas.Airports.Empty() {
		s.wsServer.Broadcast(&websocket.Message{Type: "airports_delta", Data: deltas.Airports})
	}
}

// sessionsFromSnapshot converts feed controller and ATIS entries into the
// cycle's raw session records. Observer connections are dropped. Timestamps
// come from the feed so an unchanged session diffs as unchanged.
func sessionsFromSnapshot(snapshot *feed.Snapshot) []*ControllerRecord {
	sessions := make([]*ControllerRecord, 0, len(snapshot.Controllers)+len(snapshot.ATIS))

	appendSession := func(c *feed.Controller) {
		if c.Facility == feed.FacilityObserver || c.Frequency == observerFrequency {
			return
		}
		sessions = append(sessions, &ControllerRecord{
			CID:         c.CID,
			Name:        c.Name,
			Callsign:    c.Callsign,
			Frequency:   c.Frequency,
			Facility:    c.Facility,
			Rating:      c.Rating,
			AtisCode:    c.AtisCode,
			TextAtis:    c.TextAtis,
			LogonTime:   c.LogonTime,
			LastUpdated: c.LastUpdated,
		})
	}

	for i := range snapshot.Controllers {
		appendSession(&snapshot.Controllers[i])
	}
	for i := range snapshot.ATIS {
		appendSession(&snapshot.ATIS[i])
	}

	return sessions
}

// snapshotPilots returns the current pilot cache for the merge stage.
// The map itself is never mutated after publication, so sharing it with
// the pipeline is safe.
func (s *Service) snapshotPilots() map[string]*PilotRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pilots
}

// GetPilots returns the fused pilot collection, ordered by uid
func (s *Service) GetPilots() []*PilotRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedPilots(s.pilots)
}

// GetPilot returns one pilot record by uid
func (s *Service) GetPilot(uid string) (*PilotRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pilots[uid]
	return p, ok
}

// GetControllers returns the merged controller groups, ordered by id
func (s *Service) GetControllers() []*MergedController {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedControllers(s.controllers)
}

// GetAirports returns the airport aggregates, ordered by ICAO code
func (s *Service) GetAirports() []*AirportRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedAirports(s.airports)
}

// GetAirport returns one airport record by ICAO code
func (s *Service) GetAirport(icao string) (*AirportRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.airports[icao]
	return a, ok
}

// GetDashboard returns the latest dashboard statistics
func (s *Service) GetDashboard() *Dashboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dashboard
}

// GetStatus returns the service health summary
func (s *Service) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastDeltas returns the deltas of the most recent cycle, nil before the
// first successful cycle
func (s *Service) LastDeltas() *CycleDeltas {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDeltas
}

func (s *Service) setCycleStatus(started time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastCycleOK = ok
	s.status.LastCycleTime = started.UTC()
	s.status.LastCycleTook = time.Since(started)
}

func sortedPilots(pilots map[string]*PilotRecord) []*PilotRecord {
	out := make([]*PilotRecord, 0, len(pilots))
	for _, p := range pilots {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

func sortedControllers(controllers map[string]*MergedController) []*MergedController {
	out := make([]*MergedController, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedAirports(airports map[string]*AirportRecord) []*AirportRecord {
	out := make([]*AirportRecord, 0, len(airports))
	for _, a := range airports {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ICAO < out[j].ICAO })
	return out
}
