package weather

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vatfusion/vatfusion/pkg/logger"
)

// Service manages the station weather caches. The two documents are
// refreshed on a fixed interval, independently of the fusion cycle; the
// aggregator only ever reads a fully-swapped cache. Any fetch or parse
// failure keeps the previous maps untouched.
type Service struct {
	client          *Client
	refreshInterval time.Duration
	logger          *logger.Logger

	mu            sync.RWMutex
	metars        StationText
	tafs          StationText
	lastRefreshed time.Time
	lastError     string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	startMu sync.Mutex
}

// NewService creates a new weather service
func NewService(client *Client, refreshInterval time.Duration, loggerObj *logger.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		client:          client,
		refreshInterval: refreshInterval,
		logger:          loggerObj.Named("wx"),
		metars:          StationText{},
		tafs:            StationText{},
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start begins the background refresh loop
func (s *Service) Start() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting weather service",
		logger.Duration("refresh_interval", s.refreshInterval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresh(s.ctx)

		ticker := time.NewTicker(s.refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.refresh(s.ctx)
			case <-s.ctx.Done():
				return
			}
		}
	}()

	s.started = true
	return nil
}

// Stop gracefully shuts down the weather service
func (s *Service) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info("Stopping weather service")
	s.cancel()
	s.wg.Wait()
	s.started = false
}

// refresh fetches both documents concurrently and swaps the caches only on
// per-document success. The two fetches are independent: a failed document
// leaves its previous map in place while the other still refreshes.
func (s *Service) refresh(ctx context.Context) {
	var (
		newMETARs StationText
		newTAFs   StationText
		metarErr  error
		tafErr    error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		newMETARs, metarErr = s.client.FetchMETARs(ctx)
	}()
	go func() {
		defer wg.Done()
		newTAFs, tafErr = s.client.FetchTAFs(ctx)
	}()
	wg.Wait()
	err := errors.Join(metarErr, tafErr)

	s.mu.Lock()
	defer s.mu.Unlock()

	if newMETARs != nil {
		s.metars = newMETARs
	}
	if newTAFs != nil {
		s.tafs = newTAFs
	}
	s.lastRefreshed = time.Now().UTC()

	if err != nil {
		s.lastError = err.Error()
		s.logger.Warn("Weather refresh failed, retaining previous cache", logger.Error(err))
		return
	}

	s.lastError = ""
	s.logger.Info("Weather cache refreshed",
		logger.Int("metar_stations", len(s.metars)),
		logger.Int("taf_stations", len(s.tafs)),
	)
}

// Lookup returns the cached weather text for a station. A missing entry is
// returned as nil, never as an error.
func (s *Service) Lookup(station string) Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var report Report
	if text, ok := s.metars[station]; ok {
		report.METAR = &text
	}
	if text, ok := s.tafs[station]; ok {
		report.TAF = &text
	}
	return report
}

// GetStats returns cache statistics
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		METARStations: len(s.metars),
		TAFStations:   len(s.tafs),
		LastRefreshed: s.lastRefreshed,
		LastError:     s.lastError,
	}
}
