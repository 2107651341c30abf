package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vatfusion/vatfusion/internal/fusion"
	"github.com/vatfusion/vatfusion/pkg/logger"
	_ "modernc.org/sqlite"
)

// SnapshotStorage persists the fused collections of each cycle. Records
// are upserted by identity with their JSON encoding as payload, so the
// per-day database holds the latest state of every entity seen that day.
type SnapshotStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSnapshotStorage creates a new SQLite-based snapshot storage
func NewSnapshotStorage(dbPath string, log *logger.Logger) (*SnapshotStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &SnapshotStorage{
		db:     db,
		logger: storageLogger,
	}, nil
}

// Close closes the database connection
func (s *SnapshotStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the database connection
func (s *SnapshotStorage) GetDB() *sql.DB {
	return s.db
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pilots (
			uid TEXT PRIMARY KEY,
			callsign TEXT,
			cid INTEGER,
			phase TEXT,
			departure TEXT,
			arrival TEXT,
			payload TEXT NOT NULL,
			last_seen TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create pilots table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS controllers (
			id TEXT PRIMARY KEY,
			kind TEXT,
			prefix TEXT,
			sessions INTEGER,
			payload TEXT NOT NULL,
			last_seen TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create controllers table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS airports (
			icao TEXT PRIMARY KEY,
			departures INTEGER,
			arrivals INTEGER,
			payload TEXT NOT NULL,
			last_seen TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create airports table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_pilots_callsign ON pilots(callsign)`)
	if err != nil {
		return fmt.Errorf("failed to create pilots callsign index: %w", err)
	}

	return nil
}

// SaveCycle upserts the three fused collections in one transaction
func (s *SnapshotStorage) SaveCycle(pilots []*fusion.PilotRecord, controllers []*fusion.MergedController, airports []*fusion.AirportRecord, cycleTime time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.savePilots(tx, pilots, cycleTime); err != nil {
		return err
	}
	if err := s.saveControllers(tx, controllers, cycleTime); err != nil {
		return err
	}
	if err := s.saveAirports(tx, airports, cycleTime); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cycle: %w", err)
	}

	s.logger.Debug("Persisted fused cycle",
		logger.Int("pilots", len(pilots)),
		logger.Int("controllers", len(controllers)),
		logger.Int("airports", len(airports)))

	return nil
}

func (s *SnapshotStorage) savePilots(tx *sql.Tx, pilots []*fusion.PilotRecord, cycleTime time.Time) error {
	stmt, err := tx.Prepare(`
		INSERT INTO pilots (uid, callsign, cid, phase, departure, arrival, payload, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			phase = excluded.phase,
			departure = excluded.departure,
			arrival = excluded.arrival,
			payload = excluded.payload,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare pilot upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pilots {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal pilot %s: %w", p.UID, err)
		}

		var phase, departure, arrival string
		if p.Times != nil {
			phase = p.Times.Phase.String()
		}
		if p.FlightPlan != nil {
			departure = p.FlightPlan.Departure
			arrival = p.FlightPlan.Arrival
		}

		if _, err := stmt.Exec(p.UID, p.Callsign, p.CID, phase, departure, arrival, string(payload), cycleTime.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to upsert pilot %s: %w", p.UID, err)
		}
	}

	return nil
}

func (s *SnapshotStorage) saveControllers(tx *sql.Tx, controllers []*fusion.MergedController, cycleTime time.Time) error {
	stmt, err := tx.Prepare(`
		INSERT INTO controllers (id, kind, prefix, sessions, payload, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sessions = excluded.sessions,
			payload = excluded.payload,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare controller upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range controllers {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal controller group %s: %w", c.ID, err)
		}

		if _, err := stmt.Exec(c.ID, c.Kind, c.Prefix, len(c.Sessions), string(payload), cycleTime.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to upsert controller group %s: %w", c.ID, err)
		}
	}

	return nil
}

func (s *SnapshotStorage) saveAirports(tx *sql.Tx, airports []*fusion.AirportRecord, cycleTime time.Time) error {
	stmt, err := tx.Prepare(`
		INSERT INTO airports (icao, departures, arrivals, payload, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(icao) DO UPDATE SET
			departures = excluded.departures,
			arrivals = excluded.arrivals,
			payload = excluded.payload,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare airport upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range airports {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal airport %s: %w", a.ICAO, err)
		}

		if _, err := stmt.Exec(a.ICAO, a.Departures.Count, a.Arrivals.Count, string(payload), cycleTime.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to upsert airport %s: %w", a.ICAO, err)
		}
	}

	return nil
}
