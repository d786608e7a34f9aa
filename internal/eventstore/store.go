// Package eventstore persists violation events to SQLite and serves the
// query side of the violations API.
package eventstore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roadsim/odotelem/internal/telemetry"
)

const schema = `
	CREATE TABLE IF NOT EXISTS violations (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		zone TEXT NOT NULL,
		limit_mps DOUBLE NOT NULL,
		max_speed_mps DOUBLE NOT NULL,
		min_speed_mps DOUBLE NOT NULL,
		duration_s DOUBLE NOT NULL,
		sim_start DOUBLE NOT NULL,
		sim_end DOUBLE NOT NULL,
		wall_start TIMESTAMP NOT NULL,
		wall_end TIMESTAMP NOT NULL,
		loc_x DOUBLE NOT NULL,
		loc_y DOUBLE NOT NULL,
		severity TEXT NOT NULL,
		created TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_violations_vehicle
		ON violations(vehicle_id, sim_start);
`

// Store is a SQLite-backed violation event store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and ensures the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "eventstore")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements telemetry.EventSink. The sink contract is non-blocking
// and always available, so persistence failures are logged, not propagated.
func (s *Store) Record(ev telemetry.ViolationEvent) {
	if err := s.Insert(ev); err != nil {
		s.logger.Error("failed to persist violation event", "event_id", ev.ID, "err", err)
	}
}

// Insert writes one violation event.
func (s *Store) Insert(ev telemetry.ViolationEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO violations (
			id, vehicle_id, zone, limit_mps, max_speed_mps, min_speed_mps,
			duration_s, sim_start, sim_end, wall_start, wall_end,
			loc_x, loc_y, severity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.VehicleID, ev.Zone, ev.LimitMPS, ev.MaxSpeedMPS, ev.MinSpeedMPS,
		ev.Duration, ev.SimStart, ev.SimEnd, ev.WallStart.UTC(), ev.WallEnd.UTC(),
		ev.Location.X, ev.Location.Y, string(ev.Severity),
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// ByVehicle returns up to limit events for the vehicle, most recent first.
func (s *Store) ByVehicle(vehicleID string, limit int) ([]telemetry.ViolationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, vehicle_id, zone, limit_mps, max_speed_mps, min_speed_mps,
			duration_s, sim_start, sim_end, wall_start, wall_end,
			loc_x, loc_y, severity
		FROM violations
		WHERE vehicle_id = ?
		ORDER BY sim_start DESC
		LIMIT ?`, vehicleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var events []telemetry.ViolationEvent
	for rows.Next() {
		var ev telemetry.ViolationEvent
		var severity string
		var wallStart, wallEnd time.Time
		if err := rows.Scan(
			&ev.ID, &ev.VehicleID, &ev.Zone, &ev.LimitMPS, &ev.MaxSpeedMPS,
			&ev.MinSpeedMPS, &ev.Duration, &ev.SimStart, &ev.SimEnd,
			&wallStart, &wallEnd, &ev.Location.X, &ev.Location.Y, &severity,
		); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		ev.WallStart = wallStart
		ev.WallEnd = wallEnd
		ev.Severity = telemetry.Severity(severity)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return events, nil
}

// CountByVehicle returns the number of stored events for the vehicle.
func (s *Store) CountByVehicle(vehicleID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM violations WHERE vehicle_id = ?`, vehicleID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return count, nil
}
