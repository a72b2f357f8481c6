package readings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/database"
)

// The WHERE clause keeps the stored row when it is strictly newer.
const upsertReading = `
	INSERT INTO latest_readings (sensor_id, kind, value, unit, timestamp, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (sensor_id) DO UPDATE SET
		kind = excluded.kind,
		value = excluded.value,
		unit = excluded.unit,
		timestamp = excluded.timestamp,
		updated_at = excluded.updated_at
	WHERE excluded.timestamp >= latest_readings.timestamp`

const readingColumns = `sensor_id, kind, value, unit, timestamp`

// SQLiteStore is a Store backed by the latest_readings table.
type SQLiteStore struct {
	db    *database.DB
	owned bool
}

// NewSQLiteStore wraps an open, migrated database. Close leaves db open.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, sensorID string, d datum.Datum) error {
	if err := checkPut(sensorID, d); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, upsertReading,
		sensorID,
		string(d.Value().Kind()),
		d.Value().String(),
		d.Unit().String(),
		formatTimestamp(d.Timestamp()),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing reading for %s: %w", sensorID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, sensorID string) (datum.Datum, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM latest_readings WHERE sensor_id = ?`, sensorID)

	r, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return datum.Datum{}, ErrNotFound
		}
		return datum.Datum{}, fmt.Errorf("querying reading for %s: %w", sensorID, err)
	}
	return r.Datum, nil
}

// Latest implements Store.
func (s *SQLiteStore) Latest(ctx context.Context) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM latest_readings ORDER BY sensor_id`)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return out, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, sensorID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM latest_readings WHERE sensor_id = ?`, sensorID); err != nil {
		return fmt.Errorf("deleting reading for %s: %w", sensorID, err)
	}
	return nil
}

// Close implements Store. The database is closed only when the store
// opened it itself.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (Reading, error) {
	var id, kind, value, unit, ts string
	if err := row.Scan(&id, &kind, &value, &unit, &ts); err != nil {
		return Reading{}, err
	}
	d, err := decodeColumns(kind, value, unit, ts)
	if err != nil {
		return Reading{}, fmt.Errorf("decoding reading for %s: %w", id, err)
	}
	return Reading{SensorID: id, Datum: d}, nil
}
