package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SamatmaAB/thermoguard/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// It keeps exactly one row per worker name, upserted on every save.
// Use ":memory:" for an in-memory database in tests.

type DB struct {
	db   *sql.DB
	name string
}

// New opens a SQLite database at path for the named worker's record.
func New(path, name string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("empty worker name")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d, name: name}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS supervisor_state(
		name TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		entered_at TIMESTAMP NOT NULL,
		sensor_failures INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, q)
	return err
}

func (s *DB) Load(ctx context.Context) (store.Record, error) {
	var rec store.Record
	row := s.db.QueryRowContext(ctx,
		`SELECT state, entered_at, sensor_failures FROM supervisor_state WHERE name = ?`, s.name)
	if err := row.Scan(&rec.State, &rec.EnteredAt, &rec.SensorFailures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, err
	}
	rec.EnteredAt = rec.EnteredAt.UTC()
	return rec, nil
}

func (s *DB) Save(ctx context.Context, rec store.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supervisor_state(name, state, entered_at, sensor_failures, updated_at)
		VALUES(?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			state=excluded.state,
			entered_at=excluded.entered_at,
			sensor_failures=excluded.sensor_failures,
			updated_at=excluded.updated_at;`,
		s.name, rec.State, rec.EnteredAt.UTC(), rec.SensorFailures, time.Now().UTC())
	return err
}

func (s *DB) Close() error { return s.db.Close() }
