package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/SamatmaAB/thermoguard/internal/store"
)

// DB implements store.Store for PostgreSQL via the pgx stdlib driver.
// It keeps exactly one row per worker name, upserted on every save, so a
// fleet host can hold supervisor state in its existing database.

type DB struct {
	db   *sql.DB
	name string
}

func New(dsn, name string) (*DB, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("empty worker name")
	}
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d, name: name}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS supervisor_state(
		name TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		entered_at TIMESTAMPTZ NOT NULL,
		sensor_failures INTEGER NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`
	_, err := p.db.ExecContext(ctx, q)
	return err
}

func (p *DB) Load(ctx context.Context) (store.Record, error) {
	var rec store.Record
	row := p.db.QueryRowContext(ctx,
		`SELECT state, entered_at, sensor_failures FROM supervisor_state WHERE name = $1`, p.name)
	if err := row.Scan(&rec.State, &rec.EnteredAt, &rec.SensorFailures); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, err
	}
	rec.EnteredAt = rec.EnteredAt.UTC()
	return rec, nil
}

func (p *DB) Save(ctx context.Context, rec store.Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO supervisor_state(name, state, entered_at, sensor_failures, updated_at)
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT(name) DO UPDATE SET
			state=EXCLUDED.state,
			entered_at=EXCLUDED.entered_at,
			sensor_failures=EXCLUDED.sensor_failures,
			updated_at=EXCLUDED.updated_at;`,
		p.name, rec.State, rec.EnteredAt.UTC(), rec.SensorFailures, time.Now().UTC())
	return err
}

func (p *DB) Close() error { return p.db.Close() }
