package factory

import (
	"errors"
	"strings"

	"github.com/SamatmaAB/thermoguard/internal/store"
	pg "github.com/SamatmaAB/thermoguard/internal/store/postgres"
	sq "github.com/SamatmaAB/thermoguard/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:   "sqlite://<path>"
//   - anything else is treated as a JSON state file path (the default)
//
// name keys the single record in the SQL backends.
func NewFromDSN(dsn, name string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d, name)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(strings.TrimPrefix(d, "sqlite://"), name)
	}
	return store.NewFile(d)
}
