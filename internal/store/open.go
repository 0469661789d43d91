package store

import (
	"context"
	"fmt"
	"strings"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Open builds the store for driver. path is used by sqlite, dsn by postgres.
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return NewSQLiteStore(path)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Schema returns the DDL for driver.
func Schema(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		return sqliteSchema, nil
	case DriverPostgres:
		return PostgresSchema, nil
	default:
		return "", fmt.Errorf("no schema for driver %q", driver)
	}
}
