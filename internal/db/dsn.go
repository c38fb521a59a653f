package db

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	driverPgx    = "pgx"
	driverSQLite = "sqlite"
)

// WithDBName returns a DSN identical to the input but with the database path replaced.
// Supports postgres:// and postgresql:// schemes.
func WithDBName(dsn, database string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("database name override needs a postgres DSN, got scheme %q", u.Scheme)
	}
	if !strings.HasPrefix(database, "/") {
		u.Path = "/" + database
	} else {
		u.Path = database
	}
	return u.String(), nil
}

// driverFor picks the database/sql driver and its data source from a DSN:
// postgres:// and postgresql:// go to pgx, sqlite:// and file: to sqlite.
func driverFor(dsn string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return driverPgx, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite DSN without path")
		}
		return driverSQLite, path, nil
	case strings.HasPrefix(dsn, "file:"):
		return driverSQLite, dsn, nil
	}
	return "", "", fmt.Errorf("unsupported DSN %q: want postgres://, sqlite:// or file:", redact(dsn))
}

// redact hides the password of a URL-style DSN for logs and errors.
func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
