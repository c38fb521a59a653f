// Package db looks up lines and stops in a static GTFS catalog held in
// Postgres or SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("db: not found")

// Line is a row of the GTFS routes table.
type Line struct {
	ID        string `json:"id" yaml:"id"`
	ShortName string `json:"shortName" yaml:"shortName"`
	LongName  string `json:"longName" yaml:"longName"`
	AgencyID  string `json:"agencyId,omitempty" yaml:"agencyId"`
}

// Stop is a row of the GTFS stops table.
type Stop struct {
	ID   string  `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lon  float64 `json:"lon" yaml:"lon"`
}

type Catalog struct {
	db     *sql.DB
	driver string
}

// Open connects to the catalog named by dsn; see driverFor for the accepted
// schemes.
func Open(dsn string) (*Catalog, error) {
	driver, source, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, err
	}
	if driver == driverSQLite {
		// SQLite allows a single writer; an in-memory database also lives
		// only as long as its connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	log.Printf("catalog: using %s database", driver)
	return &Catalog{db: db, driver: driver}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// ph returns the n-th (1-based) bind placeholder for the catalog's dialect.
func (c *Catalog) ph(n int) string {
	if c.driver == driverPgx {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (c *Catalog) LookupLine(ctx context.Context, id string) (Line, error) {
	q := `SELECT route_id, COALESCE(route_short_name, ''), COALESCE(route_long_name, ''), COALESCE(agency_id, '')
FROM routes WHERE route_id = ` + c.ph(1)
	var l Line
	err := c.db.QueryRowContext(ctx, q, id).Scan(&l.ID, &l.ShortName, &l.LongName, &l.AgencyID)
	if errors.Is(err, sql.ErrNoRows) {
		return Line{}, fmt.Errorf("line %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Line{}, fmt.Errorf("query routes: %w", err)
	}
	return l, nil
}

func (c *Catalog) LookupStop(ctx context.Context, id string) (Stop, error) {
	q := `SELECT stop_id, COALESCE(stop_name, ''), COALESCE(stop_lat, 0), COALESCE(stop_lon, 0)
FROM stops WHERE stop_id = ` + c.ph(1)
	var s Stop
	err := c.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.Name, &s.Lat, &s.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return Stop{}, fmt.Errorf("stop %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Stop{}, fmt.Errorf("query stops: %w", err)
	}
	return s, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS routes (route_id TEXT PRIMARY KEY, agency_id TEXT, route_short_name TEXT, route_long_name TEXT)`,
	`CREATE TABLE IF NOT EXISTS stops (stop_id TEXT PRIMARY KEY, stop_name TEXT, stop_lat DOUBLE PRECISION, stop_lon DOUBLE PRECISION)`,
}

// EnsureSchema creates the routes and stops tables if they are missing. A
// full GTFS import already has them with more columns.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// PutLine inserts or replaces a route row.
func (c *Catalog) PutLine(ctx context.Context, l Line) error {
	q := fmt.Sprintf(`INSERT INTO routes (route_id, agency_id, route_short_name, route_long_name)
VALUES (%s, %s, %s, %s)
ON CONFLICT (route_id) DO UPDATE SET agency_id = excluded.agency_id,
	route_short_name = excluded.route_short_name, route_long_name = excluded.route_long_name`,
		c.ph(1), c.ph(2), c.ph(3), c.ph(4))
	if _, err := c.db.ExecContext(ctx, q, l.ID, l.AgencyID, l.ShortName, l.LongName); err != nil {
		return fmt.Errorf("put line %q: %w", l.ID, err)
	}
	return nil
}

// PutStop inserts or replaces a stop row.
func (c *Catalog) PutStop(ctx context.Context, s Stop) error {
	q := fmt.Sprintf(`INSERT INTO stops (stop_id, stop_name, stop_lat, stop_lon)
VALUES (%s, %s, %s, %s)
ON CONFLICT (stop_id) DO UPDATE SET stop_name = excluded.stop_name,
	stop_lat = excluded.stop_lat, stop_lon = excluded.stop_lon`,
		c.ph(1), c.ph(2), c.ph(3), c.ph(4))
	if _, err := c.db.ExecContext(ctx, q, s.ID, s.Name, s.Lat, s.Lon); err != nil {
		return fmt.Errorf("put stop %q: %w", s.ID, err)
	}
	return nil
}
