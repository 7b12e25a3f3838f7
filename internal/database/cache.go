// Package database holds the sqlite-backed lookup cache for geocoding and
// DPE results. Public API responses change rarely, so re-runs of the
// enrichment pipeline serve repeated addresses from disk instead of
// re-querying throttled endpoints. Misses are cached too.
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"immopipe/internal/address"
)

type Cache struct {
	db *sql.DB
}

// Key builds the cache lookup key for an address within a city. Both parts
// are normalized so formatting differences between runs still hit.
func Key(addr, city string) string {
	return address.Normalize(addr) + "|" + address.Normalize(city)
}

// CachedLocation is a stored geocoding outcome. Found is false for cached
// misses, in which case the remaining fields are zero.
type CachedLocation struct {
	Found      bool
	Latitude   float64
	Longitude  float64
	PostalCode string
	InseeCode  string
	Region     string
}

// CachedDPE is a stored DPE search outcome. Payload carries the serialized
// result and is empty for cached misses.
type CachedDPE struct {
	Found   bool
	Payload []byte
}

func New(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Enrichment goroutines hit the cache concurrently.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}

	return &Cache{db: db}, nil
}

func (c *Cache) RunMigrations() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS geocode_cache (
			lookup_key TEXT PRIMARY KEY,
			found INTEGER NOT NULL,
			latitude REAL,
			longitude REAL,
			postal_code TEXT,
			insee_code TEXT,
			cached_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create geocode cache: %w", err)
	}

	_, err = c.db.Exec(`
		CREATE TABLE IF NOT EXISTS dpe_cache (
			lookup_key TEXT PRIMARY KEY,
			found INTEGER NOT NULL,
			payload TEXT,
			cached_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create dpe cache: %w", err)
	}

	// The region column arrived after the first schema version.
	_, err = c.db.Exec(`
		ALTER TABLE geocode_cache
		ADD COLUMN region TEXT;
	`)
	if err != nil && err.Error() != "duplicate column name: region" {
		return err
	}

	_, err = c.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_geocode_cache_cached_at
		ON geocode_cache(cached_at);
	`)
	return err
}

// GetLocation returns the cached geocoding outcome for key, or nil when the
// key has never been looked up.
func (c *Cache) GetLocation(key string) (*CachedLocation, error) {
	row := c.db.QueryRow(`
		SELECT found, latitude, longitude, postal_code, insee_code, COALESCE(region, '')
		FROM geocode_cache WHERE lookup_key = ?
	`, key)

	var loc CachedLocation
	var lat, lon sql.NullFloat64
	var postal, insee sql.NullString
	err := row.Scan(&loc.Found, &lat, &lon, &postal, &insee, &loc.Region)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read geocode cache: %w", err)
	}

	loc.Latitude = lat.Float64
	loc.Longitude = lon.Float64
	loc.PostalCode = postal.String
	loc.InseeCode = insee.String
	return &loc, nil
}

func (c *Cache) PutLocation(key string, loc CachedLocation) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO geocode_cache
		(lookup_key, found, latitude, longitude, postal_code, insee_code, region, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, key, loc.Found, loc.Latitude, loc.Longitude, loc.PostalCode, loc.InseeCode, loc.Region,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	return nil
}

// GetDPE returns the cached DPE outcome for key, or nil when the key has
// never been searched.
func (c *Cache) GetDPE(key string) (*CachedDPE, error) {
	row := c.db.QueryRow(`SELECT found, COALESCE(payload, '') FROM dpe_cache WHERE lookup_key = ?`, key)

	var entry CachedDPE
	var payload string
	err := row.Scan(&entry.Found, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dpe cache: %w", err)
	}

	if payload != "" {
		entry.Payload = []byte(payload)
	}
	return &entry, nil
}

func (c *Cache) PutDPE(key string, found bool, payload []byte) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO dpe_cache (lookup_key, found, payload, cached_at)
		VALUES (?, ?, ?, ?)
	`, key, found, string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write dpe cache: %w", err)
	}
	return nil
}

// Counts reports how many geocoding and DPE outcomes are cached.
func (c *Cache) Counts() (locations int, dpes int, err error) {
	if err = c.db.QueryRow(`SELECT COUNT(*) FROM geocode_cache`).Scan(&locations); err != nil {
		return 0, 0, fmt.Errorf("failed to count geocode cache: %w", err)
	}
	if err = c.db.QueryRow(`SELECT COUNT(*) FROM dpe_cache`).Scan(&dpes); err != nil {
		return 0, 0, fmt.Errorf("failed to count dpe cache: %w", err)
	}
	return locations, dpes, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}
