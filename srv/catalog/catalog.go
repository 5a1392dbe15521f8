// Package catalog indexes downloaded observations in SQLite so the server can
// answer listing and activity queries without walking the data directory.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wildspan.exe.dev/srv/store"
)

// Entry is one catalogued observation.
type Entry struct {
	ID             int64
	Species        string
	CommonName     string
	HasCoordinates bool
	Latitude       *float64
	Longitude      *float64
	CoordSource    string
	ImagePath      string
	ObservedOn     string
	FetchedAt      time.Time
}

// SpeciesCount aggregates catalog rows per species.
type SpeciesCount struct {
	Species         string `json:"species"`
	CommonName      string `json:"common_name,omitempty"`
	Observations    int    `json:"observations"`
	WithCoordinates int    `json:"with_coordinates"`
}

// Run is one recorded fetch run.
type Run struct {
	ID            int64      `json:"id"`
	TaxonName     string     `json:"taxon_name"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Pages         int        `json:"pages"`
	Seen          int        `json:"seen"`
	Saved         int        `json:"saved"`
	WithoutCoords int        `json:"without_coordinates"`
	Failed        int        `json:"failed"`
	Error         string     `json:"error,omitempty"`
}

// RunTotals are the counters written when a run finishes.
type RunTotals struct {
	Pages         int
	Seen          int
	Saved         int
	WithoutCoords int
	Failed        int
}

// Catalog wraps the observations and fetch_runs tables.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// New returns a catalog over an already-migrated database.
func New(db *sql.DB) *Catalog {
	return &Catalog{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// UpsertObservation inserts or replaces an observation row.
func (c *Catalog) UpsertObservation(ctx context.Context, e Entry) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = c.now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO observations (id, species, common_name, has_coordinates, latitude, longitude, coord_source, image_path, observed_on, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			species = excluded.species,
			common_name = excluded.common_name,
			has_coordinates = excluded.has_coordinates,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			coord_source = excluded.coord_source,
			image_path = excluded.image_path,
			observed_on = excluded.observed_on,
			fetched_at = excluded.fetched_at`,
		e.ID, e.Species, e.CommonName, e.HasCoordinates, e.Latitude, e.Longitude,
		e.CoordSource, e.ImagePath, e.ObservedOn, e.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert observation %d: %w", e.ID, err)
	}
	return nil
}

// Has reports whether an observation is catalogued.
func (c *Catalog) Has(ctx context.Context, id int64) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM observations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup observation %d: %w", id, err)
	}
	return true, nil
}

// Recent returns the most recently fetched observations.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, species, common_name, has_coordinates, latitude, longitude, coord_source, image_path, observed_on, fetched_at
		FROM observations
		ORDER BY fetched_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Species, &e.CommonName, &e.HasCoordinates, &e.Latitude, &e.Longitude,
			&e.CoordSource, &e.ImagePath, &e.ObservedOn, &e.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SpeciesCounts returns per-species totals ordered by species.
func (c *Catalog) SpeciesCounts(ctx context.Context) ([]SpeciesCount, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT species, MAX(common_name), COUNT(*), COALESCE(SUM(has_coordinates), 0)
		FROM observations
		GROUP BY species
		ORDER BY species`)
	if err != nil {
		return nil, fmt.Errorf("query species counts: %w", err)
	}
	defer rows.Close()

	var counts []SpeciesCount
	for rows.Next() {
		var sc SpeciesCount
		if err := rows.Scan(&sc.Species, &sc.CommonName, &sc.Observations, &sc.WithCoordinates); err != nil {
			return nil, fmt.Errorf("scan species counts: %w", err)
		}
		counts = append(counts, sc)
	}
	return counts, rows.Err()
}

// StartRun records the start of a fetch run and returns its id.
func (c *Catalog) StartRun(ctx context.Context, taxonName string) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO fetch_runs (taxon_name, started_at) VALUES (?, ?)`, taxonName, c.now())
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return res.LastInsertId()
}

// FinishRun stores the totals of a run. runErr, if any, is kept as text.
func (c *Catalog) FinishRun(ctx context.Context, id int64, totals RunTotals, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := c.db.ExecContext(ctx, `
		UPDATE fetch_runs
		SET finished_at = ?, pages = ?, seen = ?, saved = ?, without_coords = ?, failed = ?, error = ?
		WHERE id = ?`,
		c.now(), totals.Pages, totals.Seen, totals.Saved, totals.WithoutCoords, totals.Failed, msg, id)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", id, err)
	}
	return nil
}

// Runs returns the latest fetch runs, newest first.
func (c *Catalog) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, taxon_name, started_at, finished_at, pages, seen, saved, without_coords, failed, error
		FROM fetch_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.TaxonName, &r.StartedAt, &finished, &r.Pages, &r.Seen,
			&r.Saved, &r.WithoutCoords, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// EntryFromMetadata converts a stored metadata record into a catalog row.
func EntryFromMetadata(m store.Metadata) Entry {
	return Entry{
		ID:             m.ObservationID,
		Species:        m.Species,
		CommonName:     m.Taxonomy.CommonName,
		HasCoordinates: m.Coordinates.HasCoordinates,
		Latitude:       m.Coordinates.Latitude,
		Longitude:      m.Coordinates.Longitude,
		CoordSource:    m.Coordinates.Source,
		ImagePath:      m.ImageMetadata.LocalPath,
		ObservedOn:     m.ObservedOn,
	}
}

// Rebuild replaces the observations table with what is on disk and returns
// the number of rows written.
func (c *Catalog) Rebuild(ctx context.Context, st *store.Store) (int, error) {
	species, err := st.ListSpecies()
	if err != nil {
		return 0, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("rebuild: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM observations`); err != nil {
		return 0, fmt.Errorf("rebuild: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO observations (id, species, common_name, has_coordinates, latitude, longitude, coord_source, image_path, observed_on, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("rebuild: prepare: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, sp := range species {
		records, err := st.LoadMetadata(sp)
		if err != nil {
			slog.Warn("rebuild: skipping species", "species", sp, "error", err)
			continue
		}
		for _, m := range records {
			if m.Species == "" {
				m.Species = sp
			}
			e := EntryFromMetadata(m)
			e.FetchedAt = downloadedAt(m.DownloadedAt, c.now())
			if _, err := stmt.ExecContext(ctx, e.ID, e.Species, e.CommonName, e.HasCoordinates, e.Latitude,
				e.Longitude, e.CoordSource, e.ImagePath, e.ObservedOn, e.FetchedAt); err != nil {
				return 0, fmt.Errorf("rebuild: insert %d: %w", e.ID, err)
			}
			n++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("rebuild: commit tx: %w", err)
	}
	return n, nil
}

func downloadedAt(s string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return fallback
}
