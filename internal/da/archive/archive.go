// Package archive stores GeoVaLs computed outside the model domain so
// the nonlinear interpolator can seed its output with them. Values are
// keyed by observation space, variable, location and level in a sqlite
// database whose schema is managed by embedded migrations.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/obs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Archive is a GeoVaLs store backed by sqlite.
type Archive struct {
	*sql.DB
}

// Open opens (creating if needed) the archive at path and migrates it to
// the latest schema. Use ":memory:" for a throwaway store.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	a := &Archive{db}
	if err := a.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	diagf("opened archive %s", path)
	return a, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (a *Archive) MigrateUp() error {
	m, err := a.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the underlying connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("archive migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty state; 0 when no
// migration has been applied.
func (a *Archive) MigrateVersion() (uint, bool, error) {
	m, err := a.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (a *Archive) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(a.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger routes migrate output to the diag stream.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { diagf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// Write stores every value of g for obsSpace, replacing earlier values at the
// same (variable, loc, level). locs supplies each location's time and must
// match g's location count. It returns the run ID recorded for the write.
func (a *Archive) Write(ctx context.Context, obsSpace string, locs *obs.Locations, g *obs.GeoVaLs) (uuid.UUID, error) {
	if locs.Len() != g.NLocs() {
		return uuid.Nil, daerr.Mismatchf("archive write: %d locations for %d geovals", locs.Len(), g.NLocs())
	}
	runID := uuid.New()
	tx, err := a.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin archive write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO archive_runs (run_id, obs_space, nlocs) VALUES (?, ?, ?)`,
		runID.String(), obsSpace, g.NLocs()); err != nil {
		return uuid.Nil, fmt.Errorf("failed to record archive run: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO geovals (obs_space, variable, loc, level, obs_time_ns, value, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to prepare geovals insert: %w", err)
	}
	defer stmt.Close()

	var rows int
	for _, name := range g.Variables() {
		for lev := 0; lev < g.Levels(name); lev++ {
			for loc := 0; loc < g.NLocs(); loc++ {
				if _, err := stmt.ExecContext(ctx, obsSpace, name, loc, lev,
					locs.At(loc).Time.UnixNano(), g.At(name, lev, loc), runID.String()); err != nil {
					return uuid.Nil, fmt.Errorf("failed to insert geoval %s[%d,%d]: %w", name, lev, loc, err)
				}
				rows++
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit archive write: %w", err)
	}
	diagf("archived %d values for %s (run %s)", rows, obsSpace, runID)
	return runID, nil
}

// Load copies the archived values of every variable out requests whose
// observation time lies in [begin, end] into out. Variables with no archived
// rows are left untouched. It returns the variables that were found.
func (a *Archive) Load(ctx context.Context, obsSpace string, begin, end time.Time, out *obs.GeoVaLs) ([]string, error) {
	var found []string
	for _, name := range out.Variables() {
		n, err := a.loadVariable(ctx, obsSpace, name, begin, end, out)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			found = append(found, name)
		}
	}
	sort.Strings(found)
	diagf("loaded %v from %s over [%s, %s]", found, obsSpace, begin.Format(time.RFC3339), end.Format(time.RFC3339))
	return found, nil
}

func (a *Archive) loadVariable(ctx context.Context, obsSpace, name string, begin, end time.Time, out *obs.GeoVaLs) (int, error) {
	rows, err := a.QueryContext(ctx, `
		SELECT loc, level, value FROM geovals
		WHERE obs_space = ? AND variable = ? AND obs_time_ns BETWEEN ? AND ?
	`, obsSpace, name, begin.UnixNano(), end.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to query archived %s: %w", name, err)
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		var loc, lev int
		var v float64
		if err := rows.Scan(&loc, &lev, &v); err != nil {
			return 0, fmt.Errorf("failed to scan archived %s: %w", name, err)
		}
		if loc >= out.NLocs() || lev >= out.Levels(name) {
			opsf("archived %s[%d,%d] does not fit %d locs x %d levels", name, lev, loc, out.NLocs(), out.Levels(name))
			return 0, daerr.Mismatchf("archived %s[%d,%d] outside %d locs x %d levels", name, lev, loc, out.NLocs(), out.Levels(name))
		}
		out.Set(name, lev, loc, v)
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read archived %s: %w", name, err)
	}
	return n, nil
}

// Runs lists the recorded run IDs for obsSpace, oldest first.
func (a *Archive) Runs(ctx context.Context, obsSpace string) ([]uuid.UUID, error) {
	rows, err := a.QueryContext(ctx,
		`SELECT run_id FROM archive_runs WHERE obs_space = ? ORDER BY created_at, rowid`, obsSpace)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive runs: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("corrupt run id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
