package directory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/anonfs/anonfs-go/internal/vault"
)

// Embed migration SQL files for schema versioning.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// Cache persists the last successful listing of each view in an embedded
// SQLite database so `ls` can show something useful when the vault is
// unreachable. It is a display cache only — stats and share operations
// always work from live data.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCache opens (or creates) the cache database at dbPath and applies
// pending schema migrations. Use ":memory:" for tests.
func NewCache(dbPath string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("opening listing cache", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("directory: open sqlite: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("directory: set WAL mode: %w", err)
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations to the database.
// Uses the goose v3 Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("directory: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("directory: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("directory: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied cache migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// ReplaceView swaps the cached listing for a view with the given files,
// in one transaction so readers never see a half-replaced view.
func (c *Cache) ReplaceView(ctx context.Context, view View, files []vault.FileResource) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("directory: begin cache update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM cached_files WHERE view = ?", string(view)); err != nil {
		return fmt.Errorf("directory: clearing cached view: %w", err)
	}

	for i := range files {
		f := &files[i]

		_, err := tx.ExecContext(ctx,
			`INSERT INTO cached_files (view, file_id, original_name, file_size, created_at, owner)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(view), f.ID, f.OriginalName, f.FileSize,
			f.CreatedAt.UTC().Format(time.RFC3339), f.OwnerUsername,
		)
		if err != nil {
			return fmt.Errorf("directory: caching file %d: %w", f.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO view_refresh (view, refreshed_at) VALUES (?, ?)
		 ON CONFLICT(view) DO UPDATE SET refreshed_at = excluded.refreshed_at`,
		string(view), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("directory: recording refresh time: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("directory: committing cache update: %w", err)
	}

	c.logger.Debug("cached view replaced",
		slog.String("view", string(view)),
		slog.Int("count", len(files)),
	)

	return nil
}

// ListView returns the cached listing for a view, newest first.
func (c *Cache) ListView(ctx context.Context, view View) ([]vault.FileResource, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT file_id, original_name, file_size, created_at, owner
		 FROM cached_files WHERE view = ? ORDER BY created_at DESC, file_id DESC`,
		string(view),
	)
	if err != nil {
		return nil, fmt.Errorf("directory: querying cached view: %w", err)
	}
	defer rows.Close()

	var files []vault.FileResource

	for rows.Next() {
		var (
			f   vault.FileResource
			raw string
		)

		if err := rows.Scan(&f.ID, &f.OriginalName, &f.FileSize, &raw, &f.OwnerUsername); err != nil {
			return nil, fmt.Errorf("directory: scanning cached file: %w", err)
		}

		t, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			c.logger.Warn("cached file has invalid timestamp",
				slog.Int64("file_id", f.ID),
				slog.String("raw", raw),
			)

			t = time.Time{}
		}

		f.CreatedAt = t
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("directory: iterating cached view: %w", err)
	}

	return files, nil
}

// RefreshedAt returns when the view was last replaced, or the zero time
// if it never was.
func (c *Cache) RefreshedAt(ctx context.Context, view View) (time.Time, error) {
	var raw string

	err := c.db.QueryRowContext(ctx,
		"SELECT refreshed_at FROM view_refresh WHERE view = ?", string(view),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}

	if err != nil {
		return time.Time{}, fmt.Errorf("directory: querying refresh time: %w", err)
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("directory: parsing refresh time: %w", err)
	}

	return t, nil
}
