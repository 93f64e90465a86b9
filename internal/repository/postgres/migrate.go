package postgres

import (
	"bytes"
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"io"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// prefixToken is replaced with the configured table prefix in every
// migration file, so dev_/test_/prod_ environments can share a database.
const prefixToken = "{{PREFIX}}"

// prefixedSource wraps an iofs source and rewrites the prefix token on
// the way out. The migrations themselves stay plain SQL files.
type prefixedSource struct {
	source.Driver
	prefix string
}

func (p *prefixedSource) ReadUp(version uint) (io.ReadCloser, string, error) {
	r, identifier, err := p.Driver.ReadUp(version)
	return p.rewrite(r), identifier, err
}

func (p *prefixedSource) ReadDown(version uint) (io.ReadCloser, string, error) {
	r, identifier, err := p.Driver.ReadDown(version)
	return p.rewrite(r), identifier, err
}

func (p *prefixedSource) rewrite(r io.ReadCloser) io.ReadCloser {
	if r == nil {
		return nil
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		// Hand the error back through the reader
		return io.NopCloser(&errReader{err: err})
	}
	sql := strings.ReplaceAll(string(raw), prefixToken, p.prefix)
	return io.NopCloser(bytes.NewReader([]byte(sql)))
}

type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }

// RunMigrations applies all pending embedded migrations. Each prefix gets
// its own schema_migrations table so environments sharing one database
// version independently.
//
// Migrations run over database/sql with the pgx stdlib driver; the
// application pool is separate and not affected.
func RunMigrations(ctx context.Context, databaseURL, tablePrefix string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database for migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: tablePrefix + "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	fsDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	src := &prefixedSource{Driver: fsDriver, prefix: tablePrefix}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the source; closing the migrate instance would also
	// close the shared *sql.DB before the deferred db.Close runs.
	if err := fsDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}

	return nil
}
