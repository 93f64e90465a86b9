package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fabula/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Campaigns         string
	Actors            string
	ActorExternalRefs string
	Players           string
	Turns             string
	Snapshots         string
	Timers            string
	InflightTurns     string
	OutboxEvents      string
	Sessions          string
	MediaRefs         string
}

// NewTableNames creates table names with the given prefix.
//
// Interpolating the prefix with fmt.Sprintf is safe with prepared
// statements: the SQL string is assembled before it reaches the server,
// so each environment gets its own statements (e.g. "SELECT FROM
// dev_turns" vs "SELECT FROM prod_turns" are distinct).
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Campaigns:         fmt.Sprintf("%scampaigns", prefix),
		Actors:            fmt.Sprintf("%sactors", prefix),
		ActorExternalRefs: fmt.Sprintf("%sactor_external_refs", prefix),
		Players:           fmt.Sprintf("%splayers", prefix),
		Turns:             fmt.Sprintf("%sturns", prefix),
		Snapshots:         fmt.Sprintf("%ssnapshots", prefix),
		Timers:            fmt.Sprintf("%stimers", prefix),
		InflightTurns:     fmt.Sprintf("%sinflight_turns", prefix),
		OutboxEvents:      fmt.Sprintf("%soutbox_events", prefix),
		Sessions:          fmt.Sprintf("%ssessions", prefix),
		MediaRefs:         fmt.Sprintf("%smedia_refs", prefix),
	}
}

// CreateConnectionPool creates a new pgx connection pool.
//
// Campaign state, characters and player state are map[string]any columns
// of type JSONB, which pgx encodes only under the extended protocol. When
// the URL points at a PgBouncer transaction pooler (conventionally port
// 6543), prepared statements break, so that port is switched to
// QueryExecModeCacheDescribe: extended protocol (JSONB keeps working),
// statement descriptions cached instead of prepared statements. An
// explicit default_query_exec_mode in the URL takes precedence.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	// Configure pool size
	config.MaxConns = 25
	config.MinConns = 5

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the appropriate query executor for the context.
// If a transaction is present in the context, it returns the transaction.
// Otherwise, it returns the provided pool.
// This enables repositories to automatically participate in transactions when they exist.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.GetTx(ctx); tx != nil {
		return tx
	}
	return pool
}
