package database

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// connectAttempts covers a database container that is still starting.
const connectAttempts = 5

func NewPostgresPool(databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse database URL")
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	err = retry.Do(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		p, err := pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			return errors.Wrap(err, "failed to create connection pool")
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return errors.Wrap(err, "failed to ping database")
		}
		pool = p
		return nil
	},
		retry.Attempts(connectAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Msg("postgres not ready, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}

	return pool, nil
}

// RunMigrations applies every NNN_name.sql file in migrationsDir that is not yet
// recorded in schema_migrations, each in its own transaction, in version order.
func RunMigrations(pool *pgxpool.Pool, migrationsDir string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Create migrations tracking table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create migrations table")
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read migrations directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		// "001_initial_schema.sql" → 1
		name := entry.Name()
		version := migrationVersion(name)
		if version == 0 {
			continue
		}

		var exists bool
		err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
		if err != nil {
			return applied, errors.Wrapf(err, "failed to check migration %d", version)
		}
		if exists {
			continue
		}

		content, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			return applied, errors.Wrapf(err, "failed to read migration %s", name)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return applied, errors.Wrapf(err, "failed to begin transaction for migration %d", version)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			tx.Rollback(ctx)
			return applied, errors.Wrapf(err, "failed to execute migration %d", version)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback(ctx)
			return applied, errors.Wrapf(err, "failed to record migration %d", version)
		}

		if err := tx.Commit(ctx); err != nil {
			return applied, errors.Wrapf(err, "failed to commit migration %d", version)
		}

		applied++
		log.Info().Int("version", version).Str("file", name).Msg("applied migration")
	}

	return applied, nil
}

// migrationVersion returns the NNN prefix of an NNN_name.sql file, or 0 for any
// other name. Fixed-width prefixes keep name order equal to version order.
func migrationVersion(name string) int {
	if len(name) < 4 || name[3] != '_' {
		return 0
	}
	for _, c := range name[:3] {
		if c < '0' || c > '9' {
			return 0
		}
	}
	version, err := strconv.Atoi(name[:3])
	if err != nil {
		return 0
	}
	return version
}
