package database

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // returns true if the migration is already applied
}

// migrations brings ledgers created by older releases up to schema.sql.
// Each must be idempotent.
var migrations = []migration{
	{
		name:  "add usage_logs.language",
		sql:   `ALTER TABLE usage_logs ADD COLUMN IF NOT EXISTS language text NOT NULL DEFAULT 'English'`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'usage_logs' AND column_name = 'language')`,
	},
	{
		name:  "add usage_logs.rated_at",
		sql:   `ALTER TABLE usage_logs ADD COLUMN IF NOT EXISTS rated_at timestamptz`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'usage_logs' AND column_name = 'rated_at')`,
	},
	{
		name:  "add usage_logs created_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_usage_logs_created_at ON usage_logs (created_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_usage_logs_created_at')`,
	},
}

// Migrate applies pending migrations in order. A failed apply (usually
// missing privileges) is returned as *MigrationError and should be fatal:
// the ledger queries depend on these columns.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		db.log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	db.log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError carries the SQL needed to finish the remaining migrations
// by hand.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as the table owner:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart scribe.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
