package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	q, err := m.conn.q()
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	q, err := m.conn.q()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out[version] = at
	}
	return out, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// It returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
		n++
	}
	return n, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations ordered by version.
func GetMigrations() []Migration {
	migs := []Migration{
		{Version: 1, Name: "create_catalog", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_accounts", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_progress", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_achievements", UpSQL: migration004Up, DownSQL: migration004Down},
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	return migs
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS chapters (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sections (
    id INTEGER PRIMARY KEY,
    chapter_id INTEGER NOT NULL REFERENCES chapters(id) ON DELETE CASCADE,
    title TEXT NOT NULL DEFAULT '',
    position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sections_chapter ON sections(chapter_id, position);
`

const migration001Down = `
DROP TABLE IF EXISTS sections;
DROP TABLE IF EXISTS chapters;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS accounts (
    id UUID PRIMARY KEY,
    platform_id TEXT UNIQUE,
    username TEXT,
    first_name TEXT,
    last_name TEXT,
    display_name TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const migration002Down = `
DROP TABLE IF EXISTS accounts;
`

const migration003Up = `
CREATE TABLE IF NOT EXISTS answer_events (
    account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    chapter_id INTEGER NOT NULL REFERENCES chapters(id),
    section_id INTEGER NOT NULL REFERENCES sections(id),
    question_id INTEGER NOT NULL,
    selected_answer TEXT NOT NULL DEFAULT '',
    is_correct BOOLEAN NOT NULL,
    time_spent_sec INTEGER NOT NULL DEFAULT 0,
    hints_used INTEGER NOT NULL DEFAULT 0,
    answered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (account_id, section_id, question_id),
    CONSTRAINT valid_time_spent CHECK (time_spent_sec >= 0),
    CONSTRAINT valid_hints_used CHECK (hints_used >= 0)
);

CREATE INDEX IF NOT EXISTS idx_answer_events_chapter ON answer_events(account_id, chapter_id);

CREATE TABLE IF NOT EXISTS section_progress (
    account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    chapter_id INTEGER NOT NULL,
    section_id INTEGER NOT NULL,
    accuracy_percent INTEGER NOT NULL,
    completed BOOLEAN NOT NULL,
    answered_count INTEGER NOT NULL DEFAULT 0,
    correct_count INTEGER NOT NULL DEFAULT 0,
    total_time_sec INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (account_id, section_id),
    CONSTRAINT valid_accuracy CHECK (accuracy_percent BETWEEN 0 AND 100),
    CONSTRAINT completed_matches_accuracy CHECK (completed = (accuracy_percent >= 70))
);

CREATE INDEX IF NOT EXISTS idx_section_progress_chapter ON section_progress(account_id, chapter_id);

CREATE TABLE IF NOT EXISTS chapter_progress (
    account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    chapter_id INTEGER NOT NULL,
    average_accuracy_percent INTEGER NOT NULL,
    completed BOOLEAN NOT NULL,
    sections_total INTEGER NOT NULL DEFAULT 0,
    sections_completed INTEGER NOT NULL DEFAULT 0,
    total_time_sec INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (account_id, chapter_id),
    CONSTRAINT valid_average CHECK (average_accuracy_percent BETWEEN 0 AND 100)
);
`

const migration003Down = `
DROP TABLE IF EXISTS chapter_progress;
DROP TABLE IF EXISTS section_progress;
DROP TABLE IF EXISTS answer_events;
`

const migration004Up = `
CREATE TABLE IF NOT EXISTS achievements (
    id BIGSERIAL PRIMARY KEY,
    account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    type TEXT NOT NULL,
    chapter_id INTEGER,
    section_id INTEGER,
    context_key TEXT NOT NULL DEFAULT '',
    earned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_achievement UNIQUE (account_id, type, context_key),
    CONSTRAINT valid_type CHECK (type IN ('section_complete', 'first_section', 'chapter_master', 'accuracy_90'))
);

CREATE INDEX IF NOT EXISTS idx_achievements_account ON achievements(account_id, earned_at);
`

const migration004Down = `
DROP TABLE IF EXISTS achievements;
`
