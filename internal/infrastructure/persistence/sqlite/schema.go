package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "create_catalog", `
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
	`},
	{2, "create_accounts", `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			platform_id TEXT UNIQUE,
			username TEXT,
			first_name TEXT,
			last_name TEXT,
			display_name TEXT,
			created_at INTEGER NOT NULL
		);
	`},
	{3, "create_progress", `
		CREATE TABLE IF NOT EXISTS answer_events (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			chapter_id INTEGER NOT NULL REFERENCES chapters(id),
			section_id INTEGER NOT NULL REFERENCES sections(id),
			question_id INTEGER NOT NULL,
			selected_answer TEXT NOT NULL DEFAULT '',
			is_correct INTEGER NOT NULL,
			time_spent_sec INTEGER NOT NULL DEFAULT 0 CHECK (time_spent_sec >= 0),
			hints_used INTEGER NOT NULL DEFAULT 0 CHECK (hints_used >= 0),
			answered_at INTEGER NOT NULL,
			PRIMARY KEY (account_id, section_id, question_id)
		);
		CREATE INDEX IF NOT EXISTS idx_answer_events_chapter ON answer_events(account_id, chapter_id);

		CREATE TABLE IF NOT EXISTS section_progress (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			chapter_id INTEGER NOT NULL,
			section_id INTEGER NOT NULL,
			accuracy_percent INTEGER NOT NULL CHECK (accuracy_percent BETWEEN 0 AND 100),
			completed INTEGER NOT NULL,
			answered_count INTEGER NOT NULL DEFAULT 0,
			correct_count INTEGER NOT NULL DEFAULT 0,
			total_time_sec INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (account_id, section_id),
			CHECK (completed = (accuracy_percent >= 70))
		);
		CREATE INDEX IF NOT EXISTS idx_section_progress_chapter ON section_progress(account_id, chapter_id);

		CREATE TABLE IF NOT EXISTS chapter_progress (
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			chapter_id INTEGER NOT NULL,
			average_accuracy_percent INTEGER NOT NULL CHECK (average_accuracy_percent BETWEEN 0 AND 100),
			completed INTEGER NOT NULL,
			sections_total INTEGER NOT NULL DEFAULT 0,
			sections_completed INTEGER NOT NULL DEFAULT 0,
			total_time_sec INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (account_id, chapter_id)
		);
	`},
	{4, "create_achievements", `
		CREATE TABLE IF NOT EXISTS achievements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			type TEXT NOT NULL CHECK (type IN ('section_complete', 'first_section', 'chapter_master', 'accuracy_90')),
			chapter_id INTEGER,
			section_id INTEGER,
			context_key TEXT NOT NULL DEFAULT '',
			earned_at INTEGER NOT NULL,
			UNIQUE (account_id, type, context_key)
		);
		CREATE INDEX IF NOT EXISTS idx_achievements_account ON achievements(account_id, earned_at);
	`},
}

// migrate applies pending migrations, tracked in schema_migrations.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			continue
		}
		err = withTx(ctx, s.db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
