package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Answer events
// ─────────────────────────────────────────────────────────────────────────────

// UpsertAnswer stores an answer; the latest write for a question wins.
func (r *ProgressRepository) UpsertAnswer(ctx context.Context, e *progress.AnswerEvent) error {
	q, err := r.conn.q()
	if err != nil {
		return classifyWrite("progress", "UpsertAnswer", err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	_, err = q.Exec(ctx, `
		INSERT INTO answer_events (
			account_id, chapter_id, section_id, question_id, selected_answer,
			is_correct, time_spent_sec, hints_used, answered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (account_id, section_id, question_id) DO UPDATE SET
			chapter_id = EXCLUDED.chapter_id,
			selected_answer = EXCLUDED.selected_answer,
			is_correct = EXCLUDED.is_correct,
			time_spent_sec = EXCLUDED.time_spent_sec,
			hints_used = EXCLUDED.hints_used,
			answered_at = EXCLUDED.answered_at
	`,
		e.AccountID, e.ChapterID, e.SectionID, e.QuestionID, e.SelectedAnswer,
		e.IsCorrect, e.TimeSpentSec, e.HintsUsed, e.AnsweredAt,
	)
	return classifyWrite("progress", "UpsertAnswer", err)
}

const answerColumns = `account_id, chapter_id, section_id, question_id, selected_answer,
	is_correct, time_spent_sec, hints_used, answered_at`

// ListSectionAnswers returns the answers of one section.
func (r *ProgressRepository) ListSectionAnswers(ctx context.Context, accountID uuid.UUID, sectionID int) ([]progress.AnswerEvent, error) {
	return r.listAnswers(ctx, "ListSectionAnswers",
		`SELECT `+answerColumns+` FROM answer_events WHERE account_id = $1 AND section_id = $2 ORDER BY question_id`,
		accountID, sectionID)
}

// ListChapterAnswers returns the answers recorded against a chapter.
func (r *ProgressRepository) ListChapterAnswers(ctx context.Context, accountID uuid.UUID, chapterID int) ([]progress.AnswerEvent, error) {
	return r.listAnswers(ctx, "ListChapterAnswers",
		`SELECT `+answerColumns+` FROM answer_events WHERE account_id = $1 AND chapter_id = $2 ORDER BY section_id, question_id`,
		accountID, chapterID)
}

func (r *ProgressRepository) listAnswers(ctx context.Context, op, query string, args ...any) ([]progress.AnswerEvent, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("progress", op, shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("progress", op, shared.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.AnswerEvent, error) {
		var e progress.AnswerEvent
		err := row.Scan(&e.AccountID, &e.ChapterID, &e.SectionID, &e.QuestionID, &e.SelectedAnswer,
			&e.IsCorrect, &e.TimeSpentSec, &e.HintsUsed, &e.AnsweredAt)
		e.AnsweredAt = e.AnsweredAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, classify("progress", op, shared.ErrPersistence, err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Aggregates
// ─────────────────────────────────────────────────────────────────────────────

const upsertSectionProgress = `
	INSERT INTO section_progress (
		account_id, chapter_id, section_id, accuracy_percent, completed,
		answered_count, correct_count, total_time_sec, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (account_id, section_id) DO UPDATE SET
		chapter_id = EXCLUDED.chapter_id,
		accuracy_percent = EXCLUDED.accuracy_percent,
		completed = EXCLUDED.completed,
		answered_count = EXCLUDED.answered_count,
		correct_count = EXCLUDED.correct_count,
		total_time_sec = EXCLUDED.total_time_sec,
		updated_at = EXCLUDED.updated_at
`

func sectionArgs(p *progress.SectionProgress) []any {
	return []any{
		p.AccountID, p.ChapterID, p.SectionID, p.AccuracyPercent, p.Completed,
		p.AnsweredCount, p.CorrectCount, p.TotalTimeSec, p.UpdatedAt,
	}
}

// SaveSectionProgress overwrites the stored section aggregate.
func (r *ProgressRepository) SaveSectionProgress(ctx context.Context, p *progress.SectionProgress) error {
	q, err := r.conn.q()
	if err != nil {
		return classifyWrite("progress", "SaveSectionProgress", err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	_, err = q.Exec(ctx, upsertSectionProgress, sectionArgs(p)...)
	return classifyWrite("progress", "SaveSectionProgress", err)
}

// SaveChapterProgress writes the chapter aggregate and its section
// aggregates in one transaction.
func (r *ProgressRepository) SaveChapterProgress(ctx context.Context, ch *progress.ChapterProgress, sections []progress.SectionProgress) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range sections {
			batch.Queue(upsertSectionProgress, sectionArgs(&sections[i])...)
		}
		batch.Queue(`
			INSERT INTO chapter_progress (
				account_id, chapter_id, average_accuracy_percent, completed,
				sections_total, sections_completed, total_time_sec, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (account_id, chapter_id) DO UPDATE SET
				average_accuracy_percent = EXCLUDED.average_accuracy_percent,
				completed = EXCLUDED.completed,
				sections_total = EXCLUDED.sections_total,
				sections_completed = EXCLUDED.sections_completed,
				total_time_sec = EXCLUDED.total_time_sec,
				updated_at = EXCLUDED.updated_at
		`,
			ch.AccountID, ch.ChapterID, ch.AverageAccuracyPercent, ch.Completed,
			ch.SectionsTotal, ch.SectionsCompleted, ch.TotalTimeSec, ch.UpdatedAt,
		)
		return tx.SendBatch(ctx, batch).Close()
	})
	return classifyWrite("progress", "SaveChapterProgress", err)
}

const sectionProgressColumns = `account_id, chapter_id, section_id, accuracy_percent, completed,
	answered_count, correct_count, total_time_sec, updated_at`

func scanSectionProgress(row pgx.Row) (progress.SectionProgress, error) {
	var p progress.SectionProgress
	err := row.Scan(&p.AccountID, &p.ChapterID, &p.SectionID, &p.AccuracyPercent, &p.Completed,
		&p.AnsweredCount, &p.CorrectCount, &p.TotalTimeSec, &p.UpdatedAt)
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

// GetSectionProgress returns the stored aggregate of one section.
func (r *ProgressRepository) GetSectionProgress(ctx context.Context, accountID uuid.UUID, sectionID int) (*progress.SectionProgress, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("progress", "GetSectionProgress", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	p, err := scanSectionProgress(q.QueryRow(ctx,
		`SELECT `+sectionProgressColumns+` FROM section_progress WHERE account_id = $1 AND section_id = $2`,
		accountID, sectionID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("progress", "GetSectionProgress", shared.ErrNotFound, "section progress not found")
		}
		return nil, classify("progress", "GetSectionProgress", shared.ErrPersistence, err)
	}
	return &p, nil
}

// ListSectionProgress returns the stored section aggregates of a chapter.
func (r *ProgressRepository) ListSectionProgress(ctx context.Context, accountID uuid.UUID, chapterID int) ([]progress.SectionProgress, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("progress", "ListSectionProgress", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := q.Query(ctx,
		`SELECT `+sectionProgressColumns+` FROM section_progress WHERE account_id = $1 AND chapter_id = $2 ORDER BY section_id`,
		accountID, chapterID)
	if err != nil {
		return nil, classify("progress", "ListSectionProgress", shared.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.SectionProgress, error) {
		return scanSectionProgress(row)
	})
	if err != nil {
		return nil, classify("progress", "ListSectionProgress", shared.ErrPersistence, err)
	}
	return out, nil
}

const chapterProgressColumns = `account_id, chapter_id, average_accuracy_percent, completed,
	sections_total, sections_completed, total_time_sec, updated_at`

func scanChapterProgress(row pgx.Row) (progress.ChapterProgress, error) {
	var c progress.ChapterProgress
	err := row.Scan(&c.AccountID, &c.ChapterID, &c.AverageAccuracyPercent, &c.Completed,
		&c.SectionsTotal, &c.SectionsCompleted, &c.TotalTimeSec, &c.UpdatedAt)
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, err
}

// GetChapterProgress returns the stored aggregate of one chapter.
func (r *ProgressRepository) GetChapterProgress(ctx context.Context, accountID uuid.UUID, chapterID int) (*progress.ChapterProgress, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("progress", "GetChapterProgress", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	c, err := scanChapterProgress(q.QueryRow(ctx,
		`SELECT `+chapterProgressColumns+` FROM chapter_progress WHERE account_id = $1 AND chapter_id = $2`,
		accountID, chapterID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("progress", "GetChapterProgress", shared.ErrNotFound, "chapter progress not found")
		}
		return nil, classify("progress", "GetChapterProgress", shared.ErrPersistence, err)
	}
	return &c, nil
}

// ListChapterProgress returns every stored chapter aggregate of an account.
func (r *ProgressRepository) ListChapterProgress(ctx context.Context, accountID uuid.UUID) ([]progress.ChapterProgress, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("progress", "ListChapterProgress", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := q.Query(ctx,
		`SELECT `+chapterProgressColumns+` FROM chapter_progress WHERE account_id = $1 ORDER BY chapter_id`,
		accountID)
	if err != nil {
		return nil, classify("progress", "ListChapterProgress", shared.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.ChapterProgress, error) {
		return scanChapterProgress(row)
	})
	if err != nil {
		return nil, classify("progress", "ListChapterProgress", shared.ErrPersistence, err)
	}
	return out, nil
}

// Reset deletes the account's answers and aggregates. Achievements stay.
func (r *ProgressRepository) Reset(ctx context.Context, accountID uuid.UUID) (progress.ResetStats, error) {
	var stats progress.ResetStats
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM answer_events WHERE account_id = $1`, accountID)
		if err != nil {
			return err
		}
		stats.Answers = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM section_progress WHERE account_id = $1`, accountID)
		if err != nil {
			return err
		}
		stats.Sections = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM chapter_progress WHERE account_id = $1`, accountID)
		if err != nil {
			return err
		}
		stats.Chapters = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return progress.ResetStats{}, classify("progress", "Reset", shared.ErrPersistence, err)
	}
	return stats, nil
}
