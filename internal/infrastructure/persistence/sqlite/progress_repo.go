package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// ProgressRepository implements progress.Repository.
type ProgressRepository struct {
	db *sql.DB
}

// UpsertAnswer stores an answer; the latest write for a question wins.
func (r *ProgressRepository) UpsertAnswer(ctx context.Context, e *progress.AnswerEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO answer_events (
			account_id, chapter_id, section_id, question_id, selected_answer,
			is_correct, time_spent_sec, hints_used, answered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, section_id, question_id) DO UPDATE SET
			chapter_id = excluded.chapter_id,
			selected_answer = excluded.selected_answer,
			is_correct = excluded.is_correct,
			time_spent_sec = excluded.time_spent_sec,
			hints_used = excluded.hints_used,
			answered_at = excluded.answered_at
	`,
		e.AccountID.String(), e.ChapterID, e.SectionID, e.QuestionID, e.SelectedAnswer,
		e.IsCorrect, e.TimeSpentSec, e.HintsUsed, toNanos(e.AnsweredAt),
	)
	return classifyWrite("progress", "UpsertAnswer", err)
}

const answerColumns = `account_id, chapter_id, section_id, question_id, selected_answer,
	is_correct, time_spent_sec, hints_used, answered_at`

// ListSectionAnswers returns the answers of one section.
func (r *ProgressRepository) ListSectionAnswers(ctx context.Context, accountID uuid.UUID, sectionID int) ([]progress.AnswerEvent, error) {
	return r.listAnswers(ctx, "ListSectionAnswers",
		`SELECT `+answerColumns+` FROM answer_events WHERE account_id = ? AND section_id = ? ORDER BY question_id`,
		accountID.String(), sectionID)
}

// ListChapterAnswers returns the answers recorded against a chapter.
func (r *ProgressRepository) ListChapterAnswers(ctx context.Context, accountID uuid.UUID, chapterID int) ([]progress.AnswerEvent, error) {
	return r.listAnswers(ctx, "ListChapterAnswers",
		`SELECT `+answerColumns+` FROM answer_events WHERE account_id = ? AND chapter_id = ? ORDER BY section_id, question_id`,
		accountID.String(), chapterID)
}

func (r *ProgressRepository) listAnswers(ctx context.Context, op, query string, args ...any) ([]progress.AnswerEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("progress", op, shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []progress.AnswerEvent
	for rows.Next() {
		var (
			e        progress.AnswerEvent
			account  string
			answered int64
		)
		if err := rows.Scan(&account, &e.ChapterID, &e.SectionID, &e.QuestionID, &e.SelectedAnswer,
			&e.IsCorrect, &e.TimeSpentSec, &e.HintsUsed, &answered); err != nil {
			return nil, classify("progress", op, shared.ErrPersistence, err)
		}
		if e.AccountID, err = uuid.Parse(account); err != nil {
			return nil, shared.WrapError("progress", op, shared.ErrPersistence, "corrupt account id", err)
		}
		e.AnsweredAt = fromNanos(answered)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("progress", op, shared.ErrPersistence, err)
	}
	return out, nil
}

const upsertSectionProgress = `
	INSERT INTO section_progress (
		account_id, chapter_id, section_id, accuracy_percent, completed,
		answered_count, correct_count, total_time_sec, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (account_id, section_id) DO UPDATE SET
		chapter_id = excluded.chapter_id,
		accuracy_percent = excluded.accuracy_percent,
		completed = excluded.completed,
		answered_count = excluded.answered_count,
		correct_count = excluded.correct_count,
		total_time_sec = excluded.total_time_sec,
		updated_at = excluded.updated_at
`

func sectionArgs(p *progress.SectionProgress) []any {
	return []any{
		p.AccountID.String(), p.ChapterID, p.SectionID, p.AccuracyPercent, p.Completed,
		p.AnsweredCount, p.CorrectCount, p.TotalTimeSec, toNanos(p.UpdatedAt),
	}
}

// SaveSectionProgress overwrites the stored section aggregate.
func (r *ProgressRepository) SaveSectionProgress(ctx context.Context, p *progress.SectionProgress) error {
	_, err := r.db.ExecContext(ctx, upsertSectionProgress, sectionArgs(p)...)
	return classifyWrite("progress", "SaveSectionProgress", err)
}

// SaveChapterProgress writes the chapter aggregate and its section
// aggregates in one transaction.
func (r *ProgressRepository) SaveChapterProgress(ctx context.Context, ch *progress.ChapterProgress, sections []progress.SectionProgress) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		for i := range sections {
			if _, err := tx.ExecContext(ctx, upsertSectionProgress, sectionArgs(&sections[i])...); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chapter_progress (
				account_id, chapter_id, average_accuracy_percent, completed,
				sections_total, sections_completed, total_time_sec, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (account_id, chapter_id) DO UPDATE SET
				average_accuracy_percent = excluded.average_accuracy_percent,
				completed = excluded.completed,
				sections_total = excluded.sections_total,
				sections_completed = excluded.sections_completed,
				total_time_sec = excluded.total_time_sec,
				updated_at = excluded.updated_at
		`,
			ch.AccountID.String(), ch.ChapterID, ch.AverageAccuracyPercent, ch.Completed,
			ch.SectionsTotal, ch.SectionsCompleted, ch.TotalTimeSec, toNanos(ch.UpdatedAt),
		)
		return err
	})
	return classifyWrite("progress", "SaveChapterProgress", err)
}

const sectionProgressColumns = `account_id, chapter_id, section_id, accuracy_percent, completed,
	answered_count, correct_count, total_time_sec, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSectionProgress(s scanner) (progress.SectionProgress, error) {
	var (
		p       progress.SectionProgress
		account string
		updated int64
	)
	if err := s.Scan(&account, &p.ChapterID, &p.SectionID, &p.AccuracyPercent, &p.Completed,
		&p.AnsweredCount, &p.CorrectCount, &p.TotalTimeSec, &updated); err != nil {
		return p, err
	}
	id, err := uuid.Parse(account)
	if err != nil {
		return p, err
	}
	p.AccountID = id
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}

// GetSectionProgress returns the stored aggregate of one section.
func (r *ProgressRepository) GetSectionProgress(ctx context.Context, accountID uuid.UUID, sectionID int) (*progress.SectionProgress, error) {
	p, err := scanSectionProgress(r.db.QueryRowContext(ctx,
		`SELECT `+sectionProgressColumns+` FROM section_progress WHERE account_id = ? AND section_id = ?`,
		accountID.String(), sectionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.NewDomainError("progress", "GetSectionProgress", shared.ErrNotFound, "section progress not found")
		}
		return nil, classify("progress", "GetSectionProgress", shared.ErrPersistence, err)
	}
	return &p, nil
}

// ListSectionProgress returns the stored section aggregates of a chapter.
func (r *ProgressRepository) ListSectionProgress(ctx context.Context, accountID uuid.UUID, chapterID int) ([]progress.SectionProgress, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sectionProgressColumns+` FROM section_progress WHERE account_id = ? AND chapter_id = ? ORDER BY section_id`,
		accountID.String(), chapterID)
	if err != nil {
		return nil, classify("progress", "ListSectionProgress", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []progress.SectionProgress
	for rows.Next() {
		p, err := scanSectionProgress(rows)
		if err != nil {
			return nil, classify("progress", "ListSectionProgress", shared.ErrPersistence, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("progress", "ListSectionProgress", shared.ErrPersistence, err)
	}
	return out, nil
}

const chapterProgressColumns = `account_id, chapter_id, average_accuracy_percent, completed,
	sections_total, sections_completed, total_time_sec, updated_at`

func scanChapterProgress(s scanner) (progress.ChapterProgress, error) {
	var (
		c       progress.ChapterProgress
		account string
		updated int64
	)
	if err := s.Scan(&account, &c.ChapterID, &c.AverageAccuracyPercent, &c.Completed,
		&c.SectionsTotal, &c.SectionsCompleted, &c.TotalTimeSec, &updated); err != nil {
		return c, err
	}
	id, err := uuid.Parse(account)
	if err != nil {
		return c, err
	}
	c.AccountID = id
	c.UpdatedAt = fromNanos(updated)
	return c, nil
}

// GetChapterProgress returns the stored aggregate of one chapter.
func (r *ProgressRepository) GetChapterProgress(ctx context.Context, accountID uuid.UUID, chapterID int) (*progress.ChapterProgress, error) {
	c, err := scanChapterProgress(r.db.QueryRowContext(ctx,
		`SELECT `+chapterProgressColumns+` FROM chapter_progress WHERE account_id = ? AND chapter_id = ?`,
		accountID.String(), chapterID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.NewDomainError("progress", "GetChapterProgress", shared.ErrNotFound, "chapter progress not found")
		}
		return nil, classify("progress", "GetChapterProgress", shared.ErrPersistence, err)
	}
	return &c, nil
}

// ListChapterProgress returns every stored chapter aggregate of an account.
func (r *ProgressRepository) ListChapterProgress(ctx context.Context, accountID uuid.UUID) ([]progress.ChapterProgress, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+chapterProgressColumns+` FROM chapter_progress WHERE account_id = ? ORDER BY chapter_id`,
		accountID.String())
	if err != nil {
		return nil, classify("progress", "ListChapterProgress", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []progress.ChapterProgress
	for rows.Next() {
		c, err := scanChapterProgress(rows)
		if err != nil {
			return nil, classify("progress", "ListChapterProgress", shared.ErrPersistence, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("progress", "ListChapterProgress", shared.ErrPersistence, err)
	}
	return out, nil
}

// Reset deletes the account's answers and aggregates. Achievements stay.
func (r *ProgressRepository) Reset(ctx context.Context, accountID uuid.UUID) (progress.ResetStats, error) {
	var stats progress.ResetStats
	id := accountID.String()

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		steps := []struct {
			query string
			dst   *int64
		}{
			{`DELETE FROM answer_events WHERE account_id = ?`, &stats.Answers},
			{`DELETE FROM section_progress WHERE account_id = ?`, &stats.Sections},
			{`DELETE FROM chapter_progress WHERE account_id = ?`, &stats.Chapters},
		}
		for _, s := range steps {
			res, err := tx.ExecContext(ctx, s.query, id)
			if err != nil {
				return err
			}
			if *s.dst, err = res.RowsAffected(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return progress.ResetStats{}, classify("progress", "Reset", shared.ErrPersistence, err)
	}
	return stats, nil
}
