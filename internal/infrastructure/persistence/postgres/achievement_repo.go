package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/achievement"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// Exists reports whether the achievement was already granted.
func (r *AchievementRepository) Exists(ctx context.Context, accountID uuid.UUID, t achievement.Type, key string) (bool, error) {
	q, err := r.conn.q()
	if err != nil {
		return false, classify("achievement", "Exists", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var exists bool
	err = q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM achievements WHERE account_id = $1 AND type = $2 AND context_key = $3
		)`, accountID, string(t), key).Scan(&exists)
	if err != nil {
		return false, classify("achievement", "Exists", shared.ErrPersistence, err)
	}
	return exists, nil
}

// Insert records the achievement. A duplicate is skipped, not an error.
func (r *AchievementRepository) Insert(ctx context.Context, a *achievement.Achievement) (bool, error) {
	q, err := r.conn.q()
	if err != nil {
		return false, classifyWrite("achievement", "Insert", err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := q.Exec(ctx, `
		INSERT INTO achievements (account_id, type, chapter_id, section_id, context_key, earned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, type, context_key) DO NOTHING
	`, a.AccountID, string(a.Type), a.Context.ChapterID, a.Context.SectionID, a.Key(), a.EarnedAt)
	if err != nil {
		return false, classifyWrite("achievement", "Insert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountByType counts granted achievements of a type, skipping excludeKey.
func (r *AchievementRepository) CountByType(ctx context.Context, accountID uuid.UUID, t achievement.Type, excludeKey string) (int, error) {
	q, err := r.conn.q()
	if err != nil {
		return 0, classify("achievement", "CountByType", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var n int
	err = q.QueryRow(ctx, `
		SELECT COUNT(*) FROM achievements
		WHERE account_id = $1 AND type = $2 AND context_key <> $3
	`, accountID, string(t), excludeKey).Scan(&n)
	if err != nil {
		return 0, classify("achievement", "CountByType", shared.ErrPersistence, err)
	}
	return n, nil
}

// ListByAccount returns the account's achievements, oldest first.
func (r *AchievementRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]achievement.Achievement, error) {
	q, err := r.conn.q()
	if err != nil {
		return nil, classify("achievement", "ListByAccount", shared.ErrPersistence, err)
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := q.Query(ctx, `
		SELECT account_id, type, chapter_id, section_id, earned_at
		FROM achievements WHERE account_id = $1
		ORDER BY earned_at, id
	`, accountID)
	if err != nil {
		return nil, classify("achievement", "ListByAccount", shared.ErrPersistence, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (achievement.Achievement, error) {
		var (
			a   achievement.Achievement
			typ string
		)
		err := row.Scan(&a.AccountID, &typ, &a.Context.ChapterID, &a.Context.SectionID, &a.EarnedAt)
		a.Type = achievement.Type(typ)
		a.EarnedAt = a.EarnedAt.UTC()
		return a, err
	})
	if err != nil {
		return nil, classify("achievement", "ListByAccount", shared.ErrPersistence, err)
	}
	return out, nil
}
