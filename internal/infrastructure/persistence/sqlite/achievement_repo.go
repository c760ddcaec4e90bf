package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/achievement"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
)

// AchievementRepository implements achievement.Repository.
type AchievementRepository struct {
	db *sql.DB
}

// Exists reports whether the achievement was already granted.
func (r *AchievementRepository) Exists(ctx context.Context, accountID uuid.UUID, t achievement.Type, key string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM achievements WHERE account_id = ? AND type = ? AND context_key = ?`,
		accountID.String(), string(t), key).Scan(&n)
	if err != nil {
		return false, classify("achievement", "Exists", shared.ErrPersistence, err)
	}
	return n > 0, nil
}

// Insert records the achievement. A duplicate is skipped, not an error.
func (r *AchievementRepository) Insert(ctx context.Context, a *achievement.Achievement) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO achievements (account_id, type, chapter_id, section_id, context_key, earned_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, type, context_key) DO NOTHING
	`, a.AccountID.String(), string(a.Type), intOrNil(a.Context.ChapterID), intOrNil(a.Context.SectionID), a.Key(), toNanos(a.EarnedAt))
	if err != nil {
		return false, classifyWrite("achievement", "Insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classifyWrite("achievement", "Insert", err)
	}
	return n == 1, nil
}

// CountByType counts granted achievements of a type, skipping excludeKey.
func (r *AchievementRepository) CountByType(ctx context.Context, accountID uuid.UUID, t achievement.Type, excludeKey string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM achievements WHERE account_id = ? AND type = ? AND context_key <> ?`,
		accountID.String(), string(t), excludeKey).Scan(&n)
	if err != nil {
		return 0, classify("achievement", "CountByType", shared.ErrPersistence, err)
	}
	return n, nil
}

// ListByAccount returns the account's achievements, oldest first.
func (r *AchievementRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]achievement.Achievement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, chapter_id, section_id, earned_at
		FROM achievements WHERE account_id = ?
		ORDER BY earned_at, id
	`, accountID.String())
	if err != nil {
		return nil, classify("achievement", "ListByAccount", shared.ErrPersistence, err)
	}
	defer rows.Close()

	var out []achievement.Achievement
	for rows.Next() {
		var (
			a      = achievement.Achievement{AccountID: accountID}
			typ    string
			earned int64
		)
		if err := rows.Scan(&typ, &a.Context.ChapterID, &a.Context.SectionID, &earned); err != nil {
			return nil, classify("achievement", "ListByAccount", shared.ErrPersistence, err)
		}
		a.Type = achievement.Type(typ)
		a.EarnedAt = fromNanos(earned)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("achievement", "ListByAccount", shared.ErrPersistence, err)
	}
	return out, nil
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
