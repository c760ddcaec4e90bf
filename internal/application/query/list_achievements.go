package query

import (
	"context"
	"time"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/achievement"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ACHIEVEMENTS QUERY
// Полученные достижения в порядке получения.
// ══════════════════════════════════════════════════════════════════════════════

// ListAchievementsQuery содержит параметры запроса.
type ListAchievementsQuery struct {
	AccountID string
}

// AchievementDTO - одно полученное достижение.
type AchievementDTO struct {
	Type      string    `json:"type"`
	ChapterID *int      `json:"chapter_id,omitempty"`
	SectionID *int      `json:"section_id,omitempty"`
	EarnedAt  time.Time `json:"earned_at"`
}

// AchievementListDTO - список достижений.
type AchievementListDTO struct {
	AccountID    string           `json:"account_id"`
	Achievements []AchievementDTO `json:"achievements"`
}

// ListAchievementsHandler обрабатывает запрос.
type ListAchievementsHandler struct {
	achievements achievement.Repository
}

// NewListAchievementsHandler создаёт обработчик.
func NewListAchievementsHandler(achievements achievement.Repository) *ListAchievementsHandler {
	return &ListAchievementsHandler{achievements: achievements}
}

// Handle выполняет запрос.
func (h *ListAchievementsHandler) Handle(ctx context.Context, q ListAchievementsQuery) (*AchievementListDTO, error) {
	accountID, err := account.ParseID(q.AccountID)
	if err != nil {
		return nil, err
	}

	list, err := h.achievements.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	dto := &AchievementListDTO{
		AccountID:    accountID.String(),
		Achievements: make([]AchievementDTO, 0, len(list)),
	}
	for _, a := range list {
		dto.Achievements = append(dto.Achievements, ToAchievementDTO(a))
	}
	return dto, nil
}

// ToAchievementDTO преобразует сущность в DTO.
func ToAchievementDTO(a achievement.Achievement) AchievementDTO {
	return AchievementDTO{
		Type:      string(a.Type),
		ChapterID: a.Context.ChapterID,
		SectionID: a.Context.SectionID,
		EarnedAt:  a.EarnedAt,
	}
}
