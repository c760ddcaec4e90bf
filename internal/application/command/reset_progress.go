package command

import (
	"context"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET PROGRESS COMMAND
// Explicit reset: removes answers and aggregates. Achievements are kept.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressReset handles progress resets.
type ProgressReset struct {
	store progress.Repository
	log   *logger.Logger
}

// NewProgressReset creates a new ProgressReset.
func NewProgressReset(store progress.Repository, log *logger.Logger) *ProgressReset {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressReset{store: store, log: log.With(logger.Component("progress_reset"))}
}

// Reset deletes the account's answers and aggregates.
func (h *ProgressReset) Reset(ctx context.Context, accountID uuid.UUID) (progress.ResetStats, error) {
	if err := account.RequireID("Reset", accountID); err != nil {
		return progress.ResetStats{}, err
	}
	stats, err := h.store.Reset(ctx, accountID)
	if err != nil {
		h.log.Error("progress reset failed", logger.AccountID(accountID.String()), logger.Err(err))
		return progress.ResetStats{}, err
	}
	h.log.Info("progress reset",
		logger.AccountID(accountID.String()),
		logger.Int64("answers", stats.Answers),
		logger.Int64("sections", stats.Sections),
		logger.Int64("chapters", stats.Chapters))
	return stats, nil
}
