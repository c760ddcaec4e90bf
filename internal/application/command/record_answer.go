package command

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ANSWER COMMAND
// Persists one question attempt. Idempotent per (account, section, question):
// the last answer wins. Aggregates are not touched here.
// ══════════════════════════════════════════════════════════════════════════════

// AnswerInput is one answered question.
type AnswerInput struct {
	QuestionID     int
	SelectedAnswer string
	IsCorrect      bool
	TimeSpentSec   int
	HintsUsed      int

	// AnsweredAt defaults to now if zero.
	AnsweredAt time.Time
}

// RecordAnswerCommand contains the data to record an answer.
type RecordAnswerCommand struct {
	// AccountID must be a resolved account UUID, never a raw platform id.
	AccountID string

	ChapterID int
	SectionID int

	AnswerInput
}

// RecordBatchCommand records several answers of one section.
type RecordBatchCommand struct {
	AccountID string
	ChapterID int
	SectionID int
	Answers   []AnswerInput
}

// RecordBatchResult lists the answers written before the batch stopped.
type RecordBatchResult struct {
	Recorded []progress.AnswerEvent
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AnswerRecorder handles answer recording.
type AnswerRecorder struct {
	answers progress.AnswerRepository
	catalog catalog.Reader
	log     *logger.Logger
	now     func() time.Time
}

// NewAnswerRecorder creates a new AnswerRecorder. When sections is non-nil the
// chapter/section pairing is checked against the catalog before writing.
func NewAnswerRecorder(answers progress.AnswerRepository, sections catalog.Reader, log *logger.Logger) *AnswerRecorder {
	if log == nil {
		log = logger.Nop()
	}
	return &AnswerRecorder{
		answers: answers,
		catalog: sections,
		log:     log.With(logger.Component("answer_recorder")),
		now:     time.Now,
	}
}

// Record stores one answer and returns the stored event.
func (h *AnswerRecorder) Record(ctx context.Context, cmd RecordAnswerCommand) (*progress.AnswerEvent, error) {
	accountID, err := account.ParseID(cmd.AccountID)
	if err != nil {
		return nil, err
	}
	if err := h.checkSection(ctx, cmd.ChapterID, cmd.SectionID); err != nil {
		return nil, err
	}

	e := h.event(accountID, cmd.ChapterID, cmd.SectionID, cmd.AnswerInput)
	if err := h.write(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// RecordBatch stores answers one by one and stops at the first failure. The
// result always holds the answers that were written.
func (h *AnswerRecorder) RecordBatch(ctx context.Context, cmd RecordBatchCommand) (*RecordBatchResult, error) {
	res := &RecordBatchResult{}

	accountID, err := account.ParseID(cmd.AccountID)
	if err != nil {
		return res, err
	}
	if len(cmd.Answers) == 0 {
		return res, shared.NewDomainError("progress", "RecordBatch", shared.ErrInvalidInput, "no answers given")
	}
	if err := h.checkSection(ctx, cmd.ChapterID, cmd.SectionID); err != nil {
		return res, err
	}

	res.Recorded = make([]progress.AnswerEvent, 0, len(cmd.Answers))
	for _, in := range cmd.Answers {
		e := h.event(accountID, cmd.ChapterID, cmd.SectionID, in)
		if err := h.write(ctx, &e); err != nil {
			h.log.Warn("batch stopped",
				logger.Int("recorded", len(res.Recorded)),
				logger.Int("total", len(cmd.Answers)))
			return res, err
		}
		res.Recorded = append(res.Recorded, e)
	}
	return res, nil
}

func (h *AnswerRecorder) event(accountID uuid.UUID, chapterID, sectionID int, in AnswerInput) progress.AnswerEvent {
	at := in.AnsweredAt
	if at.IsZero() {
		at = h.now()
	}
	return progress.AnswerEvent{
		AccountID:      accountID,
		ChapterID:      chapterID,
		SectionID:      sectionID,
		QuestionID:     in.QuestionID,
		SelectedAnswer: in.SelectedAnswer,
		IsCorrect:      in.IsCorrect,
		TimeSpentSec:   in.TimeSpentSec,
		HintsUsed:      in.HintsUsed,
		AnsweredAt:     at.UTC(),
	}
}

func (h *AnswerRecorder) write(ctx context.Context, e *progress.AnswerEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := h.answers.UpsertAnswer(ctx, e); err != nil {
		h.log.Error("answer write failed",
			logger.AccountID(e.AccountID.String()),
			logger.SectionID(e.SectionID),
			logger.QuestionID(e.QuestionID),
			logger.Err(err))
		return err
	}
	return nil
}

func (h *AnswerRecorder) checkSection(ctx context.Context, chapterID, sectionID int) error {
	if h.catalog == nil || sectionID <= 0 {
		return nil
	}
	sec, err := h.catalog.GetSection(ctx, sectionID)
	if err != nil {
		return err
	}
	if sec.ChapterID != chapterID {
		return shared.NewDomainError("progress", "Record", shared.ErrInvalidInput,
			"section does not belong to chapter")
	}
	return nil
}
