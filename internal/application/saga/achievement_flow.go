// Package saga contains business processes that orchestrate several domain
// operations in order.
package saga

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/account"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/achievement"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW
// Runs after a section is finalized.
// Flow: section_complete → first_section → recompute chapter → chapter_master →
//
//	accuracy_90
//
// Every grant is a pre-check plus an insert backed by the unique
// (account, type, context) constraint, so a rule fires at most once. A failing
// rule is reported and the remaining rules still run.
// ══════════════════════════════════════════════════════════════════════════════

// ChapterRecomputer rebuilds a chapter aggregate.
type ChapterRecomputer interface {
	RecomputeChapter(ctx context.Context, accountID uuid.UUID, chapterID int) (*command.ChapterRecomputeResult, error)
}

// EvaluateInput contains the data needed to evaluate achievements.
type EvaluateInput struct {
	AccountID       uuid.UUID
	SectionID       int
	ChapterID       int
	SectionAccuracy int
}

// RuleFailure is a rule that could not be evaluated or granted.
type RuleFailure struct {
	Type achievement.Type
	Err  error
}

// EvaluationResult contains newly granted achievements and rule failures.
type EvaluationResult struct {
	// Granted holds achievements inserted by this call only.
	Granted []achievement.Achievement

	// Failures holds rules that errored.
	Failures []RuleFailure

	// Recompute is the chapter recomputation done for chapter_master.
	// Nil when it failed.
	Recompute *command.ChapterRecomputeResult
}

// HasNewAchievements returns true if any achievements were granted.
func (r *EvaluationResult) HasNewAchievements() bool {
	return len(r.Granted) > 0
}

// Chapter returns the recomputed chapter aggregate, if any.
func (r *EvaluationResult) Chapter() *progress.ChapterProgress {
	if r.Recompute == nil {
		return nil
	}
	return &r.Recompute.Chapter
}

// AchievementEvaluator applies the fixed rule set.
type AchievementEvaluator struct {
	achievements achievement.Repository
	chapters     ChapterRecomputer
	log          *logger.Logger
	now          func() time.Time
}

// NewAchievementEvaluator creates a new AchievementEvaluator.
func NewAchievementEvaluator(achievements achievement.Repository, chapters ChapterRecomputer, log *logger.Logger) *AchievementEvaluator {
	if log == nil {
		log = logger.Nop()
	}
	return &AchievementEvaluator{
		achievements: achievements,
		chapters:     chapters,
		log:          log.With(logger.Component("achievement_evaluator")),
		now:          time.Now,
	}
}

// Evaluate grants every achievement the finalized section qualifies for.
// Only a missing account id aborts the call; rule errors go to Failures.
func (e *AchievementEvaluator) Evaluate(ctx context.Context, in EvaluateInput) (*EvaluationResult, error) {
	if err := account.RequireID("Evaluate", in.AccountID); err != nil {
		return nil, err
	}

	res := &EvaluationResult{}
	log := e.log.With(
		logger.AccountID(in.AccountID.String()),
		logger.ChapterID(in.ChapterID),
		logger.SectionID(in.SectionID))

	run := func(t achievement.Type, qualifies func() (bool, error)) {
		ok, err := qualifies()
		if err == nil && ok {
			var granted *achievement.Achievement
			granted, err = e.grant(ctx, in, t)
			if granted != nil {
				res.Granted = append(res.Granted, *granted)
				log.Info("achievement granted", logger.Achievement(string(t)))
			}
		}
		if err != nil {
			res.Failures = append(res.Failures, RuleFailure{Type: t, Err: err})
			log.Error("achievement rule failed", logger.Achievement(string(t)), logger.Err(err))
		}
	}

	run(achievement.TypeSectionComplete, func() (bool, error) {
		return achievement.QualifiesSectionComplete(in.SectionAccuracy), nil
	})

	run(achievement.TypeFirstSection, func() (bool, error) {
		if !achievement.QualifiesSectionComplete(in.SectionAccuracy) {
			return false, nil
		}
		// Completions of other sections only; this section's own grant
		// above must not count against it.
		own := achievement.ContextFor(achievement.TypeSectionComplete, in.ChapterID, in.SectionID).
			Key(achievement.TypeSectionComplete)
		others, err := e.achievements.CountByType(ctx, in.AccountID, achievement.TypeSectionComplete, own)
		if err != nil {
			return false, err
		}
		return achievement.QualifiesFirstSection(in.SectionAccuracy, others), nil
	})

	run(achievement.TypeChapterMaster, func() (bool, error) {
		rc, err := e.chapters.RecomputeChapter(ctx, in.AccountID, in.ChapterID)
		if err != nil {
			return false, err
		}
		res.Recompute = rc
		return achievement.QualifiesChapterMaster(&rc.Chapter), nil
	})

	run(achievement.TypeAccuracy90, func() (bool, error) {
		return achievement.QualifiesAccuracy90(in.SectionAccuracy), nil
	})

	return res, nil
}

// grant returns the achievement when this call inserted it, nil when it
// already existed.
func (e *AchievementEvaluator) grant(ctx context.Context, in EvaluateInput, t achievement.Type) (*achievement.Achievement, error) {
	a := achievement.New(in.AccountID, t, achievement.ContextFor(t, in.ChapterID, in.SectionID), e.now())

	exists, err := e.achievements.Exists(ctx, in.AccountID, t, a.Key())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	inserted, err := e.achievements.Insert(ctx, a)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	return a, nil
}
