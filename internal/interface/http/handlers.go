package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/query"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/saga"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/progress"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/shared"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/interface/http/handlers"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

const contextKeyAccountID = "account_id"

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST / RESPONSE TYPES
// ══════════════════════════════════════════════════════════════════════════════

type answerItem struct {
	QuestionID     int        `json:"question_id"`
	SelectedAnswer string     `json:"selected_answer"`
	IsCorrect      bool       `json:"is_correct"`
	TimeSpentSec   int        `json:"time_spent_sec"`
	HintsUsed      int        `json:"hints_used"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
}

func (a answerItem) input() command.AnswerInput {
	in := command.AnswerInput{
		QuestionID:     a.QuestionID,
		SelectedAnswer: a.SelectedAnswer,
		IsCorrect:      a.IsCorrect,
		TimeSpentSec:   a.TimeSpentSec,
		HintsUsed:      a.HintsUsed,
	}
	if a.AnsweredAt != nil {
		in.AnsweredAt = *a.AnsweredAt
	}
	return in
}

func inputs(items []answerItem) []command.AnswerInput {
	out := make([]command.AnswerInput, len(items))
	for i, a := range items {
		out[i] = a.input()
	}
	return out
}

type recordAnswerRequest struct {
	ChapterID int `json:"chapter_id"`
	SectionID int `json:"section_id"`
	answerItem
}

type batchRequest struct {
	Answers []answerItem `json:"answers"`
}

type sessionResponse struct {
	AccountID   string `json:"account_id"`
	PlatformID  string `json:"platform_id"`
	DisplayName string `json:"display_name,omitempty"`
}

type answerResponse struct {
	ChapterID  int       `json:"chapter_id"`
	SectionID  int       `json:"section_id"`
	QuestionID int       `json:"question_id"`
	IsCorrect  bool      `json:"is_correct"`
	AnsweredAt time.Time `json:"answered_at"`
}

func toAnswerResponse(e progress.AnswerEvent) answerResponse {
	return answerResponse{
		ChapterID:  e.ChapterID,
		SectionID:  e.SectionID,
		QuestionID: e.QuestionID,
		IsCorrect:  e.IsCorrect,
		AnsweredAt: e.AnsweredAt,
	}
}

type batchResponse struct {
	Recorded []answerResponse `json:"recorded"`
}

type sectionResult struct {
	SectionID       int  `json:"section_id"`
	ChapterID       int  `json:"chapter_id"`
	AccuracyPercent int  `json:"accuracy_percent"`
	Completed       bool `json:"completed"`
	AnsweredCount   int  `json:"answered_count"`
	CorrectCount    int  `json:"correct_count"`
	TotalTimeSec    int  `json:"total_time_sec"`
}

type chapterResult struct {
	ChapterID              int  `json:"chapter_id"`
	AverageAccuracyPercent int  `json:"average_accuracy_percent"`
	Completed              bool `json:"completed"`
	SectionsTotal          int  `json:"sections_total"`
	SectionsCompleted      int  `json:"sections_completed"`
	TotalTimeSec           int  `json:"total_time_sec"`
}

type unlockState struct {
	SectionID int  `json:"section_id"`
	Unlocked  bool `json:"unlocked"`
}

type finishResponse struct {
	Recorded        int                    `json:"recorded"`
	Section         sectionResult          `json:"section"`
	Chapter         *chapterResult         `json:"chapter"`
	Unlocks         []unlockState          `json:"unlocks"`
	NewAchievements []query.AchievementDTO `json:"new_achievements"`
	FailedRules     []string               `json:"failed_rules,omitempty"`
}

func toFinishResponse(res *saga.FinishSectionResult) finishResponse {
	out := finishResponse{
		Recorded: res.Recorded,
		Section: sectionResult{
			SectionID:       res.Section.SectionID,
			ChapterID:       res.Section.ChapterID,
			AccuracyPercent: res.Section.AccuracyPercent,
			Completed:       res.Section.Completed,
			AnsweredCount:   res.Section.AnsweredCount,
			CorrectCount:    res.Section.CorrectCount,
			TotalTimeSec:    res.Section.TotalTimeSec,
		},
		Unlocks:         make([]unlockState, len(res.SectionIDs)),
		NewAchievements: make([]query.AchievementDTO, 0, len(res.Granted)),
	}
	if ch := res.Chapter; ch != nil {
		out.Chapter = &chapterResult{
			ChapterID:              ch.ChapterID,
			AverageAccuracyPercent: ch.AverageAccuracyPercent,
			Completed:              ch.Completed,
			SectionsTotal:          ch.SectionsTotal,
			SectionsCompleted:      ch.SectionsCompleted,
			TotalTimeSec:           ch.TotalTimeSec,
		}
	}
	for i, id := range res.SectionIDs {
		out.Unlocks[i] = unlockState{SectionID: id, Unlocked: res.SectionUnlocks[i]}
	}
	for _, a := range res.Granted {
		out.NewAchievements = append(out.NewAchievements, query.ToAchievementDTO(a))
	}
	for _, f := range res.Failures {
		out.FailedRules = append(out.FailedRules, string(f.Type))
	}
	return out
}

type resetResponse struct {
	Answers  int64 `json:"answers"`
	Sections int64 `json:"sections"`
	Chapters int64 `json:"chapters"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// ══════════════════════════════════════════════════════════════════════════════

// handleSignIn resolves the caller's platform identity to an account.
func (s *Server) handleSignIn(c *gin.Context) {
	data, ok := handlers.InitDataFrom(c)
	if !ok {
		handlers.RespondError(c, http.StatusUnauthorized, handlers.CodeUnauthorized, handlers.ErrInitDataMissing)
		return
	}

	pid := data.PlatformID()
	sess := s.deps.Sessions.For(pid)

	cmd := command.ResolveIdentityCommand{PlatformID: pid.String(), Hint: data.Hint()}
	if cur, ok := sess.Current(); ok {
		cmd.KnownAccountID = cur.AccountID
	}

	id, err := sess.SignIn(c.Request.Context(), s.deps.Resolver, cmd)
	if err != nil {
		s.fail(c, "sign in", err)
		return
	}
	handlers.RespondOK(c, sessionResponse{
		AccountID:   id.AccountID.String(),
		PlatformID:  id.PlatformID.String(),
		DisplayName: id.DisplayName,
	})
}

// handleSignOut forgets the caller's session.
func (s *Server) handleSignOut(c *gin.Context) {
	data, ok := handlers.InitDataFrom(c)
	if !ok {
		handlers.RespondError(c, http.StatusUnauthorized, handlers.CodeUnauthorized, handlers.ErrInitDataMissing)
		return
	}
	s.deps.Sessions.Drop(data.PlatformID())
	c.Status(http.StatusNoContent)
}

// requireAccount puts the caller's resolved account id in the context,
// signing in on first use.
func (s *Server) requireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		data, ok := handlers.InitDataFrom(c)
		if !ok {
			handlers.AbortError(c, http.StatusUnauthorized, handlers.CodeUnauthorized, handlers.ErrInitDataMissing)
			return
		}

		sess := s.deps.Sessions.For(data.PlatformID())
		id, ok := sess.Current()
		if !ok {
			var err error
			id, err = sess.SignIn(c.Request.Context(), s.deps.Resolver, command.ResolveIdentityCommand{
				PlatformID: data.PlatformID().String(),
				Hint:       data.Hint(),
			})
			if err != nil {
				s.fail(c, "resolve identity", err)
				c.Abort()
				return
			}
		}
		c.Set(contextKeyAccountID, id.AccountID)
		c.Next()
	}
}

func accountIDFrom(c *gin.Context) string {
	if v, ok := c.Get(contextKeyAccountID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id.String()
		}
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// ANSWERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRecordAnswer records one answer. Aggregates are not recomputed.
func (s *Server) handleRecordAnswer(c *gin.Context) {
	var req recordAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.RespondError(c, http.StatusBadRequest, handlers.CodeInvalidInput, err)
		return
	}

	e, err := s.deps.Recorder.Record(c.Request.Context(), command.RecordAnswerCommand{
		AccountID:   accountIDFrom(c),
		ChapterID:   req.ChapterID,
		SectionID:   req.SectionID,
		AnswerInput: req.input(),
	})
	if err != nil {
		s.fail(c, "record answer", err)
		return
	}
	c.JSON(http.StatusCreated, toAnswerResponse(*e))
}

// handleRecordBatch records several answers of one section.
func (s *Server) handleRecordBatch(c *gin.Context) {
	sectionID, ok := intParam(c, "sectionId")
	if !ok {
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlers.RespondError(c, http.StatusBadRequest, handlers.CodeInvalidInput, err)
		return
	}

	sec, err := s.deps.Catalog.GetSection(c.Request.Context(), sectionID)
	if err != nil {
		s.fail(c, "record batch", err)
		return
	}

	res, err := s.deps.Recorder.RecordBatch(c.Request.Context(), command.RecordBatchCommand{
		AccountID: accountIDFrom(c),
		ChapterID: sec.ChapterID,
		SectionID: sec.ID,
		Answers:   inputs(req.Answers),
	})
	if err != nil {
		s.fail(c, "record batch", err)
		return
	}

	out := batchResponse{Recorded: make([]answerResponse, len(res.Recorded))}
	for i, e := range res.Recorded {
		out.Recorded[i] = toAnswerResponse(e)
	}
	c.JSON(http.StatusCreated, out)
}

// handleFinishSection records the optional answers, recomputes and evaluates
// achievements.
func (s *Server) handleFinishSection(c *gin.Context) {
	sectionID, ok := intParam(c, "sectionId")
	if !ok {
		return
	}
	var req batchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handlers.RespondError(c, http.StatusBadRequest, handlers.CodeInvalidInput, err)
			return
		}
	}

	res, err := s.deps.Flow.Finish(c.Request.Context(), saga.FinishSectionInput{
		AccountID: accountIDFrom(c),
		SectionID: sectionID,
		Answers:   inputs(req.Answers),
	})
	if err != nil {
		var fe *saga.FlowError
		if errors.As(err, &fe) {
			c.Header("X-Failed-Step", string(fe.Step))
		}
		s.fail(c, "finish section", err)
		return
	}
	handlers.RespondOK(c, toFinishResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS & ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetOverview(c *gin.Context) {
	dto, err := s.deps.Overview.Handle(c.Request.Context(), query.GetProgressOverviewQuery{
		AccountID: accountIDFrom(c),
	})
	if err != nil {
		s.fail(c, "progress overview", err)
		return
	}
	handlers.RespondOK(c, dto)
}

func (s *Server) handleGetChapter(c *gin.Context) {
	chapterID, ok := intParam(c, "chapterId")
	if !ok {
		return
	}
	dto, err := s.deps.ChapterDetail.Handle(c.Request.Context(), query.GetChapterDetailQuery{
		AccountID: accountIDFrom(c),
		ChapterID: chapterID,
	})
	if err != nil {
		s.fail(c, "chapter detail", err)
		return
	}
	handlers.RespondOK(c, dto)
}

func (s *Server) handleListAchievements(c *gin.Context) {
	dto, err := s.deps.Achievements.Handle(c.Request.Context(), query.ListAchievementsQuery{
		AccountID: accountIDFrom(c),
	})
	if err != nil {
		s.fail(c, "list achievements", err)
		return
	}
	handlers.RespondOK(c, dto)
}

// handleResetProgress deletes answers and aggregates. Achievements stay.
func (s *Server) handleResetProgress(c *gin.Context) {
	v, _ := c.Get(contextKeyAccountID)
	id, _ := v.(uuid.UUID)

	stats, err := s.deps.Reset.Reset(c.Request.Context(), id)
	if err != nil {
		s.fail(c, "reset progress", err)
		return
	}
	handlers.RespondOK(c, resetResponse{
		Answers:  stats.Answers,
		Sections: stats.Sections,
		Chapters: stats.Chapters,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		handlers.RespondError(c, http.StatusBadRequest, handlers.CodeInvalidInput,
			shared.NewDomainError("http", "Param", shared.ErrInvalidInput, name+" must be a positive integer"))
		return 0, false
	}
	return v, true
}

func (s *Server) fail(c *gin.Context, op string, err error) {
	_ = c.Error(err)
	status, _ := handlers.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error(op+" failed",
			logger.Operation(op), logger.Err(err))
	}
	handlers.RespondDomainError(c, err)
}
