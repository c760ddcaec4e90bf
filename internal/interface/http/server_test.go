package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/command"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/query"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/saga"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/application/session"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/domain/catalog"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/memcache"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/infrastructure/persistence/sqlite"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/internal/interface/http/handlers"
	"github.com/DKartsev/esperanto-leto-miniapp-sub000/pkg/logger"
)

const testToken = "123456:TEST-TOKEN"

type testServer struct {
	srv      *Server
	sessions *session.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "progress.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Catalog().Import(ctx, catalog.Snapshot{
		Chapters: []catalog.Chapter{{ID: 1, Title: "Alfabeto", Position: 1}, {ID: 2, Title: "Salutoj", Position: 2}},
		Sections: []catalog.Section{
			{ID: 7, ChapterID: 1, Title: "Literoj", Position: 1},
			{ID: 8, ChapterID: 1, Title: "Prononco", Position: 2},
			{ID: 9, ChapterID: 2, Title: "Saluton", Position: 1},
		},
	}))

	log := logger.Nop()
	aggregator := command.NewProgressAggregator(store.Progress(), store.Catalog(), log)
	recorder := command.NewAnswerRecorder(store.Progress(), store.Catalog(), log)
	evaluator := saga.NewAchievementEvaluator(store.Achievements(), aggregator, log)

	health := handlers.NewHealthChecker("test")
	health.AddCheck("database", handlers.PingCheck(store))

	sessions := session.NewRegistry(log, nil)

	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode

	srv := NewServer(cfg, Dependencies{
		Catalog: store.Catalog(),
		Resolver: command.NewIdentityResolver(store.Accounts(), memcache.NewIdentityCache(time.Hour), log,
			command.DefaultIdentityResolverConfig()),
		Recorder:      recorder,
		Reset:         command.NewProgressReset(store.Progress(), log),
		Flow:          saga.NewSectionCompletionFlow(store.Catalog(), recorder, aggregator, evaluator, log),
		Overview:      query.NewGetProgressOverviewHandler(store.Catalog(), store.Progress()),
		ChapterDetail: query.NewGetChapterDetailHandler(store.Catalog(), store.Progress()),
		Achievements:  query.NewListAchievementsHandler(store.Achievements()),
		Sessions:      sessions,
		Verifier:      handlers.NewInitDataVerifier(testToken, 24*time.Hour, false),
		Health:        health,
		Logger:        log,
	})
	return &testServer{srv: srv, sessions: sessions}
}

func initData(userID int64) string {
	authDate := time.Now()
	user := fmt.Sprintf(`{"id":%d,"username":"user%d"}`, userID, userID)
	v := url.Values{}
	v.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	v.Set("user", user)
	v.Set("hash", initdata.Sign(map[string]string{"user": user}, testToken, authDate))
	return v.Encode()
}

func (ts *testServer) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("Authorization", "tma "+initData(userID))
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func answers(total, correct int) []map[string]any {
	out := make([]map[string]any, 0, total)
	for i := 0; i < total; i++ {
		out = append(out, map[string]any{
			"question_id":    i + 1,
			"is_correct":     i < correct,
			"time_spent_sec": 4,
		})
	}
	return out
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[handlers.HealthStatus](t, w)
	assert.True(t, st.Healthy)
	assert.True(t, st.Checks["database"].Healthy)
}

func TestServer_RequiresInitData(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/progress", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	req.Header.Set("Authorization", "tma user=%7B%22id%22%3A555%7D&hash=deadbeef")
	w = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode[handlers.ErrorEnvelope](t, w)
	assert.Equal(t, handlers.CodeUnauthorized, env.Error.Code)
}

func TestServer_Session(t *testing.T) {
	ts := newTestServer(t)

	first := decode[sessionResponse](t, ts.do(t, http.MethodPost, "/api/v1/session", 555, nil))
	second := decode[sessionResponse](t, ts.do(t, http.MethodPost, "/api/v1/session", 555, nil))
	other := decode[sessionResponse](t, ts.do(t, http.MethodPost, "/api/v1/session", 777, nil))

	assert.NotEmpty(t, first.AccountID)
	assert.Equal(t, first.AccountID, second.AccountID)
	assert.NotEqual(t, first.AccountID, other.AccountID)
	assert.Equal(t, "555", first.PlatformID)
	assert.Equal(t, "user555", first.DisplayName)
	assert.Equal(t, 2, ts.sessions.Len())

	w := ts.do(t, http.MethodDelete, "/api/v1/session", 555, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, ts.sessions.Len())

	again := decode[sessionResponse](t, ts.do(t, http.MethodPost, "/api/v1/session", 555, nil))
	assert.Equal(t, first.AccountID, again.AccountID)
}

func TestServer_FinishSection(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sections/7/finish", 555, map[string]any{"answers": answers(10, 7)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[finishResponse](t, w)
	assert.Equal(t, 10, res.Recorded)
	assert.Equal(t, 70, res.Section.AccuracyPercent)
	assert.True(t, res.Section.Completed)
	require.NotNil(t, res.Chapter)
	assert.False(t, res.Chapter.Completed)
	assert.Equal(t, []unlockState{{SectionID: 7, Unlocked: true}, {SectionID: 8, Unlocked: true}}, res.Unlocks)

	types := make([]string, 0, len(res.NewAchievements))
	for _, a := range res.NewAchievements {
		types = append(types, a.Type)
	}
	assert.ElementsMatch(t, []string{"section_complete", "first_section"}, types)

	// Same answers again: nothing new.
	w = ts.do(t, http.MethodPost, "/api/v1/sections/7/finish", 555, map[string]any{"answers": answers(10, 7)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[finishResponse](t, w).NewAchievements)

	overview := decode[query.ProgressOverviewDTO](t, ts.do(t, http.MethodGet, "/api/v1/progress", 555, nil))
	require.Len(t, overview.Chapters, 2)
	assert.True(t, overview.Chapters[0].Started)
	assert.True(t, overview.Chapters[0].Unlocked)
	assert.False(t, overview.Chapters[1].Unlocked)

	detail := decode[query.ChapterDetailDTO](t, ts.do(t, http.MethodGet, "/api/v1/chapters/1/progress", 555, nil))
	require.Len(t, detail.Sections, 2)
	assert.Equal(t, 70, detail.Sections[0].AccuracyPercent)
	assert.True(t, detail.Sections[1].Unlocked)

	list := decode[query.AchievementListDTO](t, ts.do(t, http.MethodGet, "/api/v1/achievements", 555, nil))
	assert.Len(t, list.Achievements, 2)

	// Another user sees nothing.
	list = decode[query.AchievementListDTO](t, ts.do(t, http.MethodGet, "/api/v1/achievements", 777, nil))
	assert.Empty(t, list.Achievements)
}

func TestServer_Answers(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/answers", 555, map[string]any{
		"chapter_id": 1, "section_id": 7, "question_id": 1, "is_correct": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decode[answerResponse](t, w)
	assert.Equal(t, 1, got.QuestionID)
	assert.True(t, got.IsCorrect)

	w = ts.do(t, http.MethodPost, "/api/v1/answers", 555, map[string]any{"chapter_id": 1, "section_id": 7})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Question ids are catalog integers.
	w = ts.do(t, http.MethodPost, "/api/v1/answers", 555, map[string]any{
		"chapter_id": 1, "section_id": 7, "question_id": "q1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/answers", 555, map[string]any{
		"chapter_id": 2, "section_id": 7, "question_id": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/sections/8/answers", 555, map[string]any{"answers": answers(2, 2)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, decode[batchResponse](t, w).Recorded, 2)

	w = ts.do(t, http.MethodPost, "/api/v1/sections/8/answers", 555, map[string]any{"answers": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Recording alone leaves the aggregates untouched.
	overview := decode[query.ProgressOverviewDTO](t, ts.do(t, http.MethodGet, "/api/v1/progress", 555, nil))
	assert.False(t, overview.Chapters[0].Started)
}

func TestServer_Errors(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sections/99/finish", 555, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(saga.StepLoadSection), w.Header().Get("X-Failed-Step"))

	w = ts.do(t, http.MethodGet, "/api/v1/chapters/abc/progress", 555, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/chapters/42/progress", 555, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode[handlers.ErrorEnvelope](t, w)
	assert.Equal(t, handlers.CodeNotFound, env.Error.Code)
}

func TestServer_ResetProgress(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/sections/7/finish", 555, map[string]any{"answers": answers(4, 4)})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodDelete, "/api/v1/progress", 555, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[resetResponse](t, w)
	assert.Equal(t, int64(4), stats.Answers)
	assert.Equal(t, int64(1), stats.Sections)
	assert.Equal(t, int64(1), stats.Chapters)

	overview := decode[query.ProgressOverviewDTO](t, ts.do(t, http.MethodGet, "/api/v1/progress", 555, nil))
	assert.False(t, overview.Chapters[0].Started)

	list := decode[query.AchievementListDTO](t, ts.do(t, http.MethodGet, "/api/v1/achievements", 555, nil))
	assert.NotEmpty(t, list.Achievements)
}
