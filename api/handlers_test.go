/*
handlers_test.go - HTTP tests for the fee API

Tests run the real chi router over an in-memory store with a fixed clock
(2024-06-15):
- Generation, preview and ledger for a student admitted 2024-03-10
- Fee hikes and version resolution
- Generation runs through the scheduler
- Error mapping (400/404/409/500)
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/lock"
	"github.com/warp/fee-engine/store/memory"
)

const (
	school  generic.SchoolID  = "sch-1"
	tuition fees.CategoryID   = "cat-tuition"
	stu     generic.StudentID = "stu-1"
)

const class5 = "grade-5"

type testEnv struct {
	t        *testing.T
	store    *memory.Memory
	handler  *Handler
	router   http.Handler
	hook     *test.Hook
	registry *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := memory.New()
	require.NoError(t, store.SaveCategory(ctx, fees.FeeCategory{
		ID: tuition, SchoolID: school, Name: "Tuition", Kind: fees.KindTuition, IsActive: true,
	}))
	require.NoError(t, store.SaveVersion(ctx, fees.FeeVersion{
		ID: "ver-1", SchoolID: school, Key: fees.ClassScope(class5, tuition), Cycle: fees.CycleMonthly,
		Amount: generic.NewMoney(1000), VersionNumber: 1, EffectiveFrom: generic.MustDate("2024-01-01"),
		IsActive: true, IsCurrent: true,
	}))
	require.NoError(t, store.SaveStudent(ctx, fees.Student{
		ID: stu, SchoolID: school, Name: "Asha", ClassID: class5,
		AdmissionDate: generic.MustDate("2024-03-10"), IsActive: true,
	}))

	registry := prometheus.NewRegistry()
	metrics := fees.NewMetrics(registry)
	gen := fees.NewGenerator(store, nil, fees.NewCalculator(fees.DiscountableCustomAmount{}), logger)
	gen.Clock = generic.FixedClock{Day: generic.MustDate("2024-06-15")}
	gen.Metrics = metrics

	runner := fees.NewBatchRunner(store, gen, lock.NewLocal(), logger)
	runner.BatchPause = 0
	runner.Metrics = metrics
	scheduler := NewGenerationScheduler(runner, store, "@daily", []generic.SchoolID{school}, logger)

	h := NewHandler(store, nil, gen, scheduler, logger)
	return &testEnv{
		t:        t,
		store:    store,
		handler:  h,
		router:   NewRouter(h, RouterOptions{Gatherer: registry}),
		hook:     hook,
		registry: registry,
	}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// STUDENTS
// =============================================================================

func TestGenerateFees_CreatesMonthsThroughToday(t *testing.T) {
	// GIVEN: Tuition 1000/month and a student admitted 2024-03-10
	// WHEN: POST generate on 2024-06-15, twice
	// THEN: Mar-Jun are generated once, the second call changes nothing

	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/schools/sch-1/students/stu-1/fees/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[GenerateResponse](t, rec)
	assert.Equal(t, 4, resp.Months)
	assert.Equal(t, 4, resp.Generated)

	rec = env.do(http.MethodPost, "/api/schools/sch-1/students/stu-1/fees/generate", nil)
	resp = decode[GenerateResponse](t, rec)
	assert.Zero(t, resp.Generated)
	assert.Equal(t, 4, resp.Unchanged)
}

func TestGenerateFees_UnknownStudent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/schools/sch-1/students/ghost/fees/generate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewFees_DoesNotWrite(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/schools/sch-1/students/stu-1/fees/preview?year=2024&month=4", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[PreviewResponse](t, rec)
	assert.Equal(t, "2024-04", resp.Period)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "1000.00", resp.Items[0].FeeAmount)
	assert.Equal(t, "2024-04-10", resp.Items[0].DueDate)
	assert.Equal(t, "1000.00", resp.Total)

	rows, err := env.store.ListComponents(context.Background(), stu, 2024, 2024)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPreviewFees_RejectsBadMonth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/schools/sch-1/students/stu-1/fees/preview?year=2024&month=13", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/api/schools/sch-1/students/stu-1/fees/preview?year=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLedger_RefreshAndOverdue(t *testing.T) {
	// GIVEN: No rows yet, today is 2024-06-15
	// WHEN: GET ledger with refresh=true
	// THEN: Mar-Jun appear; Mar-Jun due dates up to 06-10 have passed so all four are overdue

	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/schools/sch-1/students/stu-1/ledger?from=2024&to=2024&refresh=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[LedgerResponse](t, rec)
	require.Len(t, resp.Months, 4)
	assert.Equal(t, "2024-03", resp.Months[0].Label)
	assert.Equal(t, "overdue", resp.Months[0].Components[0].Status)
	assert.Equal(t, "4000.00", resp.Totals.Fee)
	assert.Equal(t, "4000.00", resp.Totals.Overdue)

	rows, err := env.store.ListComponents(context.Background(), stu, 2024, 2024)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, fees.StatusPending, row.Status)
	}
}

func TestGetLedger_WithoutRefreshIsReadOnly(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/schools/sch-1/students/stu-1/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LedgerResponse](t, rec)
	assert.Empty(t, resp.Months)
	assert.Equal(t, 2024, resp.FromYear)
	assert.Equal(t, "0.00", resp.Totals.Fee)
}

func TestGetLedger_InvalidRange(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/schools/sch-1/students/stu-1/ledger?from=2025&to=2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// FEE VERSIONS
// =============================================================================

func TestHikeFee_ThenResolve(t *testing.T) {
	// GIVEN: Tuition v1 = 1000 from 2024-01-01
	// WHEN: Hiking to 1100 from 2024-07-01
	// THEN: v1 closes on 06-30; resolve picks v1 in June and v2 in July

	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/schools/sch-1/fee-versions/hike", HikeRequest{
		Scope: "class", ScopeID: class5, CategoryID: string(tuition),
		Amount: "1100", EffectiveFrom: "2024-07-01", Notes: "annual revision",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	hike := decode[HikeResponse](t, rec)
	require.NotNil(t, hike.Closed)
	assert.Equal(t, "2024-06-30", *hike.Closed.EffectiveTo)
	assert.Equal(t, 2, hike.New.VersionNumber)
	assert.Equal(t, "1100.00", hike.New.Amount)

	rec = env.do(http.MethodGet, "/api/schools/sch-1/fee-versions/resolve?scope=class&scope_id=grade-5&category_id=cat-tuition&as_of=2024-06-30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[VersionDTO](t, rec).VersionNumber)

	rec = env.do(http.MethodGet, "/api/schools/sch-1/fee-versions/resolve?scope=class&scope_id=grade-5&category_id=cat-tuition&as_of=2024-07-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1100.00", decode[VersionDTO](t, rec).Amount)
}

func TestHikeFee_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing category for class", HikeRequest{Scope: "class", ScopeID: class5, Amount: "1", EffectiveFrom: "2024-07-01"}, http.StatusBadRequest},
		{"bad scope", HikeRequest{Scope: "grade", ScopeID: class5, Amount: "1", EffectiveFrom: "2024-07-01"}, http.StatusBadRequest},
		{"bad date", HikeRequest{Scope: "route", ScopeID: "north", Amount: "1", EffectiveFrom: "07/01/2024"}, http.StatusBadRequest},
		{"non numeric amount", HikeRequest{Scope: "route", ScopeID: "north", Amount: "lots", EffectiveFrom: "2024-07-01"}, http.StatusBadRequest},
		{"negative amount", HikeRequest{Scope: "route", ScopeID: "north", Amount: "-5", EffectiveFrom: "2024-07-01"}, http.StatusBadRequest},
		{"unknown field", `{"scope":"route","scope_id":"north","amount":"1","effective_from":"2024-07-01","extra":1}`, http.StatusBadRequest},
		{"not after current start", HikeRequest{Scope: "class", ScopeID: class5, CategoryID: string(tuition), Amount: "1", EffectiveFrom: "2024-01-01"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/schools/sch-1/fee-versions/hike", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHikeFee_ReportsFieldErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/schools/sch-1/fee-versions/hike", HikeRequest{Scope: "route"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Code)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", details["ScopeID"])
	assert.Equal(t, "required", details["Amount"])
}

func TestResolveVersion_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/schools/sch-1/fee-versions/resolve?scope=class&scope_id=grade-5&category_id=cat-tuition&as_of=2023-12-31", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodGet, "/api/schools/sch-1/fee-versions/resolve?scope=bus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodGet, "/api/schools/sch-1/fee-versions/resolve?scope=route&route=north&cycle=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// GENERATION RUNS
// =============================================================================

func TestGenerationRuns_TriggerAndList(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/schools/sch-1/generation-runs", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[RunDTO](t, rec)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 4, run.Generated)
	assert.NotNil(t, run.CompletedAt)

	rec = env.do(http.MethodGet, "/api/schools/sch-1/generation-runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]RunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rec = env.do(http.MethodGet, "/api/schools/sch-1/generation-runs/"+run.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/api/schools/other/generation-runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerationRuns_OneAtATimePerSchool(t *testing.T) {
	env := newTestEnv(t)
	require.True(t, env.handler.Scheduler.claim(school))
	defer env.handler.Scheduler.release(school)

	rec := env.do(http.MethodPost, "/api/schools/sch-1/generation-runs", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// ERRORS AND INFRASTRUCTURE
// =============================================================================

type failingProfiles struct{}

func (failingProfiles) GetProfile(context.Context, generic.StudentID, generic.TimePoint) (*fees.StudentFeeProfile, error) {
	return nil, errors.New("connection refused")
}

func TestStudentFailureHidesCause(t *testing.T) {
	// GIVEN: Profile reads fail
	// WHEN: Generating
	// THEN: 500 with only the generic message; the cause is logged

	env := newTestEnv(t)
	env.handler.Generator.Profiles = failingProfiles{}

	rec := env.do(http.MethodPost, "/api/schools/sch-1/students/stu-1/fees/generate", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "failed to compute fees for student stu-1", resp.Error)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	entry := env.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "request failed", entry.Message)
	assert.Contains(t, entry.Data[logrus.ErrorKey].(error).Error(), "connection refused")
}

func TestHealthzAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/api/schools/sch-1/students/stu-1/fees/generate", nil)

	rec := env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fees_components_total"), rec.Body.String())

	down := NewRouter(env.handler, RouterOptions{
		Gatherer: env.registry,
		Ping:     func(context.Context) error { return errors.New("db down") },
	})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	out := httptest.NewRecorder()
	down.ServeHTTP(out, req)
	assert.Equal(t, http.StatusServiceUnavailable, out.Code)
}

func TestScheduler_StartStop(t *testing.T) {
	env := newTestEnv(t)
	s := env.handler.Scheduler
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()

	bad := NewGenerationScheduler(s.Runner, env.store, "not a cron line", nil, env.handler.Log)
	assert.Error(t, bad.Start())
}

func TestScheduler_FailedRunIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	s := env.handler.Scheduler
	s.Now = func() time.Time { return time.Date(2024, 6, 15, 2, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := s.RunNow(ctx, school)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	assert.Equal(t, fees.RunFailed, run.Status)

	stored, err := env.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, fees.RunFailed, stored.Status)
	assert.Contains(t, stored.Errors[runErrorKey], "context canceled")
}
