/*
handlers.go - HTTP API handlers for the fee engine

PURPOSE:
  Exposes fee generation, the student ledger and fee version management
  via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the fees package.

ENDPOINTS:
  Students:
    POST   /api/schools/{schoolID}/students/{studentID}/fees/generate
    GET    /api/schools/{schoolID}/students/{studentID}/fees/preview?year&month
    GET    /api/schools/{schoolID}/students/{studentID}/ledger?from&to&refresh

  Fee versions:
    POST   /api/schools/{schoolID}/fee-versions/hike
    GET    /api/schools/{schoolID}/fee-versions/resolve?scope&scope_id&category_id&cycle&as_of

  Generation runs:
    POST   /api/schools/{schoolID}/generation-runs
    GET    /api/schools/{schoolID}/generation-runs?limit

REQUEST FLOW:
  1. Parse path and query parameters
  2. Validate input (validator/v10 for bodies)
  3. Call the fees package
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Student or run not found, no version in force
  - 409: Concurrent hike, run already in progress
  - 500: Internal errors. Student failures only say "failed to compute
    fees for student X"; the cause goes to the log.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      fees.Store
	Generator  *fees.Generator
	Aggregator *fees.Aggregator
	Versions   *fees.VersionResolver
	Manager    *fees.VersionManager
	Scheduler  *GenerationScheduler
	Clock      generic.Clock
	Log        logrus.FieldLogger

	validate *validator.Validate
}

// NewHandler wires handlers around a store. versions may be a caching
// decorator of store; nil means store itself.
func NewHandler(store fees.Store, versions fees.VersionStore, gen *fees.Generator, scheduler *GenerationScheduler, log logrus.FieldLogger) *Handler {
	if versions == nil {
		versions = store
	}
	return &Handler{
		Store:      store,
		Generator:  gen,
		Aggregator: fees.NewAggregator(store, gen.Clock),
		Versions:   fees.NewVersionResolver(versions),
		Manager:    fees.NewVersionManager(versions, log),
		Scheduler:  scheduler,
		Clock:      gen.Clock,
		Log:        log,
		validate:   validator.New(),
	}
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// GenerateFees ensures every month from admission to today has its rows.
func (h *Handler) GenerateFees(w http.ResponseWriter, r *http.Request) {
	schoolID, studentID := schoolParam(r), studentParam(r)
	if _, err := h.Store.GetStudent(r.Context(), schoolID, studentID); err != nil {
		h.writeDomainError(w, r, "Failed to load student", err)
		return
	}

	stats, err := h.Generator.EnsureExists(r.Context(), studentID, schoolID)
	if err != nil {
		h.writeDomainError(w, r, "Failed to generate fees", err)
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{
		StudentID: string(studentID),
		Months:    stats.Months,
		Generated: stats.Generated,
		Updated:   stats.Updated,
		Unchanged: stats.Unchanged,
		Failed:    stats.Failed,
	})
}

// PreviewFees computes one month without writing anything.
func (h *Handler) PreviewFees(w http.ResponseWriter, r *http.Request) {
	schoolID, studentID := schoolParam(r), studentParam(r)
	today := h.Clock.Today()

	year, err := intQuery(r, "year", today.Year())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	month, err := intQuery(r, "month", int(today.Month()))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}
	ym := generic.NewYearMonth(year, time.Month(month))
	if err := ym.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	drafts, err := h.Generator.Generate(r.Context(), studentID, schoolID, ym.Year, ym.Month)
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute fees", err)
		return
	}
	writeJSON(w, http.StatusOK, toPreviewResponse(studentID, ym, drafts))
}

// GetLedger returns the grouped ledger with derived overdue status.
// refresh=true runs generation first.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	schoolID, studentID := schoolParam(r), studentParam(r)
	currentYear := h.Clock.Today().Year()

	from, err := intQuery(r, "from", currentYear)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from year", err)
		return
	}
	to, err := intQuery(r, "to", from)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to year", err)
		return
	}
	years := generic.YearRange{From: from, To: to}
	if err := years.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year range", err)
		return
	}

	if _, err := h.Store.GetStudent(r.Context(), schoolID, studentID); err != nil {
		h.writeDomainError(w, r, "Failed to load student", err)
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		if _, err := h.Generator.EnsureExists(r.Context(), studentID, schoolID); err != nil {
			h.writeDomainError(w, r, "Failed to generate fees", err)
			return
		}
	}

	st, err := h.Aggregator.Statement(r.Context(), studentID, years)
	if err != nil {
		h.writeDomainError(w, r, "Failed to load ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerResponse(st))
}

// =============================================================================
// FEE VERSION HANDLERS
// =============================================================================

// HikeFee closes the current version of a chain and appends a new one.
func (h *Handler) HikeFee(w http.ResponseWriter, r *http.Request) {
	var req HikeRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	amount, err := generic.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	from, err := generic.ParseDate(req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from", err)
		return
	}
	cycle := fees.CycleMonthly
	if req.Cycle != "" {
		if cycle, err = fees.ParseCycle(req.Cycle); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cycle", err)
			return
		}
	}

	res, err := h.Manager.Hike(r.Context(), fees.HikeRequest{
		SchoolID:      schoolParam(r),
		Key:           scopeKey(req.Scope, req.ScopeID, req.CategoryID),
		Cycle:         cycle,
		Amount:        amount,
		EffectiveFrom: from,
		Optional:      req.Optional,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to apply fee hike", err)
		return
	}

	resp := HikeResponse{New: toVersionDTO(res.New)}
	if res.Closed != nil {
		closed := toVersionDTO(*res.Closed)
		resp.Closed = &closed
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ResolveVersion returns the version of a chain in force on as_of.
func (h *Handler) ResolveVersion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := q.Get("scope")
	if scope != string(fees.ScopeClass) && scope != string(fees.ScopeRoute) {
		writeError(w, http.StatusBadRequest, "scope must be class or route", nil)
		return
	}
	scopeID := q.Get("scope_id")
	if scopeID == "" && scope == string(fees.ScopeRoute) {
		scopeID = q.Get("route")
	}
	if scopeID == "" {
		writeError(w, http.StatusBadRequest, "scope_id is required", nil)
		return
	}

	cycle := fees.CycleMonthly
	if c := q.Get("cycle"); c != "" {
		var err error
		if cycle, err = fees.ParseCycle(c); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cycle", err)
			return
		}
	}
	asOf := h.Clock.Today()
	if s := q.Get("as_of"); s != "" {
		var err error
		if asOf, err = generic.ParseDate(s); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of", err)
			return
		}
	}

	v, err := h.Versions.Resolve(r.Context(), schoolParam(r), scopeKey(scope, scopeID, q.Get("category_id")), cycle, asOf)
	if err != nil {
		h.writeDomainError(w, r, "Failed to resolve fee version", err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "No fee version in force", generic.ErrVersionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toVersionDTO(*v))
}

// =============================================================================
// GENERATION RUN HANDLERS
// =============================================================================

// TriggerRun runs a school-wide generation synchronously and returns the
// recorded run.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Batch generation is not configured", nil)
		return
	}
	run, err := h.Scheduler.RunNow(r.Context(), schoolParam(r))
	if err != nil && run == nil {
		h.writeDomainError(w, r, "Failed to run generation", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 20)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	runs, err := h.Store.ListRuns(r.Context(), schoolParam(r), limit)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list generation runs", err)
		return
	}
	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.GetRun(r.Context(), fees.RunID(chi.URLParam(r, "runID")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to load generation run", err)
		return
	}
	if run.SchoolID != schoolParam(r) {
		writeError(w, http.StatusNotFound, "Generation run not found", generic.ErrRunNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps fees and generic errors to a status. Internal
// causes are logged, never returned.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var studentErr *generic.StudentError
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, generic.ErrConcurrentModification), errors.Is(err, ErrRunInProgress):
		writeError(w, http.StatusConflict, message, err)
	case errors.As(err, &studentErr):
		h.logError(r, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: studentErr.Error()})
	default:
		h.logError(r, err)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func (h *Handler) logError(r *http.Request, err error) {
	h.Log.WithFields(logrus.Fields{
		"component":  "api",
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	}).WithError(err).Error("request failed")
}

// decodeAndValidate reads a JSON body into dst and runs validator tags.
// It writes the 400 response itself and reports whether to continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func schoolParam(r *http.Request) generic.SchoolID {
	return generic.SchoolID(chi.URLParam(r, "schoolID"))
}

func studentParam(r *http.Request) generic.StudentID {
	return generic.StudentID(chi.URLParam(r, "studentID"))
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func scopeKey(scope, scopeID, categoryID string) fees.ScopeKey {
	if scope == string(fees.ScopeRoute) {
		return fees.RouteScope(scopeID)
	}
	return fees.ClassScope(scopeID, fees.CategoryID(categoryID))
}
