/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the fee domain model from the external API contract. Money is always a
  decimal string with two places, dates are YYYY-MM-DD.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Ledger:      ComponentDTO, MonthDTO, TotalsDTO, LedgerResponse
  Generation:  GenerateResponse, PreviewResponse, DraftDTO, RunDTO
  Versions:    HikeRequest, HikeResponse, VersionDTO

VALIDATION:
  Request bodies carry go-playground/validator tags and are checked in
  decodeAndValidate before reaching domain code.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// LEDGER
// =============================================================================

type ComponentDTO struct {
	ID             string `json:"id"`
	CategoryID     string `json:"category_id,omitempty"`
	FeeType        string `json:"fee_type"`
	FeeName        string `json:"fee_name"`
	TransportRoute string `json:"transport_route,omitempty"`
	Cycle          string `json:"cycle"`
	VersionID      string `json:"version_id"`
	BaseAmount     string `json:"base_amount"`
	DiscountAmount string `json:"discount_amount"`
	FeeAmount      string `json:"fee_amount"`
	PaidAmount     string `json:"paid_amount"`
	PendingAmount  string `json:"pending_amount"`
	Status         string `json:"status"`
	DueDate        string `json:"due_date"`
}

type TotalsDTO struct {
	Fee     string `json:"fee"`
	Paid    string `json:"paid"`
	Pending string `json:"pending"`
	Overdue string `json:"overdue"`
}

type MonthDTO struct {
	Year       int            `json:"year"`
	Month      int            `json:"month"`
	Label      string         `json:"label"`
	Components []ComponentDTO `json:"components"`
	Totals     TotalsDTO      `json:"totals"`
}

type LedgerResponse struct {
	StudentID string     `json:"student_id"`
	FromYear  int        `json:"from_year"`
	ToYear    int        `json:"to_year"`
	Months    []MonthDTO `json:"months"`
	Totals    TotalsDTO  `json:"totals"`
}

func toComponentDTO(v fees.ComponentView) ComponentDTO {
	return ComponentDTO{
		ID:             string(v.ID),
		CategoryID:     string(v.CategoryID),
		FeeType:        string(v.FeeType),
		FeeName:        v.FeeName,
		TransportRoute: v.TransportRoute,
		Cycle:          string(v.Cycle),
		VersionID:      string(v.VersionID),
		BaseAmount:     v.BaseAmount.String(),
		DiscountAmount: v.DiscountAmount.String(),
		FeeAmount:      v.FeeAmount.String(),
		PaidAmount:     v.PaidAmount.String(),
		PendingAmount:  v.PendingAmount.String(),
		Status:         string(v.DisplayStatus),
		DueDate:        v.DueDate.String(),
	}
}

func toTotalsDTO(t fees.Totals) TotalsDTO {
	return TotalsDTO{
		Fee:     t.Fee.String(),
		Paid:    t.Paid.String(),
		Pending: t.Pending.String(),
		Overdue: t.Overdue.String(),
	}
}

func toLedgerResponse(st *fees.Statement) LedgerResponse {
	resp := LedgerResponse{
		StudentID: string(st.StudentID),
		FromYear:  st.Range.From,
		ToYear:    st.Range.To,
		Months:    make([]MonthDTO, 0, len(st.Months)),
		Totals:    toTotalsDTO(st.Totals),
	}
	for _, m := range st.Months {
		month := MonthDTO{
			Year:       m.Year,
			Month:      int(m.Month),
			Label:      generic.NewYearMonth(m.Year, m.Month).String(),
			Components: make([]ComponentDTO, 0, len(m.Components)),
			Totals:     toTotalsDTO(m.Totals),
		}
		for _, c := range m.Components {
			month.Components = append(month.Components, toComponentDTO(c))
		}
		resp.Months = append(resp.Months, month)
	}
	return resp
}

// =============================================================================
// GENERATION
// =============================================================================

type GenerateResponse struct {
	StudentID string `json:"student_id"`
	Months    int    `json:"months"`
	Generated int    `json:"generated"`
	Updated   int    `json:"updated"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
}

// DraftDTO is a computed, not yet persisted, fee line.
type DraftDTO struct {
	CategoryID     string `json:"category_id,omitempty"`
	FeeType        string `json:"fee_type"`
	FeeName        string `json:"fee_name"`
	TransportRoute string `json:"transport_route,omitempty"`
	Cycle          string `json:"cycle"`
	VersionID      string `json:"version_id"`
	BaseAmount     string `json:"base_amount"`
	DiscountAmount string `json:"discount_amount"`
	FeeAmount      string `json:"fee_amount"`
	DueDate        string `json:"due_date"`
}

type PreviewResponse struct {
	StudentID string     `json:"student_id"`
	Period    string     `json:"period"`
	Items     []DraftDTO `json:"items"`
	Total     string     `json:"total"`
}

func toPreviewResponse(studentID generic.StudentID, ym generic.YearMonth, drafts []fees.ComponentDraft) PreviewResponse {
	resp := PreviewResponse{
		StudentID: string(studentID),
		Period:    ym.String(),
		Items:     make([]DraftDTO, 0, len(drafts)),
	}
	total := generic.ZeroMoney()
	for _, d := range drafts {
		resp.Items = append(resp.Items, DraftDTO{
			CategoryID:     string(d.CategoryID),
			FeeType:        string(d.FeeType),
			FeeName:        d.FeeName,
			TransportRoute: d.TransportRoute,
			Cycle:          string(d.Cycle),
			VersionID:      string(d.VersionID),
			BaseAmount:     d.Base.String(),
			DiscountAmount: d.Discount.String(),
			FeeAmount:      d.Fee.String(),
			DueDate:        d.DueDate.String(),
		})
		total = total.Add(d.Fee)
	}
	resp.Total = total.String()
	return resp
}

type RunDTO struct {
	ID          string            `json:"id"`
	SchoolID    string            `json:"school_id"`
	Status      string            `json:"status"`
	Processed   int               `json:"processed"`
	Generated   int               `json:"generated"`
	Updated     int               `json:"updated"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
	Errors      map[string]string `json:"errors,omitempty"`
	StartedAt   string            `json:"started_at"`
	CompletedAt *string           `json:"completed_at,omitempty"`
}

func toRunDTO(r fees.GenerationRun) RunDTO {
	dto := RunDTO{
		ID:        string(r.ID),
		SchoolID:  string(r.SchoolID),
		Status:    string(r.Status),
		Processed: r.Processed,
		Generated: r.Generated,
		Updated:   r.Updated,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if len(r.Errors) > 0 {
		dto.Errors = make(map[string]string, len(r.Errors))
		for sid, msg := range r.Errors {
			dto.Errors[string(sid)] = msg
		}
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}

// =============================================================================
// FEE VERSIONS
// =============================================================================

// HikeRequest appends a version to a class or route chain.
type HikeRequest struct {
	Scope         string `json:"scope" validate:"required,oneof=class route"`
	ScopeID       string `json:"scope_id" validate:"required"`
	CategoryID    string `json:"category_id" validate:"required_if=Scope class"`
	Cycle         string `json:"cycle" validate:"omitempty,oneof=monthly quarterly yearly one_time one-time"`
	Amount        string `json:"amount" validate:"required,numeric"`
	EffectiveFrom string `json:"effective_from" validate:"required,datetime=2006-01-02"`
	Optional      *bool  `json:"optional,omitempty"`
	Notes         string `json:"notes" validate:"max=500"`
}

type VersionDTO struct {
	ID            string  `json:"id"`
	Scope         string  `json:"scope"`
	ScopeID       string  `json:"scope_id"`
	CategoryID    string  `json:"category_id,omitempty"`
	RouteName     string  `json:"route_name,omitempty"`
	Cycle         string  `json:"cycle"`
	Amount        string  `json:"amount"`
	VersionNumber int     `json:"version_number"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to,omitempty"`
	IsActive      bool    `json:"is_active"`
	IsCurrent     bool    `json:"is_current"`
	Optional      bool    `json:"optional"`
	Notes         string  `json:"notes,omitempty"`
}

type HikeResponse struct {
	Closed *VersionDTO `json:"closed,omitempty"`
	New    VersionDTO  `json:"new"`
}

func toVersionDTO(v fees.FeeVersion) VersionDTO {
	dto := VersionDTO{
		ID:            string(v.ID),
		Scope:         string(v.Key.Kind),
		ScopeID:       v.Key.ScopeID,
		CategoryID:    string(v.Key.CategoryID),
		RouteName:     v.Key.RouteName,
		Cycle:         string(v.Cycle),
		Amount:        v.Amount.String(),
		VersionNumber: v.VersionNumber,
		EffectiveFrom: v.EffectiveFrom.String(),
		IsActive:      v.IsActive,
		IsCurrent:     v.IsCurrent,
		Optional:      v.Optional,
		Notes:         v.Notes,
	}
	if v.EffectiveTo != nil {
		s := v.EffectiveTo.String()
		dto.EffectiveTo = &s
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
