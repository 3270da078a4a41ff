/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts are ledger.Money and travel as fixed-point strings ("150.00");
  requests also accept JSON numbers. Business days are YYYY-MM-DD strings.
  Instants are RFC 3339.

VALIDATION:
  Validation is done by the ledger, not in DTOs. DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/crescieperdi/caixa/ledger"
)

// =============================================================================
// REGISTERS
// =============================================================================

type RegisterDTO struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Balance   ledger.Money `json:"balance"`
	CreatedAt string       `json:"created_at,omitempty"`
	UpdatedAt string       `json:"updated_at,omitempty"`
}

type CreateRegisterRequest struct {
	Name string `json:"name"`
}

// =============================================================================
// MOVEMENTS
// =============================================================================

type MovementDTO struct {
	ID            string       `json:"id"`
	Kind          string       `json:"kind"`
	Amount        ledger.Money `json:"amount"`
	Origin        string       `json:"origin_register,omitempty"`
	Destination   string       `json:"destination_register,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	ReferenceType string       `json:"reference_type,omitempty"`
	ReferenceID   string       `json:"reference_id,omitempty"`
	OccurredAt    string       `json:"occurred_at"`
	CreatedBy     string       `json:"created_by"`
	DeletedAt     *string      `json:"deleted_at,omitempty"`
	DeletedBy     string       `json:"deleted_by,omitempty"`
	DeleteReason  string       `json:"delete_reason,omitempty"`
}

// ManualMovementRequest records an entrada or a saida on one register.
type ManualMovementRequest struct {
	Type     string       `json:"type"` // "entrada" | "saida"
	Register string       `json:"register_id"`
	Amount   ledger.Money `json:"amount"`
	Reason   string       `json:"reason"`
}

type DeleteRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// TRANSFERS
// =============================================================================

// TransferRequest names registers, not ids, the way operators pick them.
type TransferRequest struct {
	Origin      string       `json:"origin"`
	Destination string       `json:"destination"`
	Amount      ledger.Money `json:"amount"`
	Reason      string       `json:"reason"`
	OccurredAt  *time.Time   `json:"occurred_at,omitempty"`
}

type TransferDTO struct {
	Movement           MovementDTO  `json:"movement"`
	OriginBalance      ledger.Money `json:"origin_balance"`
	DestinationBalance ledger.Money `json:"destination_balance"`
}

// =============================================================================
// POSTINGS
// =============================================================================

type SalePostingRequest struct {
	SaleID     string       `json:"sale_id"`
	Register   string       `json:"register"`
	Amount     ledger.Money `json:"amount"`
	Method     string       `json:"payment_method"`
	OccurredAt *time.Time   `json:"occurred_at,omitempty"`
}

type EvaluationPostingRequest struct {
	EvaluationID string       `json:"evaluation_id"`
	Amount       ledger.Money `json:"amount"`
	Method       string       `json:"payment_method"`
	OccurredAt   *time.Time   `json:"occurred_at,omitempty"`
}

type PostingDTO struct {
	ID            string       `json:"id"`
	Kind          string       `json:"kind"`
	ReferenceType string       `json:"reference_type"`
	ReferenceID   string       `json:"reference_id"`
	Register      string       `json:"register"`
	Amount        ledger.Money `json:"amount"`
	Method        string       `json:"payment_method"`
	OccurredAt    string       `json:"occurred_at"`
	Status        string       `json:"status"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty"`
	MovementID    string       `json:"movement_id,omitempty"`
	CreatedBy     string       `json:"created_by"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at"`
}

type PostingResultDTO struct {
	Movement *MovementDTO `json:"movement,omitempty"`
	Posting  *PostingDTO  `json:"posting,omitempty"`
	Warning  string       `json:"warning,omitempty"`
	Skipped  bool         `json:"skipped"`
}

// =============================================================================
// CLOSINGS
// =============================================================================

type CloseRequest struct {
	Register      string       `json:"register_id"`
	Date          string       `json:"date,omitempty"` // empty means today
	Counted       ledger.Money `json:"counted_amount"`
	Justification string       `json:"justification,omitempty"`
}

type DecisionRequest struct {
	Note   string `json:"note,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ClosingDTO struct {
	ID              string       `json:"id"`
	Register        string       `json:"register_id"`
	Date            ledger.Date  `json:"date"`
	SystemAmount    ledger.Money `json:"system_amount"`
	CountedAmount   ledger.Money `json:"counted_amount"`
	Variance        ledger.Money `json:"variance"`
	VarianceClass   string       `json:"variance_class"`
	Status          string       `json:"status"`
	RequiresReview  bool         `json:"requires_review"`
	Manual          bool         `json:"manual"`
	Justification   string       `json:"justification,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	ApprovalNote    string       `json:"approval_note,omitempty"`
	CreatedBy       string       `json:"created_by"`
	CreatedAt       string       `json:"created_at"`
	DecidedBy       string       `json:"decided_by,omitempty"`
	DecidedAt       *string      `json:"decided_at,omitempty"`
}

type OpeningDTO struct {
	Register       string       `json:"register_id"`
	Date           ledger.Date  `json:"date"`
	Amount         ledger.Money `json:"amount"`
	Source         string       `json:"source"`
	ClosingID      string       `json:"closing_id,omitempty"`
	NoPriorClosing bool         `json:"no_prior_closing"`
	Warnings       []string     `json:"warnings,omitempty"`
}

// =============================================================================
// STATEMENTS
// =============================================================================

type StatementRowDTO struct {
	Movement       MovementDTO  `json:"movement"`
	Direction      string       `json:"direction"`
	Amount         ledger.Money `json:"amount"`
	Label          string       `json:"label"`
	RunningBalance ledger.Money `json:"running_balance"`
}

type AnomalyDTO struct {
	MovementID string `json:"movement_id"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

type StatementDTO struct {
	Register       RegisterDTO       `json:"register"`
	From           ledger.Date       `json:"from"`
	To             ledger.Date       `json:"to"`
	Opening        OpeningDTO        `json:"opening"`
	OpeningBalance ledger.Money      `json:"opening_balance"`
	Rows           []StatementRowDTO `json:"rows"`
	TotalCredits   ledger.Money      `json:"total_credits"`
	TotalDebits    ledger.Money      `json:"total_debits"`
	ClosingBalance ledger.Money      `json:"closing_balance"`
	Anomalies      []AnomalyDTO      `json:"anomalies"`
}

// =============================================================================
// DIAGNOSTICS, SCENARIOS, ERRORS
// =============================================================================

type DiagnosticsDTO struct {
	Date            ledger.Date   `json:"date"`
	MissingClosings []RegisterDTO `json:"missing_closings"`
	PendingClosings []ClosingDTO  `json:"pending_closings"`
	FailedPostings  []PostingDTO  `json:"failed_postings"`
	UnknownKinds    []AnomalyDTO  `json:"unknown_kinds"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalInstant(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatInstant(*t)
	return &s
}

func toRegisterDTO(r ledger.Register) RegisterDTO {
	return RegisterDTO{
		ID:        string(r.ID),
		Name:      r.Name,
		Balance:   r.Balance,
		CreatedAt: formatInstant(r.CreatedAt),
		UpdatedAt: formatInstant(r.UpdatedAt),
	}
}

func toMovementDTO(m ledger.Movement) MovementDTO {
	return MovementDTO{
		ID:            string(m.ID),
		Kind:          string(m.Kind),
		Amount:        m.Amount,
		Origin:        string(m.Origin),
		Destination:   string(m.Destination),
		Reason:        m.Reason,
		ReferenceType: string(m.Reference.Type),
		ReferenceID:   m.Reference.ID,
		OccurredAt:    formatInstant(m.OccurredAt),
		CreatedBy:     m.CreatedBy,
		DeletedAt:     optionalInstant(m.DeletedAt),
		DeletedBy:     m.DeletedBy,
		DeleteReason:  m.DeleteReason,
	}
}

func toPostingDTO(p ledger.Posting) PostingDTO {
	return PostingDTO{
		ID:            string(p.ID),
		Kind:          string(p.Kind),
		ReferenceType: string(p.Reference.Type),
		ReferenceID:   p.Reference.ID,
		Register:      p.RegisterName,
		Amount:        p.Amount,
		Method:        string(p.Method),
		OccurredAt:    formatInstant(p.OccurredAt),
		Status:        string(p.Status),
		Attempts:      p.Attempts,
		LastError:     p.LastError,
		MovementID:    string(p.MovementID),
		CreatedBy:     p.CreatedBy,
		CreatedAt:     formatInstant(p.CreatedAt),
		UpdatedAt:     formatInstant(p.UpdatedAt),
	}
}

func toPostingResultDTO(res *ledger.PostingResult) PostingResultDTO {
	out := PostingResultDTO{Warning: res.Warning, Skipped: res.Skipped}
	if res.Movement != nil {
		m := toMovementDTO(*res.Movement)
		out.Movement = &m
	}
	if res.Posting != nil {
		p := toPostingDTO(*res.Posting)
		out.Posting = &p
	}
	return out
}

func toClosingDTO(c ledger.Closing) ClosingDTO {
	return ClosingDTO{
		ID:              string(c.ID),
		Register:        string(c.RegisterID),
		Date:            c.Date,
		SystemAmount:    c.SystemAmount,
		CountedAmount:   c.CountedAmount,
		Variance:        c.Variance,
		VarianceClass:   string(c.VarianceClass),
		Status:          string(c.Status),
		RequiresReview:  c.RequiresReview,
		Manual:          c.Manual,
		Justification:   c.Justification,
		RejectionReason: c.RejectionReason,
		ApprovalNote:    c.ApprovalNote,
		CreatedBy:       c.CreatedBy,
		CreatedAt:       formatInstant(c.CreatedAt),
		DecidedBy:       c.DecidedBy,
		DecidedAt:       optionalInstant(c.DecidedAt),
	}
}

func toOpeningDTO(o ledger.Opening) OpeningDTO {
	dto := OpeningDTO{
		Register:       string(o.Register),
		Date:           o.Date,
		Amount:         o.Amount,
		Source:         string(o.Source),
		NoPriorClosing: o.NoPriorClosing,
		Warnings:       o.Warnings,
	}
	if o.Closing != nil {
		dto.ClosingID = string(o.Closing.ID)
	}
	return dto
}

func toStatementDTO(s *ledger.Statement) StatementDTO {
	dto := StatementDTO{
		Register:       toRegisterDTO(s.Register),
		From:           s.From,
		To:             s.To,
		Opening:        toOpeningDTO(s.Opening),
		OpeningBalance: s.OpeningBalance,
		Rows:           make([]StatementRowDTO, 0, len(s.Rows)),
		TotalCredits:   s.TotalCredits,
		TotalDebits:    s.TotalDebits,
		ClosingBalance: s.ClosingBalance,
		Anomalies:      make([]AnomalyDTO, 0, len(s.Anomalies)),
	}
	for _, row := range s.Rows {
		dto.Rows = append(dto.Rows, StatementRowDTO{
			Movement:       toMovementDTO(row.Movement),
			Direction:      string(row.Direction),
			Amount:         row.Amount,
			Label:          row.Label,
			RunningBalance: row.RunningBalance,
		})
	}
	for _, a := range s.Anomalies {
		dto.Anomalies = append(dto.Anomalies, toAnomalyDTO(a))
	}
	return dto
}

func toAnomalyDTO(a ledger.Anomaly) AnomalyDTO {
	return AnomalyDTO{
		MovementID: string(a.MovementID),
		Kind:       string(a.Kind),
		Message:    a.Message,
	}
}

func toDiagnosticsDTO(d *ledger.Diagnostics) DiagnosticsDTO {
	dto := DiagnosticsDTO{
		Date:            d.Date,
		MissingClosings: make([]RegisterDTO, 0, len(d.MissingClosings)),
		PendingClosings: make([]ClosingDTO, 0, len(d.PendingClosings)),
		FailedPostings:  make([]PostingDTO, 0, len(d.FailedPostings)),
		UnknownKinds:    make([]AnomalyDTO, 0, len(d.UnknownKinds)),
	}
	for _, r := range d.MissingClosings {
		dto.MissingClosings = append(dto.MissingClosings, toRegisterDTO(r))
	}
	for _, c := range d.PendingClosings {
		dto.PendingClosings = append(dto.PendingClosings, toClosingDTO(c))
	}
	for _, p := range d.FailedPostings {
		dto.FailedPostings = append(dto.FailedPostings, toPostingDTO(p))
	}
	for _, a := range d.UnknownKinds {
		dto.UnknownKinds = append(dto.UnknownKinds, toAnomalyDTO(a))
	}
	return dto
}
