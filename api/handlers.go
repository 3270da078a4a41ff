/*
handlers.go - HTTP API handlers for the cash ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response and JSON
  serialization, and delegates every rule to the ledger package.

ACTOR:
  The acting user travels in the X-Actor header on every write. There is
  no session; the ledger rejects writes without an actor.

ERROR HANDLING:
  Errors are returned as JSON {error, details} with a status derived from
  the ledger error category:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (already deleted, already decided, duplicate reference)
  - 503: Persistence failure, nothing was written; safe to retry
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/crescieperdi/caixa/ledger"
)

// ActorHeader carries the acting user's name.
const ActorHeader = "X-Actor"

// AuditReader lists stored audit events. *sqlstore.Store implements it.
type AuditReader interface {
	AuditEvents(ctx context.Context, table, recordID string, limit int) ([]ledger.AuditRecord, error)
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Ledger

	// Resetter clears the database before a scenario loads. Nil disables
	// the scenario endpoints.
	Resetter ledger.Resetter

	// Audit backs GET /api/audit. Nil answers 404.
	Audit AuditReader

	// SeedRegisters are re-created after every reset.
	SeedRegisters []string

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{Ledger: l}
}

// =============================================================================
// REGISTERS
// =============================================================================

func (h *Handler) ListRegisters(w http.ResponseWriter, r *http.Request) {
	regs, err := h.Ledger.ListRegisters(r.Context())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	dtos := make([]RegisterDTO, 0, len(regs))
	for _, reg := range regs {
		dtos = append(dtos, toRegisterDTO(reg))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateRegister(w http.ResponseWriter, r *http.Request) {
	var req CreateRegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reg, err := h.Ledger.CreateRegister(r.Context(), req.Name, actorFrom(r))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegisterDTO(*reg))
}

// GetRegister returns the register with its live balance.
func (h *Handler) GetRegister(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Ledger.GetRegister(r.Context(), registerParam(r))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegisterDTO(*reg))
}

// GetStatement returns the extrato for ?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Both default to today.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	today := h.Ledger.Today()
	from, ok := dateQuery(w, r, "from", today)
	if !ok {
		return
	}
	to, ok := dateQuery(w, r, "to", today)
	if !ok {
		return
	}
	st, err := h.Ledger.BuildStatement(r.Context(), registerParam(r), from, to)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

func (h *Handler) GetOpening(w http.ResponseWriter, r *http.Request) {
	date, ok := dateQuery(w, r, "date", h.Ledger.Today())
	if !ok {
		return
	}
	o, err := h.Ledger.OpeningBalance(r.Context(), registerParam(r), date)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOpeningDTO(*o))
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// CreateMovement records a manual entrada or saida.
func (h *Handler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req ManualMovementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, actor, reg := r.Context(), actorFrom(r), ledger.RegisterID(req.Register)

	var (
		m   *ledger.Movement
		err error
	)
	switch strings.ToLower(req.Type) {
	case "entrada", string(ledger.KindManualCredit):
		m, err = h.Ledger.RecordManualEntry(ctx, reg, req.Amount, req.Reason, actor)
	case "saida", "saída", string(ledger.KindManualDebit):
		m, err = h.Ledger.RecordManualWithdrawal(ctx, reg, req.Amount, req.Reason, actor)
	default:
		writeError(w, http.StatusBadRequest, "type must be entrada or saida", nil)
		return
	}
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(*m))
}

// ListMovements filters by ?register=<id>&from&to (business days) and
// ?include_deleted=true.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	cal := h.Ledger.Calendar()
	f := ledger.MovementFilter{Register: ledger.RegisterID(r.URL.Query().Get("register"))}

	from, ok := dateQuery(w, r, "from", ledger.Date{})
	if !ok {
		return
	}
	to, ok := dateQuery(w, r, "to", ledger.Date{})
	if !ok {
		return
	}
	if !from.IsZero() {
		f.From = cal.StartOf(from)
	}
	if !to.IsZero() {
		f.To = cal.EndOf(to)
	}
	if v := r.URL.Query().Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_deleted must be a boolean", err)
			return
		}
		f.IncludeDeleted = b
	}

	ms, err := h.Ledger.ListMovements(r.Context(), f)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	dtos := make([]MovementDTO, 0, len(ms))
	for _, m := range ms {
		dtos = append(dtos, toMovementDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeleteMovement soft-deletes a movement and reverses its balance effects.
// The body {reason} is optional.
func (h *Handler) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	m, err := h.Ledger.DeleteMovement(r.Context(), ledger.MovementID(chi.URLParam(r, "id")), actorFrom(r), req.Reason)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(*m))
}

// ReverseReference reverses the live movement of a sale or evaluation.
func (h *Handler) ReverseReference(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	ref := ledger.Reference{
		Type: ledger.ReferenceType(chi.URLParam(r, "type")),
		ID:   chi.URLParam(r, "id"),
	}
	m, err := h.Ledger.ReverseReference(r.Context(), ref, actorFrom(r), req.Reason)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(*m))
}

// =============================================================================
// TRANSFERS
// =============================================================================

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.Ledger.Transfer(r.Context(), ledger.TransferInput{
		Origin:      req.Origin,
		Destination: req.Destination,
		Amount:      req.Amount,
		Reason:      req.Reason,
		OccurredAt:  instantOrZero(req.OccurredAt),
		Actor:       actorFrom(r),
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransferDTO{
		Movement:           toMovementDTO(res.Movement),
		OriginBalance:      res.OriginBalance,
		DestinationBalance: res.DestinationBalance,
	})
}

// =============================================================================
// POSTINGS
// =============================================================================

func (h *Handler) PostSale(w http.ResponseWriter, r *http.Request) {
	var req SalePostingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	method, err := ledger.ParsePaymentMethod(req.Method)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	res, err := h.Ledger.PostSale(r.Context(), ledger.SalePosting{
		SaleID:     req.SaleID,
		Register:   req.Register,
		Amount:     req.Amount,
		Method:     method,
		OccurredAt: instantOrZero(req.OccurredAt),
		Actor:      actorFrom(r),
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, postingStatus(res), toPostingResultDTO(res))
}

func (h *Handler) PostEvaluation(w http.ResponseWriter, r *http.Request) {
	var req EvaluationPostingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	method, err := ledger.ParsePaymentMethod(req.Method)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	res, err := h.Ledger.PostEvaluationPayout(r.Context(), ledger.EvaluationPayout{
		EvaluationID: req.EvaluationID,
		Amount:       req.Amount,
		Method:       method,
		OccurredAt:   instantOrZero(req.OccurredAt),
		Actor:        actorFrom(r),
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, postingStatus(res), toPostingResultDTO(res))
}

// ListPostings filters by ?status=failed|applied.
func (h *Handler) ListPostings(w http.ResponseWriter, r *http.Request) {
	status := ledger.PostingStatus(r.URL.Query().Get("status"))
	if status != "" && status != ledger.PostingFailed && status != ledger.PostingApplied {
		writeError(w, http.StatusBadRequest, "status must be failed or applied", nil)
		return
	}
	ps, err := h.Ledger.ListPostings(r.Context(), status)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	dtos := make([]PostingDTO, 0, len(ps))
	for _, p := range ps {
		dtos = append(dtos, toPostingDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RetryPosting(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.RetryPosting(r.Context(), ledger.PostingID(chi.URLParam(r, "id")), actorFrom(r))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostingResultDTO(res))
}

// postingStatus is 201 when a movement was written, 202 when the posting
// was kept for a retry and 200 when nothing was due.
func postingStatus(res *ledger.PostingResult) int {
	switch {
	case res.Skipped:
		return http.StatusOK
	case res.Posting != nil && res.Posting.Status == ledger.PostingFailed:
		return http.StatusAccepted
	default:
		return http.StatusCreated
	}
}

// =============================================================================
// CLOSINGS
// =============================================================================

func (h *Handler) CloseRegister(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, ok := parseOptionalDate(w, "date", req.Date)
	if !ok {
		return
	}
	c, err := h.Ledger.CloseRegister(r.Context(), ledger.CloseInput{
		Register:      ledger.RegisterID(req.Register),
		Date:          date,
		Counted:       req.Counted,
		Justification: req.Justification,
		Actor:         actorFrom(r),
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClosingDTO(*c))
}

// CreateManualClosing records a closing for a past day that was never closed.
func (h *Handler) CreateManualClosing(w http.ResponseWriter, r *http.Request) {
	var req CloseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, ok := parseOptionalDate(w, "date", req.Date)
	if !ok {
		return
	}
	c, err := h.Ledger.CreateManualClosing(r.Context(), ledger.ManualClosingInput{
		Register:      ledger.RegisterID(req.Register),
		Date:          date,
		Counted:       req.Counted,
		Justification: req.Justification,
		Actor:         actorFrom(r),
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClosingDTO(*c))
}

// ListClosings filters by ?register=<id>&status=<status>&from&to.
func (h *Handler) ListClosings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.ClosingFilter{
		Register: ledger.RegisterID(q.Get("register")),
		Status:   ledger.ClosingStatus(q.Get("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown closing status", nil)
		return
	}
	var ok bool
	if f.From, ok = dateQuery(w, r, "from", ledger.Date{}); !ok {
		return
	}
	if f.To, ok = dateQuery(w, r, "to", ledger.Date{}); !ok {
		return
	}

	cs, err := h.Ledger.ListClosings(r.Context(), f)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	dtos := make([]ClosingDTO, 0, len(cs))
	for _, c := range cs {
		dtos = append(dtos, toClosingDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ApproveClosing(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	c, err := h.Ledger.ApproveClosing(r.Context(), ledger.ClosingID(chi.URLParam(r, "id")), actorFrom(r), req.Note)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDTO(*c))
}

func (h *Handler) RejectClosing(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.Ledger.RejectClosing(r.Context(), ledger.ClosingID(chi.URLParam(r, "id")), actorFrom(r), req.Reason)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toClosingDTO(*c))
}

func (h *Handler) DeleteClosing(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteClosing(r.Context(), ledger.ClosingID(chi.URLParam(r, "id")), actorFrom(r)); err != nil {
		writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DIAGNOSTICS & AUDIT
// =============================================================================

// GetDiagnostics reports follow-ups for ?date (default today).
func (h *Handler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	date, ok := dateQuery(w, r, "date", h.Ledger.Today())
	if !ok {
		return
	}
	d, err := h.Ledger.Diagnostics(r.Context(), date)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiagnosticsDTO(d))
}

// ListAudit returns audit events for ?table&record, newest last, at most
// ?limit (default 100).
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotFound, "audit log is not available", nil)
		return
	}
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	events, err := h.Audit.AuditEvents(r.Context(), q.Get("table"), q.Get("record"), limit)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	if events == nil {
		events = []ledger.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, events)
}

// =============================================================================
// HELPERS
// =============================================================================

func actorFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func registerParam(r *http.Request) ledger.RegisterID {
	return ledger.RegisterID(chi.URLParam(r, "id"))
}

func instantOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func dateQuery(w http.ResponseWriter, r *http.Request, key string, def ledger.Date) (ledger.Date, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	return parseOptionalDate(w, key, v)
}

func parseOptionalDate(w http.ResponseWriter, field, v string) (ledger.Date, bool) {
	if v == "" {
		return ledger.Date{}, true
	}
	d, err := ledger.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field+" (use YYYY-MM-DD)", err)
		return ledger.Date{}, false
	}
	return d, true
}

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

// writeLedgerError maps a ledger error to a status. Validation is checked
// first: an unknown register named in a request body is a bad request, not
// a missing resource.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case ledger.IsRetryable(err):
		hlog.FromRequest(r).Error().Err(err).Msg("persistence failure")
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable, nothing was written; retry", err)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("unexpected error")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
