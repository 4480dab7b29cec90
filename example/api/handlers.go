package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/openshelf/loan-engine-go/loanengine"
)

type requestLoanRequest struct {
	MemberID string `json:"member_id"`
	BookID   string `json:"book_id"`
	CopyID   string `json:"copy_id,omitempty"`
}

type approveLoanRequest struct {
	CopyID string `json:"copy_id,omitempty"`
}

type rejectLoanRequest struct {
	Reason string `json:"reason"`
}

type loanResponse struct {
	ID              string     `json:"id"`
	MemberID        string     `json:"member_id"`
	BookID          string     `json:"book_id"`
	CopyID          string     `json:"copy_id,omitempty"`
	Status          string     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	BorrowedAt      *time.Time `json:"borrowed_at,omitempty"`
	DueDate         *time.Time `json:"due_date,omitempty"`
	ReturnedAt      *time.Time `json:"returned_at,omitempty"`
	RenewalCount    int        `json:"renewal_count"`
	OverdueFee      int64      `json:"overdue_fee"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

type snapshotResponse struct {
	loanResponse

	CanRenew     bool `json:"can_renew"`
	IsOverdue    bool `json:"is_overdue"`
	DaysUntilDue int  `json:"days_until_due"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

func toLoanResponse(loan loanengine.Loan) loanResponse {
	response := loanResponse{
		ID:              loan.ID.String(),
		MemberID:        loan.MemberID.String(),
		BookID:          loan.BookID.String(),
		Status:          string(loan.Status),
		RequestedAt:     loan.RequestedAt,
		ApprovedAt:      loan.ApprovedAt,
		BorrowedAt:      loan.BorrowedAt,
		DueDate:         loan.DueDate,
		ReturnedAt:      loan.ReturnedAt,
		RenewalCount:    loan.RenewalCount,
		OverdueFee:      int64(loan.OverdueFee),
		RejectionReason: loan.RejectionReason,
	}

	if loan.CopyID != nil {
		response.CopyID = loan.CopyID.String()
	}

	return response
}

func (s *server) handleRequestLoan(w http.ResponseWriter, r *http.Request) {
	var request requestLoanRequest
	if !s.decodeBody(w, r, &request) {
		return
	}

	var fields []fieldError

	memberID, err := uuid.Parse(request.MemberID)
	if err != nil {
		fields = append(fields, fieldError{Field: "member_id", Message: "must be a valid UUID"})
	}

	bookID, err := uuid.Parse(request.BookID)
	if err != nil {
		fields = append(fields, fieldError{Field: "book_id", Message: "must be a valid UUID"})
	}

	copyID, copyFieldErr := parseOptionalUUID(request.CopyID, "copy_id")
	if copyFieldErr != nil {
		fields = append(fields, *copyFieldErr)
	}

	if len(fields) > 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: fields})
		return
	}

	loan, err := s.service.RequestLoan(r.Context(), memberID, bookID, copyID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, toLoanResponse(loan))
}

func (s *server) handleApproveLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.loanIDFromPath(w, r)
	if !ok {
		return
	}

	var request approveLoanRequest
	if r.ContentLength > 0 && !s.decodeBody(w, r, &request) {
		return
	}

	copyID, copyFieldErr := parseOptionalUUID(request.CopyID, "copy_id")
	if copyFieldErr != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: []fieldError{*copyFieldErr}})
		return
	}

	loan, err := s.service.ApproveLoan(r.Context(), loanID, copyID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (s *server) handleRejectLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.loanIDFromPath(w, r)
	if !ok {
		return
	}

	var request rejectLoanRequest
	if !s.decodeBody(w, r, &request) {
		return
	}

	if request.Reason == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request",
			Fields: []fieldError{{Field: "reason", Message: "must not be empty"}},
		})

		return
	}

	loan, err := s.service.RejectLoan(r.Context(), loanID, request.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (s *server) handleCancelLoan(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.CancelLoan)
}

func (s *server) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.ReturnLoan)
}

func (s *server) handleRenewLoan(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.service.RenewLoan)
}

func (s *server) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	operation func(ctx context.Context, loanID uuid.UUID) (loanengine.Loan, error),
) {
	loanID, ok := s.loanIDFromPath(w, r)
	if !ok {
		return
	}

	loan, err := operation(r.Context(), loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, toLoanResponse(loan))
}

func (s *server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := s.loanIDFromPath(w, r)
	if !ok {
		return
	}

	snapshot, err := s.service.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshotResponse{
		loanResponse: toLoanResponse(snapshot.Loan),
		CanRenew:     snapshot.CanRenew,
		IsOverdue:    snapshot.IsOverdue,
		DaysUntilDue: snapshot.DaysUntilDue,
	})
}

func (s *server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.SweepOverdue(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]int{
		"marked_overdue":  report.MarkedOverdue,
		"fees_recomputed": report.FeesRecomputed,
		"due_soon":        report.DueSoon,
	})
}

func (s *server) loanIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "invalid request",
			Fields: []fieldError{{Field: "loanID", Message: "must be a valid UUID"}},
		})

		return uuid.Nil, false
	}

	return loanID, true
}

func parseOptionalUUID(value, field string) (*uuid.UUID, *fieldError) {
	if value == "" {
		return nil, nil
	}

	parsed, err := uuid.Parse(value)
	if err != nil {
		return nil, &fieldError{Field: field, Message: "must be a valid UUID"}
	}

	return &parsed, nil
}

func (s *server) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if readErr != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
		return false
	}

	if unmarshalErr := jsoniter.ConfigFastest.Unmarshal(body, target); unmarshalErr != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON"})
		return false
	}

	return true
}

func (s *server) writeJSON(w http.ResponseWriter, status int, payload any) {
	encoded, marshalErr := jsoniter.ConfigFastest.Marshal(payload)
	if marshalErr != nil {
		s.logger.Error("failed to encode response", "error", marshalErr.Error())
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// writeError maps engine errors to HTTP status codes.
func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, loanengine.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, loanengine.ErrInvalidTransition),
		errors.Is(err, loanengine.ErrCopyUnavailable),
		errors.Is(err, loanengine.ErrNoCopyAvailable):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, loanengine.ErrMemberNotActive),
		errors.Is(err, loanengine.ErrLoanLimitExceeded),
		errors.Is(err, loanengine.ErrRenewalWindowClosed),
		errors.Is(err, loanengine.ErrRenewalLimitReached):
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "error", err.Error())
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
