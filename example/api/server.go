package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine"
)

// loanService is the slice of the engine the HTTP layer depends on.
type loanService interface {
	RequestLoan(ctx context.Context, memberID, bookID uuid.UUID, copyID *uuid.UUID) (loanengine.Loan, error)
	ApproveLoan(ctx context.Context, loanID uuid.UUID, copyID *uuid.UUID) (loanengine.Loan, error)
	RejectLoan(ctx context.Context, loanID uuid.UUID, reason string) (loanengine.Loan, error)
	CancelLoan(ctx context.Context, loanID uuid.UUID) (loanengine.Loan, error)
	ReturnLoan(ctx context.Context, loanID uuid.UUID) (loanengine.Loan, error)
	RenewLoan(ctx context.Context, loanID uuid.UUID) (loanengine.Loan, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (loanengine.Snapshot, error)
	SweepOverdue(ctx context.Context) (postgresengine.SweepReport, error)
}

type server struct {
	service loanService
	logger  *slog.Logger
}

func newServer(service loanService, logger *slog.Logger) *server {
	return &server{service: service, logger: logger}
}

func (s *server) routes(limiter *rateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(limiter.handler)

	r.Route("/loans", func(r chi.Router) {
		r.Post("/", s.handleRequestLoan)
		r.Route("/{loanID}", func(r chi.Router) {
			r.Get("/", s.handleGetLoan)
			r.Post("/approve", s.handleApproveLoan)
			r.Post("/reject", s.handleRejectLoan)
			r.Post("/cancel", s.handleCancelLoan)
			r.Post("/return", s.handleReturnLoan)
			r.Post("/renew", s.handleRenewLoan)
		})
	})

	r.Post("/sweep", s.handleSweep)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
