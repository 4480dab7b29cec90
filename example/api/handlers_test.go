package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine"
)

type fakeService struct {
	loan    loanengine.Loan
	snap    loanengine.Snapshot
	report  postgresengine.SweepReport
	err     error
	lastOp  string
	gotCopy *uuid.UUID
}

func (f *fakeService) RequestLoan(_ context.Context, _, _ uuid.UUID, copyID *uuid.UUID) (loanengine.Loan, error) {
	f.lastOp = "request"
	f.gotCopy = copyID

	return f.loan, f.err
}

func (f *fakeService) ApproveLoan(_ context.Context, _ uuid.UUID, copyID *uuid.UUID) (loanengine.Loan, error) {
	f.lastOp = "approve"
	f.gotCopy = copyID

	return f.loan, f.err
}

func (f *fakeService) RejectLoan(_ context.Context, _ uuid.UUID, _ string) (loanengine.Loan, error) {
	f.lastOp = "reject"
	return f.loan, f.err
}

func (f *fakeService) CancelLoan(_ context.Context, _ uuid.UUID) (loanengine.Loan, error) {
	f.lastOp = "cancel"
	return f.loan, f.err
}

func (f *fakeService) ReturnLoan(_ context.Context, _ uuid.UUID) (loanengine.Loan, error) {
	f.lastOp = "return"
	return f.loan, f.err
}

func (f *fakeService) RenewLoan(_ context.Context, _ uuid.UUID) (loanengine.Loan, error) {
	f.lastOp = "renew"
	return f.loan, f.err
}

func (f *fakeService) GetLoan(_ context.Context, _ uuid.UUID) (loanengine.Snapshot, error) {
	f.lastOp = "get"
	return f.snap, f.err
}

func (f *fakeService) SweepOverdue(_ context.Context) (postgresengine.SweepReport, error) {
	f.lastOp = "sweep"
	return f.report, f.err
}

func newTestHandler(service *fakeService) http.Handler {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	return newServer(service, logger).routes(newRateLimiter(1000, 1000))
}

func someRequestedLoan() loanengine.Loan {
	return loanengine.Loan{
		ID:          uuid.New(),
		MemberID:    uuid.New(),
		BookID:      uuid.New(),
		Status:      loanengine.LoanStatusRequested,
		RequestedAt: time.Now().UTC(),
	}
}

func Test_HandleRequestLoan_When_BodyIsValid(t *testing.T) {
	// setup
	service := &fakeService{loan: someRequestedLoan()}
	handler := newTestHandler(service)

	body := fmt.Sprintf(`{"member_id": %q, "book_id": %q}`, uuid.NewString(), uuid.NewString())
	request := httptest.NewRequest(http.MethodPost, "/loans", bytes.NewBufferString(body))
	recorder := httptest.NewRecorder()

	// act
	handler.ServeHTTP(recorder, request)

	// assert
	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, "request", service.lastOp)
	assert.Nil(t, service.gotCopy)
	assert.Contains(t, recorder.Body.String(), `"status":"REQUESTED"`)
}

func Test_HandleRequestLoan_When_IDsAreNotUUIDs(t *testing.T) {
	// setup
	service := &fakeService{}
	handler := newTestHandler(service)

	request := httptest.NewRequest(http.MethodPost, "/loans",
		bytes.NewBufferString(`{"member_id": "nope", "book_id": "also nope"}`))
	recorder := httptest.NewRecorder()

	// act
	handler.ServeHTTP(recorder, request)

	// assert
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, service.lastOp, "the service must not be called for invalid input")
	assert.Contains(t, recorder.Body.String(), `"member_id"`)
	assert.Contains(t, recorder.Body.String(), `"book_id"`)
}

func Test_HandleApproveLoan_When_ACopyIsPinned(t *testing.T) {
	// setup
	service := &fakeService{loan: someRequestedLoan()}
	handler := newTestHandler(service)
	copyID := uuid.New()

	request := httptest.NewRequest(http.MethodPost,
		"/loans/"+uuid.NewString()+"/approve",
		bytes.NewBufferString(fmt.Sprintf(`{"copy_id": %q}`, copyID)))
	recorder := httptest.NewRecorder()

	// act
	handler.ServeHTTP(recorder, request)

	// assert
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "approve", service.lastOp)
	assert.NotNil(t, service.gotCopy)
	assert.Equal(t, copyID, *service.gotCopy)
}

func Test_HandleRejectLoan_When_ReasonIsMissing(t *testing.T) {
	// setup
	service := &fakeService{}
	handler := newTestHandler(service)

	request := httptest.NewRequest(http.MethodPost,
		"/loans/"+uuid.NewString()+"/reject", bytes.NewBufferString(`{}`))
	recorder := httptest.NewRecorder()

	// act
	handler.ServeHTTP(recorder, request)

	// assert
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Empty(t, service.lastOp)
}

func Test_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{"loan not found", loanengine.ErrNotFound, http.StatusNotFound},
		{"invalid transition", loanengine.ErrInvalidTransition, http.StatusConflict},
		{"copy lost to a racing approval", loanengine.ErrCopyUnavailable, http.StatusConflict},
		{"no copy available", loanengine.ErrNoCopyAvailable, http.StatusConflict},
		{"member not active", loanengine.ErrMemberNotActive, http.StatusUnprocessableEntity},
		{"loan limit exceeded", loanengine.ErrLoanLimitExceeded, http.StatusUnprocessableEntity},
		{"renewal window closed", loanengine.ErrRenewalWindowClosed, http.StatusUnprocessableEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// setup
			handler := newTestHandler(&fakeService{err: tc.serviceErr})

			request := httptest.NewRequest(http.MethodPost,
				"/loans/"+uuid.NewString()+"/return", nil)
			recorder := httptest.NewRecorder()

			// act
			handler.ServeHTTP(recorder, request)

			// assert
			assert.Equal(t, tc.wantStatus, recorder.Code)
		})
	}
}

func Test_HandleGetLoan_When_LoanExists(t *testing.T) {
	// setup
	loan := someRequestedLoan()
	service := &fakeService{snap: loanengine.Snapshot{Loan: loan, CanRenew: false, DaysUntilDue: 0}}
	handler := newTestHandler(service)

	request := httptest.NewRequest(http.MethodGet, "/loans/"+loan.ID.String()+"/", nil)
	recorder := httptest.NewRecorder()

	// act
	handler.ServeHTTP(recorder, request)

	// assert
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"can_renew":false`)
}

func Test_HandleSweep(t *testing.T) {
	// setup
	service := &fakeService{report: postgresengine.SweepReport{MarkedOverdue: 2, DueSoon: 1}}
	handler := newTestHandler(service)

	request := httptest.NewRequest(http.MethodPost, "/sweep", nil)
	recorder := httptest.NewRecorder()

	// act
	handler.ServeHTTP(recorder, request)

	// assert
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"marked_overdue":2`)
}

func Test_RateLimiter_When_BurstIsExhausted(t *testing.T) {
	// setup
	service := &fakeService{report: postgresengine.SweepReport{}}
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	handler := newServer(service, logger).routes(newRateLimiter(1, 2))

	// act
	var lastCode int
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodPost, "/sweep", nil)
		request.RemoteAddr = "10.0.0.1:1234"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		lastCode = recorder.Code
	}

	// assert
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}
