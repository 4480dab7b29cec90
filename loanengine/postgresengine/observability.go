package postgresengine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/openshelf/loan-engine-go/loanengine"
)

const (
	logMsgBuildQueryFailed   = "failed to build query"
	logMsgDBQueryFailed      = "database query execution failed"
	logMsgDBExecFailed       = "database statement execution failed"
	logMsgCloseRowsFailed    = "failed to close database rows"
	logMsgScanRowFailed      = "failed to scan database row"
	logMsgRowsAffectedFailed = "failed to get rows affected count"
	logMsgBeginTxFailed      = "failed to begin transaction"
	logMsgCommitFailed       = "failed to commit transaction"
	logMsgCopyConflict       = "copy allocation conflict detected"
	logMsgSQLExecuted        = "executed sql"
	logMsgOperation          = "loan engine operation: "

	logAttrError          = "error"
	logAttrQuery          = "query"
	logAttrDurationMS     = "duration_ms"
	logAttrLoanID         = "loan_id"
	logAttrMemberID       = "member_id"
	logAttrBookID         = "book_id"
	logAttrCopyID         = "copy_id"
	logAttrStatus         = "status"
	logAttrRowsAffected   = "rows_affected"
	logAttrDueDate        = "due_date"
	logAttrMarkedOverdue  = "marked_overdue"
	logAttrFeesRecomputed = "fees_recomputed"
	logAttrDueSoon        = "due_soon"

	metricOperationDuration = "loanengine_operation_duration"
	metricOperationErrors   = "loanengine_operation_errors"
	metricCopyConflicts     = "loanengine_copy_conflicts"
	metricLoansSwept        = "loanengine_loans_swept"

	spanNamePrefix = "loanengine."

	spanAttrOperation    = "operation"
	spanAttrErrorType    = "error_type"
	spanAttrLoanID       = "loan_id"
	spanAttrStatus       = "loan_status"
	spanAttrDurationMS   = "duration_ms"
	spanAttrConflictType = "conflict_type"

	statusSuccess = "success"
	statusError   = "error"
)

// logQueryWithDuration logs SQL statements with execution time at debug level.
// The contextual logger wins when both loggers are configured.
func (e *Engine) logQueryWithDuration(ctx context.Context, sqlQuery string, duration time.Duration) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.DebugContext(ctx, logMsgSQLExecuted, logAttrDurationMS, e.toMilliseconds(duration), logAttrQuery, sqlQuery)
	case e.logger != nil:
		e.logger.Debug(logMsgSQLExecuted, logAttrDurationMS, e.toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if a logger is configured.
func (e *Engine) logOperation(ctx context.Context, action string, args ...any) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	case e.logger != nil:
		e.logger.Info(logMsgOperation+action, args...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (e *Engine) logError(message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.ErrorContext(context.Background(), message, allArgs...)
	case e.logger != nil:
		e.logger.Error(message, allArgs...)
	}
}

// logWarn logs at the warn level if a logger is configured.
func (e *Engine) logWarn(message string, args ...any) {
	switch {
	case e.contextualLogger != nil:
		e.contextualLogger.WarnContext(context.Background(), message, args...)
	case e.logger != nil:
		e.logger.Warn(message, args...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (e *Engine) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// recordDurationMetricsContext records duration metrics with context if the collector supports it.
func (e *Engine) recordDurationMetricsContext(
	ctx context.Context,
	duration time.Duration,
	operation, status string,
) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          status,
	}

	if contextualCollector, ok := e.metricsCollector.(loanengine.ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricOperationDuration, duration, labels)
	} else {
		e.metricsCollector.RecordDuration(metricOperationDuration, duration, labels)
	}
}

// recordErrorMetricsContext records error metrics with context if the collector supports it.
func (e *Engine) recordErrorMetricsContext(ctx context.Context, operation, errorType string) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          statusError,
		spanAttrErrorType: errorType,
	}

	if contextualCollector, ok := e.metricsCollector.(loanengine.ContextualMetricsCollector); ok {
		contextualCollector.IncrementCounterContext(ctx, metricOperationErrors, labels)
	} else {
		e.metricsCollector.IncrementCounter(metricOperationErrors, labels)
	}
}

// recordCopyConflictMetrics records copy allocation conflicts if a collector is configured.
func (e *Engine) recordCopyConflictMetrics(operation string) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation:    operation,
		spanAttrConflictType: "copy_allocation",
	}
	e.metricsCollector.IncrementCounter(metricCopyConflicts, labels)
}

// recordSweepMetricsContext records the number of loans touched by a sweep.
func (e *Engine) recordSweepMetricsContext(ctx context.Context, count float64) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operationSweep,
		"status":          statusSuccess,
	}

	if contextualCollector, ok := e.metricsCollector.(loanengine.ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metricLoansSwept, count, labels)
	} else {
		e.metricsCollector.RecordValue(metricLoansSwept, count, labels)
	}
}

// operationObserver bundles the tracing span and metrics lifecycle for one
// engine operation so the operation methods stay focused on their semantics.
type operationObserver struct {
	e         *Engine
	ctx       context.Context
	span      loanengine.SpanContext
	operation string
	start     time.Time
}

// startOperationObserver opens a tracing span for the named operation and
// returns the observer together with the span-scoped context.
func (e *Engine) startOperationObserver(
	ctx context.Context,
	operation string,
	attrs map[string]string,
) (*operationObserver, context.Context) {
	observer := &operationObserver{
		e:         e,
		ctx:       ctx,
		operation: operation,
		start:     e.clock(),
	}

	if e.tracingCollector != nil {
		spanAttrs := map[string]string{spanAttrOperation: operation}
		for key, value := range attrs {
			spanAttrs[key] = value
		}

		newCtx, span := e.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, spanAttrs)
		observer.ctx = newCtx
		observer.span = span

		return observer, newCtx
	}

	return observer, ctx
}

func (o *operationObserver) duration() time.Duration {
	return o.e.clock().Sub(o.start)
}

// finishSuccess completes the span and records success metrics.
func (o *operationObserver) finishSuccess(attrs map[string]string) {
	duration := o.duration()

	if o.span != nil {
		o.span.SetStatus(statusSuccess)
		o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", o.e.toMilliseconds(duration)))
		for key, value := range attrs {
			o.span.AddAttribute(key, value)
		}

		o.e.tracingCollector.FinishSpan(o.span, statusSuccess, attrs)
	}

	o.e.recordDurationMetricsContext(o.ctx, duration, o.operation, statusSuccess)
}

// finishError completes the span and records error metrics.
func (o *operationObserver) finishError(errorType string) {
	duration := o.duration()

	if o.span != nil {
		o.span.SetStatus(statusError)
		o.span.AddAttribute(spanAttrErrorType, errorType)
		o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", o.e.toMilliseconds(duration)))

		o.e.tracingCollector.FinishSpan(o.span, statusError, map[string]string{spanAttrErrorType: errorType})
	}

	o.e.recordDurationMetricsContext(o.ctx, duration, o.operation, statusError)
	o.e.recordErrorMetricsContext(o.ctx, o.operation, errorType)
}
