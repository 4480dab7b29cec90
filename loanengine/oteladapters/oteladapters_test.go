package oteladapters_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	lognoop "go.opentelemetry.io/otel/log/noop"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/openshelf/loan-engine-go/loanengine/oteladapters"
)

func Test_SlogBridgeLogger_When_UsingAPlainHandler(t *testing.T) {
	// setup
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := oteladapters.NewSlogBridgeLoggerWithHandler(handler)
	ctx := context.Background()

	// act
	logger.DebugContext(ctx, "debug message", "loan_id", "abc")
	logger.InfoContext(ctx, "info message")
	logger.WarnContext(ctx, "warn message")
	logger.ErrorContext(ctx, "error message", "error", "boom")

	// assert
	output := buf.String()
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "warn message")
	assert.Contains(t, output, "error message")
	assert.Contains(t, output, `"loan_id":"abc"`)
	assert.Contains(t, output, `"error":"boom"`)
}

func Test_OTelLogger_When_ArgsAreNotKeyValuePairs(t *testing.T) {
	// setup
	logger := oteladapters.NewOTelLogger(lognoop.NewLoggerProvider().Logger("test"))

	// act + assert: odd args and non-string keys must not panic
	assert.NotPanics(t, func() {
		logger.InfoContext(context.Background(), "message", "dangling")
		logger.ErrorContext(context.Background(), "message", 42, "value")
	})
}

func Test_MetricsCollector_When_RecordingAllInstrumentKinds(t *testing.T) {
	// setup
	collector := oteladapters.NewMetricsCollector(metricnoop.NewMeterProvider().Meter("test"))
	ctx := context.Background()
	labels := map[string]string{"operation": "request_loan"}

	// act + assert
	assert.NotPanics(t, func() {
		collector.RecordDuration("loanengine_operation_duration", 10*time.Millisecond, labels)
		collector.RecordDurationContext(ctx, "loanengine_operation_duration", 10*time.Millisecond, labels)
		collector.IncrementCounter("loanengine_operation_errors", labels)
		collector.IncrementCounterContext(ctx, "loanengine_operation_errors", labels)
		collector.RecordValue("loanengine_loans_swept", 3, labels)
		collector.RecordValueContext(ctx, "loanengine_loans_swept", 3, labels)
	})
}

func Test_TracingCollector_When_SpanIsStartedAndFinished(t *testing.T) {
	// setup
	collector := oteladapters.NewTracingCollector(tracenoop.NewTracerProvider().Tracer("test"))

	// act
	ctx, span := collector.StartSpan(context.Background(), "loanengine.request_loan", map[string]string{
		"operation": "request_loan",
	})

	// assert
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	assert.NotPanics(t, func() {
		span.AddAttribute("loan_id", "abc")
		span.SetStatus("success")
		collector.FinishSpan(span, "success", map[string]string{"loan_status": "ACTIVE"})
	})
}
