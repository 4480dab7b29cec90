package helper

import (
	"context"
	"sync"

	"github.com/openshelf/loan-engine-go/loanengine"
)

// TracingCollectorSpy is a loanengine.TracingCollector that captures spans
// for testing.
type TracingCollectorSpy struct {
	spans []*SpySpan
	mu    sync.Mutex
}

// SpySpan is a recorded span with its lifecycle captured.
type SpySpan struct {
	Name       string
	StartAttrs map[string]string
	Attributes map[string]string
	Status     string
	Finished   bool

	mu sync.Mutex
}

// SetStatus implements the SpanContext interface.
func (s *SpySpan) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

// AddAttribute implements the SpanContext interface.
func (s *SpySpan) AddAttribute(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attributes[key] = value
}

// NewTracingCollectorSpy creates a new TracingCollectorSpy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{spans: make([]*SpySpan, 0)}
}

// StartSpan implements the TracingCollector interface.
func (s *TracingCollectorSpy) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, loanengine.SpanContext) {
	span := &SpySpan{
		Name:       name,
		StartAttrs: copyLabels(attrs),
		Attributes: make(map[string]string),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = append(s.spans, span)

	return ctx, span
}

// FinishSpan implements the TracingCollector interface.
func (s *TracingCollectorSpy) FinishSpan(spanCtx loanengine.SpanContext, status string, attrs map[string]string) {
	span, ok := spanCtx.(*SpySpan)
	if !ok {
		return
	}

	span.mu.Lock()
	defer span.mu.Unlock()
	span.Status = status
	for key, value := range attrs {
		span.Attributes[key] = value
	}
	span.Finished = true
}

// GetSpans returns all recorded spans.
func (s *TracingCollectorSpy) GetSpans() []*SpySpan {
	s.mu.Lock()
	defer s.mu.Unlock()
	spans := make([]*SpySpan, len(s.spans))
	copy(spans, s.spans)

	return spans
}

// HasFinishedSpan checks for a finished span with the given name and status.
func (s *TracingCollectorSpy) HasFinishedSpan(name, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, span := range s.spans {
		span.mu.Lock()
		match := span.Finished && span.Name == name && span.Status == status
		span.mu.Unlock()

		if match {
			return true
		}
	}

	return false
}

// Reset clears all captured spans.
func (s *TracingCollectorSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans = s.spans[:0]
}

var _ loanengine.TracingCollector = (*TracingCollectorSpy)(nil)
