package pipeline

import (
	"context"

	"github.com/nao1215/onionharvest/internal/model"
	"github.com/nao1215/onionharvest/internal/sink"
)

// Analyzer produces the intelligence of a page text. *intel.Engine
// implements it.
type Analyzer interface {
	Analyze(text string) model.Intel
}

// IntelStep fills in the IOCs and threat classification of a page.
type IntelStep struct {
	analyzer Analyzer
}

// NewIntelStep creates an IntelStep.
func NewIntelStep(a Analyzer) *IntelStep {
	return &IntelStep{analyzer: a}
}

// Name returns the step name.
func (s *IntelStep) Name() string {
	return "intel"
}

// Do analyzes the page text.
func (s *IntelStep) Do(_ context.Context, rec *model.PageRecord) error {
	rec.Intel = s.analyzer.Analyze(rec.Text)
	return nil
}

// SinkStep appends the page to a sink, usually a *sink.Multi.
type SinkStep struct {
	sink sink.Sink
}

// NewSinkStep creates a SinkStep.
func NewSinkStep(s sink.Sink) *SinkStep {
	return &SinkStep{sink: s}
}

// Name returns the step name.
func (s *SinkStep) Name() string {
	return "sink"
}

// Do writes the page.
func (s *SinkStep) Do(ctx context.Context, rec *model.PageRecord) error {
	return s.sink.Append(ctx, rec)
}
