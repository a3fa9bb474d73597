package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/onionharvest/internal/model"
)

// Step is one stage of the per-page chain.
type Step interface {
	// Do processes the page. Enrichment steps may fill in fields of rec;
	// once the last step returns, the record is not modified again.
	Do(ctx context.Context, rec *model.PageRecord) error

	// Name identifies the step in logs and errors.
	Name() string
}

// StepError reports which step failed on which page.
type StepError struct {
	Step string
	URL  string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed for %s: %v", e.Step, e.URL, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Pipeline is the chain every accepted page goes through, normally the
// intel step followed by the sink step. It holds no per-page state, so
// all frontiers share one Pipeline.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Then appends steps and returns p.
func (p *Pipeline) Then(steps ...Step) *Pipeline {
	p.steps = append(p.steps, steps...)
	return p
}

// Execute runs the steps on rec in order. A failing step stops the chain
// and is returned as *StepError.
func (p *Pipeline) Execute(ctx context.Context, rec *model.PageRecord) error {
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		if err := step.Do(ctx, rec); err != nil {
			return &StepError{Step: step.Name(), URL: rec.URL, Err: err}
		}
		p.logger.Debug("page step done", "step", step.Name(), "url", rec.URL, "took", time.Since(started))
	}
	return nil
}

// Len returns the number of steps.
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Names returns the step names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		names = append(names, s.Name())
	}
	return names
}
