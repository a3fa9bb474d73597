package intel

import (
	"github.com/nao1215/onionharvest/internal/model"
)

// Engine extracts indicators and classifies page text.
// It holds no per-call state, so one Engine can be shared by every
// frontier goroutine.
type Engine struct {
	thresholds Thresholds
	saturation float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithThresholds sets the risk label cut points.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		e.thresholds = t
	}
}

// WithSaturation sets the keyword hits per thousand words at which a
// category score saturates.
func WithSaturation(perThousand float64) Option {
	return func(e *Engine) {
		e.saturation = perThousand
	}
}

// NewEngine creates an Engine. It fails when the thresholds are not
// monotonic or the saturation is not positive.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		thresholds: DefaultThresholds(),
		saturation: DefaultSaturation,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.thresholds.Validate(); err != nil {
		return nil, err
	}
	if e.saturation <= 0 {
		return nil, ErrInvalidSaturation
	}
	return e, nil
}

// Analyze runs IOC extraction and threat classification over text.
// Identical text always yields an identical result.
func (e *Engine) Analyze(text string) model.Intel {
	return model.Intel{
		IOCs:   ExtractIOCs(text),
		Threat: e.Classify(text),
	}
}

// Classify scores text against the category knowledge base.
func (e *Engine) Classify(text string) model.Threat {
	return classify(text, e.thresholds, e.saturation)
}

// Thresholds returns the configured cut points.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}
