// Package stage runs single model-backed audit stages with a uniform
// fail-open policy.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/extract"
	"github.com/TobiSchelling/marketaudit/internal/llm"
)

// ErrNoInput is returned by a precheck when the stage has nothing to evaluate.
var ErrNoInput = errors.New("stage input not available")

// Invoker is the model call surface the executor needs.
type Invoker interface {
	Invoke(ctx context.Context, providerID string, req llm.Request) (string, error)
	Primary() string
}

// Definition is the static configuration of one stage.
type Definition struct {
	Name string
	// Fatal stages propagate failure instead of substituting Default.
	Fatal   bool
	Default audit.Record
	Build   func(*audit.Context) llm.Request
	// Precheck short-circuits to Default without a model call when it fails.
	Precheck func(*audit.Context) error
	// Decode turns raw model text into a record. Defaults to extract.Extract.
	Decode func(raw string) (audit.Record, error)
}

// Executor runs stage definitions against the primary provider.
type Executor struct {
	invoker Invoker
	timeout time.Duration
}

// NewExecutor creates a stage executor. timeout bounds every stage call whose
// request does not set its own.
func NewExecutor(invoker Invoker, timeout time.Duration) *Executor {
	return &Executor{invoker: invoker, timeout: timeout}
}

// Execute runs one stage. For non-fatal stages every failure becomes a fallback
// result and the error is always nil. Fatal stages return
// *audit.DraftGenerationFailedError instead.
func (e *Executor) Execute(ctx context.Context, def Definition, actx *audit.Context) (audit.StageResult, error) {
	start := time.Now()

	if def.Precheck != nil {
		if err := def.Precheck(actx); err != nil {
			return e.fail(def, audit.CauseSkipped, err, start)
		}
	}

	req := def.Build(actx)
	if req.Timeout == 0 {
		req.Timeout = e.timeout
	}

	raw, err := e.invoker.Invoke(ctx, e.invoker.Primary(), req)
	if err != nil {
		return e.fail(def, classify(err), err, start)
	}

	decode := def.Decode
	if decode == nil {
		decode = extract.Extract
	}
	record, err := decode(raw)
	if err != nil {
		return e.fail(def, audit.CauseParseError, err, start)
	}

	return audit.StageResult{
		Stage:    def.Name,
		Tag:      audit.TagOK,
		Record:   record,
		Duration: time.Since(start),
	}, nil
}

func (e *Executor) fail(def Definition, cause audit.Cause, err error, start time.Time) (audit.StageResult, error) {
	if def.Fatal {
		return audit.StageResult{}, &audit.DraftGenerationFailedError{Cause: cause, Err: fmt.Errorf("stage %s: %w", def.Name, err)}
	}

	if cause == audit.CauseSkipped {
		zap.L().Info("stage: skipped, using default",
			zap.String("stage", def.Name),
			zap.String("reason", err.Error()),
		)
	} else {
		zap.L().Warn("stage: failed, using default",
			zap.String("stage", def.Name),
			zap.String("cause", string(cause)),
			zap.Error(err),
		)
	}

	return audit.StageResult{
		Stage:    def.Name,
		Tag:      audit.TagFallback,
		Record:   def.Default.Clone(),
		Cause:    cause,
		Error:    err.Error(),
		Duration: time.Since(start),
	}, nil
}

func classify(err error) audit.Cause {
	switch {
	case errors.Is(err, context.Canceled):
		return audit.CauseCanceled
	case errors.Is(err, llm.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return audit.CauseTimeout
	case errors.Is(err, extract.ErrExtraction):
		return audit.CauseParseError
	default:
		return audit.CauseProviderError
	}
}
