// Package pipeline drives one audit request through the drafting, auditing,
// enriching and synthesizing states.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/consensus"
	"github.com/TobiSchelling/marketaudit/internal/llm"
	"github.com/TobiSchelling/marketaudit/internal/postprocess"
	"github.com/TobiSchelling/marketaudit/internal/stage"
)

// Pipeline states.
const (
	StateDrafting     = "DRAFTING"
	StateAuditing     = "AUDITING"
	StateEnriching    = "ENRICHING"
	StateSynthesizing = "SYNTHESIZING"
	StateDone         = "DONE"
)

// WarningSynthesisDegraded is recorded when the draft is returned in place of the
// synthesized document.
const WarningSynthesisDegraded = "synthesis degraded to draft"

// Invoker is the provider surface a run needs. *llm.Registry satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, providerID string, req llm.Request) (string, error)
	Primary() string
	IDs() []string
}

// Options configure timeouts and request shapes.
type Options struct {
	StageTimeout    time.Duration
	EnsembleTimeout time.Duration
	Stage           stage.Options
}

// Pipeline runs audits. It holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	invoker  Invoker
	catalog  *stage.Catalog
	executor *stage.Executor
	opts     Options
}

// New creates a pipeline over the given providers.
func New(invoker Invoker, opts Options) *Pipeline {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 90 * time.Second
	}
	if opts.EnsembleTimeout <= 0 {
		opts.EnsembleTimeout = opts.StageTimeout
	}
	return &Pipeline{
		invoker:  invoker,
		catalog:  stage.NewCatalog(opts.Stage),
		executor: stage.NewExecutor(invoker, opts.StageTimeout),
		opts:     opts,
	}
}

// Run executes the full audit for inputs and returns the post-processed document
// with its audit record. The only errors are invalid inputs,
// *audit.DraftGenerationFailedError and audit.ErrCanceled.
func (p *Pipeline) Run(ctx context.Context, inputs audit.Inputs) (string, *audit.FinalAuditRecord, error) {
	if err := inputs.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid inputs: %w", err)
	}

	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID), zap.String("product", inputs.Subject.Name))
	start := time.Now()
	actx := audit.NewContext(inputs)

	// DRAFTING
	log.Info("pipeline: state", zap.String("state", StateDrafting))
	draft, err := p.executor.Execute(ctx, p.catalog.Draft, actx)
	if ctx.Err() != nil {
		return "", nil, canceled(ctx, log, StateDrafting)
	}
	if err != nil {
		log.Error("pipeline: draft generation failed", zap.Error(err))
		return "", nil, err
	}
	actx.Put(draft)
	actx.Draft = draft.Record.String("document", "")

	// AUDITING
	log.Info("pipeline: state", zap.String("state", StateAuditing))
	if err := p.runState(ctx, actx, p.catalog.Auditing); err != nil {
		return "", nil, err
	}
	if ctx.Err() != nil {
		return "", nil, canceled(ctx, log, StateAuditing)
	}

	// ENRICHING
	log.Info("pipeline: state", zap.String("state", StateEnriching))
	if err := p.runState(ctx, actx, p.catalog.Enriching); err != nil {
		return "", nil, err
	}
	p.runEnsemble(ctx, actx)
	if ctx.Err() != nil {
		return "", nil, canceled(ctx, log, StateEnriching)
	}

	// SYNTHESIZING
	log.Info("pipeline: state", zap.String("state", StateSynthesizing))
	var warnings []string
	synthesis, _ := p.executor.Execute(ctx, p.catalog.Synthesis, actx)
	actx.Put(synthesis)
	document := synthesis.Record.String("document", "")
	degraded := !synthesis.OK() || document == ""
	if degraded {
		log.Warn("pipeline: synthesis failed, returning draft", zap.String("cause", string(synthesis.Cause)))
		document = actx.Draft
		warnings = append(warnings, WarningSynthesisDegraded)
	}
	actx.Document = document

	review, _ := p.executor.Execute(ctx, p.catalog.Specificity, actx)
	actx.Put(review)
	if ctx.Err() != nil {
		return "", nil, canceled(ctx, log, StateSynthesizing)
	}

	// DONE
	if actx.Consensus != nil && actx.Consensus.Status == audit.ConsensusDegraded {
		warnings = append(warnings, "ensemble degraded: no provider answered")
	}
	final, qualityWarnings := postprocess.Apply(document, inputs)
	warnings = append(warnings, qualityWarnings...)

	record := &audit.FinalAuditRecord{
		RunID:             runID,
		Stages:            actx.Results,
		Consensus:         actx.Consensus,
		Specificity:       stage.Findings(review.Record),
		SynthesisDegraded: degraded,
		Warnings:          warnings,
		StartedAt:         start,
		Duration:          time.Since(start),
	}

	log.Info("pipeline: state", zap.String("state", StateDone),
		zap.Duration("duration", record.Duration),
		zap.Strings("fallbacks", record.Fallbacks()),
		zap.Int("specificity_findings", len(record.Specificity)),
	)
	return final, record, nil
}

// runState executes defs concurrently. Each goroutine fills its own slot and
// the context is written only after the barrier.
func (p *Pipeline) runState(ctx context.Context, actx *audit.Context, defs []stage.Definition) error {
	results := make([]audit.StageResult, len(defs))
	var g errgroup.Group
	for i, def := range defs {
		g.Go(func() error {
			r, err := p.executor.Execute(ctx, def, actx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, r := range results {
		actx.Put(r)
	}
	return nil
}

func (p *Pipeline) runEnsemble(ctx context.Context, actx *audit.Context) {
	start := time.Now()
	req := p.catalog.EnsembleRequest(actx)
	req.Timeout = p.opts.EnsembleTimeout

	report := consensus.Run(ctx, p.invoker, req)
	actx.Consensus = &report

	result := audit.StageResult{
		Stage:    stage.Ensemble,
		Tag:      audit.TagOK,
		Record:   reportRecord(report),
		Duration: time.Since(start),
	}
	if report.Status == audit.ConsensusDegraded {
		result.Tag = audit.TagFallback
		result.Cause = audit.CauseProviderError
		result.Error = "no provider answered: " + strings.Join(report.Failed, ", ")
	}
	actx.Put(result)
}

func reportRecord(report audit.ConsensusReport) audit.Record {
	data, err := json.Marshal(report)
	if err != nil {
		return audit.Record{"status": report.Status}
	}
	var rec audit.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return audit.Record{"status": report.Status}
	}
	return rec
}

func canceled(ctx context.Context, log *zap.Logger, state string) error {
	log.Warn("pipeline: run canceled", zap.String("state", state), zap.Error(ctx.Err()))
	return fmt.Errorf("%w during %s: %w", audit.ErrCanceled, strings.ToLower(state), ctx.Err())
}

// PlannedState is one state of a dry run.
type PlannedState struct {
	State  string
	Stages []string
	Note   string
}

// Plan lists what Run would execute for inputs without calling any provider.
func (p *Pipeline) Plan(inputs audit.Inputs) []PlannedState {
	names := func(defs []stage.Definition) []string {
		out := make([]string, len(defs))
		for i, d := range defs {
			out[i] = d.Name
		}
		return out
	}

	ids := p.invoker.IDs()
	ensemble := fmt.Sprintf("single provider report, no ensemble calls (%d provider registered)", len(ids))
	if len(ids) >= 2 {
		asked := ids
		if len(asked) > consensus.MaxProviders {
			asked = asked[:consensus.MaxProviders]
		}
		ensemble = "ensemble across " + strings.Join(asked, ", ")
	}
	enrichNote := ensemble
	if len(inputs.Comparisons) == 0 {
		enrichNote = stage.CompetitorValidation + " skipped (" + stage.NoComparisons + "); " + ensemble
	}

	banner := "no data-quality banner"
	if flags := inputs.SeriousFlags(); len(flags) > 0 {
		banner = fmt.Sprintf("data-quality banner for %d flagged source(s)", len(flags))
	}

	return []PlannedState{
		{State: StateDrafting, Stages: names([]stage.Definition{p.catalog.Draft}), Note: "primary provider " + p.invoker.Primary()},
		{State: StateAuditing, Stages: names(p.catalog.Auditing), Note: "concurrent"},
		{State: StateEnriching, Stages: append(names(p.catalog.Enriching), stage.Ensemble), Note: enrichNote},
		{State: StateSynthesizing, Stages: names([]stage.Definition{p.catalog.Synthesis, p.catalog.Specificity}), Note: "specificity review is advisory"},
		{State: StateDone, Note: "metrics snapshot, " + banner},
	}
}
