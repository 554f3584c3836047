package stage

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/extract"
	"github.com/TobiSchelling/marketaudit/internal/llm"
)

// Stage names, in pipeline order.
const (
	Draft                     = "draft"
	BasicAudit                = "basic_audit"
	FactCheck                 = "fact_check"
	ConsistencyCheck          = "consistency_check"
	CompetitorValidation      = "competitor_validation"
	SpecializedAudits         = "specialized_audits"
	RecommendationFeasibility = "recommendation_feasibility"
	BenchmarkAnalysis         = "benchmark_analysis"
	ScenarioAnalysis          = "scenario_analysis"
	Ensemble                  = "ensemble"
	Synthesis                 = "synthesis"
	SpecificityReview         = "specificity_review"
)

// NoComparisons is the summary of the competitor validation default.
const NoComparisons = "no comparisons available"

// Names returns every configured stage name in pipeline order.
func Names() []string {
	return []string{
		Draft,
		BasicAudit, FactCheck, ConsistencyCheck,
		CompetitorValidation, SpecializedAudits, RecommendationFeasibility, BenchmarkAnalysis, ScenarioAnalysis,
		Ensemble,
		Synthesis,
		SpecificityReview,
	}
}

// Options tune the requests built by the catalog. Temperature is sent as given;
// zero is a valid setting.
type Options struct {
	MaxTokens          int
	SynthesisMaxTokens int
	Temperature        float64
	SynthesisTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 1024
	}
	if o.SynthesisMaxTokens <= 0 {
		o.SynthesisMaxTokens = 4096
	}
	return o
}

// Catalog holds the stage definitions grouped by pipeline state. It is built once
// at startup and never modified.
type Catalog struct {
	Draft       Definition
	Auditing    []Definition
	Enriching   []Definition
	Synthesis   Definition
	Specificity Definition
	opts        Options
}

// NewCatalog builds every stage definition.
func NewCatalog(opts Options) *Catalog {
	opts = opts.withDefaults()
	c := &Catalog{opts: opts}

	c.Draft = Definition{
		Name:   Draft,
		Fatal:  true,
		Build:  c.request(draftPrompt, opts.SynthesisMaxTokens, inputsOnly),
		Decode: decodeDocument,
	}

	c.Auditing = []Definition{
		{
			Name:    BasicAudit,
			Default: audit.Record{"issues": []any{}, "score": nil, "summary": "basic audit unavailable"},
			Build:   c.request(basicAuditPrompt, opts.MaxTokens, withDraft),
		},
		{
			Name:    FactCheck,
			Default: audit.Record{"claims": []any{}, "unsupported_claims": []any{}, "summary": "fact check unavailable"},
			Build:   c.request(factCheckPrompt, opts.MaxTokens, withDraft),
		},
		{
			Name:    ConsistencyCheck,
			Default: audit.Record{"inconsistencies": []any{}, "summary": "consistency check unavailable"},
			Build:   c.request(consistencyPrompt, opts.MaxTokens, withDraft),
		},
	}

	c.Enriching = []Definition{
		{
			Name:     CompetitorValidation,
			Default:  audit.Record{"comparisons": []any{}, "summary": NoComparisons},
			Build:    c.request(competitorPrompt, opts.MaxTokens, withComparisons),
			Precheck: requireComparisons,
		},
		{
			Name:    SpecializedAudits,
			Default: audit.Record{"audits": []any{}, "summary": "specialized audits unavailable"},
			Build:   c.request(specializedPrompt, opts.MaxTokens, withAuxiliary),
		},
		{
			Name:    RecommendationFeasibility,
			Default: audit.Record{"recommendations": []any{}, "summary": "feasibility review unavailable"},
			Build:   c.request(feasibilityPrompt, opts.MaxTokens, withDraft),
		},
		{
			Name:    BenchmarkAnalysis,
			Default: audit.Record{"benchmarks": []any{}, "summary": "benchmark analysis unavailable"},
			Build:   c.request(benchmarkPrompt, opts.MaxTokens, withComparisons),
		},
		{
			Name:    ScenarioAnalysis,
			Default: audit.Record{"scenarios": []any{}, "summary": "scenario analysis unavailable"},
			Build:   c.request(scenarioPrompt, opts.MaxTokens, inputsOnly),
		},
	}

	c.Synthesis = Definition{
		Name:    Synthesis,
		Default: audit.Record{"document": ""},
		Build: func(actx *audit.Context) llm.Request {
			return llm.Request{
				Prompt:      fmt.Sprintf(synthesisPrompt, formatInputs(actx.Inputs), actx.Draft, formatResults(actx)),
				MaxTokens:   opts.SynthesisMaxTokens,
				Temperature: opts.Temperature,
				Timeout:     opts.SynthesisTimeout,
			}
		},
		Decode: decodeDocument,
	}

	c.Specificity = Definition{
		Name:     SpecificityReview,
		Default:  audit.Record{"findings": []any{}},
		Build:    c.request(specificityPrompt, opts.MaxTokens, documentOnly),
		Precheck: requireDocument,
	}

	return c
}

// EnsembleRequest builds the single analytical question every ensemble provider answers.
func (c *Catalog) EnsembleRequest(actx *audit.Context) llm.Request {
	return llm.Request{
		Prompt:      fmt.Sprintf(ensemblePrompt, inputsOnly(actx)),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}
}

// request builds a Build func from a prompt with a single %s placeholder.
func (c *Catalog) request(prompt string, maxTokens int, body func(*audit.Context) string) func(*audit.Context) llm.Request {
	temperature := c.opts.Temperature
	return func(actx *audit.Context) llm.Request {
		return llm.Request{
			Prompt:      fmt.Sprintf(prompt, body(actx)),
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}
	}
}

func decodeDocument(raw string) (audit.Record, error) {
	doc, err := extract.Text(raw)
	if err != nil {
		return nil, err
	}
	return audit.Record{"document": doc}, nil
}

func requireComparisons(actx *audit.Context) error {
	if len(actx.Inputs.Comparisons) == 0 {
		return fmt.Errorf("%w: comparison list is empty", ErrNoInput)
	}
	return nil
}

func requireDocument(actx *audit.Context) error {
	if actx.Document == "" {
		return fmt.Errorf("%w: no synthesized document", ErrNoInput)
	}
	return nil
}
