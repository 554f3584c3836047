package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/llm"
	"github.com/TobiSchelling/marketaudit/internal/postprocess"
	"github.com/TobiSchelling/marketaudit/internal/stage"
)

// promptMarkers identify a stage from its prompt text.
var promptMarkers = map[string]string{
	"writing an audit of a game":          stage.Draft,
	"reviewing a draft market audit":      stage.BasicAudit,
	"checking every numeric":              stage.FactCheck,
	"internal contradictions":             stage.ConsistencyCheck,
	"validating how a product compares":   stage.CompetitorValidation,
	"combining specialist analyses":       stage.SpecializedAudits,
	"judging whether each recommendation": stage.RecommendationFeasibility,
	"benchmarking a product's":            stage.BenchmarkAnalysis,
	"projecting launch outcomes":          stage.ScenarioAnalysis,
	"Answer independently":                stage.Ensemble,
	"final editor of a market audit":      stage.Synthesis,
	"flagging vague statements":           stage.SpecificityReview,
}

func stageOf(prompt string) string {
	for marker, name := range promptMarkers {
		if strings.Contains(prompt, marker) {
			return name
		}
	}
	return "unknown"
}

type handler func(ctx context.Context, provider, stageName string) (string, error)

type scriptedInvoker struct {
	ids    []string
	handle handler
	mu     sync.Mutex
	calls  []string
}

func (s *scriptedInvoker) Invoke(ctx context.Context, id string, req llm.Request) (string, error) {
	name := stageOf(req.Prompt)
	s.mu.Lock()
	s.calls = append(s.calls, id+"/"+name)
	s.mu.Unlock()
	return s.handle(ctx, id, name)
}

func (s *scriptedInvoker) Primary() string { return s.ids[0] }
func (s *scriptedInvoker) IDs() []string   { return s.ids }

func (s *scriptedInvoker) called(entry string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == entry {
			return true
		}
	}
	return false
}

func happy(_ context.Context, provider, name string) (string, error) {
	switch name {
	case stage.Draft:
		return "# Starfall audit\n\nDraft text.", nil
	case stage.Synthesis:
		return "```markdown\n# Starfall audit\n\nFinal text.\n```", nil
	case stage.SpecificityReview:
		return `{"findings": [{"quote": "sales may grow", "issue": "no figure"}]}`, nil
	case stage.Ensemble:
		return fmt.Sprintf(`{"market_fit": "strong", "summary": "%s view"}`, provider), nil
	}
	return `{"summary": "fine"}`, nil
}

func testInputs() audit.Inputs {
	return audit.Inputs{
		Subject:  audit.Subject{Name: "Starfall", Price: 19.99, ReleaseStatus: "coming soon"},
		Snapshot: audit.Snapshot{Followers: 1200, Wishlists: 8000},
		Comparisons: []audit.Comparison{
			{Name: "Moonrise", Snapshot: audit.Snapshot{Followers: 3000}},
		},
	}
}

func newPipeline(inv Invoker) *Pipeline {
	return New(inv, Options{StageTimeout: time.Second, EnsembleTimeout: time.Second})
}

func stageKeys(rec *audit.FinalAuditRecord) []string {
	keys := make([]string, 0, len(rec.Stages))
	for k := range rec.Stages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func allNames() []string {
	names := stage.Names()
	sort.Strings(names)
	return names
}

func TestRun_Complete(t *testing.T) {
	inv := &scriptedInvoker{ids: []string{"primary"}, handle: happy}

	doc, rec, err := newPipeline(inv).Run(context.Background(), testInputs())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, allNames(), stageKeys(rec))
	assert.Empty(t, rec.Fallbacks())
	assert.NotEmpty(t, rec.RunID)
	assert.False(t, rec.SynthesisDegraded)
	assert.Empty(t, rec.Warnings)

	assert.True(t, strings.HasPrefix(doc, "# Starfall audit\n"+postprocess.SnapshotStart))
	assert.Contains(t, doc, "Final text.")
	assert.NotContains(t, doc, "Draft text.")

	require.NotNil(t, rec.Consensus)
	assert.Equal(t, audit.ConsensusSingleProvider, rec.Consensus.Status)
	assert.False(t, inv.called("primary/"+stage.Ensemble))

	require.Len(t, rec.Specificity, 1)
	assert.Equal(t, "sales may grow", rec.Specificity[0].Quote)
}

func TestRun_FailOpenEverywhereButDraft(t *testing.T) {
	failures := []error{
		llm.ErrProviderTimeout,
		&llm.ProviderError{Provider: "primary", StatusCode: 503, Err: errors.New("unavailable")},
		nil, // unparseable output
	}

	for _, failure := range failures {
		t.Run(fmt.Sprintf("%v", failure), func(t *testing.T) {
			inv := &scriptedInvoker{ids: []string{"primary"}, handle: func(ctx context.Context, provider, name string) (string, error) {
				if name == stage.Draft {
					return happy(ctx, provider, name)
				}
				if failure == nil {
					return "   ", nil
				}
				return "", failure
			}}

			doc, rec, err := newPipeline(inv).Run(context.Background(), testInputs())
			require.NoError(t, err)

			assert.Equal(t, allNames(), stageKeys(rec))
			assert.True(t, rec.SynthesisDegraded)
			assert.Contains(t, rec.Warnings, WarningSynthesisDegraded)
			assert.Contains(t, doc, "Draft text.")
			assert.Empty(t, rec.Specificity)

			for name, r := range rec.Stages {
				switch name {
				case stage.Draft, stage.Ensemble:
					assert.True(t, r.OK(), name)
				default:
					assert.Equal(t, audit.TagFallback, r.Tag, name)
				}
			}
			// The review runs against the draft that replaced the document.
			assert.True(t, inv.called("primary/"+stage.SpecificityReview))
		})
	}
}

func TestRun_FatalDraft(t *testing.T) {
	inv := &scriptedInvoker{ids: []string{"primary"}, handle: func(ctx context.Context, provider, name string) (string, error) {
		if name == stage.Draft {
			return "", &llm.ProviderError{Provider: provider, StatusCode: 401, Err: errors.New("invalid api key")}
		}
		return happy(ctx, provider, name)
	}}

	doc, rec, err := newPipeline(inv).Run(context.Background(), testInputs())
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrDraftGenerationFailed)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Empty(t, doc)
	assert.Nil(t, rec)
	assert.False(t, inv.called("primary/"+stage.BasicAudit))
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &scriptedInvoker{ids: []string{"primary"}, handle: func(c context.Context, provider, name string) (string, error) {
		if name == stage.FactCheck {
			cancel()
			return "", c.Err()
		}
		return happy(c, provider, name)
	}}

	doc, rec, err := newPipeline(inv).Run(ctx, testInputs())
	require.Error(t, err)
	assert.ErrorIs(t, err, audit.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, doc)
	assert.Nil(t, rec)
	assert.False(t, inv.called("primary/"+stage.Synthesis))
}

func TestRun_CanceledDuringDraft(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &scriptedInvoker{ids: []string{"primary"}, handle: func(c context.Context, _, _ string) (string, error) {
		return "", c.Err()
	}}

	_, rec, err := newPipeline(inv).Run(ctx, testInputs())
	assert.ErrorIs(t, err, audit.ErrCanceled)
	assert.NotErrorIs(t, err, audit.ErrDraftGenerationFailed)
	assert.Nil(t, rec)
}

func TestRun_EmptyComparisons(t *testing.T) {
	inv := &scriptedInvoker{ids: []string{"primary"}, handle: happy}
	inputs := testInputs()
	inputs.Comparisons = nil

	_, rec, err := newPipeline(inv).Run(context.Background(), inputs)
	require.NoError(t, err)

	r := rec.Stages[stage.CompetitorValidation]
	assert.Equal(t, audit.TagFallback, r.Tag)
	assert.Equal(t, audit.CauseSkipped, r.Cause)
	assert.Equal(t, stage.NoComparisons, r.Record.String("summary", ""))
	assert.False(t, inv.called("primary/"+stage.CompetitorValidation))
}

func TestRun_Ensemble(t *testing.T) {
	inv := &scriptedInvoker{ids: []string{"primary", "second", "third"}, handle: func(ctx context.Context, provider, name string) (string, error) {
		if name == stage.Ensemble && provider == "third" {
			return "", llm.ErrProviderTimeout
		}
		return happy(ctx, provider, name)
	}}

	_, rec, err := newPipeline(inv).Run(context.Background(), testInputs())
	require.NoError(t, err)

	require.NotNil(t, rec.Consensus)
	assert.Equal(t, audit.ConsensusOK, rec.Consensus.Status)
	assert.Equal(t, []string{"third"}, rec.Consensus.Failed)
	require.Len(t, rec.Consensus.Consensus, 1)
	assert.Equal(t, "market_fit", rec.Consensus.Consensus[0].Field)
	assert.Equal(t, "primary: primary view\nsecond: second view", rec.Consensus.Summary)

	ens := rec.Stages[stage.Ensemble]
	assert.True(t, ens.OK())
	assert.Equal(t, audit.ConsensusOK, ens.Record.String("status", ""))

	// Only the primary serves regular stages.
	assert.False(t, inv.called("second/"+stage.BasicAudit))
}

func TestRun_EnsembleDegraded(t *testing.T) {
	inv := &scriptedInvoker{ids: []string{"primary", "second"}, handle: func(ctx context.Context, provider, name string) (string, error) {
		if name == stage.Ensemble {
			return "no json here", nil
		}
		return happy(ctx, provider, name)
	}}

	_, rec, err := newPipeline(inv).Run(context.Background(), testInputs())
	require.NoError(t, err)

	assert.Equal(t, audit.ConsensusDegraded, rec.Consensus.Status)
	ens := rec.Stages[stage.Ensemble]
	assert.Equal(t, audit.TagFallback, ens.Tag)
	assert.Equal(t, audit.CauseProviderError, ens.Cause)
	assert.Contains(t, rec.Warnings, "ensemble degraded: no provider answered")
}

func TestRun_QualityBanner(t *testing.T) {
	inv := &scriptedInvoker{ids: []string{"primary"}, handle: happy}
	inputs := testInputs()
	inputs.QualityFlags = []audit.QualityFlag{{Source: "storefront", Placeholder: true}}

	doc, rec, err := newPipeline(inv).Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.Contains(t, doc, postprocess.WarningStart)
	assert.Contains(t, rec.Warnings, "data quality: storefront (placeholder data)")
}

func TestRun_InvalidInputs(t *testing.T) {
	inv := &scriptedInvoker{ids: []string{"primary"}, handle: happy}
	inputs := testInputs()
	for i := 0; i < audit.MaxComparisons; i++ {
		inputs.Comparisons = append(inputs.Comparisons, audit.Comparison{Name: fmt.Sprintf("c%d", i)})
	}

	_, _, err := newPipeline(inv).Run(context.Background(), inputs)
	require.Error(t, err)
	assert.Empty(t, inv.calls)
}

func TestPlan(t *testing.T) {
	inv := &scriptedInvoker{ids: []string{"primary", "second"}, handle: happy}
	inputs := testInputs()
	inputs.Comparisons = nil

	plan := newPipeline(inv).Plan(inputs)
	require.Len(t, plan, 5)

	var planned []string
	for _, s := range plan {
		planned = append(planned, s.Stages...)
	}
	assert.Equal(t, stage.Names(), planned)
	assert.Equal(t, StateEnriching, plan[2].State)
	assert.Contains(t, plan[2].Note, "competitor_validation skipped")
	assert.Contains(t, plan[2].Note, "ensemble across primary, second")
	assert.Empty(t, inv.calls)
}
