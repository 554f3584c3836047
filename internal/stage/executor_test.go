package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/marketaudit/internal/audit"
	"github.com/TobiSchelling/marketaudit/internal/llm"
)

type fakeInvoker struct {
	mu       sync.Mutex
	respond  func(ctx context.Context, req llm.Request) (string, error)
	requests []llm.Request
}

func (f *fakeInvoker) Invoke(ctx context.Context, _ string, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(ctx, req)
}

func (f *fakeInvoker) Primary() string { return "primary" }

func (f *fakeInvoker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func respondWith(raw string, err error) *fakeInvoker {
	return &fakeInvoker{respond: func(context.Context, llm.Request) (string, error) { return raw, err }}
}

func testContext() *audit.Context {
	actx := audit.NewContext(audit.Inputs{
		Subject:  audit.Subject{Name: "Starfall", Price: 19.99, ReleaseStatus: "coming soon"},
		Snapshot: audit.Snapshot{Followers: 1200, Wishlists: 8000},
		Comparisons: []audit.Comparison{
			{Name: "Moonrise", Snapshot: audit.Snapshot{Followers: 3000}},
		},
	})
	actx.Draft = "# Starfall audit\n\nDraft body."
	actx.Document = "# Starfall audit\n\nFinal body."
	return actx
}

func nonFatal(c *Catalog) []Definition {
	defs := append([]Definition{}, c.Auditing...)
	defs = append(defs, c.Enriching...)
	return append(defs, c.Synthesis, c.Specificity)
}

func TestExecute_OK(t *testing.T) {
	inv := respondWith("```json\n{\"issues\": [], \"score\": 8, \"summary\": \"clean\"}\n```", nil)
	c := NewCatalog(Options{})

	result, err := NewExecutor(inv, time.Second).Execute(context.Background(), c.Auditing[0], testContext())
	require.NoError(t, err)

	assert.Equal(t, BasicAudit, result.Stage)
	assert.True(t, result.OK())
	assert.Equal(t, audit.Cause(""), result.Cause)
	assert.Equal(t, "clean", result.Record.String("summary", ""))
	assert.Equal(t, 1, inv.calls())
}

func TestExecute_FailOpenEveryStage(t *testing.T) {
	modes := []struct {
		name  string
		raw   string
		err   error
		cause audit.Cause
	}{
		{"timeout", "", fmt.Errorf("provider primary: %w", llm.ErrProviderTimeout), audit.CauseTimeout},
		{"provider error", "", &llm.ProviderError{Provider: "primary", StatusCode: 500, Err: errors.New("boom")}, audit.CauseProviderError},
		{"parse error", "   ", nil, audit.CauseParseError},
	}

	c := NewCatalog(Options{})
	for _, def := range nonFatal(c) {
		for _, mode := range modes {
			t.Run(def.Name+"/"+mode.name, func(t *testing.T) {
				inv := respondWith(mode.raw, mode.err)

				result, err := NewExecutor(inv, time.Second).Execute(context.Background(), def, testContext())
				require.NoError(t, err)

				assert.Equal(t, def.Name, result.Stage)
				assert.Equal(t, audit.TagFallback, result.Tag)
				assert.Equal(t, mode.cause, result.Cause)
				assert.Equal(t, def.Default, result.Record)
				assert.NotEmpty(t, result.Error)
			})
		}
	}
}

func TestExecute_MalformedJSON(t *testing.T) {
	inv := respondWith(`{"issues": [`, nil)
	c := NewCatalog(Options{})

	result, err := NewExecutor(inv, time.Second).Execute(context.Background(), c.Auditing[1], testContext())
	require.NoError(t, err)
	assert.Equal(t, audit.CauseParseError, result.Cause)
	assert.Equal(t, c.Auditing[1].Default, result.Record)
}

func TestExecute_FatalDraft(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		err   error
		cause audit.Cause
	}{
		{"timeout", "", llm.ErrProviderTimeout, audit.CauseTimeout},
		{"provider error", "", &llm.ProviderError{Provider: "primary", StatusCode: 401, Err: errors.New("unauthorized")}, audit.CauseProviderError},
		{"empty document", "```markdown\n```", nil, audit.CauseParseError},
	}

	c := NewCatalog(Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExecutor(respondWith(tt.raw, tt.err), time.Second).Execute(context.Background(), c.Draft, testContext())
			require.Error(t, err)

			var draftErr *audit.DraftGenerationFailedError
			require.ErrorAs(t, err, &draftErr)
			assert.Equal(t, tt.cause, draftErr.Cause)
			assert.ErrorIs(t, err, audit.ErrDraftGenerationFailed)
		})
	}
}

func TestExecute_DraftDocument(t *testing.T) {
	inv := respondWith("```markdown\n# Starfall\n\nBody.\n```", nil)
	c := NewCatalog(Options{})

	result, err := NewExecutor(inv, time.Second).Execute(context.Background(), c.Draft, testContext())
	require.NoError(t, err)
	assert.Equal(t, "# Starfall\n\nBody.", result.Record.String("document", ""))
}

func TestExecute_EmptyComparisonsSkipped(t *testing.T) {
	inv := respondWith(`{"comparisons": []}`, nil)
	actx := testContext()
	actx.Inputs.Comparisons = nil

	c := NewCatalog(Options{})
	var def Definition
	for _, d := range c.Enriching {
		if d.Name == CompetitorValidation {
			def = d
		}
	}

	result, err := NewExecutor(inv, time.Second).Execute(context.Background(), def, actx)
	require.NoError(t, err)

	assert.Equal(t, audit.TagFallback, result.Tag)
	assert.Equal(t, audit.CauseSkipped, result.Cause)
	assert.Equal(t, NoComparisons, result.Record.String("summary", ""))
	assert.Zero(t, inv.calls(), "no model call for an empty comparison list")
}

func TestExecute_SpecificitySkippedWithoutDocument(t *testing.T) {
	inv := respondWith(`{"findings": []}`, nil)
	actx := testContext()
	actx.Document = ""

	c := NewCatalog(Options{})
	result, err := NewExecutor(inv, time.Second).Execute(context.Background(), c.Specificity, actx)
	require.NoError(t, err)
	assert.Equal(t, audit.CauseSkipped, result.Cause)
	assert.Zero(t, inv.calls())
}

func TestExecute_DefaultIsCloned(t *testing.T) {
	c := NewCatalog(Options{})
	def := c.Auditing[0]

	result, err := NewExecutor(respondWith("", llm.ErrProviderTimeout), time.Second).Execute(context.Background(), def, testContext())
	require.NoError(t, err)

	result.Record["summary"] = "mutated"
	assert.Equal(t, "basic audit unavailable", def.Default.String("summary", ""))
}

func TestExecute_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &fakeInvoker{respond: func(ctx context.Context, _ llm.Request) (string, error) {
		return "", ctx.Err()
	}}
	c := NewCatalog(Options{})

	result, err := NewExecutor(inv, time.Second).Execute(ctx, c.Auditing[2], testContext())
	require.NoError(t, err)
	assert.Equal(t, audit.CauseCanceled, result.Cause)
}

func TestExecute_Timeouts(t *testing.T) {
	inv := respondWith(`{"issues": []}`, nil)
	c := NewCatalog(Options{SynthesisTimeout: 3 * time.Minute})
	exec := NewExecutor(inv, 45*time.Second)

	_, err := exec.Execute(context.Background(), c.Auditing[0], testContext())
	require.NoError(t, err)
	_, err = exec.Execute(context.Background(), c.Synthesis, testContext())
	require.NoError(t, err)

	require.Len(t, inv.requests, 2)
	assert.Equal(t, 45*time.Second, inv.requests[0].Timeout)
	assert.Equal(t, 3*time.Minute, inv.requests[1].Timeout)
}

func TestCatalog_Temperature(t *testing.T) {
	actx := testContext()

	zero := NewCatalog(Options{Temperature: 0})
	assert.Equal(t, 0.0, zero.Draft.Build(actx).Temperature)
	assert.Equal(t, 0.0, zero.Auditing[0].Build(actx).Temperature)
	assert.Equal(t, 0.0, zero.Synthesis.Build(actx).Temperature)
	assert.Equal(t, 0.0, zero.EnsembleRequest(actx).Temperature)

	warm := NewCatalog(Options{Temperature: 0.7})
	assert.Equal(t, 0.7, warm.Enriching[0].Build(actx).Temperature)
	assert.Equal(t, 0.7, warm.EnsembleRequest(actx).Temperature)
}

func TestSynthesisRequest_IncludesEveryRecordInOrder(t *testing.T) {
	actx := testContext()
	for i, name := range reviewOrder {
		actx.Put(audit.StageResult{Stage: name, Tag: audit.TagOK, Record: audit.Record{"n": i}})
	}
	actx.Put(audit.StageResult{Stage: FactCheck, Tag: audit.TagFallback, Cause: audit.CauseTimeout, Record: audit.Record{"n": 1}})

	req := NewCatalog(Options{}).Synthesis.Build(actx)

	assert.Contains(t, req.Prompt, actx.Draft)
	assert.Contains(t, req.Prompt, "## fact_check (unavailable: timeout)")
	last := -1
	for _, name := range reviewOrder {
		idx := strings.Index(req.Prompt, "## "+name)
		require.GreaterOrEqual(t, idx, 0, name)
		assert.Greater(t, idx, last, name)
		last = idx
	}
}

func TestNames(t *testing.T) {
	names := Names()
	assert.Len(t, names, 12)
	assert.Equal(t, Draft, names[0])
	assert.Equal(t, SpecificityReview, names[len(names)-1])

	c := NewCatalog(Options{})
	defined := map[string]bool{c.Draft.Name: true, c.Synthesis.Name: true, c.Specificity.Name: true, Ensemble: true}
	for _, d := range append(append([]Definition{}, c.Auditing...), c.Enriching...) {
		defined[d.Name] = true
	}
	for _, name := range names {
		assert.True(t, defined[name], name)
	}
}

func TestFindings(t *testing.T) {
	rec := audit.Record{"findings": []any{
		map[string]any{"quote": "sales may grow", "issue": "no number", "suggestion": "give a range"},
		"not an object",
		map[string]any{},
	}}

	got := Findings(rec)
	require.Len(t, got, 1)
	assert.Equal(t, "sales may grow", got[0].Quote)
	assert.Nil(t, Findings(audit.Record{}))
}
