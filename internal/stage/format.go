package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/marketaudit/internal/audit"
)

// reviewOrder is the fixed order in which stage records are handed to synthesis.
var reviewOrder = []string{
	BasicAudit, FactCheck, ConsistencyCheck,
	CompetitorValidation, SpecializedAudits, RecommendationFeasibility, BenchmarkAnalysis, ScenarioAnalysis,
	Ensemble,
}

func inputsOnly(actx *audit.Context) string {
	return formatInputs(actx.Inputs)
}

func withDraft(actx *audit.Context) string {
	return fmt.Sprintf("Product data:\n%s\nDraft:\n%s", formatInputs(actx.Inputs), actx.Draft)
}

func withComparisons(actx *audit.Context) string {
	var b strings.Builder
	b.WriteString("Product:\n")
	writeSnapshot(&b, actx.Inputs.Subject.Name, actx.Inputs.Snapshot)
	b.WriteString("\nComparable titles:\n")
	for _, c := range actx.Inputs.Comparisons {
		writeSnapshot(&b, c.Name, c.Snapshot)
	}
	return b.String()
}

func withAuxiliary(actx *audit.Context) string {
	var b strings.Builder
	b.WriteString(formatInputs(actx.Inputs))
	b.WriteString("\nSpecialist analyses:\n")
	if len(actx.Inputs.Auxiliary) == 0 {
		b.WriteString("(none supplied)\n")
	}
	for _, a := range actx.Inputs.Auxiliary {
		fmt.Fprintf(&b, "- %s", a.Kind)
		if a.Source != "" {
			fmt.Fprintf(&b, " (%s)", a.Source)
		}
		fmt.Fprintf(&b, ": %s\n", compactJSON(a.Record))
	}
	return b.String()
}

func documentOnly(actx *audit.Context) string {
	return fmt.Sprintf("Document:\n%s", actx.Document)
}

func formatInputs(in audit.Inputs) string {
	var b strings.Builder
	s := in.Subject
	fmt.Fprintf(&b, "Name: %s\n", s.Name)
	if len(s.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(s.Tags, ", "))
	}
	fmt.Fprintf(&b, "Price: %.2f\n", s.Price)
	if s.ReleaseStatus != "" {
		fmt.Fprintf(&b, "Release status: %s\n", s.ReleaseStatus)
	}
	if s.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", s.Description)
	}
	writeSnapshot(&b, "Metrics", in.Snapshot)
	if n := len(in.Comparisons); n > 0 {
		fmt.Fprintf(&b, "Comparable titles: %d\n", n)
	}
	return b.String()
}

func writeSnapshot(b *strings.Builder, label string, s audit.Snapshot) {
	fmt.Fprintf(b, "- %s: followers=%d reviews=%d wishlists=%d quality_score=%.1f revenue=%.0f (%.0f-%.0f",
		label, s.Followers, s.Reviews, s.Wishlists, s.QualityScore,
		s.Revenue.Estimate, s.Revenue.Low, s.Revenue.High)
	if s.Revenue.Confidence != "" {
		fmt.Fprintf(b, ", %s confidence", s.Revenue.Confidence)
	}
	b.WriteString(")\n")
}

// formatResults renders every review record, real or default, in reviewOrder.
func formatResults(actx *audit.Context) string {
	var b strings.Builder
	for _, name := range reviewOrder {
		r, ok := actx.Results[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## %s", name)
		if !r.OK() {
			fmt.Fprintf(&b, " (unavailable: %s)", r.Cause)
		}
		fmt.Fprintf(&b, "\n%s\n\n", compactJSON(r.Record))
	}
	return b.String()
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Findings reads the specificity findings out of a specificity_review record.
// Malformed entries are dropped.
func Findings(rec audit.Record) []audit.SpecificityFinding {
	raw, ok := rec["findings"].([]any)
	if !ok {
		return nil
	}
	var out []audit.SpecificityFinding
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		f := audit.SpecificityFinding{}
		f.Quote, _ = m["quote"].(string)
		f.Issue, _ = m["issue"].(string)
		f.Suggestion, _ = m["suggestion"].(string)
		if f.Quote == "" && f.Issue == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}
