// Package audit holds the data model shared by every stage of the audit pipeline.
package audit

import (
	"encoding/json"
	"time"
)

// Record is a structured record decoded from model output.
type Record map[string]any

// Clone returns a deep copy so defaults are never aliased between runs.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		out := make(Record, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// String returns the string value for key, or fallback when absent or not a string.
func (r Record) String(key, fallback string) string {
	if v, ok := r[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// Tag marks whether a stage produced a real answer or its declared default.
type Tag string

const (
	TagOK       Tag = "ok"
	TagFallback Tag = "fallback"
)

// Cause explains why a stage fell back to its default record.
type Cause string

const (
	CauseNone          Cause = ""
	CauseTimeout       Cause = "timeout"
	CauseProviderError Cause = "provider_error"
	CauseParseError    Cause = "parse_error"
	CauseSkipped       Cause = "skipped"
	CauseCanceled      Cause = "canceled"
)

// StageResult is the outcome of executing one stage definition.
type StageResult struct {
	Stage    string        `json:"stage"`
	Tag      Tag           `json:"tag"`
	Record   Record        `json:"record"`
	Cause    Cause         `json:"cause,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// OK reports whether the stage produced a real answer.
func (r StageResult) OK() bool {
	return r.Tag == TagOK
}

// ProviderResponse is one provider's answer to an ensemble question.
type ProviderResponse struct {
	Provider string
	Raw      string
	Record   Record
	Err      error
}

// Consensus report states.
const (
	ConsensusOK             = "ok"
	ConsensusSingleProvider = "single_provider"
	ConsensusDegraded       = "degraded"
)

// ConsensusReport reconciles the answers of several providers to one question.
type ConsensusReport struct {
	Status    string             `json:"status"`
	Providers []string           `json:"providers"`
	Failed    []string           `json:"failed,omitempty"`
	Consensus []ConsensusInsight `json:"consensus"`
	Divergent []DivergentInsight `json:"divergent"`
	Summary   string             `json:"summary"`
}

// ConsensusInsight is a field on which at least two providers agree.
type ConsensusInsight struct {
	Field     string   `json:"field"`
	Value     any      `json:"value"`
	Providers []string `json:"providers"`
}

// DivergentInsight is a field on which providers disagree, with every provider's value.
type DivergentInsight struct {
	Field  string         `json:"field"`
	Values map[string]any `json:"values"`
}

// SpecificityFinding flags one vague or unmeasurable statement in the document.
type SpecificityFinding struct {
	Quote      string `json:"quote"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion,omitempty"`
}

// FinalAuditRecord is the caller-facing aggregate of a pipeline run.
type FinalAuditRecord struct {
	RunID             string                 `json:"run_id"`
	Stages            map[string]StageResult `json:"stages"`
	Consensus         *ConsensusReport       `json:"consensus,omitempty"`
	Specificity       []SpecificityFinding   `json:"specificity"`
	SynthesisDegraded bool                   `json:"synthesis_degraded"`
	Warnings          []string               `json:"warnings,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	Duration          time.Duration          `json:"duration_ns"`
}

// Fallbacks returns the names of stages that fell back to their default.
func (a *FinalAuditRecord) Fallbacks() []string {
	var names []string
	for name, r := range a.Stages {
		if !r.OK() {
			names = append(names, name)
		}
	}
	return names
}
