package audit

import "fmt"

// MaxComparisons bounds the comparison entity list of a single request.
const MaxComparisons = 10

// Inputs is everything a caller supplies for one audit request.
type Inputs struct {
	Subject      Subject             `json:"subject" yaml:"subject"`
	Snapshot     Snapshot            `json:"snapshot" yaml:"snapshot"`
	Comparisons  []Comparison        `json:"comparisons,omitempty" yaml:"comparisons"`
	Auxiliary    []AuxiliaryAnalysis `json:"auxiliary,omitempty" yaml:"auxiliary"`
	QualityFlags []QualityFlag       `json:"quality_flags,omitempty" yaml:"quality_flags"`
}

// Subject describes the product under audit.
type Subject struct {
	Slug          string   `json:"slug" yaml:"slug"`
	Name          string   `json:"name" yaml:"name"`
	Tags          []string `json:"tags,omitempty" yaml:"tags"`
	Price         float64  `json:"price" yaml:"price"`
	ReleaseStatus string   `json:"release_status" yaml:"release_status"`
	Description   string   `json:"description,omitempty" yaml:"description"`
	URL           string   `json:"url,omitempty" yaml:"url"`
}

// Snapshot holds the market metrics for one product.
type Snapshot struct {
	Followers    int64           `json:"followers" yaml:"followers"`
	Reviews      int64           `json:"reviews" yaml:"reviews"`
	Wishlists    int64           `json:"wishlists" yaml:"wishlists"`
	QualityScore float64         `json:"quality_score" yaml:"quality_score"`
	Revenue      RevenueEstimate `json:"revenue" yaml:"revenue"`
}

// RevenueEstimate is a point estimate with its confidence range.
type RevenueEstimate struct {
	Estimate   float64 `json:"estimate" yaml:"estimate"`
	Low        float64 `json:"low" yaml:"low"`
	High       float64 `json:"high" yaml:"high"`
	Confidence string  `json:"confidence,omitempty" yaml:"confidence"`
}

// Comparison is a competing product with the same snapshot shape as the subject.
type Comparison struct {
	Name     string   `json:"name" yaml:"name"`
	Snapshot Snapshot `json:"snapshot" yaml:"snapshot"`
}

// AuxiliaryAnalysis is an optional precomputed analysis, e.g. an image-quality score.
type AuxiliaryAnalysis struct {
	Kind   string `json:"kind" yaml:"kind"`
	Source string `json:"source,omitempty" yaml:"source"`
	Record Record `json:"record" yaml:"record"`
}

// Severity levels for data-source quality flags.
const (
	SeverityInfo    = "info"
	SeveritySerious = "serious"
)

// QualityFlag records a data-source quality problem found while collecting inputs.
type QualityFlag struct {
	Source      string `json:"source" yaml:"source"`
	Severity    string `json:"severity" yaml:"severity"`
	Placeholder bool   `json:"placeholder" yaml:"placeholder"`
	Note        string `json:"note,omitempty" yaml:"note"`
}

// Serious reports whether the flag warrants a warning banner in the document.
func (f QualityFlag) Serious() bool {
	return f.Placeholder || f.Severity == SeveritySerious
}

// Validate checks the structural bounds of the inputs.
func (in *Inputs) Validate() error {
	if in.Subject.Name == "" {
		return fmt.Errorf("subject name is required")
	}
	if len(in.Comparisons) > MaxComparisons {
		return fmt.Errorf("too many comparison entities: %d (max %d)", len(in.Comparisons), MaxComparisons)
	}
	for i, c := range in.Comparisons {
		if c.Name == "" {
			return fmt.Errorf("comparison %d has no name", i)
		}
	}
	return nil
}

// SeriousFlags returns the quality flags that require a warning banner.
func (in *Inputs) SeriousFlags() []QualityFlag {
	var flags []QualityFlag
	for _, f := range in.QualityFlags {
		if f.Serious() {
			flags = append(flags, f)
		}
	}
	return flags
}
