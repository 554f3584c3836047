package database

// ProductSummary is one row of the product listing.
type ProductSummary struct {
	Slug          string
	Name          string
	Price         float64
	ReleaseStatus string
	Comparisons   int
	SeriousFlags  int
	UpdatedAt     string
}

// Stats holds aggregate database statistics.
type Stats struct {
	Products          int
	Comparisons       int
	AuxiliaryAnalyses int
	QualityFlags      int
	SeriousFlags      int
}
