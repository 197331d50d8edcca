package model

// SearchFilters narrows GET /api/bugs/search results by exact-match fields.
type SearchFilters struct {
	Query    string
	Product  string
	Status   Status
	Severity Severity
	Limit    int
	Offset   int
}

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Normalize clamps Limit/Offset to their documented bounds.
func (f *SearchFilters) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	if f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// MatchDetail describes which metadata fields agreed/disagreed between a
// submission and a candidate, plus a qualitative confidence bucket.
type MatchDetail struct {
	MatchingFields  []string `json:"matching_fields"`
	DifferingFields []string `json:"differing_fields"`
	ConfidenceLevel string   `json:"confidence_level"`
}

// Candidate is one ranked result from the similarity engine (C4).
type Candidate struct {
	Bug            Bug         `json:"bug"`
	VectorScore    float32     `json:"vector_score"`
	MetadataScore  float32     `json:"metadata_score"`
	HybridScore    float32     `json:"hybrid_score"`
	IsCrossRegion  bool        `json:"is_cross_region"`
	MatchDetails   MatchDetail `json:"match_details"`
}
