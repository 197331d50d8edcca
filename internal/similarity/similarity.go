// Package similarity implements C4: hybrid vector+metadata ranking over
// candidates returned by the vector index.
package similarity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/bugdedup/internal/model"
	"github.com/ashita-ai/bugdedup/internal/vectorindex"
)

const (
	vectorWeight   = 0.7
	metadataWeight = 0.3
	crossRegionPenalty = 0.05
	loosePreFilterFactor = 0.8
)

var fieldWeights = map[string]float32{
	"device":        0.20,
	"build_version": 0.30,
	"region":        0.20,
	"os_version":    0.15,
	"severity":      0.15,
}

// NeighborSearcher is C2's read path as seen by the similarity engine.
type NeighborSearcher interface {
	Search(query []float32, k int) ([]vectorindex.Match, error)
}

// BugLoader hydrates candidate bugs by id, e.g. from Postgres (C6).
type BugLoader interface {
	LoadBugs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Bug, error)
}

// Engine is C4: it owns no state beyond its collaborators.
type Engine struct {
	Index  NeighborSearcher
	Loader BugLoader
}

func New(index NeighborSearcher, loader BugLoader) *Engine {
	return &Engine{Index: index, Loader: loader}
}

// incoming captures the metadata fields of a submission used for scoring,
// independent of whether it arrived as a Submission or an existing Bug
// (GET /api/bugs/{id}/similar scores an existing Bug converted to a Submission).
type incoming struct {
	device       string
	buildVersion string
	region       string
	osVersion    string
	severity     string
}

func incomingFromSubmission(s model.Submission) incoming {
	return incoming{
		device:       s.Device,
		buildVersion: s.BuildVersion,
		region:       s.Region,
		osVersion:    s.OSVersion,
		severity:     string(s.Severity),
	}
}

// FindSimilar implements §4.4's algorithm on an already-embedded query
// vector: fetch 2*top_k neighbors,
// drop ineligible candidates, score metadata, compute hybrid, pre-filter
// loosely, truncate, then filter strictly against threshold.
func (e *Engine) FindSimilar(ctx context.Context, s model.Submission, queryVector []float32, threshold float32, topK int) ([]model.Candidate, error) {
	neighbors, err := e.Index.Search(queryVector, topK*2)
	if err != nil {
		return nil, fmt.Errorf("similarity: index search: %w", err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}

	bugs, err := e.Loader.LoadBugs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("similarity: load candidate bugs: %w", err)
	}

	in := incomingFromSubmission(s)

	loose := loosePreFilterFactor * threshold
	var candidates []model.Candidate
	for _, n := range neighbors {
		bug, ok := bugs[n.ID]
		if !ok {
			continue
		}
		if !model.EligibleAsCandidate(bug.Status, bug.Classification) {
			continue
		}

		vectorScore := clip01(n.Score)
		metadataScore, matching, differing := scoreMetadata(in, bug)
		hybrid := vectorWeight*vectorScore + metadataWeight*metadataScore

		crossRegion := in.region != "" && bug.Region != "" && !strings.EqualFold(in.region, bug.Region)
		if crossRegion {
			hybrid -= crossRegionPenalty
			if hybrid < 0 {
				hybrid = 0
			}
		}

		if hybrid < loose {
			continue
		}

		candidates = append(candidates, model.Candidate{
			Bug:           *bug,
			VectorScore:   vectorScore,
			MetadataScore: metadataScore,
			HybridScore:   hybrid,
			IsCrossRegion: crossRegion,
			MatchDetails: model.MatchDetail{
				MatchingFields:  matching,
				DifferingFields: differing,
				ConfidenceLevel: confidenceLevel(len(matching)),
			},
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].HybridScore > candidates[j].HybridScore })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := candidates[:0]
	for _, c := range candidates {
		if c.HybridScore >= threshold {
			out = append(out, c)
		}
	}
	return out, nil
}

// clip01 clamps a cosine similarity in [-1,1] to [0,1] per §4.2.
func clip01(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func confidenceLevel(matchingCount int) string {
	switch {
	case matchingCount >= 3:
		return "high"
	case matchingCount >= 1:
		return "medium"
	default:
		return "low"
	}
}

// scoreMetadata computes the weighted metadata score between the incoming
// submission and a candidate bug, per §4.4 step 4, along with which fields
// matched/differed for match_details.
func scoreMetadata(in incoming, bug *model.Bug) (score float32, matching, differing []string) {
	var totalWeight, earnedWeight float32

	compare := func(field, a, b string, weight float32, matchFn func(a, b string) (matched bool, partial bool)) {
		if a == "" || b == "" {
			return
		}
		totalWeight += weight
		matched, partial := matchFn(a, b)
		switch {
		case matched:
			earnedWeight += weight
			matching = append(matching, field)
		case partial:
			earnedWeight += weight / 2
			matching = append(matching, field)
		default:
			differing = append(differing, field)
		}
	}

	exactCI := func(a, b string) (bool, bool) { return strings.EqualFold(a, b), false }

	compare("device", in.device, bug.Device, fieldWeights["device"], exactCI)
	compare("build_version", in.buildVersion, bug.BuildVersion, fieldWeights["build_version"], matchBuildVersion)
	compare("region", in.region, bug.Region, fieldWeights["region"], exactCI)
	compare("os_version", in.osVersion, bug.OSVersion, fieldWeights["os_version"], exactCI)
	compare("severity", in.severity, string(bug.Severity), fieldWeights["severity"], exactCI)

	if totalWeight == 0 {
		return 0, matching, differing
	}
	return earnedWeight / totalWeight, matching, differing
}

// matchBuildVersion scores an exact match at full weight and a shared
// major.minor prefix at half weight, per §4.4 step 4.
func matchBuildVersion(a, b string) (matched bool, partial bool) {
	if a == b {
		return true, false
	}
	return false, majorMinorPrefix(a) != "" && majorMinorPrefix(a) == majorMinorPrefix(b)
}

// majorMinorPrefix returns "major.minor" from a "major.minor.patch"-style
// version string, or "" if it doesn't have at least two dot-separated parts.
func majorMinorPrefix(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}
