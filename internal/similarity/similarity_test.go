package similarity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/bugdedup/internal/model"
	"github.com/ashita-ai/bugdedup/internal/vectorindex"
)

type fakeSearcher struct {
	matches []vectorindex.Match
}

func (f fakeSearcher) Search(_ []float32, _ int) ([]vectorindex.Match, error) {
	return f.matches, nil
}

type fakeLoader struct {
	bugs map[uuid.UUID]*model.Bug
}

func (f fakeLoader) LoadBugs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Bug, error) {
	out := make(map[uuid.UUID]*model.Bug)
	for _, id := range ids {
		if b, ok := f.bugs[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

func TestFindSimilar_NoNeighborsReturnsEmpty(t *testing.T) {
	e := New(fakeSearcher{}, fakeLoader{})
	out, err := e.FindSimilar(context.Background(), model.Submission{}, []float32{1, 0}, 0.7, 5)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFindSimilar_ExactMetadataMatchYieldsHighConfidence(t *testing.T) {
	parentID := uuid.New()
	parent := &model.Bug{
		ID:           parentID,
		Status:       model.StatusNew,
		Device:       "iPhone 14",
		BuildVersion: "2.0.0",
		Region:       "US",
	}

	e := New(
		fakeSearcher{matches: []vectorindex.Match{{ID: parentID, Score: 0.95}}},
		fakeLoader{bugs: map[uuid.UUID]*model.Bug{parentID: parent}},
	)

	sub := model.Submission{Device: "iPhone 14", BuildVersion: "2.0.0", Region: "US"}
	out, err := e.FindSimilar(context.Background(), sub, []float32{1, 0}, 0.70, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].MatchDetails.ConfidenceLevel)
	assert.False(t, out[0].IsCrossRegion)
	assert.InDelta(t, float32(0.7*0.95+0.3*1.0), out[0].HybridScore, 0.001)
}

func TestFindSimilar_CrossRegionAppliesPenalty(t *testing.T) {
	parentID := uuid.New()
	parent := &model.Bug{ID: parentID, Status: model.StatusNew, Region: "EU"}

	e := New(
		fakeSearcher{matches: []vectorindex.Match{{ID: parentID, Score: 0.99}}},
		fakeLoader{bugs: map[uuid.UUID]*model.Bug{parentID: parent}},
	)

	sub := model.Submission{Region: "US"}
	out, err := e.FindSimilar(context.Background(), sub, []float32{1, 0}, 0.50, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].IsCrossRegion)
	assert.InDelta(t, float32(0.7*0.99-0.05), out[0].HybridScore, 0.001)
}

func TestFindSimilar_ExcludesResolvedNonRecurring(t *testing.T) {
	parentID := uuid.New()
	parent := &model.Bug{ID: parentID, Status: model.StatusResolved}

	e := New(
		fakeSearcher{matches: []vectorindex.Match{{ID: parentID, Score: 0.99}}},
		fakeLoader{bugs: map[uuid.UUID]*model.Bug{parentID: parent}},
	)

	out, err := e.FindSimilar(context.Background(), model.Submission{}, []float32{1, 0}, 0.5, 5)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFindSimilar_ResolvedButRecurringStaysEligible(t *testing.T) {
	parentID := uuid.New()
	parent := &model.Bug{ID: parentID, Status: model.StatusResolved, Classification: model.ClassificationRecurring}

	e := New(
		fakeSearcher{matches: []vectorindex.Match{{ID: parentID, Score: 0.99}}},
		fakeLoader{bugs: map[uuid.UUID]*model.Bug{parentID: parent}},
	)

	out, err := e.FindSimilar(context.Background(), model.Submission{}, []float32{1, 0}, 0.5, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestMatchBuildVersion_MajorMinorPrefixIsPartial(t *testing.T) {
	matched, partial := matchBuildVersion("2.0.0", "2.0.1")
	assert.False(t, matched)
	assert.True(t, partial)

	matched, partial = matchBuildVersion("2.0.0", "2.0.0")
	assert.True(t, matched)
	assert.False(t, partial)
}
