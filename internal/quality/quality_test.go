package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/bugdedup/internal/model"
)

// repeat returns a string of n copies of ch.
func repeat(ch byte, n int) string {
	return strings.Repeat(string(ch), n)
}

func TestCheck_WellFormedSubmission(t *testing.T) {
	s := model.Submission{
		Title:        "App crashes on iOS 17 startup",
		Description:  "The application crashes consistently on startup when running on iOS 17 devices in the field.",
		Product:      "Mobile",
		Device:       "iPhone 14",
		BuildVersion: "2.0.0",
		Region:       "US",
		ReproSteps:   []string{"open the app", "observe the crash on launch"},
	}
	r := Check(s, DefaultConfig())
	assert.True(t, r.IsValid)
	assert.Empty(t, r.Issues)
	assert.Equal(t, float32(1.0), r.Score)
}

func TestCheck_MissingTitle(t *testing.T) {
	s := model.Submission{Description: repeat('x', 60)}
	r := Check(s, DefaultConfig())
	assert.False(t, r.IsValid)
	assert.Contains(t, r.Issues, model.IssueMissingTitle)
}

func TestCheck_TitleTooShort(t *testing.T) {
	s := model.Submission{Title: "short", Description: repeat('x', 60)}
	r := Check(s, DefaultConfig())
	assert.Contains(t, r.Issues, model.IssueTitleTooShort)
}

func TestCheck_GenericTitle(t *testing.T) {
	s := model.Submission{Title: "Bug", Description: repeat('x', 60)}
	r := Check(s, DefaultConfig())
	assert.Contains(t, r.Issues, model.IssueGenericTitle)
}

func TestCheck_MissingDescription(t *testing.T) {
	s := model.Submission{Title: "Something broke on launch"}
	r := Check(s, DefaultConfig())
	assert.Contains(t, r.Issues, model.IssueMissingDescription)
}

func TestCheck_DescriptionTooShort(t *testing.T) {
	s := model.Submission{Title: "Something broke on launch", Description: "too short"}
	r := Check(s, DefaultConfig())
	assert.Contains(t, r.Issues, model.IssueDescriptionTooShort)
}

func TestCheck_LowQualityDescription_Shouting(t *testing.T) {
	s := model.Submission{
		Title:       "Something broke on launch entirely",
		Description: strings.ToUpper(repeat('a', 5) + " " + repeat('b', 5) + " " + repeat('c', 15)),
	}
	r := Check(s, DefaultConfig())
	assert.Contains(t, r.Issues, model.IssueLowQualityDescription)
}

func TestCheck_ReproStepsTooShort(t *testing.T) {
	s := model.Submission{
		Title:       "Something broke on launch entirely",
		Description: repeat('x', 60),
		ReproSteps:  []string{"a"},
	}
	r := Check(s, DefaultConfig())
	assert.Contains(t, r.Issues, model.IssueReproStepsTooShort)
}

func TestCheck_MissingDeviceBuildRegion(t *testing.T) {
	s := model.Submission{Title: "Something broke on launch entirely", Description: repeat('x', 60)}
	r := Check(s, DefaultConfig())
	assert.Contains(t, r.Issues, model.IssueMissingDeviceInfo)
	assert.Contains(t, r.Issues, model.IssueMissingBuildVersion)
	assert.Contains(t, r.Issues, model.IssueMissingRegion)
}

func TestCheck_ScoreFloorsAtZero(t *testing.T) {
	s := model.Submission{}
	r := Check(s, DefaultConfig())
	assert.Equal(t, float32(0), r.Score)
	assert.False(t, r.IsValid)
}

func TestClassifyIssue(t *testing.T) {
	assert.Equal(t, model.IssueClassCritical, model.ClassifyIssue(model.IssueMissingTitle))
	assert.Equal(t, model.IssueClassMajor, model.ClassifyIssue(model.IssueMissingReproSteps))
	assert.Equal(t, model.IssueClassMinor, model.ClassifyIssue(model.IssueMissingRegion))
}
