// Package quality implements C3, the pure submission-quality gate: a
// function from Submission to (is_valid, score, issues). It performs no I/O
// and reads no configuration beyond the Config values it is given.
package quality

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ashita-ai/bugdedup/internal/model"
)

// Config holds the tunable thresholds referenced by §4.3's penalty table.
type Config struct {
	MinDescriptionLen  int
	RequireReproSteps  bool
	RequireLogs        bool
}

// DefaultConfig matches §4.3's documented defaults.
func DefaultConfig() Config {
	return Config{
		MinDescriptionLen: 50,
		RequireReproSteps: false,
		RequireLogs:       false,
	}
}

const minReproStepsLen = 20

var genericTitleRe = regexp.MustCompile(`(?i)^(bug|error|issue|problem|help|test|broken|not working|doesn'?t work|crashes?)$`)

// Result is the outcome of Check: a pure function, no I/O.
type Result struct {
	IsValid bool
	Score   float32
	Issues  []model.QualityIssueCode
}

// Check scores a submission per §4.3's additive-penalty table. is_valid is
// a strict gate (issues empty); score is advisory, for ranking/display —
// per the specification's resolution of the source's two conflicting
// quality schemes, is_valid is authoritative for routing.
func Check(s model.Submission, cfg Config) Result {
	score := float32(1.0)
	var issues []model.QualityIssueCode

	penalize := func(code model.QualityIssueCode, penalty float32) {
		issues = append(issues, code)
		score -= penalty
		if score < 0 {
			score = 0
		}
	}

	title := strings.TrimSpace(s.Title)
	if title == "" {
		penalize(model.IssueMissingTitle, 0.30)
	} else {
		if len(title) < 10 {
			penalize(model.IssueTitleTooShort, 0.10)
		}
		if genericTitleRe.MatchString(title) {
			penalize(model.IssueGenericTitle, 0.10)
		}
	}

	description := strings.TrimSpace(s.Description)
	if description == "" {
		penalize(model.IssueMissingDescription, 0.30)
	} else {
		minLen := cfg.MinDescriptionLen
		if minLen <= 0 {
			minLen = DefaultConfig().MinDescriptionLen
		}
		if len(description) < minLen {
			penalize(model.IssueDescriptionTooShort, 0.15)
		}
		if isLowQualityText(description) {
			penalize(model.IssueLowQualityDescription, 0.20)
		}
	}

	reproText := strings.TrimSpace(strings.Join(s.ReproSteps, " "))
	if len(s.ReproSteps) == 0 {
		if cfg.RequireReproSteps {
			penalize(model.IssueMissingReproSteps, 0.20)
		}
	} else if len(reproText) < minReproStepsLen {
		penalize(model.IssueReproStepsTooShort, 0.10)
	}

	if cfg.RequireLogs && strings.TrimSpace(s.Logs) == "" {
		penalize(model.IssueMissingLogs, 0.10)
	}
	if strings.TrimSpace(s.Device) == "" {
		penalize(model.IssueMissingDeviceInfo, 0.15)
	}
	if strings.TrimSpace(s.BuildVersion) == "" {
		penalize(model.IssueMissingBuildVersion, 0.15)
	}
	if strings.TrimSpace(s.Region) == "" {
		penalize(model.IssueMissingRegion, 0.10)
	}

	return Result{
		IsValid: len(issues) == 0,
		Score:   score,
		Issues:  issues,
	}
}

// isLowQualityText flags description text that is unlikely to be useful:
// low unique-word ratio, shouting, or heavy symbol noise.
func isLowQualityText(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > 0 {
		seen := make(map[string]bool, len(words))
		for _, w := range words {
			seen[w] = true
		}
		if float64(len(seen))/float64(len(words)) < 0.30 {
			return true
		}
	}

	if len(text) > 20 && isAllCaps(text) {
		return true
	}

	var nonAlnumNonSpace, total int
	for _, r := range text {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			nonAlnumNonSpace++
		}
	}
	if total > 0 && float64(nonAlnumNonSpace)/float64(total) > 0.30 {
		return true
	}
	return false
}

func isAllCaps(text string) bool {
	hasLetter := false
	for _, r := range text {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}
