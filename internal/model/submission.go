package model

// Submission is the validated input record for a new bug report. It is the
// sole boundary type decoded from client JSON; unknown fields are rejected
// by the decoder (json.Decoder.DisallowUnknownFields), never silently
// carried through, per the dynamic-dict-to-record design note.
type Submission struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Product     string `json:"product"`

	Component      string      `json:"component,omitempty"`
	Version        string      `json:"version,omitempty"`
	Severity       Severity    `json:"severity,omitempty"`
	Environment    Environment `json:"environment,omitempty"`
	Device         string      `json:"device,omitempty"`
	OSVersion      string      `json:"os_version,omitempty"`
	BuildVersion   string      `json:"build_version,omitempty"`
	Region         string      `json:"region,omitempty"`
	Reporter       string      `json:"reporter,omitempty"`
	ReproSteps     []ReproStep `json:"repro_steps,omitempty"`
	ExpectedResult string      `json:"expected_result,omitempty"`
	ActualResult   string      `json:"actual_result,omitempty"`
	Logs           string      `json:"logs,omitempty"`

	ExternalTrackerKey *string `json:"external_tracker_key,omitempty"`

	// Submission is populated by the transport layer from request context,
	// never trusted from the client body.
	Submission SubmissionContext `json:"-"`
}

// BuildText assembles the single source-of-truth embedding input text, per
// §4.1: concatenate in order, space-separated, skipping empty fields. This
// must be called identically for insertion and for query-time re-embedding.
func (s Submission) BuildText() string {
	var parts []string
	if s.Title != "" {
		parts = append(parts, s.Title)
	}
	if s.Description != "" {
		parts = append(parts, s.Description)
	}
	if len(s.ReproSteps) > 0 {
		parts = append(parts, joinSteps(s.ReproSteps))
	}
	if s.Device != "" {
		parts = append(parts, "Device: "+s.Device)
	}
	if s.BuildVersion != "" {
		parts = append(parts, "Build: "+s.BuildVersion)
	}
	if s.Region != "" {
		parts = append(parts, "Region: "+s.Region)
	}
	return joinSpace(parts)
}

func joinSteps(steps []ReproStep) string {
	return joinSpace(steps)
}

func joinSpace(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
