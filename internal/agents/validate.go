package agents

import (
	"errors"
	"fmt"

	"github.com/hivellm/rulebook-sub008/internal/mdast"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity `json:"severity" yaml:"severity"`
	Block    string   `json:"block,omitempty" yaml:"block,omitempty"`
	Message  string   `json:"message" yaml:"message"`
}

// Report is the result of Validate.
type Report struct {
	Score  int      `json:"score" yaml:"score"`
	Blocks []string `json:"blocks" yaml:"blocks"`
	Issues []Issue  `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// Valid reports whether the report has no error-level issues.
func (r *Report) Valid() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Score penalties.
const (
	penaltyMarkers     = 50
	penaltyNoHeader    = 10
	penaltyNoRulebook  = 25
	penaltyNoQuality   = 10
	penaltyDuplicate   = 10
	penaltyEmpty       = 10
	penaltyHeadingOnly = 5
)

// Validate checks an AGENTS.md document and scores it from 0 to 100.
func Validate(content string) *Report {
	r := &Report{Score: 100}
	add := func(sev Severity, block, msg string, penalty int) {
		r.Issues = append(r.Issues, Issue{Severity: sev, Block: block, Message: msg})
		r.Score -= penalty
	}

	if h, ok := firstHeading(content); !ok || h.Level != 1 {
		add(SeverityWarning, "", "missing top-level '# ' header", penaltyNoHeader)
	}

	blocks, err := ParseBlocks(content)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, ErrNestedBlock) || errors.Is(err, ErrUnbalancedBlock) {
			msg = fmt.Sprintf("block markers are broken: %v", err)
		}
		add(SeverityError, "", msg, penaltyMarkers)
		return clamp(r)
	}

	seen := make(map[string]int)
	for _, b := range blocks {
		seen[b.Name]++
		if seen[b.Name] == 1 {
			r.Blocks = append(r.Blocks, b.Name)
		}
		if seen[b.Name] == 2 {
			add(SeverityError, b.Name, "duplicate block", penaltyDuplicate)
		}

		body := []byte(b.Content)
		switch {
		case !hasText(b.Content):
			add(SeverityError, b.Name, "block is empty", penaltyEmpty)
		case !mdast.HasContent(body):
			add(SeverityWarning, b.Name, "block has headings but no content", penaltyHeadingOnly)
		}
	}

	if seen["RULEBOOK"] == 0 {
		add(SeverityError, "RULEBOOK", "missing RULEBOOK block", penaltyNoRulebook)
	}
	if seen["QUALITY_ENFORCEMENT"] == 0 {
		add(SeverityWarning, "QUALITY_ENFORCEMENT", "missing QUALITY_ENFORCEMENT block", penaltyNoQuality)
	}
	return clamp(r)
}

func hasText(s string) bool {
	for _, r := range mdast.StripComments(s) {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}

func firstHeading(content string) (mdast.Heading, bool) {
	hs := mdast.Headings([]byte(content))
	if len(hs) == 0 {
		return mdast.Heading{}, false
	}
	return hs[0], true
}

func clamp(r *Report) *Report {
	if r.Score < 0 {
		r.Score = 0
	}
	return r
}
