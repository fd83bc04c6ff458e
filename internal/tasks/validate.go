package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hivellm/rulebook-sub008/internal/mdast"
)

// MinWhyLength is the minimum length of the proposal's Why section.
const MinWhyLength = 20

var (
	deltaRe       = regexp.MustCompile(`^(ADDED|MODIFIED|REMOVED|RENAMED) Requirements$`)
	normativeRe   = regexp.MustCompile(`\b(SHALL|MUST)\b`)
	requirementPx = "Requirement:"
	scenarioPx    = "Scenario:"
)

// ValidationResult collects the findings for one task.
type ValidationResult struct {
	ID       string   `json:"id" yaml:"id"`
	Valid    bool     `json:"valid" yaml:"valid"`
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func (r *ValidationResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks the proposal, checklist and spec deltas of an active task.
func (m *Manager) Validate(id string) (*ValidationResult, error) {
	dir, err := m.existing(id)
	if err != nil {
		return nil, err
	}

	r := &ValidationResult{ID: id}
	validateProposal(r, dir)
	validateChecklist(r, dir)
	if err := validateSpecs(r, dir); err != nil {
		return nil, err
	}
	r.Valid = len(r.Errors) == 0
	return r, nil
}

func validateProposal(r *ValidationResult, dir string) {
	data, err := os.ReadFile(filepath.Join(dir, ProposalFile))
	if err != nil {
		r.errorf("%s is missing", ProposalFile)
		return
	}
	hs := mdast.Headings(data)

	why, ok := mdast.Find(hs, 2, "Why")
	if !ok {
		r.errorf("%s: missing '## Why' section", ProposalFile)
	} else if n := len(strings.TrimSpace(mdast.StripComments(why.Body))); n < MinWhyLength {
		r.errorf("%s: '## Why' must be at least %d characters (has %d)", ProposalFile, MinWhyLength, n)
	}

	what, ok := mdast.Find(hs, 2, "What Changes")
	if !ok {
		r.errorf("%s: missing '## What Changes' section", ProposalFile)
	} else if strings.TrimSpace(mdast.StripComments(what.Body)) == "" {
		r.warnf("%s: '## What Changes' is empty", ProposalFile)
	}
}

func validateChecklist(r *ValidationResult, dir string) {
	data, err := os.ReadFile(filepath.Join(dir, TasksFile))
	if err != nil {
		r.errorf("%s is missing", TasksFile)
		return
	}
	if len(mdast.Checkboxes(data)) == 0 {
		r.errorf("%s: no '- [ ]' checklist items", TasksFile)
	}
}

func validateSpecs(r *ValidationResult, dir string) error {
	entries, err := os.ReadDir(filepath.Join(dir, SpecsDir))
	if err != nil {
		if os.IsNotExist(err) {
			r.warnf("no spec deltas under %s/", SpecsDir)
			return nil
		}
		return fmt.Errorf("read specs: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rel := filepath.Join(SpecsDir, e.Name(), SpecFile)
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			r.errorf("%s is missing", rel)
			continue
		}
		validateSpecDelta(r, rel, data)
	}
	return nil
}

// validateSpecDelta checks one spec.md: it needs at least one delta
// section, and every requirement added or modified must be normative and
// carry a scenario.
func validateSpecDelta(r *ValidationResult, rel string, data []byte) {
	hs := mdast.Headings(data)

	deltas := 0
	section := ""
	for i, h := range hs {
		switch {
		case h.Level <= 2:
			section = ""
			if m := deltaRe.FindStringSubmatch(h.Text); m != nil && h.Level == 2 {
				section = m[1]
				deltas++
			}
		case h.Level == 3 && strings.HasPrefix(h.Text, requirementPx):
			if section != "ADDED" && section != "MODIFIED" {
				continue
			}
			name := strings.TrimSpace(strings.TrimPrefix(h.Text, requirementPx))
			if !normativeRe.MatchString(h.Body) {
				r.errorf("%s:%d: requirement %q must contain SHALL or MUST", rel, h.Line, name)
			}
			if !hasScenario(hs[i+1:]) {
				r.errorf("%s:%d: requirement %q needs at least one '#### Scenario:'", rel, h.Line, name)
			}
		}
	}
	if deltas == 0 {
		r.errorf("%s: no '## ADDED|MODIFIED|REMOVED|RENAMED Requirements' section", rel)
	}
}

// hasScenario reports whether a scenario heading follows before the next
// heading of level 3 or higher.
func hasScenario(rest []mdast.Heading) bool {
	for _, h := range rest {
		if h.Level <= 3 {
			return false
		}
		if h.Level == 4 && strings.HasPrefix(h.Text, scenarioPx) {
			return true
		}
	}
	return false
}
