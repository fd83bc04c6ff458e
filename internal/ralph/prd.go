package ralph

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hivellm/rulebook-sub008/internal/mdast"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/tasks"
)

// StoryStatus is the lifecycle state of a user story.
type StoryStatus string

const (
	StatusPending    StoryStatus = "pending"
	StatusInProgress StoryStatus = "in_progress"
	StatusCompleted  StoryStatus = "completed"
	StatusFailed     StoryStatus = "failed"
	StatusBlocked    StoryStatus = "blocked"
)

// Story is one unit of work for an iteration.
type Story struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	AcceptanceCriteria []string    `json:"acceptanceCriteria"`
	Priority           int         `json:"priority"`
	Status             StoryStatus `json:"status"`
	Passes             bool        `json:"passes"`
	Attempts           int         `json:"attempts"`
	Notes              string      `json:"notes,omitempty"`
	Files              []string    `json:"files,omitempty"`
	TaskID             string      `json:"taskId,omitempty"`
}

// Done reports whether the story needs no further iterations.
func (s *Story) Done() bool {
	return s.Status == StatusCompleted || s.Status == StatusBlocked
}

// PRD is the backlog document stored in .rulebook/ralph/prd.json.
type PRD struct {
	Project     string  `json:"project"`
	BranchName  string  `json:"branchName,omitempty"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
	UserStories []Story `json:"userStories"`
}

// LoadPRD reads the PRD at path.
func LoadPRD(path string) (*PRD, error) {
	var prd PRD
	if err := storage.ReadJSONFile(path, &prd); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoPRD
		}
		return nil, fmt.Errorf("load PRD: %w", err)
	}
	if err := prd.check(); err != nil {
		return nil, err
	}
	return &prd, nil
}

// SavePRD writes prd to path atomically, stamping UpdatedAt.
func SavePRD(path string, prd *PRD) error {
	prd.UpdatedAt = nowFn().UTC().Format(time.RFC3339)
	if prd.CreatedAt == "" {
		prd.CreatedAt = prd.UpdatedAt
	}
	if err := storage.WriteJSONFile(path, prd); err != nil {
		return fmt.Errorf("save PRD: %w", err)
	}
	return nil
}

func (p *PRD) check() error {
	seen := make(map[string]bool, len(p.UserStories))
	for i := range p.UserStories {
		s := &p.UserStories[i]
		if seen[s.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateStory, s.ID)
		}
		seen[s.ID] = true
		if s.Status == "" {
			s.Status = StatusPending
		}
	}
	return nil
}

// Story returns the story with id.
func (p *PRD) Story(id string) (*Story, error) {
	for i := range p.UserStories {
		if p.UserStories[i].ID == id {
			return &p.UserStories[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrStoryNotFound, id)
}

// eligible reports whether s may be picked for an iteration.
func eligible(s *Story, maxFailures int) bool {
	switch s.Status {
	case StatusPending, StatusInProgress:
		return true
	case StatusFailed:
		return maxFailures <= 0 || s.Attempts < maxFailures
	}
	return false
}

// Candidates returns the eligible stories ordered by priority (1 first),
// then document order. A story left in_progress by an interrupted run is
// eligible again.
func (p *PRD) Candidates(maxFailures int) []*Story {
	var out []*Story
	for i := range p.UserStories {
		if eligible(&p.UserStories[i], maxFailures) {
			out = append(out, &p.UserStories[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityKey(out[i].Priority) < priorityKey(out[j].Priority)
	})
	return out
}

// priorityKey sorts unset (0) priorities last.
func priorityKey(p int) int {
	if p <= 0 {
		return int(^uint(0) >> 1)
	}
	return p
}

// Next returns the next story to work on, or nil when none is eligible.
func (p *PRD) Next(maxFailures int) *Story {
	c := p.Candidates(maxFailures)
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// Summary counts stories by status.
type Summary struct {
	Total      int `json:"total" yaml:"total"`
	Pending    int `json:"pending" yaml:"pending"`
	InProgress int `json:"inProgress" yaml:"in_progress"`
	Completed  int `json:"completed" yaml:"completed"`
	Failed     int `json:"failed" yaml:"failed"`
	Blocked    int `json:"blocked" yaml:"blocked"`
}

// Summary counts the PRD's stories by status.
func (p *PRD) Summary() Summary {
	s := Summary{Total: len(p.UserStories)}
	for _, st := range p.UserStories {
		switch st.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusBlocked:
			s.Blocked++
		}
	}
	return s
}

// Complete reports whether no story is left to work on.
func (p *PRD) Complete(maxFailures int) bool {
	return p.Next(maxFailures) == nil
}

// FromTasks builds a PRD with one story per active task, in id order.
// Acceptance criteria are the unchecked items of the task's checklist;
// tasks with nothing left to do start out completed.
func FromTasks(project string, m *tasks.Manager) (*PRD, error) {
	list, err := m.List(false)
	if err != nil {
		return nil, err
	}

	prd := &PRD{
		Project:     project,
		BranchName:  "ralph/" + storage.Slug(project, "backlog"),
		Description: fmt.Sprintf("Stories generated from %d task(s)", len(list)),
		UserStories: []Story{},
	}
	for i, t := range list {
		detail, err := m.Show(t.ID)
		if err != nil {
			return nil, err
		}
		story := Story{
			ID:                 fmt.Sprintf("US-%03d", i+1),
			Title:              t.Title,
			Description:        whySection(detail.Proposal),
			AcceptanceCriteria: tasks.Unchecked(detail.Tasks),
			Priority:           i + 1,
			Status:             StatusPending,
			TaskID:             t.ID,
		}
		if story.AcceptanceCriteria == nil {
			story.AcceptanceCriteria = []string{}
		}
		if t.Progress.Total > 0 && t.Progress.Done == t.Progress.Total || t.Status == tasks.StatusCompleted {
			story.Status = StatusCompleted
			story.Passes = true
		}
		prd.UserStories = append(prd.UserStories, story)
	}
	return prd, nil
}

// Merge adds stories from other whose TaskID is not already present.
// New stories are numbered after the highest existing US-NNN id and
// prioritised after the lowest existing priority.
func (p *PRD) Merge(other *PRD) int {
	known := make(map[string]bool)
	ids := make(map[string]bool, len(p.UserStories))
	lastNum, lastPriority := 0, 0
	for _, s := range p.UserStories {
		if s.TaskID != "" {
			known[s.TaskID] = true
		}
		ids[s.ID] = true
		if m := storyIDRe.FindStringSubmatch(s.ID); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				lastNum = max(lastNum, n)
			}
		}
		lastPriority = max(lastPriority, s.Priority)
	}

	added := 0
	for _, s := range other.UserStories {
		if s.TaskID == "" || known[s.TaskID] {
			continue
		}
		for {
			lastNum++
			s.ID = fmt.Sprintf("US-%03d", lastNum)
			if !ids[s.ID] {
				break
			}
		}
		lastPriority++
		s.Priority = lastPriority
		ids[s.ID] = true
		known[s.TaskID] = true
		p.UserStories = append(p.UserStories, s)
		added++
	}
	return added
}

var storyIDRe = regexp.MustCompile(`^US-(\d+)$`)

func whySection(proposal string) string {
	why, ok := mdast.Find(mdast.Headings([]byte(proposal)), 2, "Why")
	if !ok {
		return ""
	}
	return strings.TrimSpace(mdast.StripComments(why.Body))
}
