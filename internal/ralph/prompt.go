package ralph

import (
	"github.com/hivellm/rulebook-sub008/internal/templates"
)

// PromptData is the render context of the iteration prompt.
type PromptData struct {
	Iteration         int
	ProjectName       string
	Story             Story
	Summary           Summary
	Backlog           []Story
	Learnings         string
	Gates             templates.Gates
	CoverageThreshold int
	CompletionSignal  string
}

// BuildPrompt renders the prompt handed to the AI tool for one story.
func BuildPrompt(d PromptData) (string, error) {
	return templates.Render(templates.Path(templates.KindRalph, "prompt"), d)
}
