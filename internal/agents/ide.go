package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/templates"
)

// ideFiles maps each supported IDE to the file it reads, relative to the
// project root.
var ideFiles = map[string]string{
	"cursor":  filepath.Join(".cursor", "rules", "rulebook.mdc"),
	"claude":  "CLAUDE.md",
	"copilot": filepath.Join(".github", "copilot-instructions.md"),
	"gemini":  "GEMINI.md",
}

// SupportedIDEs returns the IDE names WriteIDEFiles understands.
func SupportedIDEs() []string {
	names := make([]string, 0, len(ideFiles))
	for name := range ideFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IDEFilePath returns the project-relative path for ide.
func IDEFilePath(ide string) (string, bool) {
	p, ok := ideFiles[strings.ToLower(ide)]
	return p, ok
}

// IDE file actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
)

// IDEFile reports what happened to one IDE file.
type IDEFile struct {
	IDE    string `json:"ide" yaml:"ide"`
	Path   string `json:"path" yaml:"path"`
	Action string `json:"action" yaml:"action"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// WriteIDEFiles renders the pointer file for each IDE. An existing file is
// only rewritten when it already references the agents file; anything
// else is user content and is skipped.
func WriteIDEFiles(root string, ides []string, data templates.Data, dryRun bool) ([]IDEFile, error) {
	var out []IDEFile
	for _, ide := range ides {
		ide = strings.ToLower(strings.TrimSpace(ide))
		rel, ok := ideFiles[ide]
		if !ok {
			out = append(out, IDEFile{IDE: ide, Action: ActionSkipped, Reason: "unsupported IDE"})
			continue
		}

		content, err := templates.Render(templates.Path(templates.KindIDE, ide), data)
		if err != nil {
			return out, err
		}

		path := filepath.Join(root, rel)
		action := ActionCreated
		if existing, err := os.ReadFile(path); err == nil {
			if !strings.Contains(string(existing), data.AgentsFile) {
				out = append(out, IDEFile{IDE: ide, Path: rel, Action: ActionSkipped, Reason: "existing file does not reference " + data.AgentsFile})
				continue
			}
			action = ActionUpdated
		}

		if !dryRun {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return out, fmt.Errorf("create directory for %s: %w", rel, err)
			}
			if err := storage.WriteFileAtomic(path, []byte(content)); err != nil {
				return out, fmt.Errorf("write %s: %w", rel, err)
			}
		}
		out = append(out, IDEFile{IDE: ide, Path: rel, Action: action})
	}
	return out, nil
}
