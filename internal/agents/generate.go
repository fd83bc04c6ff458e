// Package agents generates, merges and validates AGENTS.md and the
// IDE-specific files that point at it.
package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hivellm/rulebook-sub008/internal/config"
	"github.com/hivellm/rulebook-sub008/internal/storage"
	"github.com/hivellm/rulebook-sub008/internal/templates"
)

// HeaderNotice is the comment placed under the AGENTS.md title.
const HeaderNotice = "<!-- Generated by rulebook. Blocks between START/END markers are regenerated by `rulebook update`; edit outside them. -->"

// coreBlocks are always generated, in this order.
var coreBlocks = []string{"RULEBOOK", "QUALITY_ENFORCEMENT", "GIT", "AGENT_AUTOMATION"}

// RalphBlock is generated when the Ralph feature is enabled.
const RalphBlock = "RALPH"

// BlockNames returns the block names Generate would emit for cfg.
func BlockNames(cfg *config.Config) []string {
	names := append([]string(nil), coreBlocks...)
	for _, lang := range cfg.Languages {
		if templates.Exists(templates.Path(templates.KindLanguage, lang)) {
			names = append(names, blockName(lang))
		}
	}
	for _, fw := range cfg.Frameworks {
		if templates.Exists(templates.Path(templates.KindFramework, fw)) {
			names = append(names, blockName(fw))
		}
	}
	if cfg.Features.Ralph {
		names = append(names, RalphBlock)
	}
	return names
}

func blockName(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(s))
}

// Generate renders a complete AGENTS.md for cfg.
func Generate(cfg *config.Config, version string) (string, error) {
	data := templates.DataFromConfig(cfg, version)

	title := cfg.ProjectName
	if title == "" {
		title = "Project"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Agent Directives\n\n%s\n", title, HeaderNotice)

	for _, name := range BlockNames(cfg) {
		content, err := templates.Render(blockTemplate(name, cfg), data)
		if err != nil {
			return "", fmt.Errorf("generate %s block: %w", name, err)
		}
		b.WriteString("\n")
		b.WriteString(Block{Name: name, Content: content}.String())
		b.WriteString("\n")
	}
	return collapseBlankLines(b.String()), nil
}

// blockTemplate maps a block name back to its template path.
func blockTemplate(name string, cfg *config.Config) string {
	for _, c := range coreBlocks {
		if c == name {
			return templates.Path(templates.KindCore, name)
		}
	}
	if name == RalphBlock {
		return templates.Path(templates.KindRalph, name)
	}
	for _, lang := range cfg.Languages {
		if blockName(lang) == name {
			return templates.Path(templates.KindLanguage, lang)
		}
	}
	return templates.Path(templates.KindFramework, strings.ToLower(name))
}

// SyncOptions controls Sync.
type SyncOptions struct {
	Version   string
	KeepStale bool
	DryRun    bool
}

// SyncResult reports the outcome of writing AGENTS.md.
type SyncResult struct {
	Path    string
	Created bool
	MergeResult
}

// Sync generates AGENTS.md for cfg and merges it into the file under root.
func Sync(root string, cfg *config.Config, opts SyncOptions) (*SyncResult, error) {
	generated, err := Generate(cfg, opts.Version)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(root, cfg.AgentsFile)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", cfg.AgentsFile, err)
	}

	merged, err := Merge(string(existing), generated, opts.KeepStale)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{Path: path, Created: len(existing) == 0, MergeResult: *merged}
	if opts.DryRun {
		return res, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", cfg.AgentsFile, err)
	}
	if err := storage.WriteFileAtomic(path, []byte(merged.Content)); err != nil {
		return nil, fmt.Errorf("write %s: %w", cfg.AgentsFile, err)
	}
	return res, nil
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// collapseBlankLines tidies generated text, where empty template sections
// leave runs of blank lines.
func collapseBlankLines(s string) string {
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimRight(s, "\n") + "\n"
}
