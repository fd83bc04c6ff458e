// Package templates renders the embedded markdown, prompt and hook templates.
package templates

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/hivellm/rulebook-sub008/embedded"
	"github.com/hivellm/rulebook-sub008/internal/config"
)

// Kind groups templates by directory.
type Kind string

const (
	KindCore      Kind = "core"
	KindLanguage  Kind = "languages"
	KindFramework Kind = "frameworks"
	KindIDE       Kind = "ides"
	KindRalph     Kind = "ralph"
	KindHook      Kind = "hooks"
	KindTask      Kind = "tasks"
)

// root is the directory inside the embedded FS that holds every template.
const root = "templates"

// Gates mirrors the configured quality gate commands.
type Gates struct {
	TypeCheck string
	Lint      string
	Test      string
	Coverage  string
}

// Data is the render context shared by the project-level templates.
type Data struct {
	ProjectName       string
	CoverageThreshold int
	Languages         []string
	Frameworks        []string
	Gates             Gates
	TasksDir          string
	AgentsFile        string
	CompletionSignal  string
	Version           string
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// templateFS is the filesystem templates are read from; tests may swap it.
var templateFS fs.FS = embedded.TemplatesFS

// Path returns the embedded path for a template of kind named name, e.g.
// Path(KindLanguage, "go") == "languages/GO.md".
func Path(kind Kind, name string) string {
	switch kind {
	case KindIDE:
		if strings.EqualFold(name, "cursor") {
			return string(kind) + "/CURSOR.mdc"
		}
		return string(kind) + "/" + strings.ToUpper(name) + ".md"
	case KindHook:
		return string(kind) + "/" + strings.ToLower(name) + ".sh"
	case KindTask:
		return string(kind) + "/" + strings.ToLower(name) + ".md"
	default:
		return string(kind) + "/" + strings.ToUpper(name) + ".md"
	}
}

// Exists reports whether the template at p is embedded.
func Exists(p string) bool {
	_, err := fs.Stat(templateFS, path.Join(root, p))
	return err == nil
}

// Raw returns the unrendered template source.
func Raw(p string) (string, error) {
	data, err := fs.ReadFile(templateFS, path.Join(root, p))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, p)
	}
	return string(data), nil
}

// Render executes the template at p with data.
func Render(p string, data any) (string, error) {
	src, err := Raw(p)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(p).Funcs(funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", p, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", p, err)
	}
	return buf.String(), nil
}

// List returns the lower-cased template names available for kind.
func List(kind Kind) ([]string, error) {
	entries, err := fs.ReadDir(templateFS, path.Join(root, string(kind)))
	if err != nil {
		return nil, fmt.Errorf("list %s templates: %w", kind, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names, nil
}

// DataFromConfig builds the render context for a resolved project config.
func DataFromConfig(cfg *config.Config, version string) Data {
	signal := cfg.Ralph.CompletionSignal
	if signal == "" {
		signal = config.DefaultCompletionSignal
	}
	return Data{
		ProjectName:       cfg.ProjectName,
		CoverageThreshold: cfg.CoverageThreshold,
		Languages:         cfg.Languages,
		Frameworks:        cfg.Frameworks,
		Gates: Gates{
			TypeCheck: cfg.Gates.TypeCheck,
			Lint:      cfg.Gates.Lint,
			Test:      cfg.Gates.Test,
			Coverage:  cfg.Gates.Coverage,
		},
		TasksDir:         cfg.TasksDir,
		AgentsFile:       cfg.AgentsFile,
		CompletionSignal: signal,
		Version:          version,
	}
}
