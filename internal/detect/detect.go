// Package detect inspects a project tree to find its languages, frameworks
// and existing agent guidance files.
package detect

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxScannedFiles bounds the walk on very large trees.
const MaxScannedFiles = 20000

// minConfidence is the threshold for reporting a language.
const minConfidence = 0.3

// ignoredDirs are never descended into.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".rulebook":    true,
	".next":        true,
}

// Language is a detected project language.
type Language struct {
	Name        string   `json:"name" yaml:"name"`
	Confidence  float64  `json:"confidence" yaml:"confidence"`
	Indicators  []string `json:"indicators" yaml:"indicators"`
	SourceFiles int      `json:"source_files" yaml:"source_files"`
}

// Framework is a detected framework and the manifest that revealed it.
type Framework struct {
	Name     string `json:"name" yaml:"name"`
	Language string `json:"language" yaml:"language"`
	Source   string `json:"source" yaml:"source"`
}

// Detection is the result of inspecting a project root.
type Detection struct {
	Root           string      `json:"root" yaml:"root"`
	ProjectName    string      `json:"project_name" yaml:"project_name"`
	Languages      []Language  `json:"languages" yaml:"languages"`
	Frameworks     []Framework `json:"frameworks" yaml:"frameworks"`
	ExistingAgents bool        `json:"existing_agents" yaml:"existing_agents"`
	IsGitRepo      bool        `json:"is_git_repo" yaml:"is_git_repo"`
	Truncated      bool        `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

// LanguageNames returns detected language names in confidence order.
func (d *Detection) LanguageNames() []string {
	names := make([]string, 0, len(d.Languages))
	for _, l := range d.Languages {
		names = append(names, l.Name)
	}
	return names
}

// FrameworkNames returns detected framework names.
func (d *Detection) FrameworkNames() []string {
	names := make([]string, 0, len(d.Frameworks))
	for _, f := range d.Frameworks {
		names = append(names, f.Name)
	}
	return names
}

type languageRule struct {
	name      string
	manifests []string
	sources   []string
}

var languageRules = []languageRule{
	{name: "typescript", manifests: []string{"tsconfig.json"}, sources: []string{"**/*.ts", "**/*.tsx"}},
	{name: "javascript", manifests: []string{"package.json"}, sources: []string{"**/*.js", "**/*.jsx", "**/*.mjs", "**/*.cjs"}},
	{name: "go", manifests: []string{"go.mod"}, sources: []string{"**/*.go"}},
	{name: "python", manifests: []string{"pyproject.toml", "requirements.txt", "setup.py", "Pipfile"}, sources: []string{"**/*.py"}},
	{name: "rust", manifests: []string{"Cargo.toml"}, sources: []string{"**/*.rs"}},
	{name: "java", manifests: []string{"pom.xml", "build.gradle", "build.gradle.kts"}, sources: []string{"**/*.java"}},
}

// SupportedLanguages lists every language detect knows about.
func SupportedLanguages() []string {
	names := make([]string, 0, len(languageRules))
	for _, r := range languageRules {
		names = append(names, r.name)
	}
	return names
}

// Detect inspects root.
func Detect(root string) (*Detection, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	files, truncated, err := scanFiles(root)
	if err != nil {
		return nil, err
	}

	d := &Detection{
		Root:      root,
		Truncated: truncated,
	}
	d.Languages = detectLanguages(root, files)
	d.Frameworks = detectFrameworks(root)
	d.ProjectName = detectProjectName(root)
	d.ExistingAgents = fileExists(filepath.Join(root, "AGENTS.md"))
	d.IsGitRepo = fileExists(filepath.Join(root, ".git"))

	return d, nil
}

// scanFiles returns slash-separated paths relative to root, skipping ignored dirs.
func scanFiles(root string) ([]string, bool, error) {
	var files []string
	truncated := false
	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped rather than failing detection.
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if p != root && ignoredDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= MaxScannedFiles {
			truncated = true
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return nil, false, err
	}
	return files, truncated, nil
}

// matchAny reports whether rel matches any doublestar pattern.
func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func detectLanguages(root string, files []string) []Language {
	var langs []Language
	for _, rule := range languageRules {
		var indicators []string
		for _, m := range rule.manifests {
			if fileExists(filepath.Join(root, m)) {
				indicators = append(indicators, m)
			}
		}

		sources := 0
		for _, f := range files {
			if matchAny(rule.sources, f) {
				sources++
			}
		}

		confidence := 0.0
		if len(indicators) > 0 {
			confidence = 0.6
		}
		confidence += minFloat(0.4, float64(sources)*0.05)
		if len(indicators) == 0 {
			confidence = minFloat(confidence, 0.5)
		}
		if confidence < minConfidence {
			continue
		}
		if sources > 0 {
			indicators = append(indicators, rule.sources[0])
		}
		langs = append(langs, Language{
			Name:        rule.name,
			Confidence:  confidence,
			Indicators:  indicators,
			SourceFiles: sources,
		})
	}

	langs = dropShadowedJavaScript(langs)

	sort.SliceStable(langs, func(i, j int) bool {
		return langs[i].Confidence > langs[j].Confidence
	})
	return langs
}

// dropShadowedJavaScript removes javascript when it was only detected through
// the package.json that every TypeScript project also has.
func dropShadowedJavaScript(langs []Language) []Language {
	hasTS := false
	for _, l := range langs {
		if l.Name == "typescript" {
			hasTS = true
		}
	}
	if !hasTS {
		return langs
	}
	out := langs[:0]
	for _, l := range langs {
		if l.Name == "javascript" && l.SourceFiles == 0 {
			continue
		}
		out = append(out, l)
	}
	return out
}

type packageJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

var npmFrameworks = []struct{ pkg, name string }{
	{"next", "nextjs"},
	{"react", "react"},
	{"vue", "vue"},
	{"express", "express"},
	{"@nestjs/core", "nestjs"},
}

var manifestFrameworks = []struct {
	file, needle, name, language string
}{
	{"go.mod", "github.com/gin-gonic/gin", "gin", "go"},
	{"go.mod", "github.com/labstack/echo", "echo", "go"},
	{"requirements.txt", "django", "django", "python"},
	{"requirements.txt", "flask", "flask", "python"},
	{"requirements.txt", "fastapi", "fastapi", "python"},
	{"pyproject.toml", "django", "django", "python"},
	{"pyproject.toml", "flask", "flask", "python"},
	{"pyproject.toml", "fastapi", "fastapi", "python"},
	{"pom.xml", "spring-boot", "spring", "java"},
	{"build.gradle", "spring-boot", "spring", "java"},
	{"build.gradle.kts", "spring-boot", "spring", "java"},
	{"Cargo.toml", "axum", "axum", "rust"},
}

// SupportedFrameworks lists every framework detect knows about.
func SupportedFrameworks() []string {
	seen := map[string]bool{}
	var names []string
	for _, f := range npmFrameworks {
		if !seen[f.name] {
			seen[f.name] = true
			names = append(names, f.name)
		}
	}
	for _, f := range manifestFrameworks {
		if !seen[f.name] {
			seen[f.name] = true
			names = append(names, f.name)
		}
	}
	return names
}

func detectFrameworks(root string) []Framework {
	var found []Framework
	seen := map[string]bool{}
	add := func(f Framework) {
		if seen[f.Name] {
			return
		}
		seen[f.Name] = true
		found = append(found, f)
	}

	if pkg, err := readPackageJSON(root); err == nil {
		for _, f := range npmFrameworks {
			if _, ok := pkg.Dependencies[f.pkg]; ok {
				add(Framework{Name: f.name, Language: "javascript", Source: "package.json"})
				continue
			}
			if _, ok := pkg.DevDependencies[f.pkg]; ok {
				add(Framework{Name: f.name, Language: "javascript", Source: "package.json"})
			}
		}
	}

	contents := map[string]string{}
	for _, f := range manifestFrameworks {
		text, ok := contents[f.file]
		if !ok {
			data, err := os.ReadFile(filepath.Join(root, f.file))
			if err != nil {
				contents[f.file] = ""
				continue
			}
			text = strings.ToLower(string(data))
			contents[f.file] = text
		}
		if text != "" && strings.Contains(text, f.needle) {
			add(Framework{Name: f.name, Language: f.language, Source: f.file})
		}
	}
	return found
}

func readPackageJSON(root string) (*packageJSON, error) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return nil, err
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// detectProjectName prefers manifest names over the directory name.
func detectProjectName(root string) string {
	if pkg, err := readPackageJSON(root); err == nil && pkg.Name != "" {
		return pkg.Name
	}
	if module := firstLineValue(filepath.Join(root, "go.mod"), "module "); module != "" {
		return path.Base(module)
	}
	if name := firstLineValue(filepath.Join(root, "Cargo.toml"), "name = "); name != "" {
		return strings.Trim(name, `"`)
	}
	if name := firstLineValue(filepath.Join(root, "pyproject.toml"), "name = "); name != "" {
		return strings.Trim(name, `"`)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return filepath.Base(root)
	}
	return filepath.Base(abs)
}

// firstLineValue returns the remainder of the first line starting with prefix.
func firstLineValue(path, prefix string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
