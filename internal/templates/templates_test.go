package templates

import (
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/hivellm/rulebook-sub008/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData() Data {
	return Data{
		ProjectName:       "demo",
		CoverageThreshold: 90,
		Languages:         []string{"go"},
		Gates:             Gates{Test: "go test ./...", Coverage: "go test -cover ./..."},
		TasksDir:          "rulebook/tasks",
		AgentsFile:        "AGENTS.md",
		CompletionSignal:  "<promise>COMPLETE</promise>",
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "languages/GO.md", Path(KindLanguage, "go"))
	assert.Equal(t, "frameworks/NEXTJS.md", Path(KindFramework, "nextjs"))
	assert.Equal(t, "ides/CURSOR.mdc", Path(KindIDE, "cursor"))
	assert.Equal(t, "ides/CLAUDE.md", Path(KindIDE, "claude"))
	assert.Equal(t, "hooks/pre-commit.sh", Path(KindHook, "pre-commit"))
	assert.Equal(t, "tasks/proposal.md", Path(KindTask, "proposal"))
}

func TestEveryDetectableLanguageHasTemplate(t *testing.T) {
	for _, lang := range []string{"typescript", "javascript", "go", "python", "rust", "java"} {
		assert.True(t, Exists(Path(KindLanguage, lang)), "missing template for %s", lang)
	}
}

func TestRender_QualityGates(t *testing.T) {
	out, err := Render(Path(KindCore, "quality_enforcement"), sampleData())
	require.NoError(t, err)

	assert.Contains(t, out, "`go test ./...`")
	assert.Contains(t, out, "at least 90%")
	assert.NotContains(t, out, "Type check", "empty gates are omitted")
}

func TestRender_UnknownTemplate(t *testing.T) {
	_, err := Render("languages/COBOL.md", sampleData())
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestRender_MissingKeyFails(t *testing.T) {
	orig := templateFS
	templateFS = fstest.MapFS{
		"templates/core/BROKEN.md": {Data: []byte("{{.Nope}}")},
	}
	t.Cleanup(func() { templateFS = orig })

	_, err := Render("core/BROKEN.md", map[string]string{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "render template"))
}

func TestList(t *testing.T) {
	langs, err := List(KindLanguage)
	require.NoError(t, err)
	assert.Contains(t, langs, "go")
	assert.Contains(t, langs, "typescript")

	ides, err := List(KindIDE)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "copilot", "cursor", "gemini"}, ides)
}

func TestDataFromConfig_DefaultsSignal(t *testing.T) {
	cfg := config.Default()
	cfg.ProjectName = "demo"
	cfg.Ralph.CompletionSignal = ""
	cfg.Gates.Lint = "golangci-lint run"

	data := DataFromConfig(cfg, "1.2.3")
	assert.Equal(t, config.DefaultCompletionSignal, data.CompletionSignal)
	assert.Equal(t, "golangci-lint run", data.Gates.Lint)
	assert.Equal(t, "1.2.3", data.Version)
	assert.Equal(t, 95, data.CoverageThreshold)
}
