package detect

// Gates are the default quality gate commands for a language.
type Gates struct {
	TypeCheck string
	Lint      string
	Test      string
	Coverage  string
}

var defaultGates = map[string]Gates{
	"typescript": {
		TypeCheck: "npx tsc --noEmit",
		Lint:      "npx eslint .",
		Test:      "npm test",
		Coverage:  "npm test -- --coverage",
	},
	"javascript": {
		Lint:     "npx eslint .",
		Test:     "npm test",
		Coverage: "npm test -- --coverage",
	},
	"go": {
		TypeCheck: "go vet ./...",
		Lint:      "golangci-lint run",
		Test:      "go test ./...",
		Coverage:  "go test -cover ./...",
	},
	"python": {
		TypeCheck: "mypy .",
		Lint:      "ruff check .",
		Test:      "pytest",
		Coverage:  "pytest --cov",
	},
	"rust": {
		TypeCheck: "cargo check",
		Lint:      "cargo clippy",
		Test:      "cargo test",
		Coverage:  "cargo tarpaulin",
	},
	"java": {
		TypeCheck: "mvn -q compile",
		Test:      "mvn -q test",
	},
}

// DefaultGates returns the default gate commands for lang, or zero Gates for
// an unknown language.
func DefaultGates(lang string) Gates {
	return defaultGates[lang]
}

// GatesFor returns the defaults of the first language that has any.
func GatesFor(languages []string) Gates {
	for _, l := range languages {
		if g, ok := defaultGates[l]; ok {
			return g
		}
	}
	return Gates{}
}
