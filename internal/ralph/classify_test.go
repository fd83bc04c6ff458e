package ralph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTypeCheck(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    int
		matched bool
	}{
		{"tsc", "src/a.ts(3,5): error TS2322: Type 'string'...\nsrc/b.ts(1,1): error TS7006: Parameter...\n", 2, true},
		{"go vet", "# example.com/pkg\nvet: pkg/a.go:12:2: unreachable code\npkg/b.go:3:9: printf: bad verb\n", 2, true},
		{"mypy errors", "app.py:3: error: Incompatible types\nFound 4 errors in 2 files (checked 10 source files)\n", 4, true},
		{"mypy clean", "Success: no issues found in 12 source files\n", 0, true},
		{"cargo", "error[E0308]: mismatched types\n --> src/main.rs:2:18\n  |\nerror: could not compile `demo` due to previous error\n", 1, true},
		{"prose mentioning error", "I fixed it.\nerror: none left, the build is clean now\n", 0, false},
		{"nothing", "all good, nothing to report\n", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := ParseTypeCheck(tt.out)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestParseLint(t *testing.T) {
	tests := []struct {
		name             string
		out              string
		errors, warnings int
		matched          bool
	}{
		{"eslint", "\n✖ 7 problems (3 errors, 4 warnings)\n", 3, 4, true},
		{"eslint singular", "✖ 1 problem (1 error, 0 warnings)\n", 1, 0, true},
		{"golangci", "main.go:10:2: ineffassign\n2 issues:\n* ineffassign: 2\n", 2, 0, true},
		{"ruff", "a.py:1:1: F401 unused import\nFound 3 errors.\n", 3, 0, true},
		{"ruff clean", "All checks passed!\n", 0, 0, true},
		{"clippy", "warning: unused variable: `x`\n --> src/main.rs:2:9\n  |\nwarning: `demo` (bin \"demo\") generated 1 warning\n", 0, 1, true},
		{"prose mentioning warning", "warning: this refactor touches many files\nerror: none\n", 0, 0, false},
		{"nothing", "done\n", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, w, matched := ParseLint(tt.out)
			assert.Equal(t, tt.errors, e, "errors")
			assert.Equal(t, tt.warnings, w, "warnings")
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestParseTests(t *testing.T) {
	tests := []struct {
		name           string
		out            string
		failed, passed int
		matched        bool
	}{
		{"jest", "Test Suites: 1 failed, 3 passed, 4 total\nTests:       2 failed, 1 skipped, 40 passed, 43 total\n", 2, 40, true},
		{"vitest", " Test Files  1 passed (1)\n      Tests  12 passed (12)\n", 0, 12, true},
		{"go ok", "ok  \texample.com/a\t0.01s\nok  \texample.com/b\t0.20s\n?   \texample.com/c\t[no test files]\n", 0, 2, true},
		{"go fail", "--- FAIL: TestX (0.00s)\n    x_test.go:9: boom\nFAIL\nFAIL\texample.com/a\t0.01s\nok  \texample.com/b\t0.20s\n", 1, 1, true},
		{"pytest", "============ 1 failed, 9 passed in 0.52s ============\n", 1, 9, true},
		{"pytest errors", "======= 3 passed, 1 error in 1.10s =======\n", 1, 3, true},
		{"cargo", "test result: ok. 5 passed; 0 failed; 0 ignored\ntest result: FAILED. 2 passed; 1 failed; 0 ignored\n", 1, 7, true},
		{"nothing", "compiled\n", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, p, matched := ParseTests(tt.out)
			assert.Equal(t, tt.failed, f, "failed")
			assert.Equal(t, tt.passed, p, "passed")
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestParseCoverage(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    float64
		matched bool
	}{
		{"istanbul", "----------|---------|\nAll files |   87.5 |    80 |\n", 87.5, true},
		{"go averaged", "ok  \ta\t0.1s\tcoverage: 80.0% of statements\nok  \tb\t0.1s\tcoverage: 90.0% of statements\n", 85, true},
		{"pytest-cov", "Name    Stmts   Miss  Cover\nTOTAL     120     12    90%\n", 90, true},
		{"tarpaulin", "|| Tested/Total Lines:\n85.00% coverage, 170/200 lines covered\n", 85, true},
		{"none", "tests passed\n", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, matched := ParseCoverage(tt.out)
			assert.InDelta(t, tt.want, got, 0.001)
			assert.Equal(t, tt.matched, matched)
		})
	}
}

func TestClassify_FromCommand(t *testing.T) {
	r := Classify(GateLint, "✖ 1 problem (0 errors, 1 warning)\n", 1, true, 0)
	assert.False(t, r.Passed)
	assert.Equal(t, 1, r.Warnings)
	assert.Equal(t, SourceCommand, r.Source)

	r = Classify(GateTest, "", 2, true, 0)
	assert.False(t, r.Passed, "non-zero exit fails even without parsed output")
	assert.Equal(t, "exited with code 2", r.Detail)

	r = Classify(GateTypeCheck, "", 0, true, 0)
	assert.True(t, r.Passed)
}

func TestClassify_Coverage(t *testing.T) {
	out := "coverage: 96.0% of statements\n"
	assert.True(t, Classify(GateCoverage, out, 0, true, 95).Passed)
	assert.False(t, Classify(GateCoverage, out, 0, true, 97).Passed)

	r := Classify(GateCoverage, "PASS\n", 0, true, 50)
	assert.False(t, r.Passed, "unparsable coverage fails")
	assert.Equal(t, "coverage not found in output", r.Detail)
}

func TestClassify_FromAIOutput(t *testing.T) {
	r := Classify(GateTest, "I implemented the feature.\n", 0, false, 95)
	assert.True(t, r.Skipped)
	assert.True(t, r.Passed)

	r = Classify(GateTypeCheck, "src/a.ts(1,1): error TS2304: Cannot find name\n", 0, false, 95)
	assert.False(t, r.Skipped)
	assert.False(t, r.Passed)
	assert.Equal(t, SourceAIOutput, r.Source)

	prose := "error: handling now returns a typed error\nwarning: callers must check it\n<promise>COMPLETE</promise>\n"
	for _, gate := range []Gate{GateTypeCheck, GateLint} {
		r = Classify(gate, prose, 0, false, 95)
		assert.True(t, r.Skipped, gate)
		assert.True(t, r.Passed, gate)
	}
}

func TestHasCompletionSignal(t *testing.T) {
	assert.True(t, HasCompletionSignal("done\n<promise>COMPLETE</promise>\n", "<promise>COMPLETE</promise>"))
	assert.False(t, HasCompletionSignal("<promise>INCOMPLETE</promise>", "<promise>COMPLETE</promise>"))
	assert.False(t, HasCompletionSignal("anything", ""))
}

func TestAllPassed(t *testing.T) {
	assert.True(t, AllPassed([]GateResult{{Passed: true}, {Skipped: true, Passed: true}}))
	assert.False(t, AllPassed([]GateResult{{Passed: true}, {Passed: false}}))
	assert.True(t, AnyCommand([]GateResult{{Source: SourceAIOutput}, {Source: SourceCommand}}))
	assert.False(t, AnyCommand([]GateResult{{Source: SourceAIOutput}}))
}
