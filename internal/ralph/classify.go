package ralph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Gate names a quality gate.
type Gate string

const (
	GateTypeCheck Gate = "type-check"
	GateLint      Gate = "lint"
	GateTest      Gate = "test"
	GateCoverage  Gate = "coverage"
)

// AllGates lists the gates in execution order.
func AllGates() []Gate {
	return []Gate{GateTypeCheck, GateLint, GateTest, GateCoverage}
}

// GateResult is the classified outcome of one gate.
type GateResult struct {
	Gate     Gate    `json:"gate"`
	Passed   bool    `json:"passed"`
	Skipped  bool    `json:"skipped,omitempty"`
	Errors   int     `json:"errors,omitempty"`
	Warnings int     `json:"warnings,omitempty"`
	Coverage float64 `json:"coverage,omitempty"`
	// Source is "command" when a configured gate command produced the
	// output and "ai-output" when it was inferred from the AI tool's output.
	Source   string        `json:"source"`
	Command  string        `json:"command,omitempty"`
	ExitCode int           `json:"exitCode,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// Gate result sources.
const (
	SourceCommand  = "command"
	SourceAIOutput = "ai-output"
)

var (
	tscErrorRe    = regexp.MustCompile(`error TS\d+`)
	goVetLineRe   = regexp.MustCompile(`(?m)^(?:vet: )?\S+\.go:\d+:\d+: `)
	mypyFoundRe   = regexp.MustCompile(`Found (\d+) errors? in \d+ files?`)
	mypySuccessRe = regexp.MustCompile(`Success: no issues found`)
	rustDiagRe    = regexp.MustCompile(`^(error|warning)(?:\[[A-Z]+\d+\])?: (.*)$`)
	rustLocRe     = regexp.MustCompile(`^\s*--> \S+:\d+:\d+`)
	eslintRe      = regexp.MustCompile(`✖ (\d+) problems? \((\d+) errors?, (\d+) warnings?\)`)
	golangciRe    = regexp.MustCompile(`(?m)^(\d+) issues?\b`)
	ruffFoundRe   = regexp.MustCompile(`Found (\d+) errors?\.?`)
	ruffSuccessRe = regexp.MustCompile(`All checks passed!`)
	jestTestsRe   = regexp.MustCompile(`(?m)^\s*Tests:?\s+(.*\d+ (?:passed|failed).*)$`)
	failedCountRe = regexp.MustCompile(`(\d+) failed`)
	passedCountRe = regexp.MustCompile(`(\d+) passed`)
	goTestFailRe  = regexp.MustCompile(`(?m)^\s*--- FAIL: `)
	goPkgFailRe   = regexp.MustCompile(`(?m)^FAIL[ \t]+\S+`)
	goPkgOkRe     = regexp.MustCompile(`(?m)^ok[ \t]+\S+`)
	pytestSumRe   = regexp.MustCompile(`(?m)^=+ (.*\d+ (?:passed|failed|errors?).*) in [\d.]+s.*=+$`)
	pytestErrRe   = regexp.MustCompile(`(\d+) errors?`)
	cargoTestRe   = regexp.MustCompile(`test result: (?:ok|FAILED)\. (\d+) passed; (\d+) failed`)
	istanbulRe    = regexp.MustCompile(`All files\s*\|\s*([\d.]+)`)
	goCoverRe     = regexp.MustCompile(`coverage: ([\d.]+)% of statements`)
	pytestCovRe   = regexp.MustCompile(`(?m)^TOTAL\s+.*?(\d+(?:\.\d+)?)%\s*$`)
	tarpaulinRe   = regexp.MustCompile(`([\d.]+)% coverage,`)
	noTestFilesRe = regexp.MustCompile(`(?m)^\?\s+\S+\s+\[no test files\]`)
)

// ParseTypeCheck counts type errors reported by tsc, go vet, mypy or cargo.
// matched is false when the output carries no recognizable signal.
func ParseTypeCheck(out string) (count int, matched bool) {
	if n := len(tscErrorRe.FindAllString(out, -1)); n > 0 {
		count += n
		matched = true
	}
	if n := len(goVetLineRe.FindAllString(out, -1)); n > 0 {
		count += n
		matched = true
	}
	if m := mypyFoundRe.FindStringSubmatch(out); m != nil {
		count += atoi(m[1])
		matched = true
	} else if mypySuccessRe.MatchString(out) {
		matched = true
	}
	if n := rustDiagnostics(out, "error"); n > 0 {
		count += n
		matched = true
	}
	return count, matched
}

// rustDiagnostics counts rustc/clippy diagnostics of kind ("error" or
// "warning"). A diagnostic header only counts when the next line is its
// " --> file:line:col" location, which keeps prose such as "error: the
// build broke" from being read as compiler output.
func rustDiagnostics(out, kind string) int {
	lines := strings.Split(out, "\n")
	n := 0
	for i := 0; i+1 < len(lines); i++ {
		m := rustDiagRe.FindStringSubmatch(strings.TrimRight(lines[i], "\r"))
		if m == nil || m[1] != kind || !rustLocRe.MatchString(lines[i+1]) {
			continue
		}
		n++
	}
	return n
}

// ParseLint extracts error and warning counts from eslint, golangci-lint,
// ruff/flake8 or clippy output.
func ParseLint(out string) (errCount, warnings int, matched bool) {
	if m := eslintRe.FindStringSubmatch(out); m != nil {
		errCount += atoi(m[2])
		warnings += atoi(m[3])
		matched = true
	}
	if m := golangciRe.FindStringSubmatch(out); m != nil {
		errCount += atoi(m[1])
		matched = true
	}
	if m := ruffFoundRe.FindStringSubmatch(out); m != nil {
		errCount += atoi(m[1])
		matched = true
	} else if ruffSuccessRe.MatchString(out) {
		matched = true
	}
	if n := rustDiagnostics(out, "warning"); n > 0 {
		warnings += n
		matched = true
	}
	if n := rustDiagnostics(out, "error"); n > 0 && !matched {
		errCount += n
		matched = true
	}
	return errCount, warnings, matched
}

// ParseTests extracts failed and passed counts from jest, vitest, go test,
// pytest or cargo test output.
func ParseTests(out string) (failed, passed int, matched bool) {
	for _, m := range jestTestsRe.FindAllStringSubmatch(out, -1) {
		failed += firstInt(failedCountRe, m[1])
		passed += firstInt(passedCountRe, m[1])
		matched = true
	}

	goFailed := len(goTestFailRe.FindAllString(out, -1))
	if pkgFailed := len(goPkgFailRe.FindAllString(out, -1)); pkgFailed > goFailed {
		goFailed = pkgFailed
	}
	goPassed := len(goPkgOkRe.FindAllString(out, -1))
	if goFailed > 0 || goPassed > 0 || noTestFilesRe.MatchString(out) {
		failed += goFailed
		passed += goPassed
		matched = true
	}

	for _, m := range pytestSumRe.FindAllStringSubmatch(out, -1) {
		failed += firstInt(failedCountRe, m[1]) + firstInt(pytestErrRe, m[1])
		passed += firstInt(passedCountRe, m[1])
		matched = true
	}

	for _, m := range cargoTestRe.FindAllStringSubmatch(out, -1) {
		passed += atoi(m[1])
		failed += atoi(m[2])
		matched = true
	}
	return failed, passed, matched
}

// ParseCoverage extracts a total coverage percentage from istanbul,
// pytest-cov, tarpaulin or go test -cover output. Go reports one line per
// package; their mean is returned.
func ParseCoverage(out string) (float64, bool) {
	if m := istanbulRe.FindStringSubmatch(out); m != nil {
		return parseFloat(m[1])
	}
	if m := pytestCovRe.FindStringSubmatch(out); m != nil {
		return parseFloat(m[1])
	}
	if m := tarpaulinRe.FindStringSubmatch(out); m != nil {
		return parseFloat(m[1])
	}
	matches := goCoverRe.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return 0, false
	}
	var sum float64
	n := 0
	for _, m := range matches {
		if v, ok := parseFloat(m[1]); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// HasCompletionSignal reports whether the AI tool declared the story done.
func HasCompletionSignal(out, signal string) bool {
	return signal != "" && strings.Contains(out, signal)
}

// Classify judges one gate from output. With fromCommand the output came
// from the configured gate command and exitCode counts; otherwise the
// output is the AI tool's and a gate without recognizable evidence is
// skipped. Coverage passes only when a percentage was parsed and meets
// threshold.
func Classify(gate Gate, out string, exitCode int, fromCommand bool, threshold int) GateResult {
	r := GateResult{Gate: gate, ExitCode: exitCode, Source: SourceAIOutput}
	if fromCommand {
		r.Source = SourceCommand
	}

	var matched bool
	switch gate {
	case GateTypeCheck:
		r.Errors, matched = ParseTypeCheck(out)
		r.Passed = r.Errors == 0
		r.Detail = fmt.Sprintf("%d type error(s)", r.Errors)
	case GateLint:
		r.Errors, r.Warnings, matched = ParseLint(out)
		r.Passed = r.Errors == 0 && r.Warnings == 0
		r.Detail = fmt.Sprintf("%d error(s), %d warning(s)", r.Errors, r.Warnings)
	case GateTest:
		var passed int
		r.Errors, passed, matched = ParseTests(out)
		r.Passed = r.Errors == 0
		r.Detail = fmt.Sprintf("%d failed, %d passed", r.Errors, passed)
	case GateCoverage:
		r.Coverage, matched = ParseCoverage(out)
		r.Passed = matched && r.Coverage >= float64(threshold)
		if matched {
			r.Detail = fmt.Sprintf("%.2f%% (threshold %d%%)", r.Coverage, threshold)
		} else {
			r.Detail = "coverage not found in output"
		}
	default:
		r.Detail = "unknown gate"
		return r
	}

	if !fromCommand {
		if !matched {
			r.Skipped = true
			r.Passed = true
			r.Detail = "no evidence in AI output"
		}
		return r
	}
	if exitCode != 0 {
		r.Passed = false
		if !matched {
			r.Detail = fmt.Sprintf("exited with code %d", exitCode)
		}
	}
	return r
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func firstInt(re *regexp.Regexp, s string) int {
	if m := re.FindStringSubmatch(s); m != nil {
		return atoi(m[1])
	}
	return 0
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
