package worker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPatternsOverlap(t *testing.T) {
	tests := []struct {
		p, q string
		want bool
	}{
		{"src/auth/**", "src/auth/login.ts", true},
		{"src/auth/**", "src/billing/**", false},
		{"src/**/*.ts", "src/auth/*.ts", true},
		{"src/a.go", "src/b.go", false},
		{"src/a.go", "./src/a.go", true},
		{"src", "src/api/*.go", true},
		{"src/a.go", "src/*.ts", false},
		{"**/*.md", "docs/x.md", true},
		{"internal/api", "internal/api/handler.go", true},
	}
	for _, tt := range tests {
		if got := PatternsOverlap(tt.p, tt.q); got != tt.want {
			t.Errorf("PatternsOverlap(%q, %q) = %v, want %v", tt.p, tt.q, got, tt.want)
		}
		if got := PatternsOverlap(tt.q, tt.p); got != tt.want {
			t.Errorf("PatternsOverlap(%q, %q) = %v, want %v (reversed)", tt.q, tt.p, got, tt.want)
		}
	}
}

func ids(waves [][]Claim) [][]string {
	out := make([][]string, len(waves))
	for i, w := range waves {
		for _, c := range w {
			out[i] = append(out[i], c.ID)
		}
	}
	return out
}

func TestPlanWaves(t *testing.T) {
	claims := []Claim{
		{ID: "A", Files: []string{"src/auth/**"}},
		{ID: "B", Files: []string{"src/auth/session.go"}},
		{ID: "C", Files: []string{"src/billing/**"}},
		{ID: "D", Files: []string{"docs/**"}},
		{ID: "E"},
		{ID: "F", Files: []string{"web/**"}},
	}

	got := ids(PlanWaves(claims, 3))
	want := [][]string{{"A", "C", "D"}, {"B", "F"}, {"E"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("waves mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanWaves_NoFilesRunsAlone(t *testing.T) {
	claims := []Claim{{ID: "A"}, {ID: "B", Files: []string{"x/**"}}, {ID: "C"}}
	got := ids(PlanWaves(claims, 4))
	want := [][]string{{"A"}, {"B"}, {"C"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("waves mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanWaves_SequentialWhenMaxIsOne(t *testing.T) {
	claims := []Claim{{ID: "A", Files: []string{"a/**"}}, {ID: "B", Files: []string{"b/**"}}}
	got := ids(PlanWaves(claims, 0))
	want := [][]string{{"A"}, {"B"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("waves mismatch (-want +got):\n%s", diff)
	}
}
