package worker

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Claim is a unit of work and the file patterns it may touch.
type Claim struct {
	ID    string
	Files []string
}

// Conflicts reports whether two claims may touch the same files. A claim
// without patterns conflicts with everything.
func Conflicts(a, b Claim) bool {
	if len(a.Files) == 0 || len(b.Files) == 0 {
		return true
	}
	for _, p := range a.Files {
		for _, q := range b.Files {
			if PatternsOverlap(p, q) {
				return true
			}
		}
	}
	return false
}

// PatternsOverlap reports whether two doublestar patterns can match a
// common path. It is conservative: two wildcard patterns rooted in nested
// directories are treated as overlapping.
func PatternsOverlap(p, q string) bool {
	p, q = path.Clean(p), path.Clean(q)
	if p == q {
		return true
	}
	if ok, _ := doublestar.Match(p, q); ok {
		return true
	}
	if ok, _ := doublestar.Match(q, p); ok {
		return true
	}

	pMeta, qMeta := hasMeta(p), hasMeta(q)
	switch {
	case !pMeta && !qMeta:
		return dirContains(p, q) || dirContains(q, p)
	case pMeta && qMeta:
		pBase, _ := doublestar.SplitPattern(p)
		qBase, _ := doublestar.SplitPattern(q)
		return dirContains(pBase, qBase) || dirContains(qBase, pBase)
	case !pMeta:
		// a literal path the pattern did not match can still name a
		// directory that contains the pattern's base
		qBase, _ := doublestar.SplitPattern(q)
		return dirContains(p, qBase)
	default:
		pBase, _ := doublestar.SplitPattern(p)
		return dirContains(q, pBase)
	}
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{\\")
}

// dirContains reports whether dir is child or equal to parent.
func dirContains(parent, dir string) bool {
	if parent == "." || parent == "" {
		return true
	}
	return dir == parent || strings.HasPrefix(dir, parent+"/")
}

// PlanWaves groups claims into waves of at most limit members whose file
// patterns do not overlap. Claims keep their relative order: each wave
// takes, in order, every remaining claim compatible with it. A claim
// without files always runs alone.
func PlanWaves(claims []Claim, limit int) [][]Claim {
	if limit <= 0 {
		limit = 1
	}
	remaining := append([]Claim(nil), claims...)
	var waves [][]Claim

	for len(remaining) > 0 {
		var wave, deferred []Claim
		closed := false
		for _, c := range remaining {
			if closed || len(wave) >= limit || conflictsWithAny(c, wave) {
				deferred = append(deferred, c)
				continue
			}
			wave = append(wave, c)
			if len(c.Files) == 0 {
				closed = true
			}
		}
		waves = append(waves, wave)
		remaining = deferred
	}
	return waves
}

func conflictsWithAny(c Claim, wave []Claim) bool {
	for _, w := range wave {
		if Conflicts(c, w) {
			return true
		}
	}
	return false
}
