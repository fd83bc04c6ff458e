package agents

import (
	"fmt"
	"regexp"
	"strings"
)

// markerRe matches a whole-line block marker such as <!-- RULEBOOK:START -->.
var markerRe = regexp.MustCompile(`^<!--\s*([A-Z0-9_]+):(START|END)\s*-->$`)

// Block is a named, rulebook-managed section of AGENTS.md.
type Block struct {
	Name    string
	Content string
}

// String renders the block with its markers.
func (b Block) String() string {
	return fmt.Sprintf("<!-- %s:START -->\n%s\n<!-- %s:END -->", b.Name, strings.TrimSpace(b.Content), b.Name)
}

// segment is either free text (block == nil) or a managed block. A joint
// segment follows a spot where Merge removed or appended a block; it is
// separated from what precedes it by exactly one blank line.
type segment struct {
	text  string
	block *Block
	joint bool
}

// document preserves user text between blocks so a merge can rewrite
// blocks in place.
type document struct {
	segments []segment
}

func (d *document) blocks() []Block {
	var out []Block
	for _, s := range d.segments {
		if s.block != nil {
			out = append(out, *s.block)
		}
	}
	return out
}

func (d *document) String() string {
	var out string
	for _, s := range d.segments {
		text := s.text
		if s.block != nil {
			text = s.block.String() + "\n"
		}
		if s.joint {
			text = strings.TrimLeft(text, "\n")
			if out = strings.TrimRight(out, "\n"); out != "" {
				out += "\n\n"
			}
		}
		out += text
	}
	return out
}

// fence returns the fence run (``` or ~~~) that opens or closes a fenced
// code block on line, or "".
func fence(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return ""
	}
	for _, c := range []byte{'`', '~'} {
		n := 0
		for n < len(trimmed) && trimmed[n] == c {
			n++
		}
		if n >= 3 {
			return trimmed[:n]
		}
	}
	return ""
}

func parseDocument(content string) (*document, error) {
	doc := &document{}
	var text strings.Builder
	var open *Block
	var body []string
	openLine := 0

	flushText := func() {
		if text.Len() > 0 {
			doc.segments = append(doc.segments, segment{text: text.String()})
			text.Reset()
		}
	}

	openFence := ""
	lines := strings.SplitAfter(content, "\n")
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")
		var m []string
		f := fence(line)
		switch {
		case openFence == "" && f != "":
			openFence = f
		case openFence != "":
			if f != "" && f[0] == openFence[0] && len(f) >= len(openFence) && strings.TrimSpace(line) == f {
				openFence = ""
			}
		default:
			m = markerRe.FindStringSubmatch(strings.TrimSpace(line))
		}
		if m == nil {
			if open != nil {
				body = append(body, line)
			} else {
				text.WriteString(raw)
			}
			continue
		}

		name, kind := m[1], m[2]
		switch {
		case kind == "START" && open != nil:
			return nil, fmt.Errorf("%w: %s opened at line %d inside %s", ErrNestedBlock, name, i+1, open.Name)
		case kind == "START":
			flushText()
			open = &Block{Name: name}
			body = nil
			openLine = i + 1
		case open == nil:
			return nil, fmt.Errorf("%w: %s closed at line %d without START", ErrUnbalancedBlock, name, i+1)
		case name != open.Name:
			return nil, fmt.Errorf("%w: %s closed at line %d while %s is open", ErrUnbalancedBlock, name, i+1, open.Name)
		default:
			open.Content = strings.Join(body, "\n")
			doc.segments = append(doc.segments, segment{block: open})
			open = nil
		}
	}
	if open != nil {
		return nil, fmt.Errorf("%w: %s opened at line %d is never closed", ErrUnbalancedBlock, open.Name, openLine)
	}
	flushText()
	return doc, nil
}

// ParseBlocks returns the managed blocks of content in document order.
func ParseBlocks(content string) ([]Block, error) {
	doc, err := parseDocument(content)
	if err != nil {
		return nil, err
	}
	return doc.blocks(), nil
}

// MergeResult describes what Merge changed.
type MergeResult struct {
	Content  string
	Updated  []string
	Added    []string
	Removed  []string
	Retained []string
}

// Merge rewrites the managed blocks of existing with those of generated.
// Text outside blocks is preserved as written. Blocks missing from
// existing are appended; blocks no longer generated are dropped unless
// keepStale is set.
func Merge(existing, generated string, keepStale bool) (*MergeResult, error) {
	gen, err := ParseBlocks(generated)
	if err != nil {
		return nil, fmt.Errorf("parse generated content: %w", err)
	}
	if strings.TrimSpace(existing) == "" {
		res := &MergeResult{Content: generated}
		for _, b := range gen {
			res.Added = append(res.Added, b.Name)
		}
		return res, nil
	}

	doc, err := parseDocument(existing)
	if err != nil {
		return nil, fmt.Errorf("parse existing content: %w", err)
	}

	fresh := make(map[string]Block, len(gen))
	for _, b := range gen {
		fresh[b.Name] = b
	}

	res := &MergeResult{}
	seen := make(map[string]bool)
	kept := doc.segments[:0]
	joint := false
	keep := func(s segment) {
		s.joint = s.joint || joint
		joint = false
		kept = append(kept, s)
	}
	for _, s := range doc.segments {
		if s.block == nil {
			keep(s)
			continue
		}
		name := s.block.Name
		if seen[name] {
			// duplicate of a block already merged
			res.Removed = append(res.Removed, name)
			joint = true
			continue
		}
		seen[name] = true

		if b, ok := fresh[name]; ok {
			if strings.TrimSpace(b.Content) != strings.TrimSpace(s.block.Content) {
				res.Updated = append(res.Updated, name)
			}
			nb := b
			keep(segment{block: &nb})
			continue
		}
		if keepStale {
			res.Retained = append(res.Retained, name)
			keep(s)
			continue
		}
		res.Removed = append(res.Removed, name)
		joint = true
	}

	for _, b := range gen {
		if seen[b.Name] {
			continue
		}
		nb := b
		keep(segment{block: &nb, joint: true})
		res.Added = append(res.Added, b.Name)
	}
	doc.segments = kept

	res.Content = doc.String()
	if joint {
		res.Content = strings.TrimRight(res.Content, "\n") + "\n"
	}
	if !strings.HasSuffix(res.Content, "\n") {
		res.Content += "\n"
	}
	return res, nil
}
