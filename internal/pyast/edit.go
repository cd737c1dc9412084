package pyast

import (
	"fmt"
	"sort"
	"strings"
)

// Edit replaces the byte range [Start, End) of a source with Text.
// Start == End is an insertion.
type Edit struct {
	Start uint32
	End   uint32
	Text  string
}

// sortEdits orders edits by position and rejects overlaps. Identical edits
// are collapsed so independent passes may propose the same rewrite.
func sortEdits(edits []Edit) ([]Edit, error) {
	sorted := append([]Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})
	out := sorted[:0]
	for i, e := range sorted {
		if e.End < e.Start {
			return nil, fmt.Errorf("invalid edit range [%d,%d)", e.Start, e.End)
		}
		if i > 0 {
			prev := out[len(out)-1]
			if prev == e {
				continue
			}
			if e.Start < prev.End {
				return nil, fmt.Errorf("overlapping edits at [%d,%d) and [%d,%d)", prev.Start, prev.End, e.Start, e.End)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// ApplyEdits applies non-overlapping edits to src.
func ApplyEdits(src []byte, edits []Edit) ([]byte, error) {
	return applyRange(src, 0, uint32(len(src)), edits)
}

// ApplyEditsIn returns the text of src[start:end] with the edits that fall
// inside that range applied. Edits outside the range are ignored.
func ApplyEditsIn(src []byte, start, end uint32, edits []Edit) (string, error) {
	var inside []Edit
	for _, e := range edits {
		if e.Start >= start && e.End <= end {
			inside = append(inside, e)
		}
	}
	out, err := applyRange(src, start, end, inside)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func applyRange(src []byte, start, end uint32, edits []Edit) ([]byte, error) {
	if end > uint32(len(src)) || start > end {
		return nil, fmt.Errorf("range [%d,%d) outside source of %d bytes", start, end, len(src))
	}
	sorted, err := sortEdits(edits)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.Grow(int(end-start) + 64)
	cursor := start
	for _, e := range sorted {
		if e.Start < start || e.End > end {
			return nil, fmt.Errorf("edit [%d,%d) outside range [%d,%d)", e.Start, e.End, start, end)
		}
		b.Write(src[cursor:e.Start])
		b.WriteString(e.Text)
		cursor = e.End
	}
	b.Write(src[cursor:end])
	return []byte(b.String()), nil
}

// Dedent removes the common leading whitespace of all non-blank lines.
func Dedent(text string) string {
	lines := strings.Split(text, "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix = indent
			first = false
			continue
		}
		for !strings.HasPrefix(indent, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}

// Indent prefixes every non-blank line of text.
func Indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// LineStart returns the byte offset of the start of the line containing b.
func LineStart(src []byte, b uint32) uint32 {
	for b > 0 && src[b-1] != '\n' {
		b--
	}
	return b
}
