package render

import (
	"regexp"
	"strings"
)

var assignStartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\s*(:[^=]*)?=[^=]`)

var codePrefixes = []string{
	"import ", "from ", "def ", "async def ", "class ", "@", "#", `"""`, `'''`, "if __name__",
}

// isCodeStart reports whether an unindented line opens a Python construct.
func isCodeStart(line string) bool {
	for _, p := range codePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return assignStartRE.MatchString(line)
}

// Sanitize strips narrative and markdown fences preceding the first line that
// opens a Python construct, and a closing fence plus whatever follows it when
// no construct comes after. Fence lines between constructs, such as those in
// a string literal, are kept. Text with no construct is returned empty.
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		if isCodeStart(line) {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}
	lines = lines[start:]

	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if isCodeStart(lines[i]) {
			break
		}
		if strings.HasPrefix(lines[i], "```") {
			end = i
			break
		}
	}
	return strings.TrimRight(strings.Join(lines[:end], "\n"), "\n ") + "\n"
}
