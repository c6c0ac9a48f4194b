package changelog

import (
	"regexp"
	"strings"
)

var headingRE = regexp.MustCompile(`^(#{1,4})[ \t]+(.*?)[ \t#]*$`)

// ExtractVersionSection returns the body of the changelog section whose heading names tag.
//
// A heading matches when its first token, with surrounding brackets and a leading "v"
// removed, equals tag without its leading "v" (case-insensitive). The section ends at the
// next heading of the same or shallower depth. An empty section counts as not found.
func ExtractVersionSection(content, tag string) (string, bool) {
	want := stripV(strings.TrimSpace(tag))
	if want == "" {
		return "", false
	}

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	start, depth := -1, 0
	for i, line := range lines {
		level, text, ok := parseHeading(line)
		if !ok {
			continue
		}
		if start >= 0 {
			if level <= depth {
				return section(lines[start:i])
			}
			continue
		}
		if strings.EqualFold(headingVersion(text), want) {
			start, depth = i+1, level
		}
	}
	if start < 0 {
		return "", false
	}
	return section(lines[start:])
}

func parseHeading(line string) (level int, text string, ok bool) {
	m := headingRE.FindStringSubmatch(line)
	if m == nil {
		return 0, "", false
	}
	return len(m[1]), m[2], true
}

// headingVersion reduces "[2.0.0](https://...) - 2024-01-01" or "v2.0.0 (2024)" to "2.0.0".
func headingVersion(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	token := fields[0]
	if strings.HasPrefix(token, "[") {
		if end := strings.Index(token, "]"); end > 0 {
			token = token[1:end]
		}
	}
	token = strings.Trim(token, "[]():")
	return stripV(token)
}

func stripV(s string) string {
	if len(s) > 1 && (s[0] == 'v' || s[0] == 'V') {
		return s[1:]
	}
	return s
}

func section(lines []string) (string, bool) {
	s := strings.TrimSpace(strings.Join(lines, "\n"))
	return s, s != ""
}
