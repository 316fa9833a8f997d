package playground

import (
	"strings"
)

const indentUnit = "  "

// Format re-indents code by breaking lines after ';', '{' and ',' and before
// '}', indenting two spaces per open brace. It does not understand strings,
// comments or template literals and may rewrite text inside them.
func Format(code string) string {
	var expanded strings.Builder
	// inserted marks a break added here, so a newline already in the input
	// right after it is not doubled
	inserted, lineStart := false, true
	for _, r := range code {
		switch r {
		case ';', '{', ',':
			expanded.WriteRune(r)
			expanded.WriteByte('\n')
			inserted, lineStart = true, true
		case '}':
			if !lineStart {
				expanded.WriteByte('\n')
			}
			expanded.WriteRune(r)
			inserted, lineStart = false, false
		case '\n':
			if inserted {
				inserted = false
				continue
			}
			expanded.WriteRune(r)
			lineStart = true
		case ' ', '\t', '\r':
			expanded.WriteRune(r)
		default:
			expanded.WriteRune(r)
			inserted, lineStart = false, false
		}
	}

	lines := strings.Split(expanded.String(), "\n")
	out := make([]string, 0, len(lines))
	depth := 0
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			// collapse runs of blank lines into one
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false

		if strings.HasPrefix(line, "}") && depth > 0 {
			depth--
		}
		out = append(out, strings.Repeat(indentUnit, depth)+line)
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if strings.HasPrefix(line, "}") {
			depth++
		}
		if depth < 0 {
			depth = 0
		}
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// BracketsBalanced reports whether (), [] and {} nest correctly. Brackets
// inside string literals and comments are counted like any other.
func BracketsBalanced(code string) bool {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []rune
	for _, r := range code {
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[r] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}
