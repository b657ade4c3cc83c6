package engine

import "strings"

// SplitStatements splits a migration script into individual statements.
//
// Semicolons inside single-quoted literals, double-quoted or backquoted
// identifiers, -- and /* */ comments, and $tag$ dollar-quoted bodies do not
// terminate a statement. Statements are returned trimmed and without their
// trailing semicolon; segments holding only whitespace or comments are dropped.
func SplitStatements(script string) []string {
	var (
		out         []string
		start       int
		significant bool
	)
	flush := func(end int) {
		if significant {
			out = append(out, strings.TrimSpace(script[start:end]))
		}
		start = end + 1
		significant = false
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(script, i, c)
			significant = true
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			if nl := strings.IndexByte(script[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(script) - 1
			}
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			if end := strings.Index(script[i+2:], "*/"); end >= 0 {
				i += end + 3
			} else {
				i = len(script) - 1
			}
		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				if end := strings.Index(script[i+len(tag):], tag); end >= 0 {
					i += len(tag) + end + len(tag) - 1
				} else {
					i = len(script) - 1
				}
			}
			significant = true
		case c == ';':
			flush(i)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		default:
			significant = true
		}
	}
	if start < len(script) {
		flush(len(script))
	}
	return out
}

// skipQuoted returns the index of the quote closing the literal opened at i.
// A doubled quote character is an escaped quote.
func skipQuoted(s string, i int, q byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j
	}
	return len(s) - 1
}

// dollarTag reports the $tag$ opening s, if any.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		if c == '$' {
			return s[:j+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || j > 1 && c >= '0' && c <= '9') {
			return "", false
		}
	}
	return "", false
}
