package access

import (
	"strings"
	"unicode"
)

var readOnlyKeywords = map[string]bool{
	"select":   true,
	"show":     true,
	"describe": true,
	"desc":     true,
	"explain":  true,
	"with":     true,
	"pragma":   true,
	"values":   true,
}

// IsReadOnlyStatement reports whether every statement in sql starts with a
// keyword that does not change data. Leading comments and parentheses are
// skipped. Anything not recognised is treated as a write, including a
// semicolon inside a string literal.
func IsReadOnlyStatement(sql string) bool {
	seen := false
	for part := range strings.SplitSeq(sql, ";") {
		if skipPreamble(part) == "" {
			continue
		}
		if !startsReadOnly(part) {
			return false
		}
		seen = true
	}
	return seen
}

func startsReadOnly(sql string) bool {
	s := skipPreamble(sql)
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end < 0 {
		end = len(s)
	}
	return readOnlyKeywords[strings.ToLower(s[:end])]
}

func skipPreamble(s string) string {
	for {
		s = strings.TrimLeftFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s, "*/")
			if i < 0 {
				return ""
			}
			s = s[i+2:]
		default:
			return s
		}
	}
}
