package kv

import "strings"

// MatchGlob reports whether key matches pattern under SQLite GLOB rules.
// * matches any run of characters including '/', ? matches exactly one,
// and [...] is a class with ^ negation and a-z ranges. Every other
// character is literal and matching is case-sensitive.
func MatchGlob(pattern, key string) bool {
	return matchGlob([]rune(pattern), []rune(key))
}

// QuoteGlob escapes the metacharacters of s so the result matches s
// literally when embedded in a pattern.
func QuoteGlob(s string) string {
	if !strings.ContainsAny(s, "*?[") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchGlob(p, s []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '*':
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := range len(s) + 1 {
				if matchGlob(p, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
		case '[':
			if len(s) == 0 {
				return false
			}
			n, ok := matchClass(p, s[0])
			if n == 0 || !ok {
				return false
			}
			p, s = p[n:], s[1:]
			continue
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
		}
		p, s = p[1:], s[1:]
	}
	return len(s) == 0
}

// matchClass reads the class opening at p[0] and reports its length and
// whether c belongs to it. Length 0 means the class is unterminated,
// which never matches.
func matchClass(p []rune, c rune) (int, bool) {
	i := 1
	negate := i < len(p) && p[i] == '^'
	if negate {
		i++
	}
	found := false
	if i < len(p) && p[i] == ']' {
		found = c == ']'
		i++
	}
	for i < len(p) && p[i] != ']' {
		if i+2 < len(p) && p[i+1] == '-' && p[i+2] != ']' {
			if p[i] <= c && c <= p[i+2] {
				found = true
			}
			i += 3
			continue
		}
		if p[i] == c {
			found = true
		}
		i++
	}
	if i >= len(p) {
		return 0, false
	}
	return i + 1, found != negate
}
