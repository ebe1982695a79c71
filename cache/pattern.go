package cache

// MatchPattern reports whether key matches a redis-style glob pattern, with the same rules as the redis KEYS command:
//
//   - `*` matches any run of characters (including none)
//   - `?` matches exactly one character
//   - `[abc]`, `[a-z]`, and `[^a]` match character classes
//   - `\` escapes the following character
//
// Matching is bytewise, like redis. Only the most recent `*` is ever retried, so cost is bounded by len(pattern)*len(key).
func MatchPattern(pattern, key string) bool {
	p, k := 0, 0
	// position after the last star seen, and the key offset it is currently absorbing up to
	starP, starK := -1, 0
	for k < len(key) {
		if p < len(pattern) && pattern[p] == '*' {
			for p < len(pattern) && pattern[p] == '*' {
				p++
			}
			if p == len(pattern) {
				return true
			}
			starP, starK = p, k
			continue
		}
		if p < len(pattern) {
			if n, ok := matchToken(pattern[p:], key[k]); ok {
				p += n
				k++
				continue
			}
		}
		if starP < 0 {
			return false
		}
		starK++
		p, k = starP, starK
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// Matches the single (non-star) token at the start of pattern against c. Returns the length of the token.
func matchToken(pattern string, c byte) (int, bool) {
	switch pattern[0] {
	case '?':
		return 1, true
	case '[':
		rest := pattern[1:]
		negate := false
		if len(rest) > 0 && rest[0] == '^' {
			negate = true
			rest = rest[1:]
		}
		matched := false
		for len(rest) > 0 && rest[0] != ']' {
			if rest[0] == '\\' && len(rest) >= 2 {
				if rest[1] == c {
					matched = true
				}
				rest = rest[2:]
			} else if len(rest) >= 3 && rest[1] == '-' && rest[2] != ']' {
				lo, hi := rest[0], rest[2]
				if lo > hi {
					lo, hi = hi, lo
				}
				if c >= lo && c <= hi {
					matched = true
				}
				rest = rest[3:]
			} else {
				if rest[0] == c {
					matched = true
				}
				rest = rest[1:]
			}
		}
		// redis tolerates an unterminated class
		if len(rest) > 0 {
			rest = rest[1:]
		}
		return len(pattern) - len(rest), matched != negate
	case '\\':
		if len(pattern) >= 2 {
			return 2, pattern[1] == c
		}
	}
	return 1, pattern[0] == c
}
