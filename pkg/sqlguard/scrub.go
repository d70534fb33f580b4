package sqlguard

import "strings"

// scrub returns a copy of the SQL with comment bodies and string-literal
// contents replaced by spaces. Byte positions are preserved, so token offsets
// found in the scrubbed text index directly into the original. Quote
// characters themselves are kept so literals remain visible as tokens.
func scrub(sqlQuery string) string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateLineComment
		stateBlockComment
		stateDollarQuote
	)

	src := []byte(sqlQuery)
	out := make([]byte, len(src))
	copy(out, src)

	state := stateNormal
	var dollarTag string

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch state {
		case stateNormal:
			switch {
			case c == '\'':
				state = stateSingleQuote
			case c == '"':
				state = stateDoubleQuote
			case c == '-' && i+1 < len(src) && src[i+1] == '-':
				out[i] = ' '
				state = stateLineComment
			case c == '/' && i+1 < len(src) && src[i+1] == '*':
				out[i] = ' '
				state = stateBlockComment
			case c == '$':
				if tag, ok := dollarTagAt(sqlQuery, i); ok {
					dollarTag = tag
					state = stateDollarQuote
					// Keep the opening tag visible, blank the body.
					i += len(tag) - 1
				}
			}
		case stateSingleQuote:
			if c == '\'' {
				// Doubled quote ('') re-enters the literal on the next
				// iteration, which is the behavior we want.
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateNormal
			}
			// Quoted identifiers stay visible; they name real objects.
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(src) && src[i+1] == '/' {
				out[i] = ' '
				out[i+1] = ' '
				i++
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateDollarQuote:
			if c == '$' && strings.HasPrefix(sqlQuery[i:], dollarTag) {
				i += len(dollarTag) - 1
				state = stateNormal
			} else {
				out[i] = ' '
			}
		}
	}

	return string(out)
}

// dollarTagAt reports whether a dollar-quote tag ($$ or $tag$) starts at
// position i, returning the full tag including both dollar signs.
func dollarTagAt(s string, i int) (string, bool) {
	j := i + 1
	for j < len(s) {
		c := s[j]
		if c == '$' {
			return s[i : j+1], true
		}
		if !isIdentByte(c) {
			return "", false
		}
		j++
	}
	return "", false
}

// stringLiterals extracts the contents of single-quoted literals from the
// original SQL, for the content safety screen.
func stringLiterals(sqlQuery string) []string {
	var literals []string
	inString := false
	var start int

	for i := 0; i < len(sqlQuery); i++ {
		c := sqlQuery[i]
		if !inString {
			if c == '\'' {
				inString = true
				start = i + 1
			}
			continue
		}
		if c == '\'' {
			if i+1 < len(sqlQuery) && sqlQuery[i+1] == '\'' {
				i++ // escaped quote, still inside
				continue
			}
			literals = append(literals, strings.ReplaceAll(sqlQuery[start:i], "''", "'"))
			inString = false
		}
	}

	return literals
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
