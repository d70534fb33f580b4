package sqlguard

import "strings"

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenPunct
)

// token is one lexical unit of the scrubbed SQL. Start and End are byte
// offsets into the original statement, valid for splicing rewrites.
type token struct {
	kind  tokenKind
	text  string // identifiers lowered, punctuation verbatim
	start int
	end   int
	depth int // parenthesis nesting depth at the token
}

// tokenize splits scrubbed SQL into identifier, number, and punctuation
// tokens. String literal bodies were blanked by scrub, so a literal appears
// as two quote punctuation tokens.
func tokenize(scrubbed string) []token {
	var tokens []token
	depth := 0

	for i := 0; i < len(scrubbed); {
		c := scrubbed[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(scrubbed) && (isIdentByte(scrubbed[j]) || scrubbed[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenNumber, scrubbed[i:j], i, j, depth})
			i = j
		case isIdentByte(c) && c != '$':
			j := i
			for j < len(scrubbed) && isIdentByte(scrubbed[j]) {
				j++
			}
			tokens = append(tokens, token{tokenIdent, strings.ToLower(scrubbed[i:j]), i, j, depth})
			i = j
		case c == '"':
			// Quoted identifier: preserve case per SQL semantics, but the
			// allow-list comparison is case-insensitive anyway.
			j := i + 1
			for j < len(scrubbed) && scrubbed[j] != '"' {
				j++
			}
			if j < len(scrubbed) {
				j++
			}
			tokens = append(tokens, token{tokenIdent, strings.ToLower(strings.Trim(scrubbed[i:j], `"`)), i, j, depth})
			i = j
		default:
			if c == '(' {
				depth++
			}
			tokens = append(tokens, token{tokenPunct, string(c), i, i + 1, depth})
			if c == ')' {
				depth--
			}
			i++
		}
	}

	return tokens
}
