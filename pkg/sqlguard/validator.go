// Package sqlguard validates model-generated SQL before it is allowed to
// touch a tenant connection.
//
// Checks run in a fixed order, each with a distinct rejection reason: single
// statement, read-only statement form, dangerous function blocklist, content
// safety screen on embedded literals, table allow-list resolution, and
// finally row-limit injection. The accepted output is a possibly-rewritten
// statement ready for execution; rejections carry sanitized, user-safe
// reasons only.
package sqlguard

import (
	"fmt"
	"strconv"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/askdb-inc/askdb-engine/pkg/models"
	"github.com/askdb-inc/askdb-engine/pkg/qerrors"
)

// Outcome is the result of a successful validation.
type Outcome struct {
	// SQL is the accepted statement, rewritten with a row limit.
	SQL string

	// Warnings are low-confidence observations that did not block the
	// statement, e.g. table references the heuristic parser could not
	// resolve. The database remains the final authority on those.
	Warnings []string
}

// forbiddenKeywords are statement forms that modify data or schema, or that
// change session/server state. Their presence anywhere in the statement,
// including CTEs and subqueries, rejects it.
var forbiddenKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "alter": {},
	"truncate": {}, "create": {}, "grant": {}, "revoke": {}, "merge": {},
	"call": {}, "copy": {}, "vacuum": {}, "reindex": {}, "cluster": {},
	"lock": {}, "listen": {}, "notify": {}, "prepare": {}, "execute": {},
	"deallocate": {}, "set": {}, "reset": {}, "do": {}, "refresh": {},
	"comment": {}, "import": {},
}

// forbiddenFunctions are server-side functions that reach outside the query:
// file access, network access, privilege manipulation, server administration.
// Rejected when present as a call, case-insensitively.
var forbiddenFunctions = map[string]struct{}{
	"pg_read_file": {}, "pg_read_binary_file": {}, "pg_ls_dir": {},
	"pg_stat_file": {}, "lo_import": {}, "lo_export": {},
	"dblink": {}, "dblink_connect": {}, "dblink_exec": {},
	"pg_terminate_backend": {}, "pg_cancel_backend": {}, "pg_reload_conf": {},
	"pg_rotate_logfile": {}, "pg_promote": {}, "pg_sleep": {},
	"pg_sleep_for": {}, "pg_sleep_until": {}, "set_config": {},
	"pg_logical_emit_message": {}, "query_to_xml": {},
}

// Validate runs all safety checks on a candidate statement and returns the
// rewritten, execution-ready SQL. maxRows is the tenant's row cap used for
// LIMIT injection; it must be positive.
func Validate(sqlQuery string, allow models.AllowList, maxRows int) (*Outcome, error) {
	normalized := stripTrailingSemicolons(strings.TrimSpace(sqlQuery))
	if normalized == "" {
		return nil, qerrors.New(qerrors.KindValidation, "empty SQL statement")
	}

	scrubbed := scrub(normalized)

	// 1. Exactly one statement. Trailing semicolons were stripped, so any
	// semicolon surviving the scrub separates statements. Quoted identifiers
	// keep their contents through the scrub, so they are skipped here.
	if containsStatementSeparator(scrubbed) {
		return nil, qerrors.New(qerrors.KindValidation,
			"multiple SQL statements are not allowed; submit a single query")
	}

	tokens := tokenize(scrubbed)
	if len(tokens) == 0 {
		return nil, qerrors.New(qerrors.KindValidation, "empty SQL statement")
	}

	// 2. Read-only statement form, and no write/DDL keyword anywhere.
	if err := checkReadOnly(tokens); err != nil {
		return nil, err
	}

	// 3. Dangerous function blocklist.
	if err := checkFunctions(tokens); err != nil {
		return nil, err
	}

	// 4. Content safety screen on embedded string literals.
	if err := checkLiterals(normalized); err != nil {
		return nil, err
	}

	// 5. Table allow-list resolution.
	warnings, err := checkTables(tokens, allow)
	if err != nil {
		return nil, err
	}

	// 6. Row-limit injection.
	rewritten, err := applyRowLimit(normalized, tokens, maxRows)
	if err != nil {
		return nil, err
	}

	return &Outcome{SQL: rewritten, Warnings: warnings}, nil
}

// checkReadOnly verifies the leading keyword is a select form and that no
// data-modification or DDL keyword appears anywhere in the statement.
func checkReadOnly(tokens []token) error {
	lead := ""
	for _, t := range tokens {
		if t.kind == tokenIdent {
			lead = t.text
			break
		}
		if t.kind == tokenPunct && t.text == "(" {
			continue // parenthesized select
		}
		break
	}
	if lead != "select" && lead != "with" {
		return qerrors.New(qerrors.KindValidation,
			"only read-only SELECT queries are permitted")
	}

	for _, t := range tokens {
		if t.kind != tokenIdent {
			continue
		}
		if _, bad := forbiddenKeywords[t.text]; bad {
			return qerrors.New(qerrors.KindValidation,
				fmt.Sprintf("statement contains prohibited keyword %q", strings.ToUpper(t.text)))
		}
	}
	return nil
}

// checkFunctions rejects calls to blocklisted functions. A call is an
// identifier immediately followed by an opening parenthesis.
func checkFunctions(tokens []token) error {
	for i, t := range tokens {
		if t.kind != tokenIdent {
			continue
		}
		if _, bad := forbiddenFunctions[t.text]; !bad {
			continue
		}
		if i+1 < len(tokens) && tokens[i+1].kind == tokenPunct && tokens[i+1].text == "(" {
			return qerrors.New(qerrors.KindValidation,
				fmt.Sprintf("prohibited function call %q", t.text))
		}
	}
	return nil
}

// checkLiterals runs the libinjection screen over string literals embedded in
// the statement. A literal carrying its own injection payload (stacked
// statement fragments, comment tricks) is a strong sign of a hostile or
// confused generation.
func checkLiterals(sqlQuery string) error {
	for _, lit := range stringLiterals(sqlQuery) {
		if len(lit) < 4 {
			continue // too short to carry a payload; avoids false positives
		}
		if isSQLi, _ := libinjection.IsSQLi(lit); isSQLi {
			return qerrors.New(qerrors.KindValidation,
				"statement failed content safety screening")
		}
	}
	return nil
}

// checkTables resolves every referenced table against the tenant allow-list.
// CTE names defined in the statement are not table references. FROM lists are
// walked member by member: a comma at the clause's depth introduces another
// table that must also resolve. Targets the heuristic cannot resolve
// (functions in FROM, dialect oddities) pass through with a warning; the
// database is the authority on whether they exist.
func checkTables(tokens []token, allow models.AllowList) ([]string, error) {
	ctes := cteNames(tokens)
	var warnings []string

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.kind != tokenIdent || (t.text != "from" && t.text != "join") {
			continue
		}

		j := i + 1
		for {
			next, err := checkTableTarget(tokens, j, ctes, allow, &warnings)
			if err != nil {
				return nil, err
			}
			if next < len(tokens) && tokens[next].kind == tokenPunct &&
				tokens[next].text == "," && tokens[next].depth == t.depth {
				j = next + 1
				continue
			}
			break
		}
	}

	return warnings, nil
}

// clauseKeywords end a FROM-list member; an identifier in this set is never a
// table alias.
var clauseKeywords = map[string]struct{}{
	"where": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {},
	"cross": {}, "natural": {}, "on": {}, "using": {}, "group": {}, "order": {},
	"limit": {}, "offset": {}, "having": {}, "union": {}, "intersect": {},
	"except": {}, "fetch": {}, "for": {}, "window": {},
}

// checkTableTarget resolves one FROM-list member starting at index j and
// returns the index just past it, alias included.
func checkTableTarget(tokens []token, j int, ctes map[string]struct{}, allow models.AllowList, warnings *[]string) (int, error) {
	// ONLY and LATERAL qualify the target without naming it.
	for j < len(tokens) && tokens[j].kind == tokenIdent &&
		(tokens[j].text == "only" || tokens[j].text == "lateral") {
		j++
	}

	// Derived table: its body is resolved when the scan reaches the inner FROM.
	if j < len(tokens) && tokens[j].kind == tokenPunct && tokens[j].text == "(" {
		return skipAlias(tokens, skipParenGroup(tokens, j)), nil
	}

	name, next, ok := qualifiedNameAfter(tokens, j)
	if !ok {
		if j < len(tokens) && tokens[j].kind == tokenPunct {
			*warnings = append(*warnings, "could not resolve a table reference; the database will verify it")
		}
		return j, nil
	}

	// A name followed by '(' is a set-returning function, not a table.
	if next < len(tokens) && tokens[next].kind == tokenPunct && tokens[next].text == "(" {
		*warnings = append(*warnings, fmt.Sprintf("unresolved reference %q passed through to the database", name))
		return skipAlias(tokens, skipParenGroup(tokens, next)), nil
	}

	if _, isCTE := ctes[bareName(name)]; isCTE {
		return skipAlias(tokens, next), nil
	}

	if !allow.Permits(name) {
		return 0, qerrors.New(qerrors.KindValidation,
			fmt.Sprintf("table %q is not accessible for this tenant", name))
	}
	return skipAlias(tokens, next), nil
}

// skipAlias advances past an optional table alias (with or without AS) and an
// optional column alias list.
func skipAlias(tokens []token, j int) int {
	if j < len(tokens) && tokens[j].kind == tokenIdent && tokens[j].text == "as" {
		j++
	}
	if j >= len(tokens) || tokens[j].kind != tokenIdent {
		return j
	}
	if _, clause := clauseKeywords[tokens[j].text]; clause {
		return j
	}
	j++
	if j < len(tokens) && tokens[j].kind == tokenPunct && tokens[j].text == "(" {
		j = skipParenGroup(tokens, j)
	}
	return j
}

// skipParenGroup returns the index just past the group opened at tokens[i].
func skipParenGroup(tokens []token, i int) int {
	depth := tokens[i].depth
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].kind == tokenPunct && tokens[j].text == ")" && tokens[j].depth == depth {
			return j + 1
		}
	}
	return len(tokens)
}

// cteNames collects names defined as common table expressions, recognizable
// as an identifier directly followed by AS (.
func cteNames(tokens []token) map[string]struct{} {
	names := make(map[string]struct{})
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i].kind == tokenIdent && tokens[i].text != "as" &&
			tokens[i+1].kind == tokenIdent && tokens[i+1].text == "as" &&
			tokens[i+2].kind == tokenPunct && tokens[i+2].text == "(" {
			names[tokens[i].text] = struct{}{}
		}
	}
	return names
}

// qualifiedNameAfter reads a possibly schema-qualified identifier starting at
// index i. Returns the joined name, the index after it, and whether an
// identifier was present at all.
func qualifiedNameAfter(tokens []token, i int) (string, int, bool) {
	if i >= len(tokens) || tokens[i].kind != tokenIdent {
		return "", i, false
	}
	parts := []string{tokens[i].text}
	j := i + 1
	for j+1 < len(tokens) &&
		tokens[j].kind == tokenPunct && tokens[j].text == "." &&
		tokens[j+1].kind == tokenIdent {
		parts = append(parts, tokens[j+1].text)
		j += 2
	}
	return strings.Join(parts, "."), j, true
}

func bareName(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// applyRowLimit appends a LIMIT clause when the statement has none at the top
// level, and clamps an existing top-level limit to maxRows. A limit stricter
// than maxRows is preserved unchanged. FETCH FIRST counts as an existing
// limit. Arguments that are not plain numeric literals are rejected: the
// database coerces forms like quoted numbers, and a limit this clamp cannot
// read is a limit it cannot enforce.
func applyRowLimit(sqlQuery string, tokens []token, maxRows int) (string, error) {
	for i, t := range tokens {
		if t.kind != tokenIdent || t.depth != 0 {
			continue
		}
		switch t.text {
		case "limit":
			if i+1 >= len(tokens) {
				return "", qerrors.New(qerrors.KindValidation, "LIMIT requires a row count")
			}
			return clampLimitArg(sqlQuery, tokens[i+1], maxRows)
		case "fetch":
			if i+1 < len(tokens) && tokens[i+1].kind == tokenIdent &&
				(tokens[i+1].text == "first" || tokens[i+1].text == "next") {
				if i+2 < len(tokens) && tokens[i+2].kind == tokenNumber {
					return clampLimitArg(sqlQuery, tokens[i+2], maxRows)
				}
				// FETCH FIRST ROW ONLY limits to a single row.
				return sqlQuery, nil
			}
		}
	}
	return sqlQuery + " LIMIT " + strconv.Itoa(maxRows), nil
}

// clampLimitArg rewrites the limit argument in place when it exceeds maxRows.
func clampLimitArg(sqlQuery string, arg token, maxRows int) (string, error) {
	switch arg.kind {
	case tokenNumber:
		n, err := strconv.ParseFloat(arg.text, 64)
		if err != nil {
			return "", qerrors.New(qerrors.KindValidation, "LIMIT requires a numeric row count")
		}
		if n <= float64(maxRows) {
			return sqlQuery, nil
		}
		return sqlQuery[:arg.start] + strconv.Itoa(maxRows) + sqlQuery[arg.end:], nil
	case tokenIdent:
		if arg.text == "all" {
			return sqlQuery[:arg.start] + strconv.Itoa(maxRows) + sqlQuery[arg.end:], nil
		}
	}
	return "", qerrors.New(qerrors.KindValidation, "LIMIT requires a numeric row count")
}

// containsStatementSeparator reports whether a semicolon appears outside a
// double-quoted identifier. Literal and comment bodies were already blanked
// by scrub.
func containsStatementSeparator(scrubbed string) bool {
	inIdent := false
	for i := 0; i < len(scrubbed); i++ {
		switch scrubbed[i] {
		case '"':
			inIdent = !inIdent
		case ';':
			if !inIdent {
				return true
			}
		}
	}
	return false
}

// stripTrailingSemicolons removes trailing semicolons and surrounding
// whitespace so a single well-terminated statement is not mistaken for two.
func stripTrailingSemicolons(sqlQuery string) string {
	for {
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
		if !strings.HasSuffix(sqlQuery, ";") {
			return sqlQuery
		}
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
	}
}
