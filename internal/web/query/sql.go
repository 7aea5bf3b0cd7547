package query

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderBy renders an ORDER BY clause for p.Sort. columns maps API field
// names to trusted SQL expressions; unknown fields are skipped. tiebreak,
// when set, is appended so that pagination is stable.
func (p Params) OrderBy(columns map[string]string, tiebreak string) string {
	terms := make([]string, 0, len(p.Sort)+1)
	for _, s := range p.Sort {
		col, ok := columns[s.Field]
		if !ok {
			continue
		}
		direction := "ASC"
		if s.Desc {
			direction = "DESC"
		}
		terms = append(terms, col+" "+direction)
	}
	if tiebreak != "" {
		terms = append(terms, tiebreak)
	}
	if len(terms) == 0 {
		return ""
	}
	return "ORDER BY " + strings.Join(terms, ", ")
}

// Where accumulates AND-ed conditions with numbered placeholders.
// Conditions are written with ? and renumbered to $n as they are added.
type Where struct {
	conds []string
	args  []interface{}
}

// NewWhere starts a clause with a first condition, usually the tenant scope
func NewWhere(cond string, args ...interface{}) *Where {
	w := &Where{}
	w.Add(cond, args...)
	return w
}

// Add appends a condition. The number of ? in cond must match len(args).
func (w *Where) Add(cond string, args ...interface{}) *Where {
	if strings.Count(cond, "?") != len(args) {
		panic(fmt.Sprintf("query: %d placeholders for %d args in %q", strings.Count(cond, "?"), len(args), cond))
	}

	var b strings.Builder
	for _, r := range cond {
		if r == '?' {
			w.args = append(w.args, args[0])
			args = args[1:]
			b.WriteString("$" + strconv.Itoa(len(w.args)))
			continue
		}
		b.WriteRune(r)
	}
	w.conds = append(w.conds, b.String())
	return w
}

// SQL renders the WHERE clause, or "" when there are no conditions
func (w *Where) SQL() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// Args returns the placeholder arguments in order
func (w *Where) Args() []interface{} {
	return w.args
}

// Next returns the placeholder number the next argument would get, for
// LIMIT/OFFSET appended after the clause
func (w *Where) Next() int {
	return len(w.args) + 1
}

// Paginate appends LIMIT and OFFSET placeholders for p and returns the SQL
// fragment and the full argument list
func (w *Where) Paginate(p Params) (string, []interface{}) {
	n := w.Next()
	args := append(append([]interface{}(nil), w.args...), p.Limit(), p.Offset())
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", n, n+1), args
}
