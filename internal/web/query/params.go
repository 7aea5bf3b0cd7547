// Package query parses list parameters (pagination, sort, filters) from
// request URLs and turns them into SQL fragments.
package query

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/hireflow/hireflow/internal/validation"
)

// filterPattern matches query parameters like filter[key]
var filterPattern = regexp.MustCompile(`^filter\[([^\]]+)\]$`)

// Sort is one ORDER BY term
type Sort struct {
	Field string
	Desc  bool
}

// Params are the parsed list parameters of a request
type Params struct {
	Page    int
	PerPage int
	Sort    []Sort
	Filters map[string]string
	Search  string
}

// Options whitelist what a list endpoint accepts
type Options struct {
	Sortable       []string
	Filterable     []string
	DefaultSort    string
	DefaultPerPage int
	MaxPerPage     int
}

func (o Options) withDefaults() Options {
	if o.DefaultPerPage <= 0 {
		o.DefaultPerPage = 25
	}
	if o.MaxPerPage <= 0 {
		o.MaxPerPage = 100
	}
	return o
}

// Parse reads page, per_page, sort, q and filters from r. Filters are
// accepted both as ?filter[status]=open and ?status=open. Invalid values
// produce a *validation.Errors.
func Parse(r *http.Request, opts Options) (Params, error) {
	opts = opts.withDefaults()
	values := r.URL.Query()
	errs := validation.New()

	p := Params{
		Page:    1,
		PerPage: opts.DefaultPerPage,
		Filters: make(map[string]string),
		Search:  strings.TrimSpace(values.Get("q")),
	}

	if raw := values.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			errs.Add("page", "must be a positive integer")
		} else {
			p.Page = n
		}
	}

	if raw := values.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil || n < 1:
			errs.Add("per_page", "must be a positive integer")
		case n > opts.MaxPerPage:
			errs.Add("per_page", "must be at most "+strconv.Itoa(opts.MaxPerPage))
		default:
			p.PerPage = n
		}
	}

	rawSort := values.Get("sort")
	if rawSort == "" {
		rawSort = opts.DefaultSort
	}
	sortable := toSet(opts.Sortable)
	for _, term := range splitList(rawSort) {
		s := Sort{Field: strings.TrimPrefix(term, "-"), Desc: strings.HasPrefix(term, "-")}
		if !sortable[s.Field] {
			errs.Add("sort", "cannot sort by "+s.Field)
			continue
		}
		p.Sort = append(p.Sort, s)
	}

	filterable := toSet(opts.Filterable)
	for key, vals := range values {
		name := key
		if m := filterPattern.FindStringSubmatch(key); len(m) == 2 {
			name = m[1]
			if !filterable[name] {
				errs.Add("filter", "cannot filter by "+name)
				continue
			}
		} else if !filterable[name] {
			continue
		}
		if len(vals) > 0 && vals[0] != "" {
			p.Filters[name] = vals[0]
		}
	}

	if err := errs.Err(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Offset is the number of rows to skip for the current page
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Limit is the page size
func (p Params) Limit() int {
	return p.PerPage
}

// Filter returns the filter value for name and whether it was given
func (p Params) Filter(name string) (string, bool) {
	v, ok := p.Filters[name]
	return v, ok
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
