package query

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow/internal/validation"
)

var postingOpts = Options{
	Sortable:    []string{"created_at", "title"},
	Filterable:  []string{"status", "department"},
	DefaultSort: "-created_at",
}

func TestParse_Defaults(t *testing.T) {
	p, err := Parse(httptest.NewRequest("GET", "/postings", nil), postingOpts)
	require.NoError(t, err)

	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 25, p.PerPage)
	assert.Equal(t, []Sort{{Field: "created_at", Desc: true}}, p.Sort)
	assert.Empty(t, p.Filters)
	assert.Equal(t, 0, p.Offset())
}

func TestParse_Values(t *testing.T) {
	r := httptest.NewRequest("GET", "/postings?page=3&per_page=10&sort=title,-created_at&status=open&filter[department]=Eng&q=%20go%20&other=x", nil)
	p, err := Parse(r, postingOpts)
	require.NoError(t, err)

	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 10, p.Limit())
	assert.Equal(t, 20, p.Offset())
	assert.Equal(t, []Sort{{Field: "title"}, {Field: "created_at", Desc: true}}, p.Sort)
	assert.Equal(t, map[string]string{"status": "open", "department": "Eng"}, p.Filters)
	assert.Equal(t, "go", p.Search)

	v, ok := p.Filter("status")
	assert.True(t, ok)
	assert.Equal(t, "open", v)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		field string
	}{
		{"page zero", "/x?page=0", "page"},
		{"page text", "/x?page=abc", "page"},
		{"per_page over max", "/x?per_page=101", "per_page"},
		{"unknown sort", "/x?sort=salary", "sort"},
		{"unknown filter", "/x?filter[salary]=1", "filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(httptest.NewRequest("GET", tt.url, nil), postingOpts)
			require.Error(t, err)
			verrs, ok := validation.As(err)
			require.True(t, ok)
			assert.Contains(t, verrs.Fields, tt.field)
		})
	}
}

func TestOrderBy(t *testing.T) {
	p := Params{Sort: []Sort{{Field: "title"}, {Field: "created_at", Desc: true}, {Field: "bogus"}}}
	cols := map[string]string{"title": "p.title", "created_at": "p.created_at"}

	assert.Equal(t, "ORDER BY p.title ASC, p.created_at DESC, p.id", p.OrderBy(cols, "p.id"))
	assert.Equal(t, "", Params{}.OrderBy(cols, ""))
}

func TestWhere(t *testing.T) {
	w := NewWhere("tenant_id = ?", "t1").
		Add("status = ?", "open").
		Add("(first_name ILIKE ? OR email ILIKE ?)", "%a%", "%a%")

	assert.Equal(t, "WHERE tenant_id = $1 AND status = $2 AND (first_name ILIKE $3 OR email ILIKE $4)", w.SQL())
	assert.Equal(t, []interface{}{"t1", "open", "%a%", "%a%"}, w.Args())

	frag, args := w.Paginate(Params{Page: 2, PerPage: 10})
	assert.Equal(t, "LIMIT $5 OFFSET $6", frag)
	assert.Equal(t, []interface{}{"t1", "open", "%a%", "%a%", 10, 10}, args)
	assert.Len(t, w.Args(), 4)

	assert.Panics(t, func() { w.Add("x = ?") })
	assert.Equal(t, "", (&Where{}).SQL())
}
