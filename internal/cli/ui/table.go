package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table renders rows under bold headers with aligned columns
type Table struct {
	w       io.Writer
	headers []string
	rows    [][]string
	noColor bool
}

// NewTable creates a table with the given headers
func NewTable(w io.Writer, noColor bool, headers ...string) *Table {
	return &Table{w: w, headers: headers, noColor: noColor}
}

// AddRow appends a row; cells beyond the header count are dropped
func (t *Table) AddRow(cells ...string) {
	if len(cells) > len(t.headers) {
		cells = cells[:len(t.headers)]
	}
	t.rows = append(t.rows, cells)
}

// Render writes the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	head := paint(t.noColor, color.Bold, color.FgCyan)
	rule := paint(t.noColor, color.FgHiBlack)

	cells := make([]string, len(t.headers))
	for i, h := range t.headers {
		cells[i] = head.Sprint(pad(h, widths[i]))
	}
	fmt.Fprintln(t.w, strings.TrimRight(strings.Join(cells, "  "), " "))

	for i, width := range widths {
		cells[i] = rule.Sprint(strings.Repeat("─", width))
	}
	fmt.Fprintln(t.w, strings.Join(cells, "  "))

	for _, row := range t.rows {
		line := make([]string, len(row))
		for i, cell := range row {
			line[i] = pad(cell, widths[i])
		}
		fmt.Fprintln(t.w, strings.TrimRight(strings.Join(line, "  "), " "))
	}
}

func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// KeyValues renders "key: value" lines with the keys aligned
type KeyValues struct {
	w       io.Writer
	keys    []string
	values  []string
	noColor bool
}

// NewKeyValues creates an empty key/value list
func NewKeyValues(w io.Writer, noColor bool) *KeyValues {
	return &KeyValues{w: w, noColor: noColor}
}

// Add appends a pair
func (kv *KeyValues) Add(key, value string) {
	kv.keys = append(kv.keys, key)
	kv.values = append(kv.values, value)
}

// Render writes the pairs
func (kv *KeyValues) Render() {
	width := 0
	for _, k := range kv.keys {
		if n := utf8.RuneCountInString(k) + 1; n > width {
			width = n
		}
	}

	key := paint(kv.noColor, color.FgCyan)
	for i, k := range kv.keys {
		key.Fprint(kv.w, pad(k+":", width))
		fmt.Fprintf(kv.w, " %s\n", kv.values[i])
	}
}

// Header writes an underlined title
func Header(w io.Writer, title string, noColor bool) {
	paint(noColor, color.Bold, color.FgCyan).Fprintln(w, title)
	paint(noColor, color.FgHiBlack).Fprintln(w, strings.Repeat("─", utf8.RuneCountInString(title)))
}
