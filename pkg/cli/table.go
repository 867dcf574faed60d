package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Table buffers rows and renders them column-aligned on Flush, under a
// header and a dash divider. A table with no rows renders nothing.
type Table struct {
	out      io.Writer
	headers  []string
	rows     [][]string
	prefix   string
	maxCell  int
	countFmt string
}

// NewTable creates a table on stdout with the given column headers.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table writing to w.
func NewTableTo(w io.Writer, headers ...string) *Table {
	return &Table{out: w, headers: headers}
}

// WithPrefix sets a string prepended to every rendered line.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// WithMaxCell truncates cells longer than n runes. Object lists and
// packed attribute values are the usual offenders.
func (t *Table) WithMaxCell(n int) *Table {
	t.maxCell = n
	return t
}

// WithCount prints a summary line after the rows; format receives the
// number of rows whose first cell is non-empty.
func (t *Table) WithCount(format string) *Table {
	t.countFmt = format
	return t
}

// Row appends a row. Missing trailing cells render empty.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Len returns the number of buffered rows.
func (t *Table) Len() int { return len(t.rows) }

// Flush renders the table.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}
	w := tabwriter.NewWriter(t.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, t.prefix+strings.Join(t.headers, "\t"))
	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, t.prefix+strings.Join(dividers, "\t"))

	leading := 0
	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = t.clip(c)
		}
		if len(cells) > 0 && cells[0] != "" {
			leading++
		}
		fmt.Fprintln(w, t.prefix+strings.Join(cells, "\t"))
	}
	w.Flush()

	if t.countFmt != "" {
		fmt.Fprintln(t.out, t.prefix+Dim(fmt.Sprintf(t.countFmt, leading)))
	}
	t.rows = nil
}

func (t *Table) clip(s string) string {
	if t.maxCell <= 3 {
		return s
	}
	r := []rune(s)
	if len(r) <= t.maxCell {
		return s
	}
	return string(r[:t.maxCell-3]) + "..."
}
