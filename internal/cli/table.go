package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table renders aligned columns. Cells may already be styled.
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a new table with the given headers.
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{headers: headers, widths: widths}
}

// AddRow adds a row, padding missing cells.
func (t *Table) AddRow(cells ...string) {
	for len(cells) < len(t.headers) {
		cells = append(cells, "")
	}
	for i, cell := range cells {
		if i < len(t.widths) {
			t.widths[i] = max(t.widths[i], lipgloss.Width(cell))
		}
	}
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// String renders the table.
func (t *Table) String() string {
	if len(t.headers) == 0 {
		return ""
	}
	var b strings.Builder
	t.line(&b, t.headers, Header)
	sep := make([]string, len(t.widths))
	for i, w := range t.widths {
		sep[i] = strings.Repeat("─", w)
	}
	t.line(&b, sep, Dim)
	for _, row := range t.rows {
		t.line(&b, row, nil)
	}
	return b.String()
}

func (t *Table) line(b *strings.Builder, cells []string, style func(string) string) {
	for i, w := range t.widths {
		if i > 0 {
			b.WriteString("  ")
		}
		cell := cells[i]
		if style != nil {
			cell = style(cell)
		}
		b.WriteString(cell)
		if i < len(t.widths)-1 {
			if pad := w - lipgloss.Width(cells[i]); pad > 0 {
				b.WriteString(strings.Repeat(" ", pad))
			}
		}
	}
	b.WriteString("\n")
}
