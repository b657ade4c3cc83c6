// Package sqlgen provides a dialect-aware SQL writer for parameterized DML.
// Values never enter the SQL text: Arg writes the dialect's next placeholder
// and records the value, so the text and the argument list stay in step.
package sqlgen

import (
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/dialect"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Builder provides fluent SQL construction with dialect awareness.
type Builder struct {
	d     dialect.Dialect
	buf   strings.Builder
	args  []sqlval.SqlVal
	slots []int
}

// New creates a new Builder for the given dialect.
func New(d dialect.Dialect) *Builder {
	return &Builder{d: d}
}

// Dialect returns the dialect of this builder.
func (b *Builder) Dialect() dialect.Dialect {
	return b.d
}

// ----------------------------------------------------------------------------
// Identifiers and parameters
// ----------------------------------------------------------------------------

// Ident appends a quoted identifier. A dotted name ("table.col") is quoted
// part by part.
func (b *Builder) Ident(name string) *Builder {
	b.buf.WriteString(QuoteIdent(b.d, name))
	return b
}

// Idents appends a comma-separated list of quoted identifiers.
func (b *Builder) Idents(names ...string) *Builder {
	for i, n := range names {
		if i > 0 {
			b.buf.WriteString(", ")
		}
		b.Ident(n)
	}
	return b
}

// Arg appends the next placeholder and binds v to it.
func (b *Builder) Arg(v sqlval.SqlVal) *Builder {
	b.args = append(b.args, v)
	b.buf.WriteString(b.d.Placeholder(len(b.args)))
	return b
}

// Args appends comma-separated placeholders for vs.
func (b *Builder) Args(vs ...sqlval.SqlVal) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.buf.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Slot appends a placeholder whose value is supplied later through
// Statement.Bind.
func (b *Builder) Slot() *Builder {
	b.slots = append(b.slots, len(b.args))
	return b.Arg(sqlval.Null)
}

// ----------------------------------------------------------------------------
// Utilities
// ----------------------------------------------------------------------------

// Raw appends raw SQL to the buffer without any modification.
func (b *Builder) Raw(sql string) *Builder {
	b.buf.WriteString(sql)
	return b
}

// Comma appends ", " to the buffer.
func (b *Builder) Comma() *Builder {
	b.buf.WriteString(", ")
	return b
}

// OpenParen appends "(" to the buffer.
func (b *Builder) OpenParen() *Builder {
	b.buf.WriteString("(")
	return b
}

// CloseParen appends ")" to the buffer.
func (b *Builder) CloseParen() *Builder {
	b.buf.WriteString(")")
	return b
}

// Space appends a space character to the buffer.
func (b *Builder) Space() *Builder {
	b.buf.WriteString(" ")
	return b
}

// String returns the accumulated SQL string.
func (b *Builder) String() string {
	return b.buf.String()
}

// NumArgs is the number of placeholders written so far.
func (b *Builder) NumArgs() int {
	return len(b.args)
}

// Build returns the statement written so far.
func (b *Builder) Build() Statement {
	return Statement{
		SQL:   b.buf.String(),
		Args:  append([]sqlval.SqlVal(nil), b.args...),
		Slots: append([]int(nil), b.slots...),
	}
}

// Reset clears the buffer and arguments so the builder can be reused.
func (b *Builder) Reset() *Builder {
	b.buf.Reset()
	b.args = nil
	b.slots = nil
	return b
}

// ----------------------------------------------------------------------------
// Statement
// ----------------------------------------------------------------------------

// Statement is rendered SQL plus its positional arguments.
type Statement struct {
	SQL  string
	Args []sqlval.SqlVal
	// Slots are the indexes into Args left open by Builder.Slot.
	Slots []int
}

// DriverArgs converts Args for database/sql. Open slots are passed as NULL.
func (s Statement) DriverArgs() []any {
	out := make([]any, len(s.Args))
	for i, v := range s.Args {
		out[i] = v.Driver()
	}
	return out
}

// Bind fills the open slots in order and returns the driver arguments.
func (s Statement) Bind(vals ...sqlval.SqlVal) ([]any, error) {
	if len(vals) != len(s.Slots) {
		return nil, alerr.Bounds(len(s.Slots), len(vals)).WithSQL(s.SQL)
	}
	args := append([]sqlval.SqlVal(nil), s.Args...)
	for i, slot := range s.Slots {
		args[slot] = vals[i]
	}
	return Statement{SQL: s.SQL, Args: args}.DriverArgs(), nil
}

// ----------------------------------------------------------------------------
// Standalone Helpers
// ----------------------------------------------------------------------------

// QuoteIdent quotes name for d, part by part when it is qualified.
func QuoteIdent(d dialect.Dialect, name string) string {
	if !strings.Contains(name, ".") {
		return d.QuoteIdent(name)
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// Columns returns a comma-separated list of column names quoted for d.
func Columns(d dialect.Dialect, cols ...string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = QuoteIdent(d, col)
	}
	return strings.Join(parts, ", ")
}

// Placeholders returns n comma-separated placeholders starting at index 1.
func Placeholders(d dialect.Dialect, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}
