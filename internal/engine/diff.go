package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hlop3z/lodestone/internal/ast"
)

// Diff compares two snapshots and returns the operations that transform old
// into new. Presence is decided by table and column name.
//
// Emission order is stable and part of the on-disk format:
//  1. AddTable for tables only in new
//  2. RemoveTable for tables only in old
//  3. per table present in both (sorted by name): AddColumn, RemoveColumn, ChangeColumn
//
// Every category is sorted by table name, then column name.
func Diff(old, new *ast.ADB) []ast.Operation {
	if old == nil {
		old = ast.NewADB()
	}
	if new == nil {
		new = ast.NewADB()
	}

	var ops []ast.Operation
	ops = append(ops, diffAddTables(old, new)...)
	ops = append(ops, diffRemoveTables(old, new)...)
	for _, name := range new.TableNames() {
		oldTable := old.Table(name)
		if oldTable == nil {
			continue // handled by AddTable
		}
		ops = append(ops, diffColumns(oldTable, new.Table(name))...)
	}
	return ops
}

// diffAddTables returns AddTable operations for tables in new but not in old.
func diffAddTables(old, new *ast.ADB) []ast.Operation {
	var ops []ast.Operation
	for _, name := range new.TableNames() {
		if old.Table(name) == nil {
			ops = append(ops, &ast.AddTable{Def: new.Table(name).Clone()})
		}
	}
	return ops
}

// diffRemoveTables returns RemoveTable operations for tables in old but not in new.
func diffRemoveTables(old, new *ast.ADB) []ast.Operation {
	var ops []ast.Operation
	for _, name := range old.TableNames() {
		if new.Table(name) == nil {
			ops = append(ops, &ast.RemoveTable{Name: name})
		}
	}
	return ops
}

// diffColumns compares the columns of one table present in both snapshots.
func diffColumns(oldTable, newTable *ast.Table) []ast.Operation {
	oldCols := ToMap(oldTable.Columns, func(c ast.Column) string { return c.Name })
	newCols := ToMap(newTable.Columns, func(c ast.Column) string { return c.Name })

	var adds, removes, changes []ast.Operation

	for _, name := range sortedKeys(newCols) {
		newCol := newCols[name]
		oldCol, exists := oldCols[name]
		switch {
		case !exists:
			adds = append(adds, &ast.AddColumn{TableName: newTable.Name, Column: newCol.Clone()})
		case !oldCol.Equal(newCol):
			changes = append(changes, &ast.ChangeColumn{
				TableName: newTable.Name,
				Old:       oldCol.Clone(),
				New:       newCol.Clone(),
			})
		}
	}
	for _, name := range sortedKeys(oldCols) {
		if _, exists := newCols[name]; !exists {
			removes = append(removes, &ast.RemoveColumn{TableName: oldTable.Name, Name: name})
		}
	}

	ops := make([]ast.Operation, 0, len(adds)+len(removes)+len(changes))
	ops = append(ops, adds...)
	ops = append(ops, removes...)
	return append(ops, changes...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// -----------------------------------------------------------------------------
// Reporting helpers
// -----------------------------------------------------------------------------

// HasChanges reports whether ops contains anything to apply.
func HasChanges(ops []ast.Operation) bool {
	return len(ops) > 0
}

// Describe renders a one-line, human-readable description of op.
func Describe(op ast.Operation) string {
	switch o := op.(type) {
	case *ast.AddTable:
		return fmt.Sprintf("+ table %s (%d columns)", o.Def.Name, len(o.Def.Columns))
	case *ast.AddTableIfNotExists:
		return fmt.Sprintf("+ table %s if missing", o.Def.Name)
	case *ast.RemoveTable:
		return "- table " + o.Name
	case *ast.AddColumn:
		return fmt.Sprintf("+ column %s.%s %s", o.TableName, o.Column.Name, o.Column.SqlType)
	case *ast.RemoveColumn:
		return fmt.Sprintf("- column %s.%s", o.TableName, o.Name)
	case *ast.ChangeColumn:
		return fmt.Sprintf("~ column %s.%s", o.TableName, o.New.Name)
	}
	return op.Type().String()
}

// Summarize counts operations per kind, e.g. "2 AddTable, 1 RemoveColumn".
// Kinds appear in operation-type order.
func Summarize(ops []ast.Operation) string {
	if len(ops) == 0 {
		return "no changes"
	}
	counts := make(map[ast.OpType]int)
	for _, op := range ops {
		counts[op.Type()]++
	}
	kinds := make([]ast.OpType, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%d %s", counts[k], k)
	}
	return strings.Join(parts, ", ")
}
