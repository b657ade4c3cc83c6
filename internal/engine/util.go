// Package engine holds the dialect-independent core of the migration engine:
// the schema differ, the statement splitter that feeds migration scripts to a
// driver, and the snapshot fingerprint.
package engine

// ToMap converts a slice to a map using a key function.
// Example: ToMap(table.Columns, func(c ast.Column) string { return c.Name })
func ToMap[T any, K comparable](items []T, key func(T) K) map[K]T {
	m := make(map[K]T, len(items))
	for _, item := range items {
		m[key(item)] = item
	}
	return m
}
