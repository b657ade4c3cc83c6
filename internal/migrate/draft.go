package migrate

import (
	"github.com/hlop3z/lodestone/internal/ast"
)

// Draft accumulates the schema declared by the models before it is committed
// as a migration. Every call is idempotent and the order of calls does not
// matter. A Draft is filled by one declaration pass and is not safe for
// concurrent use; independent drafts may coexist.
type Draft struct {
	db *ast.ADB
}

// NewDraft returns an empty draft.
func NewDraft() *Draft {
	return &Draft{db: ast.NewADB()}
}

// AddModifiedTable records t, replacing any earlier declaration of it.
func (d *Draft) AddModifiedTable(t *ast.Table) {
	d.db.ReplaceTable(t)
}

// DeleteTable forgets the named table.
func (d *Draft) DeleteTable(name string) {
	d.db.RemoveTable(name)
}

// AddType registers a deferred type.
func (d *Draft) AddType(key ast.TypeKey, ty ast.DeferredSqlType) {
	d.db.AddType(key, ty)
}

// IsEmpty reports whether nothing has been declared.
func (d *Draft) IsEmpty() bool {
	return d.db.IsEmpty() && len(d.db.TypeKeys()) == 0
}

// Raw returns a copy of the declared snapshot without resolving it.
func (d *Draft) Raw() *ast.ADB {
	return d.db.Clone()
}

// DB returns a resolved copy of the declared snapshot.
func (d *Draft) DB() (*ast.ADB, error) {
	db := d.db.Clone()
	if err := db.ResolveTypes(); err != nil {
		return nil, err
	}
	return db, nil
}

// Reset empties the draft.
func (d *Draft) Reset() {
	d.db = ast.NewADB()
}

// draftFrom wraps an unresolved snapshot loaded from a store.
func draftFrom(db *ast.ADB) *Draft {
	if db == nil {
		return NewDraft()
	}
	return &Draft{db: db}
}
