package model

import (
	"encoding/json"
	"errors"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/migrate"
	"github.com/hlop3z/lodestone/internal/query"
	"github.com/hlop3z/lodestone/internal/sqlval"
)

// Schema is what the declarations contribute to a draft.
type Schema struct {
	Tables []*ast.Table
	Types  map[ast.TypeKey]ast.DeferredSqlType
}

// Build converts every registered model into tables and registry entries.
// All declaration errors are collected and returned together.
func (r *Registry) Build() (*Schema, error) {
	s := &Schema{Types: make(map[ast.TypeKey]ast.DeferredSqlType)}
	var errs []error

	for _, name := range r.TypeNames() {
		underlying, _ := r.Type(name)
		s.Types[ast.CustomKey(name)] = typeOf(underlying)
	}

	for _, m := range r.Models() {
		tables, err := r.buildModel(m, s.Types)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Tables = append(s.Tables, tables...)
	}
	switch len(errs) {
	case 0:
		return s, nil
	case 1:
		return nil, errs[0]
	}
	return nil, errors.Join(errs...)
}

// Apply replaces the content of d with the declared schema. Tables that are
// no longer declared disappear from the draft.
func (r *Registry) Apply(d *migrate.Draft) error {
	s, err := r.Build()
	if err != nil {
		return err
	}
	d.Reset()
	for key, ty := range s.Types {
		d.AddType(key, ty)
	}
	for _, t := range s.Tables {
		d.AddModifiedTable(t)
	}
	return nil
}

// buildModel returns the model's table followed by its junction tables.
func (r *Registry) buildModel(m *Model, types map[ast.TypeKey]ast.DeferredSqlType) ([]*ast.Table, error) {
	table := m.TableName()
	fail := func(e *alerr.Error) error {
		return e.WithTable(table).With("model", m.Name).With("file", m.source)
	}

	pk, err := primaryKey(m)
	if err != nil {
		return nil, fail(err)
	}
	if m.Table != "" && m.Table != m.Name {
		// The model name keeps resolving to the table's key type.
		types[ast.PKKey(m.Name)] = ast.Deferred(ast.PKKey(table))
	}

	t := &ast.Table{Name: table}
	var junctions []*ast.Table
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Many != "" {
			j, key, elem, err := r.junction(m, pk, f)
			if err != nil {
				return nil, fail(err)
			}
			junctions = append(junctions, j)
			types[key] = elem
			continue
		}
		if t.Column(f.Name) != nil {
			return nil, fail(alerr.New(alerr.ErrSchemaDuplicate, "field is declared twice").WithColumn(f.Name))
		}
		col, err := r.column(f)
		if err != nil {
			return nil, fail(err.WithColumn(f.Name))
		}
		t.AddColumn(col)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return append([]*ast.Table{t}, junctions...), nil
}

func primaryKey(m *Model) (*Field, *alerr.Error) {
	var pk *Field
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.PK {
			if pk != nil {
				return nil, alerr.New(alerr.ErrSchemaInvalid, "model has more than one primary key")
			}
			pk = f
		}
	}
	if pk == nil {
		// An "id" field is the primary key by convention.
		for i := range m.Fields {
			if m.Fields[i].Name == "id" && m.Fields[i].Many == "" {
				pk = &m.Fields[i]
				pk.PK = true
			}
		}
	}
	if pk == nil {
		return nil, alerr.New(alerr.ErrSchemaInvalid, "no primary key found").
			WithHelp("name a field 'id' or mark one with 'pk: true'")
	}
	return pk, nil
}

func (r *Registry) column(f *Field) (ast.Column, *alerr.Error) {
	col := ast.Column{
		Name:     f.Name,
		Nullable: f.Nullable,
		PK:       f.PK,
		Auto:     f.Auto,
		Unique:   f.Unique,
	}
	switch {
	case f.Type != "" && f.Ref != "":
		return col, alerr.New(alerr.ErrInvalidDeclaration, "a field has either a type or a ref")
	case f.Ref != "":
		target, refCol, err := r.resolveRef(f.Ref)
		if err != nil {
			return col, err
		}
		col.SqlType = ast.Deferred(ast.PKKey(target))
		col.Reference = &ast.ForeignKey{Table: target, Column: refCol}
	case f.Type != "":
		col.SqlType = r.fieldType(f.Type)
	default:
		return col, alerr.New(alerr.ErrInvalidDeclaration, "field needs a type, a ref or a many")
	}

	if f.Auto && !f.PK {
		return col, alerr.New(alerr.ErrInvalidAuto, "only the primary key can be auto")
	}
	if f.PK && f.Unique {
		return col, alerr.New(alerr.ErrSchemaInvalid, "a primary key is already unique")
	}
	if f.HasDefault() {
		if f.PK {
			return col, alerr.New(alerr.ErrSchemaInvalid, "a primary key cannot have a default")
		}
		v, err := defaultValue(&f.Default, r.portable(col.SqlType), f.Nullable)
		if err != nil {
			return col, err
		}
		col.Default = &v
	}
	return col, nil
}

// fieldType maps a type name to a portable type or a deferred custom type.
func (r *Registry) fieldType(name string) ast.DeferredSqlType {
	if ty, ok := sqlval.ParseType(name); ok {
		return ast.KnownType(ty)
	}
	return ast.Deferred(ast.CustomKey(name))
}

// portable looks through a custom type to its underlying portable type, so
// that defaults can be declared on custom types that wrap one.
func (r *Registry) portable(ty ast.DeferredSqlType) ast.DeferredSqlType {
	if ty.IsKnown() || ty.Key().Kind != ast.KeyCustom {
		return ty
	}
	if underlying, ok := r.Type(ty.Key().Name); ok {
		return typeOf(underlying)
	}
	return ty
}

// typeOf is the registry entry for a custom type's underlying type.
func typeOf(underlying string) ast.DeferredSqlType {
	if ty, ok := sqlval.ParseType(underlying); ok {
		return ast.KnownType(ty)
	}
	return ast.Known(ast.Named(underlying))
}

// resolveRef returns the referenced table and column.
func (r *Registry) resolveRef(ref string) (string, string, *alerr.Error) {
	target, column := ParseRef(ref)
	other, ok := r.Get(target)
	if !ok {
		if column == "" {
			return "", "", alerr.Newf(alerr.ErrSchemaNotFound, "referenced model %s is not declared", target).
				With("ref", ref).
				WithHelp("declare it, or name the column explicitly as '" + target + ".id'")
		}
		return target, column, nil
	}
	if column == "" {
		pk, err := primaryKey(other)
		if err != nil {
			return "", "", err.With("ref", ref)
		}
		column = pk.Name
	}
	return other.TableName(), column, nil
}

// junction builds the junction table of a many-to-many field and the type
// registry entry for its element column.
func (r *Registry) junction(m *Model, pk, f *Field) (*ast.Table, ast.TypeKey, ast.DeferredSqlType, *alerr.Error) {
	if f.Type != "" || f.Ref != "" || f.PK || f.HasDefault() {
		return nil, ast.TypeKey{}, ast.DeferredSqlType{}, alerr.New(alerr.ErrInvalidDeclaration,
			"a many field only names the other model").WithColumn(f.Name)
	}
	other, ok := r.Get(f.Many)
	if !ok {
		return nil, ast.TypeKey{}, ast.DeferredSqlType{}, alerr.Newf(alerr.ErrSchemaNotFound,
			"model %s is not declared", f.Many).WithColumn(f.Name)
	}
	otherPK, err := primaryKey(other)
	if err != nil {
		return nil, ast.TypeKey{}, ast.DeferredSqlType{}, err.WithColumn(f.Name)
	}
	many := query.Many{
		Owner:   m.TableName(),
		OwnerPK: pk.Name,
		Field:   f.Name,
		Other:   other.TableName(),
		OtherPK: otherPK.Name,
	}
	return many.JunctionTable(), many.TypeKey(), many.ElementType(), nil
}

// -----------------------------------------------------------------------------
// Default values
// -----------------------------------------------------------------------------

// defaultValue decodes a YAML scalar as a value of the column's type.
func defaultValue(node *yaml.Node, ty ast.DeferredSqlType, nullable bool) (sqlval.SqlVal, *alerr.Error) {
	if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
		if !nullable {
			return sqlval.Null, alerr.New(alerr.ErrSchemaInvalid, "a null default needs a nullable field")
		}
		return sqlval.Null, nil
	}
	id, err := ty.TypeID()
	if err != nil || id.IsNamed() {
		return sqlval.Null, alerr.New(alerr.ErrNoCustomDefault, "defaults are only supported on portable types")
	}

	bad := func(cause error) *alerr.Error {
		return alerr.Wrap(alerr.ErrCannotConvertSqlVal, cause, "default does not match the field type").
			With("type", id.Ty.String()).
			With("line", node.Line)
	}
	switch id.Ty {
	case sqlval.Bool:
		var b bool
		if err := node.Decode(&b); err != nil {
			return sqlval.Null, bad(err)
		}
		return sqlval.NewBool(b), nil
	case sqlval.Int:
		var n int32
		if err := node.Decode(&n); err != nil {
			return sqlval.Null, bad(err)
		}
		return sqlval.NewInt(n), nil
	case sqlval.BigInt:
		var n int64
		if err := node.Decode(&n); err != nil {
			return sqlval.Null, bad(err)
		}
		return sqlval.NewBigInt(n), nil
	case sqlval.Real:
		var f float64
		if err := node.Decode(&f); err != nil {
			return sqlval.Null, bad(err)
		}
		return sqlval.NewReal(f), nil
	case sqlval.Text:
		var s string
		if err := node.Decode(&s); err != nil {
			return sqlval.Null, bad(err)
		}
		return sqlval.NewText(s), nil
	case sqlval.Blob:
		var s string
		if err := node.Decode(&s); err != nil {
			return sqlval.Null, bad(err)
		}
		return sqlval.NewBlob([]byte(s)), nil
	case sqlval.Timestamp:
		var s string
		if err := node.Decode(&s); err != nil {
			return sqlval.Null, bad(err)
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return sqlval.Null, bad(err)
		}
		return sqlval.NewTimestamp(ts), nil
	case sqlval.Json:
		var v any
		if err := node.Decode(&v); err != nil {
			return sqlval.Null, bad(err)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return sqlval.Null, bad(err)
		}
		return sqlval.NewJson(raw), nil
	}
	return sqlval.Null, alerr.New(alerr.ErrNoCustomDefault, "no default form for type").With("type", id.Ty.String())
}
