package model

import (
	"slices"
	"strings"
	"sync"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// Registry holds the models and custom types of every loaded declaration
// file. Models are looked up by model name or by table name.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model // key: model name
	tables map[string]string // table name -> model name
	types  map[string]string // custom type -> underlying type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]*Model),
		tables: make(map[string]string),
		types:  make(map[string]string),
	}
}

// AddFile registers every type and model of f.
func (r *Registry) AddFile(f *File) error {
	for name, underlying := range f.Types {
		if err := r.RegisterType(name, underlying); err != nil {
			return err
		}
	}
	for i := range f.Models {
		m := f.Models[i]
		if err := r.Register(&m); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a model. Model names and table names are each unique.
func (r *Registry) Register(m *Model) error {
	if m == nil || m.Name == "" {
		return alerr.New(alerr.ErrInvalidIdentifier, "model name cannot be empty").
			With("file", sourceOf(m))
	}
	table := m.TableName()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.models[m.Name]; exists {
		return alerr.Newf(alerr.ErrSchemaDuplicate, "model %s is declared twice", m.Name).
			With("file", m.source).
			With("first", prev.source)
	}
	if owner, exists := r.tables[table]; exists {
		return alerr.Newf(alerr.ErrSchemaDuplicate, "models %s and %s share a table", owner, m.Name).
			WithTable(table)
	}
	r.models[m.Name] = m
	r.tables[table] = m.Name
	return nil
}

// RegisterType adds a custom type.
func (r *Registry) RegisterType(name, underlying string) error {
	if name == "" || strings.TrimSpace(underlying) == "" {
		return alerr.New(alerr.ErrInvalidDeclaration, "custom type needs a name and an underlying type").
			With("type", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.types[name]; exists && prev != underlying {
		return alerr.Newf(alerr.ErrSchemaDuplicate, "type %s is declared as both %s and %s", name, prev, underlying).
			With("type", name)
	}
	r.types[name] = underlying
	return nil
}

// Get finds a model by model name, then by table name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.models[name]; ok {
		return m, true
	}
	if owner, ok := r.tables[name]; ok {
		return r.models[owner], true
	}
	return nil, false
}

// Type returns the underlying type of a custom type.
func (r *Registry) Type(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.types[name]
	return u, ok
}

// Models returns every model sorted by table name.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Model) int {
		return strings.Compare(a.TableName(), b.TableName())
	})
	return out
}

// TypeNames returns the custom type names, sorted.
func (r *Registry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Count returns the number of registered models.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// ParseRef splits "Model.column" into its parts. The column is empty when
// the reference names only a model.
func ParseRef(ref string) (target, column string) {
	if i := strings.LastIndex(ref, "."); i > 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func sourceOf(m *Model) string {
	if m == nil {
		return ""
	}
	return m.source
}
