// Package model reads model declaration files. A declaration file is a YAML
// document listing models (tables), their fields and custom types:
//
//	types:
//	  Currency: bigint
//	  Email: citext
//	models:
//	  - name: Post
//	    table: posts
//	    fields:
//	      - {name: id, type: bigint, pk: true, auto: true}
//	      - {name: title, type: text}
//	      - {name: price, type: Currency, nullable: true}
//	      - {name: blog, ref: Blog}
//	      - {name: tags, many: Tag}
//	      - {name: published, type: bool, default: false}
//
// Declarations are the source of truth for the draft of the next migration.
package model

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// File is one declaration document.
type File struct {
	// Types maps custom type names to a portable type ("bigint") or a
	// backend-native type name written verbatim into DDL ("citext").
	Types  map[string]string `yaml:"types"`
	Models []Model           `yaml:"models"`
}

// Model declares one table.
type Model struct {
	Name string `yaml:"name"`
	// Table overrides the table name, which defaults to Name.
	Table  string  `yaml:"table"`
	Fields []Field `yaml:"fields"`

	source string
}

// TableName is the name of the table the model is stored in.
func (m *Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return m.Name
}

// Source is the file the model was declared in.
func (m *Model) Source() string { return m.source }

// Field declares a column, a foreign key or a many-to-many relation.
//
// Exactly one of Type, Ref and Many is set. Ref names a model (or table),
// optionally followed by ".column"; without a column the referenced primary
// key is used. Many names the model on the other side of a junction table.
type Field struct {
	Name     string    `yaml:"name"`
	Type     string    `yaml:"type"`
	Ref      string    `yaml:"ref"`
	Many     string    `yaml:"many"`
	PK       bool      `yaml:"pk"`
	Auto     bool      `yaml:"auto"`
	Nullable bool      `yaml:"nullable"`
	Unique   bool      `yaml:"unique"`
	Default  yaml.Node `yaml:"default"`
}

// HasDefault reports whether the field declares a default value.
func (f *Field) HasDefault() bool { return !f.Default.IsZero() }

// Extensions recognized as declaration files.
var Extensions = []string{".yaml", ".yml"}

// IsDeclarationFile reports whether path has a declaration file extension.
func IsDeclarationFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Parse decodes one declaration document. Unknown keys are rejected.
func Parse(r io.Reader, source string) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, alerr.Wrap(alerr.ErrInvalidDeclaration, err, "malformed declaration file").
			With("file", source)
	}
	for i := range f.Models {
		f.Models[i].source = source
	}
	return &f, nil
}

// ParseFile reads and decodes the declaration file at path.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrInvalidDeclaration, err, "failed to read declaration file").
			With("file", path)
	}
	return Parse(bytes.NewReader(data), path)
}

// Files lists the declaration files directly inside dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrInvalidDeclaration, err, "failed to read models directory").
			With("dir", dir)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && IsDeclarationFile(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Load parses every declaration file in dir into one registry.
func Load(dir string) (*Registry, error) {
	paths, err := Files(dir)
	if err != nil {
		return nil, err
	}
	r := NewRegistry()
	for _, path := range paths {
		f, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		if err := r.AddFile(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}
