// Package codegen generates the Go source file that embeds a migrations
// document, so a program can migrate its database without the migrations
// directory at hand.
package codegen

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dave/jennifer/jen"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/migrate"
)

// FileName is the default name of the generated file.
const FileName = "lode_migrations.go"

// ClientPath is the import path of the package the generated code calls.
const ClientPath = "github.com/hlop3z/lodestone/pkg/lodestone"

// Document copies the committed chain of ms into an in-memory store and
// returns its JSON form. The draft is not included.
func Document(ms *migrate.Migrations) ([]byte, error) {
	all, err := ms.All()
	if err != nil {
		return nil, err
	}
	mem := migrate.NewMemStore()
	for _, m := range all {
		if err := mem.Put(m); err != nil {
			return nil, err
		}
	}
	if len(all) > 0 {
		if err := mem.SetLatest(all[len(all)-1].Name); err != nil {
			return nil, err
		}
	}
	data, err := json.MarshalIndent(mem, "", "  ")
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrMigrationStore, err, "failed to encode migrations")
	}
	return data, nil
}

// Generate returns the source of package pkg embedding doc.
func Generate(pkg string, doc []byte) *jen.File {
	f := jen.NewFile(pkg)
	f.HeaderComment("Code generated by lode embed. DO NOT EDIT.")
	f.ImportAlias(ClientPath, "lodestone")

	f.Comment("MigrationsJSON is the migrations document this package was generated with.")
	f.Const().Id("MigrationsJSON").Op("=").Lit(string(doc))

	f.Comment("Migrations returns the embedded migrations.")
	f.Func().Id("Migrations").Params().Params(
		jen.Op("*").Qual(ClientPath, "Migrations"),
		jen.Error(),
	).Block(
		jen.Return(jen.Qual(ClientPath, "MigrationsFromJSON").Call(
			jen.Index().Byte().Parens(jen.Id("MigrationsJSON")),
		)),
	)
	return f
}

// Embed writes the generated file to path. The package name defaults to the
// name of the directory path is in.
func Embed(ms *migrate.Migrations, path, pkg string) error {
	doc, err := Document(ms)
	if err != nil {
		return err
	}
	if pkg == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return alerr.Wrap(alerr.ErrInternal, err, "failed to resolve output path").With("file", path)
		}
		pkg = filepath.Base(filepath.Dir(abs))
	}
	var buf bytes.Buffer
	if err := Generate(pkg, doc).Render(&buf); err != nil {
		return alerr.Wrap(alerr.ErrInternal, err, "failed to render embedded migrations").With("file", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return alerr.Wrap(alerr.ErrMigrationStore, err, "failed to create output directory").With("file", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return alerr.Wrap(alerr.ErrMigrationStore, err, "failed to write embedded migrations").With("file", path)
	}
	slog.Info("embedded migrations", "file", path, "package", pkg)
	return nil
}
