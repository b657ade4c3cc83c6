package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hlop3z/lodestone/internal/alerr"
)

const stateFile = "clistate.json"

// cliState is kept in the migrations directory. Once Embed is set, every
// command that changes the chain regenerates the embedded file.
type cliState struct {
	Embed   string `json:"embed,omitempty"`
	Package string `json:"package,omitempty"`
}

func loadState(dir string) (cliState, error) {
	var st cliState
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, alerr.Wrap(alerr.ErrMigrationStore, err, "failed to read cli state").With("file", stateFile)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, alerr.Wrap(alerr.ErrMigrationStore, err, "failed to parse cli state").With("file", stateFile)
	}
	return st, nil
}

func (st cliState) save(dir string) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return alerr.Wrap(alerr.ErrInternal, err, "failed to encode cli state")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return alerr.Wrap(alerr.ErrMigrationStore, err, "failed to create migrations directory").With("path", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, stateFile), append(data, '\n'), 0o644); err != nil {
		return alerr.Wrap(alerr.ErrMigrationStore, err, "failed to write cli state").With("file", stateFile)
	}
	return nil
}
