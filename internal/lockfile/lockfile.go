// Package lockfile maintains lode.lock, the integrity record of rendered
// migration SQL. Each line pins the SHA-256 of one <migration>/<file>.sql,
// and the first line is an aggregate over all of them, so hand edits to a
// committed script are caught before it is applied.
package lockfile

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// Name is the lock file name inside the migrations directory.
const Name = "lode.lock"

// Entry pins one SQL file, named relative to the migrations directory with
// forward slashes.
type Entry struct {
	File     string
	Checksum string
}

// LockFile is the parsed content of lode.lock.
type LockFile struct {
	Aggregate string
	Entries   []Entry
}

// Path returns the lock file path for a migrations directory.
func Path(migrationsDir string) string {
	return filepath.Join(migrationsDir, Name)
}

// Read parses the lock file of migrationsDir. A missing file yields nil, nil.
func Read(migrationsDir string) (*LockFile, error) {
	data, err := os.ReadFile(Path(migrationsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, alerr.Wrap(alerr.ErrMigrationStore, err, "failed to read lock file").With("path", Path(migrationsDir))
	}

	lf := &LockFile{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			lf.Aggregate = line
			first = false
			continue
		}
		sum, file, ok := strings.Cut(line, " ")
		if !ok {
			return nil, alerr.Newf(alerr.ErrMigrationStore, "malformed lock file line %q", line).
				With("path", Path(migrationsDir)).
				WithHelp("run 'lode regenerate' to rebuild it")
		}
		lf.Entries = append(lf.Entries, Entry{File: strings.TrimSpace(file), Checksum: sum})
	}
	if first {
		return nil, alerr.New(alerr.ErrMigrationStore, "lock file is empty").With("path", Path(migrationsDir))
	}
	return lf, nil
}

// Write records the current checksums of every SQL file under migrationsDir.
// Migration directories named in skip (the draft) are ignored.
func Write(migrationsDir string, skip ...string) error {
	entries, err := scan(migrationsDir, skip)
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString(aggregate(entries))
	sb.WriteByte('\n')
	for _, e := range entries {
		sb.WriteString(e.Checksum)
		sb.WriteByte(' ')
		sb.WriteString(e.File)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(Path(migrationsDir), []byte(sb.String()), 0o644); err != nil {
		return alerr.Wrap(alerr.ErrMigrationStore, err, "failed to write lock file").With("path", Path(migrationsDir))
	}
	return nil
}

// Result describes how the files on disk compare with the lock file.
type Result struct {
	LockFileExists bool
	Added          []string // on disk, not locked
	Removed        []string // locked, not on disk
	Modified       []string // checksum differs
	Verified       []string
}

// Valid reports whether the lock file exists and matches every file.
func (r *Result) Valid() bool {
	return r.LockFileExists && len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Modified) == 0
}

// Check compares the SQL files of migrationsDir with its lock file.
func Check(migrationsDir string, skip ...string) (*Result, error) {
	lf, err := Read(migrationsDir)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	if lf == nil {
		return res, nil
	}
	res.LockFileExists = true

	entries, err := scan(migrationsDir, skip)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]string, len(lf.Entries))
	for _, e := range lf.Entries {
		locked[e.File] = e.Checksum
	}
	onDisk := make(map[string]bool, len(entries))
	for _, e := range entries {
		onDisk[e.File] = true
		want, ok := locked[e.File]
		switch {
		case !ok:
			res.Added = append(res.Added, e.File)
		case want != e.Checksum:
			res.Modified = append(res.Modified, e.File)
		default:
			res.Verified = append(res.Verified, e.File)
		}
	}
	for _, e := range lf.Entries {
		if !onDisk[e.File] {
			res.Removed = append(res.Removed, e.File)
		}
	}
	return res, nil
}

// Verify returns an ErrMigrationChecksum error naming the first difference
// between the files and the lock file. A missing lock file is not an error.
func Verify(migrationsDir string, skip ...string) error {
	res, err := Check(migrationsDir, skip...)
	if err != nil || !res.LockFileExists {
		return err
	}
	var bad *alerr.Error
	switch {
	case len(res.Modified) > 0:
		bad = alerr.Newf(alerr.ErrMigrationChecksum, "%s was modified after it was committed", res.Modified[0])
	case len(res.Removed) > 0:
		bad = alerr.Newf(alerr.ErrMigrationChecksum, "%s is locked but missing", res.Removed[0])
	case len(res.Added) > 0:
		bad = alerr.Newf(alerr.ErrMigrationChecksum, "%s is not in the lock file", res.Added[0])
	default:
		return nil
	}
	return bad.With("path", Path(migrationsDir)).
		WithHelp("restore the file, or run 'lode regenerate' if the change is intended")
}

// scan hashes every <dir>/<file>.sql one level below migrationsDir.
func scan(migrationsDir string, skip []string) ([]Entry, error) {
	dirs, err := os.ReadDir(migrationsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, alerr.Wrap(alerr.ErrMigrationStore, err, "failed to read migrations directory").With("path", migrationsDir)
	}

	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() || slices.Contains(skip, d.Name()) {
			continue
		}
		files, err := os.ReadDir(filepath.Join(migrationsDir, d.Name()))
		if err != nil {
			return nil, alerr.Wrap(alerr.ErrMigrationStore, err, "failed to read migration directory").With("path", d.Name())
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(migrationsDir, d.Name(), f.Name()))
			if err != nil {
				return nil, alerr.Wrap(alerr.ErrMigrationStore, err, "failed to read migration file").With("path", f.Name())
			}
			sum := sha256.Sum256(data)
			entries = append(entries, Entry{File: path.Join(d.Name(), f.Name()), Checksum: hex.EncodeToString(sum[:])})
		}
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.File, b.File) })
	return entries, nil
}

func aggregate(entries []Entry) string {
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.Checksum))
	}
	return hex.EncodeToString(h.Sum(nil))
}
