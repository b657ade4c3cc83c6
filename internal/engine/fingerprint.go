package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cbergoon/merkletree"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
)

// Fingerprint is the merkle root over a snapshot plus the per-table hashes
// it was built from.
type Fingerprint struct {
	Root   string            `json:"root"`
	Tables map[string]string `json:"tables"`
}

// Short returns the first 12 hex characters of the root, for display.
func (f *Fingerprint) Short() string {
	if len(f.Root) <= 12 {
		return f.Root
	}
	return f.Root[:12]
}

// Changed lists the tables whose hash differs between f and other, including
// tables present in only one of them. The result is sorted.
func (f *Fingerprint) Changed(other *Fingerprint) []string {
	seen := make(map[string]bool)
	for name, h := range f.Tables {
		if other.Tables[name] != h {
			seen[name] = true
		}
	}
	for name := range other.Tables {
		if _, ok := f.Tables[name]; !ok {
			seen[name] = true
		}
	}
	return sortedKeys(seen)
}

// hashContent implements merkletree.Content for one table or the type registry.
type hashContent struct {
	hash string
}

func (c hashContent) CalculateHash() ([]byte, error) {
	h := sha256.Sum256([]byte(c.hash))
	return h[:], nil
}

func (c hashContent) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(hashContent)
	if !ok {
		return false, nil
	}
	return c.hash == o.hash, nil
}

// ComputeFingerprint hashes every table of db (sorted by name) and the extra
// type registry, then combines them into a merkle root. Two snapshots with
// equal fingerprints produce an empty Diff.
func ComputeFingerprint(db *ast.ADB) (*Fingerprint, error) {
	fp := &Fingerprint{Tables: make(map[string]string)}
	if db == nil {
		db = ast.NewADB()
	}

	var contents []merkletree.Content
	for _, t := range db.Tables() {
		h := tableHash(t)
		fp.Tables[t.Name] = h
		contents = append(contents, hashContent{hash: h})
	}
	if keys := db.TypeKeys(); len(keys) > 0 {
		parts := make([]string, len(keys))
		for i, k := range keys {
			ty, _ := db.Type(k)
			parts[i] = k.String() + "=" + ty.String()
		}
		contents = append(contents, hashContent{hash: hashString("types:" + strings.Join(parts, ","))})
	}

	if len(contents) == 0 {
		fp.Root = hashString("")
		return fp, nil
	}
	tree, err := merkletree.NewTree(contents)
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrInternal, err, "failed to build merkle tree")
	}
	fp.Root = hex.EncodeToString(tree.MerkleRoot())
	return fp, nil
}

// tableHash hashes a table in declaration order; column order is significant
// because it shapes the generated DDL.
func tableHash(t *ast.Table) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = columnHash(c)
	}
	return hashString(fmt.Sprintf("table:%s|columns:[%s]", t.Name, strings.Join(cols, ",")))
}

func columnHash(c ast.Column) string {
	data := fmt.Sprintf("name:%s|type:%s|nullable:%v|pk:%v|auto:%v|unique:%v",
		c.Name, c.SqlType, c.Nullable, c.PK, c.Auto, c.Unique)
	if c.Default != nil {
		data += fmt.Sprintf("|default:%s:%s", c.Default.Kind(), c.Default)
	}
	if c.Reference != nil {
		data += fmt.Sprintf("|ref:%s.%s", c.Reference.Table, c.Reference.Column)
	}
	return hashString(data)
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
