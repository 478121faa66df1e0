package vault

import (
	"fmt"
	"io/fs"
	"iter"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/obsidian2bookstack/internal/apperr"
)

// Kind classifies a vault file.
type Kind int

const (
	KindIgnored Kind = iota
	KindNote
	KindAttachment
)

func (k Kind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindAttachment:
		return "attachment"
	default:
		return "ignored"
	}
}

// DefaultIgnore lists directory and file names skipped in addition to dot-files.
var DefaultIgnore = []string{".obsidian", ".trash", ".git"}

// File describes one vault entry. Path is vault-relative with forward slashes.
type File struct {
	Path    string
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// Scan walks the vault lazily. Every range over the returned sequence starts a
// fresh walk, so the sequence can be consumed more than once.
//
// Per-entry failures are yielded as (File{Path: p}, err) wrapping
// apperr.ErrVaultRead and the walk continues. A failure on the root itself is
// yielded with an empty Path and ends the walk.
func (f *FS) Scan(ignore []string) iter.Seq2[File, error] {
	skip := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		skip[name] = struct{}{}
	}
	excluded := func(name string) bool {
		if strings.HasPrefix(name, ".") {
			return true
		}
		_, ok := skip[name]
		return ok
	}

	return func(yield func(File, error) bool) {
		_ = filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
			rel, _ := filepath.Rel(f.root, p)
			rel = filepath.ToSlash(rel)
			if rel == "." {
				rel = ""
			}

			if walkErr != nil {
				err := fmt.Errorf("vault: scan %s: %w: %w", rel, apperr.ErrVaultRead, walkErr)
				if rel == "" {
					yield(File{}, err)
					return filepath.SkipAll
				}
				if !yield(File{Path: rel}, err) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				if rel != "" && excluded(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}

			file := File{Path: rel, Kind: classify(d.Name(), excluded)}
			info, err := d.Info()
			if err != nil {
				if !yield(File{Path: rel}, fmt.Errorf("vault: stat %s: %w: %w", rel, apperr.ErrVaultRead, err)) {
					return filepath.SkipAll
				}
				return nil
			}
			file.Size = info.Size()
			file.ModTime = info.ModTime()
			if !yield(file, nil) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

func classify(name string, excluded func(string) bool) Kind {
	if excluded(name) {
		return KindIgnored
	}
	if IsNotePath(name) {
		return KindNote
	}
	return KindAttachment
}

// IsNotePath reports whether p names a Markdown note.
func IsNotePath(p string) bool {
	return strings.EqualFold(filepath.Ext(p), ".md")
}
