// Package models defines the vault-side domain types shared by the sync stages.
package models

import (
	"mime"
	"path"
	"strings"
	"time"
)

// Note is a parsed Markdown file in the vault. It is built once per scan and
// never mutated afterwards.
type Note struct {
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Body        string         `json:"-"`
	Links       []Link         `json:"links,omitempty"`
	Checksum    string         `json:"checksum"`
	ModTime     time.Time      `json:"mod_time"`
	// Publish is false when frontmatter opts the note out of the sync.
	Publish bool `json:"publish"`
}

// Stem returns the filename without directory and extension.
func (n *Note) Stem() string {
	return Stem(n.Path)
}

// Dir returns the vault-relative folder of the note, "" for root notes.
func (n *Note) Dir() string {
	d := path.Dir(n.Path)
	if d == "." {
		return ""
	}
	return d
}

// Link is one wiki-link or embed occurrence inside a note body.
type Link struct {
	// Raw is the exact source text, e.g. "![[diagram.png|300]]".
	Raw     string `json:"raw"`
	Target  string `json:"target"`
	Display string `json:"display,omitempty"`
	// Subpath is the "#heading" or "#^block" suffix, without the leading '#'.
	Subpath string `json:"subpath,omitempty"`
	Embed   bool   `json:"embed,omitempty"`
	// Offset is the byte offset of Raw inside the note body.
	Offset int `json:"offset"`
}

// Attachment is a non-note vault file referenced by notes.
type Attachment struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Checksum string    `json:"checksum"`
	MIMEType string    `json:"mime_type"`
	ModTime  time.Time `json:"mod_time"`
}

// Name returns the attachment filename.
func (a *Attachment) Name() string {
	return path.Base(a.Path)
}

// IsImage reports whether the attachment renders inline.
func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

// MIMEType infers a content type from a file extension.
func MIMEType(p string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(p))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Stem returns the base name of p without its extension.
func Stem(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}
