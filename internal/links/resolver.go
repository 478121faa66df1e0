package links

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/starford/obsidian2bookstack/internal/apperr"
	"github.com/starford/obsidian2bookstack/internal/models"
	"github.com/starford/obsidian2bookstack/internal/vault"
)

// TargetKind tells what a link points at.
type TargetKind int

const (
	Unresolved TargetKind = iota
	NoteTarget
	AttachmentTarget
	// SelfTarget is a heading link inside the same note, e.g. [[#Intro]].
	SelfTarget
)

// Target is the resolution of one link occurrence.
type Target struct {
	Link models.Link
	Kind TargetKind
	// Path is the vault path of the resolved note or attachment.
	Path       string
	Attachment *models.Attachment
	// Err wraps apperr.ErrLinkUnresolved for Unresolved targets.
	Err error
}

// Resolver resolves link targets against the set of synced notes and the
// vault attachments. It is read-only after construction and safe for
// concurrent use.
type Resolver struct {
	notePaths map[string]string   // lower path, with and without .md → path
	noteBases map[string][]string // lower stem → paths
	attPaths  map[string]*models.Attachment
	attBases  map[string][]*models.Attachment
}

// NewResolver indexes the notes that will exist remotely and the vault
// attachments.
func NewResolver(notes []*models.Note, attachments []*models.Attachment) *Resolver {
	r := &Resolver{
		notePaths: make(map[string]string, len(notes)*2),
		noteBases: make(map[string][]string, len(notes)),
		attPaths:  make(map[string]*models.Attachment, len(attachments)),
		attBases:  make(map[string][]*models.Attachment, len(attachments)),
	}
	for _, n := range notes {
		lower := strings.ToLower(n.Path)
		r.notePaths[lower] = n.Path
		r.notePaths[strings.TrimSuffix(lower, ".md")] = n.Path
		base := strings.ToLower(n.Stem())
		r.noteBases[base] = append(r.noteBases[base], n.Path)
	}
	for _, a := range attachments {
		r.attPaths[strings.ToLower(a.Path)] = a
		base := strings.ToLower(a.Name())
		r.attBases[base] = append(r.attBases[base], a)
	}
	return r
}

// Resolve resolves every link of a note, in document order.
func (r *Resolver) Resolve(n *models.Note) []Target {
	out := make([]Target, 0, len(n.Links))
	for _, l := range n.Links {
		out = append(out, r.resolveLink(n.Path, l))
	}
	return out
}

func (r *Resolver) resolveLink(source string, l models.Link) Target {
	t := Target{Link: l}
	if l.Target == "" {
		t.Kind = SelfTarget
		return t
	}

	// A target with a non-note extension is looked up as a file first;
	// otherwise notes win and attachments are the fallback.
	fileFirst := path.Ext(l.Target) != "" && !vault.IsNotePath(l.Target)
	var noteErr, attErr error
	lookupNote := func() bool {
		p, err := r.lookupNote(source, l.Target)
		if err != nil {
			noteErr = err
			return false
		}
		t.Kind, t.Path = NoteTarget, p
		return true
	}
	lookupAtt := func() bool {
		a, err := r.lookupAttachment(source, l.Target)
		if err != nil {
			attErr = err
			return false
		}
		t.Kind, t.Path, t.Attachment = AttachmentTarget, a.Path, a
		return true
	}

	if fileFirst {
		if lookupAtt() || lookupNote() {
			return t
		}
	} else if lookupNote() || lookupAtt() {
		return t
	}

	reason := noteErr
	if fileFirst || errors.Is(attErr, errAmbiguous) {
		reason = attErr
	}
	t.Err = fmt.Errorf("links: %s: %s: %w: %w", source, l.Raw, apperr.ErrLinkUnresolved, reason)
	return t
}

var (
	errMissing   = errors.New("target not found")
	errAmbiguous = errors.New("ambiguous target")
	errEscapes   = errors.New("target escapes vault")
)

func (r *Resolver) lookupNote(source, target string) (string, error) {
	if p, ok, err := r.byPath(source, target, func(key string) (string, bool) {
		p, ok := r.notePaths[key]
		return p, ok
	}); ok || err != nil {
		return p, err
	}
	if strings.Contains(target, "/") {
		return r.bySuffix(target)
	}
	key := strings.ToLower(trimNoteExt(target))
	return pickBasename(target, r.noteBases[key], func(p string) string { return p })
}

func (r *Resolver) lookupAttachment(source, target string) (*models.Attachment, error) {
	var found *models.Attachment
	_, ok, err := r.byPath(source, target, func(key string) (string, bool) {
		a, ok := r.attPaths[key]
		if ok {
			found = a
			return a.Path, true
		}
		return "", false
	})
	if err != nil {
		return nil, err
	}
	if ok {
		return found, nil
	}
	if strings.Contains(target, "/") {
		return nil, errMissing
	}
	cands := r.attBases[strings.ToLower(target)]
	p, err := pickBasename(target, cands, func(a *models.Attachment) string { return a.Path })
	if err != nil {
		return nil, err
	}
	return r.attPaths[strings.ToLower(p)], nil
}

// byPath handles relative ("./", "../"), vault-absolute ("/") and plain path
// targets. ok is false when target is not a path form or not found.
func (r *Resolver) byPath(source, target string, get func(key string) (string, bool)) (string, bool, error) {
	var candidate string
	switch {
	case strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../"):
		dir := path.Dir(source)
		candidate = path.Join(dir, target)
		if candidate == ".." || strings.HasPrefix(candidate, "../") {
			return "", false, errEscapes
		}
	case strings.HasPrefix(target, "/"):
		candidate = strings.TrimPrefix(path.Clean(target), "/")
	case strings.Contains(target, "/"):
		candidate = path.Clean(target)
	default:
		candidate = target
	}
	p, ok := get(strings.ToLower(candidate))
	return p, ok, nil
}

// bySuffix matches "folder/Note" against notes ending in that path.
func (r *Resolver) bySuffix(target string) (string, error) {
	suffix := "/" + strings.ToLower(trimNoteExt(strings.TrimPrefix(target, "/")))
	var matches []string
	seen := make(map[string]bool)
	for key, p := range r.notePaths {
		if strings.HasSuffix(key, suffix) && !strings.HasSuffix(key, ".md") && !seen[p] {
			seen[p] = true
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return "", errMissing
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %d notes match %q", errAmbiguous, len(matches), target)
	}
}

// pickBasename applies the basename rule: a unique match wins; among several
// matches a root-level file wins; otherwise the link is ambiguous.
func pickBasename[T any](target string, cands []T, pathOf func(T) string) (string, error) {
	switch len(cands) {
	case 0:
		return "", errMissing
	case 1:
		return pathOf(cands[0]), nil
	}
	for _, c := range cands {
		if p := pathOf(c); !strings.Contains(p, "/") {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %d files named %q", errAmbiguous, len(cands), target)
}

func trimNoteExt(p string) string {
	if vault.IsNotePath(p) {
		return p[:len(p)-len(".md")]
	}
	return p
}
