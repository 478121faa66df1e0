// Package remote holds a one-run snapshot of the wiki's existing content.
package remote

import (
	"fmt"
	"regexp"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/starford/obsidian2bookstack/internal/hierarchy"
)

// Ref points at a remote container. The zero Ref is "no parent".
type Ref struct {
	Level hierarchy.Level
	ID    int
}

// Key identifies an entity by position: level, parent and name.
type Key struct {
	Level  hierarchy.Level
	Parent Ref
	Name   string
}

// Entity is one existing shelf, book, chapter or page.
type Entity struct {
	Level  hierarchy.Level
	ID     int
	Parent Ref
	Name   string
	// Hash is the sha256 of a page's markdown. Empty for containers.
	Hash string
	// Children holds sorted child IDs: book IDs for shelves, chapter and
	// page IDs for books, page IDs for chapters.
	Children []int
}

// Attachment is an uploaded file whose name carries a content digest.
type Attachment struct {
	ID     int
	PageID int
	Name   string
	Path   string
	Digest string
}

// State is the flat collection of remote entities. It is built by Fetch for
// a single run and is read-only afterwards.
type State struct {
	entities map[Key]*Entity
	byID     map[Ref]*Entity
	// bookNames indexes every book by name, lowest ID first.
	bookNames   map[string][]*Entity
	shelved     mapset.Set[int]
	shelfBooks  map[int]mapset.Set[int]
	attachments map[string]*Attachment
	// digests indexes attachments by content digest, lowest ID first.
	digests map[string]*Attachment
}

func newState() *State {
	return &State{
		entities:    make(map[Key]*Entity),
		byID:        make(map[Ref]*Entity),
		bookNames:   make(map[string][]*Entity),
		shelved:     mapset.NewThreadUnsafeSet[int](),
		shelfBooks:  make(map[int]mapset.Set[int]),
		attachments: make(map[string]*Attachment),
		digests:     make(map[string]*Attachment),
	}
}

// add stores e under its key. The first entity for a key wins; the API lists
// in ascending ID order, so the oldest duplicate is used.
func (s *State) add(e *Entity) {
	k := Key{Level: e.Level, Parent: e.Parent, Name: e.Name}
	if _, ok := s.entities[k]; !ok {
		s.entities[k] = e
	}
	s.byID[Ref{Level: e.Level, ID: e.ID}] = e
}

// Find returns the entity at key.
func (s *State) Find(k Key) (*Entity, bool) {
	e, ok := s.entities[k]
	return e, ok
}

// Get returns the entity with the given level and ID.
func (s *State) Get(r Ref) (*Entity, bool) {
	e, ok := s.byID[r]
	return e, ok
}

// Shelf finds a shelf by name.
func (s *State) Shelf(name string) (*Entity, bool) {
	return s.Find(Key{Level: hierarchy.Shelf, Name: name})
}

// UnshelvedBook finds a book with the name that is on no shelf.
func (s *State) UnshelvedBook(name string) (*Entity, bool) {
	if books := s.UnshelvedBooks(name); len(books) > 0 {
		return books[0], true
	}
	return nil, false
}

// UnshelvedBooks returns every book with the name that is on no shelf,
// lowest ID first.
func (s *State) UnshelvedBooks(name string) []*Entity {
	var out []*Entity
	for _, e := range s.bookNames[name] {
		if !s.shelved.Contains(e.ID) {
			out = append(out, e)
		}
	}
	return out
}

// Book finds a book by name on the given shelf. A shelfID of 0 looks for a
// standalone book, which is a book on no shelf.
func (s *State) Book(shelfID int, name string) (*Entity, bool) {
	if shelfID == 0 {
		return s.UnshelvedBook(name)
	}
	return s.Find(Key{Level: hierarchy.Book, Parent: Ref{Level: hierarchy.Shelf, ID: shelfID}, Name: name})
}

// Chapter finds a chapter by name inside a book.
func (s *State) Chapter(bookID int, name string) (*Entity, bool) {
	return s.Find(Key{Level: hierarchy.Chapter, Parent: Ref{Level: hierarchy.Book, ID: bookID}, Name: name})
}

// Page finds a page by name inside a book or chapter.
func (s *State) Page(parent Ref, name string) (*Entity, bool) {
	return s.Find(Key{Level: hierarchy.Page, Parent: parent, Name: name})
}

// ShelfBooks returns the IDs of the books on a shelf.
func (s *State) ShelfBooks(shelfID int) mapset.Set[int] {
	if set, ok := s.shelfBooks[shelfID]; ok {
		return set.Clone()
	}
	return mapset.NewThreadUnsafeSet[int]()
}

// Attachment finds an uploaded file by vault path and content digest. When no
// upload carries the path, any upload with the same content is returned:
// identical files share one upload.
func (s *State) Attachment(path, digest string) (*Attachment, bool) {
	if a, ok := s.attachments[AttachmentName(path, digest)]; ok {
		return a, true
	}
	if len(digest) > digestLen {
		digest = digest[:digestLen]
	}
	a, ok := s.digests[digest]
	return a, ok
}

// Len returns the number of entities and attachments.
func (s *State) Len() int {
	return len(s.byID) + len(s.attachments)
}

// digestLen is the number of hex digits of the content digest kept in an
// attachment name.
const digestLen = 12

// AttachmentName is the remote name of an uploaded vault file. The digest
// prefix lets later runs recognise unchanged content.
func AttachmentName(path, digest string) string {
	if len(digest) > digestLen {
		digest = digest[:digestLen]
	}
	return fmt.Sprintf("%s [%s]", path, digest)
}

var attachmentName = regexp.MustCompile(`^(.+) \[([0-9a-f]{12})\]$`)

// ParseAttachmentName splits a name built by AttachmentName.
func ParseAttachmentName(name string) (path, digest string, ok bool) {
	m := attachmentName.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func (s *State) linkChildren() {
	for _, e := range s.byID {
		if e.Parent.ID == 0 {
			continue
		}
		if p, ok := s.byID[e.Parent]; ok {
			p.Children = append(p.Children, e.ID)
		}
	}
	for id, books := range s.shelfBooks {
		if sh, ok := s.byID[Ref{Level: hierarchy.Shelf, ID: id}]; ok {
			sh.Children = books.ToSlice()
		}
	}
	for _, e := range s.byID {
		slices.Sort(e.Children)
	}
}
