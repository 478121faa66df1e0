package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/starford/obsidian2bookstack/internal/apperr"
	"github.com/starford/obsidian2bookstack/internal/bookstack"
	"github.com/starford/obsidian2bookstack/internal/checksum"
	"github.com/starford/obsidian2bookstack/internal/hierarchy"
)

// Lister is the read side of the BookStack API used by Fetch.
type Lister interface {
	ListShelves(ctx context.Context) ([]bookstack.Shelf, error)
	GetShelf(ctx context.Context, id int) (bookstack.Shelf, error)
	ListBooks(ctx context.Context) ([]bookstack.Book, error)
	ListChapters(ctx context.Context) ([]bookstack.Chapter, error)
	ListPages(ctx context.Context) ([]bookstack.Page, error)
	GetPage(ctx context.Context, id int) (bookstack.Page, error)
	ListAttachments(ctx context.Context) ([]bookstack.Attachment, error)
}

// Fetch lists everything the sync may touch. Shelf membership and page
// markdown need one detail request per item; those run concurrently, at most
// workers at a time. Any failure aborts the fetch with an error wrapping
// apperr.ErrRemoteUnavailable.
func Fetch(ctx context.Context, c Lister, workers int) (*State, error) {
	if workers < 1 {
		workers = 1
	}

	var (
		shelves     []bookstack.Shelf
		books       []bookstack.Book
		chapters    []bookstack.Chapter
		pages       []bookstack.Page
		attachments []bookstack.Attachment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { shelves, err = c.ListShelves(gctx); return wrap("list shelves", err) })
	g.Go(func() (err error) { books, err = c.ListBooks(gctx); return wrap("list books", err) })
	g.Go(func() (err error) { chapters, err = c.ListChapters(gctx); return wrap("list chapters", err) })
	g.Go(func() (err error) { pages, err = c.ListPages(gctx); return wrap("list pages", err) })
	g.Go(func() (err error) { attachments, err = c.ListAttachments(gctx); return wrap("list attachments", err) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	membership := make(map[int][]bookstack.Book, len(shelves))
	hashes := make(map[int]string, len(pages))

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, sh := range shelves {
		g.Go(func() error {
			detail, err := c.GetShelf(gctx, sh.ID)
			if err != nil {
				return wrap(fmt.Sprintf("get shelf %d", sh.ID), err)
			}
			mu.Lock()
			membership[sh.ID] = detail.Books
			mu.Unlock()
			return nil
		})
	}
	for _, p := range pages {
		if p.Draft {
			continue
		}
		g.Go(func() error {
			detail, err := c.GetPage(gctx, p.ID)
			if err != nil {
				return wrap(fmt.Sprintf("get page %d", p.ID), err)
			}
			mu.Lock()
			hashes[p.ID] = checksum.SumString(detail.Markdown)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return build(shelves, membership, books, chapters, pages, hashes, attachments), nil
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("remote: %s: %w", what, err)
	}
	return fmt.Errorf("remote: %s: %w: %w", what, apperr.ErrRemoteUnavailable, err)
}

func build(
	shelves []bookstack.Shelf,
	membership map[int][]bookstack.Book,
	books []bookstack.Book,
	chapters []bookstack.Chapter,
	pages []bookstack.Page,
	hashes map[int]string,
	attachments []bookstack.Attachment,
) *State {
	s := newState()

	sort.Slice(shelves, func(i, j int) bool { return shelves[i].ID < shelves[j].ID })
	for _, sh := range shelves {
		s.add(&Entity{Level: hierarchy.Shelf, ID: sh.ID, Name: sh.Name})
		set := mapset.NewThreadUnsafeSet[int]()
		for _, b := range membership[sh.ID] {
			set.Add(b.ID)
			s.shelved.Add(b.ID)
		}
		s.shelfBooks[sh.ID] = set
	}

	bookByID := make(map[int]*Entity, len(books))
	for _, b := range books {
		e := &Entity{Level: hierarchy.Book, ID: b.ID, Name: b.Name}
		bookByID[b.ID] = e
		s.add(e)
		s.bookNames[b.Name] = append(s.bookNames[b.Name], e)
	}
	// A shelved book is reachable under every shelf holding it.
	for _, sh := range shelves {
		for _, b := range membership[sh.ID] {
			e, ok := bookByID[b.ID]
			if !ok {
				continue
			}
			k := Key{Level: hierarchy.Book, Parent: Ref{Level: hierarchy.Shelf, ID: sh.ID}, Name: e.Name}
			if _, taken := s.entities[k]; !taken {
				s.entities[k] = e
			}
		}
	}

	for _, ch := range chapters {
		s.add(&Entity{Level: hierarchy.Chapter, ID: ch.ID, Name: ch.Name, Parent: Ref{Level: hierarchy.Book, ID: ch.BookID}})
	}
	for _, p := range pages {
		if p.Draft {
			continue
		}
		parent := Ref{Level: hierarchy.Book, ID: p.BookID}
		if p.ChapterID != 0 {
			parent = Ref{Level: hierarchy.Chapter, ID: p.ChapterID}
		}
		s.add(&Entity{Level: hierarchy.Page, ID: p.ID, Name: p.Name, Parent: parent, Hash: hashes[p.ID]})
	}

	for _, a := range attachments {
		if a.External {
			continue
		}
		path, digest, ok := ParseAttachmentName(a.Name)
		if !ok {
			continue
		}
		if _, dup := s.attachments[a.Name]; dup {
			continue
		}
		att := &Attachment{ID: a.ID, PageID: a.UploadedTo, Name: a.Name, Path: path, Digest: digest}
		s.attachments[a.Name] = att
		if _, dup := s.digests[digest]; !dup {
			s.digests[digest] = att
		}
	}

	s.linkChildren()
	return s
}
