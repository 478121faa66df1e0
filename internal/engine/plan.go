package engine

import (
	"fmt"
	"io"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/starford/obsidian2bookstack/internal/checksum"
	"github.com/starford/obsidian2bookstack/internal/hierarchy"
	"github.com/starford/obsidian2bookstack/internal/links"
	"github.com/starford/obsidian2bookstack/internal/models"
	"github.com/starford/obsidian2bookstack/internal/remote"
)

// Kind is the type of a planned operation.
type Kind int

const (
	Skip Kind = iota
	CreateShelf
	CreateBook
	CreateChapter
	CreatePage
	UpdateShelf
	UpdatePage
	UploadAttachment
)

func (k Kind) String() string {
	switch k {
	case Skip:
		return "skip"
	case CreateShelf:
		return "create_shelf"
	case CreateBook:
		return "create_book"
	case CreateChapter:
		return "create_chapter"
	case CreatePage:
		return "create_page"
	case UpdateShelf:
		return "update_shelf"
	case UpdatePage:
		return "update_page"
	case UploadAttachment:
		return "upload_attachment"
	default:
		return "unknown"
	}
}

// Wave groups operations that may run concurrently. Waves run in order, so a
// node's operation never starts before its parent's has finished.
type Wave int

const (
	WaveShelves Wave = iota
	WaveBooks
	WaveShelving
	WaveChapters
	WavePages
	WaveAttachments
	WaveLinks
)

func (w Wave) String() string {
	return [...]string{"shelves", "books", "shelving", "chapters", "pages", "attachments", "links"}[w]
}

// Operation is one planned remote action.
type Operation struct {
	Kind Kind
	Wave Wave
	// Node is the target node; nil for attachment operations.
	Node *hierarchy.Node
	// RemoteID is the existing ID for updates and skips.
	RemoteID int
	// Markdown is the rendered page body; Pending is set when it still holds
	// placeholders for targets without an ID.
	Markdown string
	Pending  bool
	// Attachment and Owners are set for attachment operations. Owners lists
	// the referencing pages in tree order; the first available one is used.
	Attachment *models.Attachment
	Owners     []*hierarchy.Node
}

// Label describes the operation target.
func (op *Operation) Label() string {
	if op.Attachment != nil {
		return op.Attachment.Path
	}
	return op.Node.Path()
}

// Plan is the ordered list of operations of one run.
type Plan struct {
	Ops      []*Operation
	Warnings []Warning
}

// Wave returns the operations of one wave.
func (p *Plan) Wave(w Wave) []*Operation {
	var out []*Operation
	for _, op := range p.Ops {
		if op.Wave == w {
			out = append(out, op)
		}
	}
	return out
}

// Counts returns the number of operations per kind.
func (p *Plan) Counts() map[Kind]int {
	out := make(map[Kind]int)
	for _, op := range p.Ops {
		out[op.Kind]++
	}
	return out
}

// Changes reports whether the plan mutates anything.
func (p *Plan) Changes() bool {
	for _, op := range p.Ops {
		if op.Kind != Skip {
			return true
		}
	}
	return false
}

// WriteTo prints one line per non-skip operation.
func (p *Plan) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, op := range p.Ops {
		if op.Kind == Skip {
			continue
		}
		suffix := ""
		if op.Pending {
			suffix = " (links pending)"
		}
		n, err := fmt.Fprintf(w, "%-18s %s%s\n", op.Kind, op.Label(), suffix)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// planner diffs the mapped tree against the remote state.
type planner struct {
	tree     *hierarchy.Tree
	state    *remote.State
	resolver *links.Resolver
	table    *links.Table
	plan     *Plan

	// claimed holds unshelved book IDs already matched to a tree node.
	claimed mapset.Set[int]
}

func (p *planner) build() {
	p.claimed = mapset.NewThreadUnsafeSet[int]()
	p.claimStandalone()
	p.match()
	p.attachments()
	p.pages()
	sort.SliceStable(p.plan.Ops, func(i, j int) bool { return p.plan.Ops[i].Wave < p.plan.Ops[j].Wave })
}

// match resolves every container against the remote state, emits container
// operations and seeds the link table with existing page IDs.
func (p *planner) match() {
	p.tree.Walk(func(n *hierarchy.Node) bool {
		parentID := 0
		if n.Parent != nil {
			parentID = n.Parent.RemoteID
		}
		var (
			e     *remote.Entity
			found bool
		)
		switch n.Level {
		case hierarchy.Shelf:
			e, found = p.state.Shelf(n.Name)
		case hierarchy.Book:
			switch {
			case n.Parent == nil:
				e, found = p.state.Book(0, n.Name)
			case parentID != 0:
				if e, found = p.state.Book(parentID, n.Name); !found {
					e, found = p.recoverBook(n.Name)
				}
			default:
				e, found = p.recoverBook(n.Name)
			}
		case hierarchy.Chapter:
			if parentID != 0 {
				e, found = p.state.Chapter(parentID, n.Name)
			}
		case hierarchy.Page:
			if parentID != 0 {
				e, found = p.state.Page(remote.Ref{Level: n.Parent.Level, ID: parentID}, n.Name)
			}
		}
		if found {
			n.RemoteID = e.ID
		}
		if n.Level == hierarchy.Page {
			if found {
				p.table.SetPage(n.Note.Path, e.ID)
			}
			return true
		}

		op := &Operation{Node: n, RemoteID: n.RemoteID, Wave: waveOf(n.Level)}
		if !found {
			op.Kind = createKind(n.Level)
		}
		p.plan.Ops = append(p.plan.Ops, op)

		if n.Level == hierarchy.Shelf && p.needsShelving(n) {
			p.plan.Ops = append(p.plan.Ops, &Operation{Kind: UpdateShelf, Wave: WaveShelving, Node: n, RemoteID: n.RemoteID})
		}
		return true
	})
}

// claimStandalone reserves the remote books of top-level standalone books so
// that no shelf book with the same name takes them over.
func (p *planner) claimStandalone() {
	for _, n := range p.tree.Roots {
		if n.Level != hierarchy.Book {
			continue
		}
		if e, ok := p.state.Book(0, n.Name); ok {
			p.claimed.Add(e.ID)
		}
	}
}

// recoverBook returns an unclaimed book on no shelf for a shelf book that is
// missing from its shelf, which happens when a run created the book but
// failed to shelve it.
func (p *planner) recoverBook(name string) (*remote.Entity, bool) {
	for _, e := range p.state.UnshelvedBooks(name) {
		if p.claimed.Add(e.ID) {
			return e, true
		}
	}
	return nil, false
}

// needsShelving reports whether a shelf misses one of its books remotely.
// Unknown book IDs mean the book is still to be created.
func (p *planner) needsShelving(shelf *hierarchy.Node) bool {
	if shelf.RemoteID == 0 {
		return len(shelf.Children) > 0
	}
	have := p.state.ShelfBooks(shelf.RemoteID)
	for _, b := range shelf.Children {
		bookID := 0
		if e, ok := p.state.Book(shelf.RemoteID, b.Name); ok {
			bookID = e.ID
		}
		if bookID == 0 || !have.Contains(bookID) {
			return true
		}
	}
	return false
}

// pages renders every page against the seeded table and compares content.
func (p *planner) pages() {
	for _, n := range p.tree.Pages() {
		r := p.resolver.Render(n.Note, p.table)
		for _, err := range r.Unresolved {
			p.plan.Warnings = append(p.plan.Warnings, warningOf(err))
		}
		op := &Operation{Node: n, Wave: WavePages, RemoteID: n.RemoteID, Markdown: r.Markdown, Pending: r.Pending}
		switch e, _ := p.state.Get(remote.Ref{Level: hierarchy.Page, ID: n.RemoteID}); {
		case n.RemoteID == 0:
			op.Kind = CreatePage
		case e == nil || e.Hash != checksum.SumString(r.Markdown):
			op.Kind = UpdatePage
		default:
			op.Kind = Skip
		}
		p.plan.Ops = append(p.plan.Ops, op)
	}
}

// attachments plans one upload per referenced file whose content is not
// already in the wiki. Existing uploads seed the link table.
func (p *planner) attachments() {
	var order []string
	owners := make(map[string][]*hierarchy.Node)
	files := make(map[string]*models.Attachment)
	for _, n := range p.tree.Pages() {
		for _, a := range p.resolver.Attachments(n.Note) {
			if _, ok := files[a.Path]; !ok {
				order = append(order, a.Path)
				files[a.Path] = a
			}
			owners[a.Path] = append(owners[a.Path], n)
		}
	}
	for _, path := range order {
		a := files[path]
		if a.Checksum == "" {
			continue
		}
		op := &Operation{Kind: UploadAttachment, Wave: WaveAttachments, Attachment: a, Owners: owners[path]}
		if existing, ok := p.state.Attachment(a.Path, a.Checksum); ok {
			op.Kind = Skip
			op.RemoteID = existing.ID
			p.table.SetAttachment(a.Path, existing.ID)
		}
		p.plan.Ops = append(p.plan.Ops, op)
	}
}

func waveOf(l hierarchy.Level) Wave {
	switch l {
	case hierarchy.Shelf:
		return WaveShelves
	case hierarchy.Book:
		return WaveBooks
	case hierarchy.Chapter:
		return WaveChapters
	default:
		return WavePages
	}
}

func createKind(l hierarchy.Level) Kind {
	switch l {
	case hierarchy.Shelf:
		return CreateShelf
	case hierarchy.Book:
		return CreateBook
	case hierarchy.Chapter:
		return CreateChapter
	default:
		return CreatePage
	}
}
