package hierarchy

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/starford/obsidian2bookstack/internal/apperr"
	"github.com/starford/obsidian2bookstack/internal/models"
)

// FoldPolicy decides what happens to folders nested below the chapter level.
type FoldPolicy string

const (
	// FoldPrefix keeps the extra folders visible by prefixing the page name:
	// "Sub / Deeper / Title".
	FoldPrefix FoldPolicy = "prefix"
	// FoldFlatten drops the extra folders; resulting collisions are
	// disambiguated like any other.
	FoldFlatten FoldPolicy = "flatten"
)

// Options configures Map.
type Options struct {
	// DefaultBook receives notes placed directly in the vault root.
	DefaultBook string
	Fold        FoldPolicy
	// ExcludeShelves lists top-level folder names that are not synced.
	ExcludeShelves []string
}

const foldSeparator = " / "

// Map builds the target tree from parsed notes. Unpublished notes are left
// out. The returned warnings wrap apperr.ErrMappingConflict or
// apperr.ErrMappingPolicy; none are fatal.
//
// Rules: a top-level folder holding note-bearing subfolders is a shelf,
// otherwise a standalone book. Notes directly inside a shelf folder go to a
// book named after the shelf. Shelf subfolders are books, book subfolders are
// chapters. Root notes go to the default book.
func Map(notes []*models.Note, opts Options) (*Tree, []error) {
	if opts.DefaultBook == "" {
		opts.DefaultBook = "Vault"
	}
	if opts.Fold == "" {
		opts.Fold = FoldPrefix
	}
	excluded := make(map[string]struct{}, len(opts.ExcludeShelves))
	for _, s := range opts.ExcludeShelves {
		excluded[s] = struct{}{}
	}

	m := &mapper{
		opts:       opts,
		containers: make(map[string]*Node),
		tree:       &Tree{pages: make(map[string]*Node)},
	}

	shelves := make(map[string]bool)
	for _, n := range notes {
		if dirs := splitDirs(n.Dir()); len(dirs) >= 2 {
			shelves[dirs[0]] = true
		}
	}

	skipped := make(map[string]bool)
	for _, n := range notes {
		if !n.Publish {
			continue
		}
		dirs := splitDirs(n.Dir())
		if len(dirs) > 0 {
			if _, ok := excluded[dirs[0]]; ok {
				if !skipped[dirs[0]] {
					skipped[dirs[0]] = true
					m.warn(fmt.Errorf("hierarchy: %s: excluded shelf skipped: %w", dirs[0], apperr.ErrMappingPolicy))
				}
				continue
			}
		}
		m.place(n, dirs, shelves)
	}

	sortChildren(m.tree.Roots)
	m.tree.Roots = m.disambiguate(m.tree.Roots)
	return m.tree, m.warnings
}

type mapper struct {
	opts       Options
	containers map[string]*Node
	tree       *Tree
	warnings   []error
}

func (m *mapper) warn(err error) {
	m.warnings = append(m.warnings, err)
}

func (m *mapper) place(n *models.Note, dirs []string, shelves map[string]bool) {
	var parent *Node
	var folded []string

	switch {
	case len(dirs) == 0:
		parent = m.container(nil, Book, "", m.opts.DefaultBook)
	case shelves[dirs[0]]:
		shelf := m.container(nil, Shelf, dirs[0], dirs[0])
		if len(dirs) == 1 {
			parent = m.container(shelf, Book, dirs[0], dirs[0])
			break
		}
		parent = m.container(shelf, Book, path.Join(dirs[:2]...), dirs[1])
		if len(dirs) >= 3 {
			parent = m.container(parent, Chapter, path.Join(dirs[:3]...), dirs[2])
			folded = dirs[3:]
		}
	default:
		parent = m.container(nil, Book, dirs[0], dirs[0])
	}

	name := n.Title
	if len(folded) > 0 {
		if m.opts.Fold == FoldPrefix {
			name = strings.Join(folded, foldSeparator) + foldSeparator + n.Title
		}
		m.warn(fmt.Errorf("hierarchy: %s: folders %q folded into %s %q (%s): %w",
			n.Path, strings.Join(folded, "/"), parent.Level, parent.BaseName, m.opts.Fold, apperr.ErrMappingPolicy))
	}

	page := &Node{Level: Page, Name: name, BaseName: name, Source: n.Path, Note: n, Parent: parent}
	parent.Children = append(parent.Children, page)
	m.tree.pages[n.Path] = page
}

// container returns the node for a folder, creating it on first use.
func (m *mapper) container(parent *Node, level Level, source, name string) *Node {
	key := level.String() + ":" + source
	if c, ok := m.containers[key]; ok {
		return c
	}
	c := &Node{Level: level, Name: name, BaseName: name, Source: source, Parent: parent}
	m.containers[key] = c
	if parent == nil {
		m.tree.Roots = append(m.tree.Roots, c)
	} else {
		parent.Children = append(parent.Children, c)
	}
	return c
}

// disambiguate gives every node a name unique among same-level siblings and
// recurses. Nodes are already in deterministic order, so the first source
// keeps the plain name.
func (m *mapper) disambiguate(nodes []*Node) []*Node {
	used := make(map[Level]map[string]bool)
	for _, n := range nodes {
		names := used[n.Level]
		if names == nil {
			names = make(map[string]bool)
			used[n.Level] = names
		}
		name := n.BaseName
		if names[name] {
			name = fmt.Sprintf("%s (%s)", n.BaseName, n.Source)
			for i := 2; names[name]; i++ {
				name = fmt.Sprintf("%s (%s) %d", n.BaseName, n.Source, i)
			}
			m.warn(fmt.Errorf("hierarchy: %s: %s name %q already used, renamed to %q: %w",
				n.Source, n.Level, n.BaseName, name, apperr.ErrMappingConflict))
		}
		names[name] = true
		n.Name = name
		n.Children = m.disambiguate(n.Children)
	}
	return nodes
}

// sortChildren orders nodes by source name, case-insensitively, recursively.
func sortChildren(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := strings.ToLower(nodes[i].Source), strings.ToLower(nodes[j].Source)
		if a != b {
			return a < b
		}
		if nodes[i].Source != nodes[j].Source {
			return nodes[i].Source < nodes[j].Source
		}
		return nodes[i].Level < nodes[j].Level
	})
	for _, n := range nodes {
		sortChildren(n.Children)
	}
}

func splitDirs(dir string) []string {
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}
