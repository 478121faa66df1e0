// Package hierarchy maps vault folders and notes onto the four-level
// shelf/book/chapter/page tree of the wiki.
package hierarchy

import (
	"strings"

	"github.com/starford/obsidian2bookstack/internal/models"
)

// Level is the tag of a Node.
type Level int

const (
	Shelf Level = iota + 1
	Book
	Chapter
	Page
)

func (l Level) String() string {
	switch l {
	case Shelf:
		return "shelf"
	case Book:
		return "book"
	case Chapter:
		return "chapter"
	case Page:
		return "page"
	default:
		return "unknown"
	}
}

// Node is one shelf, book, chapter or page of the target tree.
type Node struct {
	Level Level
	// Name is the effective display name after collision disambiguation.
	Name string
	// BaseName is the name before disambiguation.
	BaseName string
	// Source is the vault folder a container came from, or the note path of
	// a page. The default book has an empty source.
	Source   string
	Note     *models.Note
	Parent   *Node
	Children []*Node
	// RemoteID is filled in by the sync engine once the node exists remotely.
	// Zero means unknown.
	RemoteID int
}

// Path returns the display path of the node, e.g. "Shelf/Book/Page".
func (n *Node) Path() string {
	var parts []string
	for cur := n; cur != nil; cur = cur.Parent {
		parts = append(parts, cur.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Ancestor returns the closest ancestor (or n itself) at the given level.
func (n *Node) Ancestor(l Level) *Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Level == l {
			return cur
		}
	}
	return nil
}

// Tree is the mapped vault. Roots holds shelves and standalone books.
type Tree struct {
	Roots []*Node

	pages map[string]*Node
}

// Walk visits every node depth-first, parents before children, in tree order.
// Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(*Node) bool) {
	var visit func(nodes []*Node)
	visit = func(nodes []*Node) {
		for _, n := range nodes {
			if fn(n) {
				visit(n.Children)
			}
		}
	}
	visit(t.Roots)
}

// Pages returns every page in tree order.
func (t *Tree) Pages() []*Node {
	var out []*Node
	t.Walk(func(n *Node) bool {
		if n.Level == Page {
			out = append(out, n)
		}
		return true
	})
	return out
}

// PageFor returns the page built from the note at path, or nil.
func (t *Tree) PageFor(notePath string) *Node {
	return t.pages[notePath]
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	n := 0
	t.Walk(func(*Node) bool { n++; return true })
	return n
}
