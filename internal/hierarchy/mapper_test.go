package hierarchy

import (
	"errors"
	"strings"
	"testing"

	"github.com/starford/obsidian2bookstack/internal/apperr"
	"github.com/starford/obsidian2bookstack/internal/models"
)

func notes(paths ...string) []*models.Note {
	out := make([]*models.Note, 0, len(paths))
	for _, p := range paths {
		out = append(out, &models.Note{Path: p, Title: models.Stem(p), Publish: true})
	}
	return out
}

// shape renders the tree as "level:name" lines indented by depth.
func shape(t *Tree) string {
	var b strings.Builder
	var visit func(nodes []*Node, depth int)
	visit = func(nodes []*Node, depth int) {
		for _, n := range nodes {
			b.WriteString(strings.Repeat("  ", depth) + n.Level.String() + ":" + n.Name + "\n")
			visit(n.Children, depth+1)
		}
	}
	visit(t.Roots, 0)
	return b.String()
}

func TestMap_FlatFolderIsStandaloneBook(t *testing.T) {
	tree, warns := Map(notes("Projects/Beta.md", "Projects/Alpha.md"), Options{})
	if len(warns) != 0 {
		t.Fatalf("warnings: %v", warns)
	}
	want := "book:Projects\n  page:Alpha\n  page:Beta\n"
	if got := shape(tree); got != want {
		t.Errorf("tree =\n%s\nwant\n%s", got, want)
	}
}

func TestMap_FullHierarchy(t *testing.T) {
	tree, _ := Map(notes(
		"Inbox.md",
		"Work/Overview.md",
		"Work/Infra/Runbook.md",
		"Work/Infra/Network/VLANs.md",
	), Options{DefaultBook: "Unsorted"})

	want := "" +
		"book:Unsorted\n" +
		"  page:Inbox\n" +
		"shelf:Work\n" +
		"  book:Work\n" +
		"    page:Overview\n" +
		"  book:Infra\n" +
		"    chapter:Network\n" +
		"      page:VLANs\n" +
		"    page:Runbook\n"
	if got := shape(tree); got != want {
		t.Errorf("tree =\n%s\nwant\n%s", got, want)
	}

	page := tree.PageFor("Work/Infra/Network/VLANs.md")
	if page == nil {
		t.Fatal("PageFor returned nil")
	}
	if page.Path() != "Work/Infra/Network/VLANs" {
		t.Errorf("path = %q", page.Path())
	}
	if page.Ancestor(Book).Name != "Infra" || page.Ancestor(Shelf).Name != "Work" {
		t.Errorf("ancestors wrong for %s", page.Path())
	}
}

func TestMap_InvariantBookAndChapterCount(t *testing.T) {
	tree, _ := Map(notes("A/B/C/D/E/F.md", "A/B/C/x.md", "A/y.md", "z.md"), Options{})
	for _, p := range tree.Pages() {
		books, chapters, depth := 0, 0, 0
		for cur := p.Parent; cur != nil; cur = cur.Parent {
			depth++
			switch cur.Level {
			case Book:
				books++
			case Chapter:
				chapters++
			case Page:
				t.Errorf("%s: page has a page ancestor", p.Source)
			}
		}
		if books != 1 || chapters > 1 || depth > 3 {
			t.Errorf("%s: books=%d chapters=%d depth=%d", p.Source, books, chapters, depth)
		}
	}
}

func TestMap_FoldPolicies(t *testing.T) {
	input := notes("S/B/C/deep/er/Note.md", "S/B/C/Note.md")

	tree, warns := Map(input, Options{Fold: FoldPrefix})
	chapter := tree.Roots[0].Children[0].Children[0]
	if chapter.Level != Chapter || len(chapter.Children) != 2 {
		t.Fatalf("unexpected tree:\n%s", shape(tree))
	}
	names := []string{chapter.Children[0].Name, chapter.Children[1].Name}
	if names[0] != "deep / er / Note" || names[1] != "Note" {
		t.Errorf("prefix names = %v", names)
	}
	if len(warns) != 1 || !errors.Is(warns[0], apperr.ErrMappingPolicy) {
		t.Errorf("warnings = %v, want one fold warning", warns)
	}

	tree, warns = Map(input, Options{Fold: FoldFlatten})
	chapter = tree.Roots[0].Children[0].Children[0]
	names = []string{chapter.Children[0].Name, chapter.Children[1].Name}
	if names[0] != "Note" || names[1] != "Note (S/B/C/Note.md)" {
		t.Errorf("flatten names = %v", names)
	}
	var conflicts int
	for _, w := range warns {
		if errors.Is(w, apperr.ErrMappingConflict) {
			conflicts++
		}
	}
	if conflicts != 1 {
		t.Errorf("conflict warnings = %d, want 1 (%v)", conflicts, warns)
	}
}

func TestMap_CollisionDisambiguation(t *testing.T) {
	input := notes("Book/a.md", "Book/b.md")
	input[0].Title = "Same"
	input[1].Title = "Same"

	tree, warns := Map(input, Options{})
	pages := tree.Pages()
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	if pages[0].Name == pages[1].Name {
		t.Errorf("names not distinct: %q", pages[0].Name)
	}
	if pages[0].Name != "Same" || pages[1].Name != "Same (Book/b.md)" {
		t.Errorf("names = %q, %q", pages[0].Name, pages[1].Name)
	}
	if len(warns) != 1 || !errors.Is(warns[0], apperr.ErrMappingConflict) {
		t.Errorf("warnings = %v", warns)
	}
}

func TestMap_ChapterAndPageMayShareName(t *testing.T) {
	tree, warns := Map(notes("S/B/Topic.md", "S/B/Topic/inner.md"), Options{})
	if len(warns) != 0 {
		t.Errorf("different levels must not collide: %v", warns)
	}
	if tree.Len() != 5 {
		t.Errorf("len = %d, want 5:\n%s", tree.Len(), shape(tree))
	}
}

func TestMap_Deterministic(t *testing.T) {
	a := notes("b/x.md", "A/y.md", "a/z.md", "root.md", "S/T/u.md")
	b := notes("S/T/u.md", "root.md", "a/z.md", "A/y.md", "b/x.md")
	ta, _ := Map(a, Options{})
	tb, _ := Map(b, Options{})
	if shape(ta) != shape(tb) {
		t.Errorf("order-dependent output:\n%s\nvs\n%s", shape(ta), shape(tb))
	}
}

func TestMap_ExcludedAndUnpublished(t *testing.T) {
	input := notes("Private/Secret/x.md", "Public/ok.md", "Public/draft.md")
	input[2].Publish = false

	tree, warns := Map(input, Options{ExcludeShelves: []string{"Private"}})
	want := "book:Public\n  page:ok\n"
	if got := shape(tree); got != want {
		t.Errorf("tree =\n%s\nwant\n%s", got, want)
	}
	if len(warns) != 1 || !errors.Is(warns[0], apperr.ErrMappingPolicy) {
		t.Errorf("warnings = %v", warns)
	}
	if tree.PageFor("Public/draft.md") != nil {
		t.Error("unpublished note was mapped")
	}
}
