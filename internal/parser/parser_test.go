package parser

import (
	"errors"
	"testing"

	"github.com/starford/obsidian2bookstack/internal/apperr"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n---\n# Hello\nBody text.\n")
	r := Parse("notes/hello.md", input)
	if len(r.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", r.Warnings)
	}
	n := r.Note
	if n.Title != "Hello" {
		t.Errorf("title = %q, want %q", n.Title, "Hello")
	}
	if n.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", n.Body)
	}
	if !n.Publish {
		t.Error("note should be published by default")
	}
	if n.Checksum == "" {
		t.Error("checksum not set")
	}
}

func TestParse_TitleDefaultsToStem(t *testing.T) {
	r := Parse("Projects/Alpha Plan.md", []byte("# A heading\ntext"))
	if r.Note.Title != "Alpha Plan" {
		t.Errorf("title = %q, want %q", r.Note.Title, "Alpha Plan")
	}
	if r.Note.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Note.Frontmatter)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r := Parse("bad.md", input)
	if r.Note.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Note.Body != string(input) {
		t.Errorf("body = %q, want whole input", r.Note.Body)
	}
	if len(r.Warnings) != 1 || !errors.Is(r.Warnings[0], apperr.ErrParse) {
		t.Errorf("warnings = %v, want one ErrParse", r.Warnings)
	}
}

func TestParse_PublishOptOut(t *testing.T) {
	for _, fm := range []string{"publish: false", "bookstack: false"} {
		r := Parse("x.md", []byte("---\n"+fm+"\n---\nbody"))
		if r.Note.Publish {
			t.Errorf("%q: note should be unpublished", fm)
		}
	}
	r := Parse("x.md", []byte("---\npublish: true\n---\nbody"))
	if !r.Note.Publish {
		t.Error("publish: true should keep the note")
	}
}

func TestParse_HorizontalRuleIsNotFrontmatter(t *testing.T) {
	input := []byte("----\nnot yaml\n---\n")
	r := Parse("x.md", input)
	if r.Note.Frontmatter != nil || r.Note.Body != string(input) {
		t.Errorf("frontmatter = %v, body = %q", r.Note.Frontmatter, r.Note.Body)
	}
}
