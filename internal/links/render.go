package links

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/starford/obsidian2bookstack/internal/models"
)

// BrokenSuffix is appended to link text whose target cannot be resolved.
const BrokenSuffix = " _(broken link)_"

// Rendered is a note body rewritten to BookStack markup.
type Rendered struct {
	Markdown string
	// Pending is true when at least one resolvable target had no remote ID
	// yet and its original [[...]] text was kept as a placeholder.
	Pending bool
	// Unresolved holds one error per dangling or ambiguous link.
	Unresolved []error
}

// Render rewrites every link of the note. Targets already in the table become
// native links; resolvable targets without an ID stay as placeholders; the
// rest are annotated as broken.
func (r *Resolver) Render(n *models.Note, table *Table) Rendered {
	targets := r.Resolve(n)
	sort.SliceStable(targets, func(i, j int) bool { return targets[i].Link.Offset < targets[j].Link.Offset })

	var out Rendered
	var b strings.Builder
	last := 0
	for _, t := range targets {
		l := t.Link
		if l.Offset < last || l.Offset+len(l.Raw) > len(n.Body) {
			continue
		}
		b.WriteString(n.Body[last:l.Offset])
		last = l.Offset + len(l.Raw)

		switch t.Kind {
		case SelfTarget:
			if anchor := HeadingAnchor(l.Subpath); anchor != "" {
				fmt.Fprintf(&b, "[%s](#%s)", label(l, l.Subpath), anchor)
			} else {
				b.WriteString(label(l, l.Subpath))
			}
		case NoteTarget:
			id, ok := table.Page(t.Path)
			if !ok {
				out.Pending = true
				b.WriteString(l.Raw)
				continue
			}
			b.WriteString(PageLink(label(l, l.Target), id, l.Subpath))
		case AttachmentTarget:
			id, ok := table.Attachment(t.Path)
			if !ok {
				out.Pending = true
				b.WriteString(l.Raw)
				continue
			}
			b.WriteString(AttachmentLink(t.Attachment, l, id))
		default:
			out.Unresolved = append(out.Unresolved, t.Err)
			b.WriteString(l.Raw + BrokenSuffix)
		}
	}
	b.WriteString(n.Body[last:])
	out.Markdown = b.String()
	return out
}

// Attachments returns the distinct attachments a note references, in
// document order.
func (r *Resolver) Attachments(n *models.Note) []*models.Attachment {
	var out []*models.Attachment
	seen := make(map[string]bool)
	for _, t := range r.Resolve(n) {
		if t.Kind == AttachmentTarget && !seen[t.Path] {
			seen[t.Path] = true
			out = append(out, t.Attachment)
		}
	}
	return out
}

// PageLink renders a link to a BookStack page by ID. BookStack redirects
// /link/{id} to the page's current URL.
func PageLink(text string, id int, heading string) string {
	href := fmt.Sprintf("/link/%d", id)
	if anchor := HeadingAnchor(heading); anchor != "" {
		href += "#" + anchor
	}
	return fmt.Sprintf("[%s](%s)", text, href)
}

// AttachmentLink renders an image embed for images and a download link for
// other files.
func AttachmentLink(a *models.Attachment, l models.Link, id int) string {
	text := l.Display
	if text == "" || sizeSpec.MatchString(text) {
		text = a.Name()
	}
	if l.Embed && a.IsImage() {
		return fmt.Sprintf("![%s](/attachments/%d?open=true)", text, id)
	}
	return fmt.Sprintf("[%s](/attachments/%d)", text, id)
}

// sizeSpec matches Obsidian image sizing like "300" or "300x200".
var sizeSpec = regexp.MustCompile(`^\d+(x\d+)?$`)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// HeadingAnchor approximates the id BookStack assigns to a heading. It is
// empty when the heading has no ASCII letters or digits to build one from.
func HeadingAnchor(heading string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(heading), "-"), "-")
	if len(slug) > 20 {
		slug = strings.TrimRight(slug[:20], "-")
	}
	if slug == "" {
		return ""
	}
	return "bkmrk-" + slug
}

func label(l models.Link, fallback string) string {
	if l.Display != "" {
		return l.Display
	}
	if l.Target != "" && l.Subpath != "" {
		return l.Target + " > " + l.Subpath
	}
	return fallback
}
