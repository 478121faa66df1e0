package parser

import (
	"strings"

	"github.com/starford/obsidian2bookstack/internal/models"
)

// extractLinks returns every [[wiki-link]] and ![[embed]] occurrence in body,
// in document order. Fenced code blocks and inline code spans are skipped.
func extractLinks(body string) []models.Link {
	var out []models.Link
	inFence := false
	offset := 0
	for _, line := range strings.SplitAfter(body, "\n") {
		trim := strings.TrimSpace(line)
		if strings.HasPrefix(trim, "```") || strings.HasPrefix(trim, "~~~") {
			inFence = !inFence
		} else if !inFence {
			out = append(out, scanLine(line, offset)...)
		}
		offset += len(line)
	}
	return out
}

// scanLine finds links in one line. base is the line's offset in the body.
func scanLine(line string, base int) []models.Link {
	var out []models.Link
	code := codeSpans(line)
	i := 0
	for i < len(line) {
		start := strings.Index(line[i:], "[[")
		if start < 0 {
			break
		}
		start += i
		if inSpan(code, start) {
			i = start + 2
			continue
		}
		end := strings.Index(line[start+2:], "]]")
		if end < 0 {
			break
		}
		end += start + 2
		inner := line[start+2 : end]
		// "[[a [[b]]": the innermost opener wins, the first stays literal.
		if j := strings.LastIndex(inner, "[["); j >= 0 {
			i = start + 2 + j
			continue
		}

		rawStart := start
		embed := start > 0 && line[start-1] == '!'
		if embed {
			rawStart--
		}
		link, ok := splitInner(inner)
		if ok {
			link.Raw = line[rawStart : end+2]
			link.Embed = embed
			link.Offset = base + rawStart
			out = append(out, link)
		}
		i = end + 2
	}
	return out
}

// splitInner splits "target#subpath|display". ok is false for empty links,
// which stay literal text.
func splitInner(inner string) (models.Link, bool) {
	var l models.Link
	target := inner
	if idx := strings.Index(inner, "|"); idx >= 0 {
		target = inner[:idx]
		l.Display = strings.TrimSpace(inner[idx+1:])
	}
	if idx := strings.Index(target, "#"); idx >= 0 {
		l.Subpath = strings.TrimSpace(strings.TrimLeft(target[idx:], "#"))
		target = target[:idx]
	}
	l.Target = strings.TrimSpace(target)
	if l.Target == "" && l.Subpath == "" {
		return l, false
	}
	return l, true
}

type span struct{ start, end int }

// codeSpans returns the byte ranges of `inline code` in line.
func codeSpans(line string) []span {
	var spans []span
	open := -1
	for i := 0; i < len(line); i++ {
		if line[i] != '`' {
			continue
		}
		if open < 0 {
			open = i
		} else {
			spans = append(spans, span{open, i})
			open = -1
		}
	}
	return spans
}

func inSpan(spans []span, pos int) bool {
	for _, s := range spans {
		if pos > s.start && pos < s.end {
			return true
		}
	}
	return false
}
