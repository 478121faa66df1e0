// Package parser extracts frontmatter, wiki-links and embeds from Markdown notes.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/obsidian2bookstack/internal/apperr"
	"github.com/starford/obsidian2bookstack/internal/checksum"
	"github.com/starford/obsidian2bookstack/internal/models"
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Note *models.Note
	// Warnings are non-fatal problems wrapping apperr.ErrParse. The note is
	// always usable.
	Warnings []error
}

// Parse builds a Note from raw Markdown bytes. Malformed markup degrades to
// literal text; the parse itself never fails.
func Parse(path string, data []byte) *Result {
	res := &Result{}
	fm, body, fmErr := splitFrontmatter(data)
	if fmErr != nil {
		res.Warnings = append(res.Warnings, fmt.Errorf("parser: %s: frontmatter: %w: %w", path, apperr.ErrParse, fmErr))
	}

	res.Note = &models.Note{
		Path:        path,
		Title:       deriveTitle(fm, path),
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Checksum:    checksum.Sum(data),
		Publish:     published(fm),
	}
	return res
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
// Invalid YAML returns the whole content as body together with the YAML error.
func splitFrontmatter(data []byte) (map[string]any, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	// The opening fence must be a line of its own.
	if len(rest) > 0 && rest[0] != '\n' && rest[0] != '\r' {
		return nil, string(data), nil
	}
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter; treat everything as body.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data), err
	}
	return fm, body, nil
}

// deriveTitle returns the frontmatter "title" if present, otherwise the
// filename stem.
func deriveTitle(fm map[string]any, path string) string {
	if t, ok := fm["title"].(string); ok {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return models.Stem(path)
}

// published reports whether the note takes part in the sync. Either
// "publish: false" or "bookstack: false" opts a note out.
func published(fm map[string]any) bool {
	for _, key := range []string{"publish", "bookstack"} {
		if v, ok := fm[key].(bool); ok && !v {
			return false
		}
	}
	return true
}
