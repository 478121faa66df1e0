// Package links resolves vault wiki-links and embeds into BookStack link markup.
package links

import "sync"

// Table maps vault paths to remote IDs. Notes map to page IDs, attachments to
// attachment IDs. The sync engine owns the table and fills it as operations
// succeed; it is safe for concurrent use.
type Table struct {
	mu          sync.RWMutex
	pages       map[string]int
	attachments map[string]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		pages:       make(map[string]int),
		attachments: make(map[string]int),
	}
}

// SetPage records the remote page ID of a note.
func (t *Table) SetPage(notePath string, id int) {
	t.mu.Lock()
	t.pages[notePath] = id
	t.mu.Unlock()
}

// Page returns the remote page ID of a note.
func (t *Table) Page(notePath string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.pages[notePath]
	return id, ok
}

// SetAttachment records the remote attachment ID of a vault file.
func (t *Table) SetAttachment(path string, id int) {
	t.mu.Lock()
	t.attachments[path] = id
	t.mu.Unlock()
}

// Attachment returns the remote attachment ID of a vault file.
func (t *Table) Attachment(path string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.attachments[path]
	return id, ok
}

// Len returns the number of page and attachment entries.
func (t *Table) Len() (pages, attachments int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pages), len(t.attachments)
}
