package models

import "testing"

func TestStemAndDir(t *testing.T) {
	n := &Note{Path: "Projects/Alpha.md"}
	if n.Stem() != "Alpha" {
		t.Errorf("stem = %q", n.Stem())
	}
	if n.Dir() != "Projects" {
		t.Errorf("dir = %q", n.Dir())
	}
	root := &Note{Path: "Inbox.md"}
	if root.Dir() != "" {
		t.Errorf("root dir = %q, want empty", root.Dir())
	}
}

func TestMIMEType(t *testing.T) {
	tests := []struct {
		path  string
		image bool
	}{
		{"assets/diagram.png", true},
		{"photo.JPG", true},
		{"doc.pdf", false},
		{"blob.unknownext", false},
	}
	for _, tt := range tests {
		a := &Attachment{Path: tt.path, MIMEType: MIMEType(tt.path)}
		if a.IsImage() != tt.image {
			t.Errorf("%s: IsImage = %v (mime %q), want %v", tt.path, a.IsImage(), a.MIMEType, tt.image)
		}
	}
	if got := MIMEType("x.unknownext"); got != "application/octet-stream" {
		t.Errorf("fallback mime = %q", got)
	}
}
