package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Getting Started", "Getting Started"},
		{"slashes and colons", "API: a/b\\c", "API_ a_b_c"},
		{"angle brackets and pipes", `<Plan> | "Q3"`, "_Plan_ _ _Q3_"},
		{"html entities", "A &amp; B", "A & B"},
		{"url escapes", "A%20%26%20B", "A & B"},
		{"collapse whitespace", "a \t  b", "a b"},
		{"trim dots and spaces", " . draft . ", "draft"},
		{"empty", "", "untitled"},
		{"only invalid", "???", "___"},
		{"only dots", "...", "untitled"},
		{"reserved name", "CON", "_CON"},
		{"reserved with extension", "aux.txt", "_aux.txt"},
		{"reserved prefix ok", "console", "console"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameTruncates(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := SanitizeFilename(long)
	if len(got) != 200 {
		t.Errorf("len = %d, want 200", len(got))
	}

	// Truncation must not leave a trailing dot.
	dotted := strings.Repeat("x", 199) + "." + strings.Repeat("y", 50)
	got = SanitizeFilename(dotted)
	if strings.HasSuffix(got, ".") {
		t.Errorf("truncated name ends with a dot: %q", got)
	}
}

func TestPageFilename(t *testing.T) {
	if got := PageFilename("Home", "123", false); got != "Home" {
		t.Errorf("got %q, want Home", got)
	}
	if got := PageFilename("Home", "123", true); got != "Home_123" {
		t.Errorf("got %q, want Home_123", got)
	}
	if got := PageFilename("Home", "", true); got != "Home" {
		t.Errorf("got %q, want Home when id is empty", got)
	}
}

func TestTreeLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "SPACE_20240101_120000")
	tree := NewTree(root)
	if err := tree.MkdirAll(); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	for _, dir := range []string{
		tree.MetadataDir(), tree.PagesDir(), tree.BlogpostsDir(),
		tree.FoldersDir(), tree.DatabasesDir(), tree.AttachmentsDir(),
	} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s missing after MkdirAll", dir)
		}
	}

	if got := tree.PageAttachmentsDir("A/B"); got != filepath.Join(root, "attachments", "A_B") {
		t.Errorf("PageAttachmentsDir = %q", got)
	}
}

func TestSummaryPathOutsideTree(t *testing.T) {
	tree := NewTree(filepath.Join("exports", "SPACE_20240101_120000"))
	got := tree.SummaryPath("json")
	want := filepath.Join("exports", "SPACE_20240101_120000_summary.json")
	if got != want {
		t.Errorf("SummaryPath = %q, want %q", got, want)
	}
	if strings.HasPrefix(got, tree.Root+string(os.PathSeparator)) {
		t.Error("summary path lies inside the export tree")
	}
}

func TestValidate(t *testing.T) {
	root := filepath.Join(t.TempDir(), "export")
	tree := NewTree(root)

	if err := tree.Validate(); err == nil {
		t.Error("Validate accepted a missing directory")
	}

	if err := tree.MkdirAll(); err != nil {
		t.Fatal(err)
	}
	if err := tree.Validate(); err == nil {
		t.Error("Validate accepted a tree without space_info.json")
	}

	if err := os.WriteFile(tree.SpaceInfoPath(), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := tree.Validate(); err != nil {
		t.Errorf("Validate rejected a complete tree: %v", err)
	}
}
