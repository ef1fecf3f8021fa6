// Package fsutil provides filename sanitization and export tree path helpers.
package fsutil

import (
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxFilenameLen = 200

var (
	invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// Filenames that are reserved on Windows regardless of extension.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// SanitizeFilename converts an arbitrary page or attachment title into a name
// that is safe on every supported filesystem. HTML entities and URL escapes
// are decoded first so "A%20%26%20B" and "A &amp; B" sanitize identically.
func SanitizeFilename(name string) string {
	if decoded, err := url.QueryUnescape(name); err == nil {
		name = decoded
	}
	name = html.UnescapeString(name)

	name = invalidChars.ReplaceAllString(name, "_")
	name = multiSpace.ReplaceAllString(name, " ")
	name = strings.Trim(name, " .")

	if name == "" {
		return "untitled"
	}

	base := name
	if i := strings.LastIndex(name, "."); i > 0 {
		base = name[:i]
	}
	if reservedNames[strings.ToLower(base)] {
		name = "_" + name
	}

	if len(name) > maxFilenameLen {
		name = strings.TrimRight(name[:maxFilenameLen], " .")
	}
	return name
}

// PageFilename builds the base filename (no extension) for an exported page.
// When includeID is set the page id is appended to disambiguate duplicate
// titles within a space.
func PageFilename(title, id string, includeID bool) string {
	safe := SanitizeFilename(title)
	if includeID && id != "" {
		return safe + "_" + id
	}
	return safe
}

// Tree describes the on-disk layout of one space export.
type Tree struct {
	Root string
}

// NewTree returns the tree rooted at dir without creating anything.
func NewTree(dir string) *Tree { return &Tree{Root: dir} }

// MkdirAll creates the export directory skeleton.
func (t *Tree) MkdirAll() error {
	for _, d := range []string{
		t.Root,
		t.MetadataDir(),
		t.PagesDir(),
		t.BlogpostsDir(),
		t.FoldersDir(),
		t.DatabasesDir(),
		t.AttachmentsDir(),
	} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create export directory %s: %w", d, err)
		}
	}
	return nil
}

func (t *Tree) MetadataDir() string    { return filepath.Join(t.Root, "metadata") }
func (t *Tree) PagesDir() string       { return filepath.Join(t.Root, "pages") }
func (t *Tree) BlogpostsDir() string   { return filepath.Join(t.Root, "blogposts") }
func (t *Tree) FoldersDir() string     { return filepath.Join(t.Root, "folders") }
func (t *Tree) DatabasesDir() string   { return filepath.Join(t.Root, "databases") }
func (t *Tree) AttachmentsDir() string { return filepath.Join(t.Root, "attachments") }

func (t *Tree) SpaceInfoPath() string {
	return filepath.Join(t.MetadataDir(), "space_info.json")
}

func (t *Tree) FoldersMetadataPath() string {
	return filepath.Join(t.FoldersDir(), "folders_metadata.json")
}

func (t *Tree) DatabasesMetadataPath() string {
	return filepath.Join(t.DatabasesDir(), "databases_metadata.json")
}

func (t *Tree) PageParentsPath() string {
	return filepath.Join(t.Root, "v2_page_parents.json")
}

// PageAttachmentsDir returns the attachment directory for one page title.
func (t *Tree) PageAttachmentsDir(pageTitle string) string {
	return filepath.Join(t.AttachmentsDir(), SanitizeFilename(pageTitle))
}

// SummaryPath returns the path for a summary artifact. Summaries live next to
// the export directory, not inside it, so a later import never picks them up.
func (t *Tree) SummaryPath(ext string) string {
	parent := filepath.Dir(t.Root)
	return filepath.Join(parent, filepath.Base(t.Root)+"_summary."+ext)
}

// Validate checks that dir looks like an export tree produced by the exporter.
func (t *Tree) Validate() error {
	info, err := os.Stat(t.Root)
	if err != nil {
		return fmt.Errorf("export directory not found: %s", t.Root)
	}
	if !info.IsDir() {
		return fmt.Errorf("export path is not a directory: %s", t.Root)
	}
	if _, err := os.Stat(t.PagesDir()); err != nil {
		return fmt.Errorf("export directory has no pages/ subdirectory: %s", t.Root)
	}
	if _, err := os.Stat(t.SpaceInfoPath()); err != nil {
		return fmt.Errorf("export directory has no metadata/space_info.json: %s", t.Root)
	}
	return nil
}
