// Package export walks a space's content through the API and writes it to
// the canonical on-disk export tree, and loads such trees back for import.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/confmig/confmig/internal/confluence"
	"github.com/confmig/confmig/internal/content"
	"github.com/confmig/confmig/internal/fsutil"
	"github.com/confmig/confmig/internal/logger"
)

// SpaceInfo is the exported space metadata (metadata/space_info.json).
type SpaceInfo struct {
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	ID         int64     `json:"id"`
	IDv2       string    `json:"id_v2,omitempty"`
	ExportedAt time.Time `json:"exported_at"`
}

// FolderMetadata is one entry of folders/folders_metadata.json.
type FolderMetadata struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ParentID   string `json:"parentId,omitempty"`
	ParentType string `json:"parentType,omitempty"`
}

// DatabaseMetadata is one entry of databases/databases_metadata.json.
type DatabaseMetadata struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parentId,omitempty"`
}

// PageMetadata is the per-page sidecar (pages/<name>_metadata.json).
type PageMetadata struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Type      string                `json:"type"`
	SpaceKey  string                `json:"space_key"`
	Ancestors []confluence.Ancestor `json:"ancestors"`
	Version   *confluence.Version   `json:"version,omitempty"`
}

// AttachmentFile is one attachment on disk.
type AttachmentFile struct {
	Name string
	Path string
}

// PageData is one loaded page: sidecar metadata, extracted body, attachments.
type PageData struct {
	Meta        PageMetadata
	Body        string
	Attachments []AttachmentFile
}

// ParentID returns the foreign id of the page's direct parent, or "".
func (p *PageData) ParentID() string {
	if len(p.Meta.Ancestors) == 0 {
		return ""
	}
	return p.Meta.Ancestors[len(p.Meta.Ancestors)-1].ID
}

// ParentTitle returns the title of the page's direct parent, or "".
func (p *PageData) ParentTitle() string {
	if len(p.Meta.Ancestors) == 0 {
		return ""
	}
	return p.Meta.Ancestors[len(p.Meta.Ancestors)-1].Title
}

// TreeData is a fully-loaded export tree.
type TreeData struct {
	Tree        *fsutil.Tree
	Space       SpaceInfo
	Folders     []FolderMetadata
	Databases   []DatabaseMetadata
	PageParents map[string]confluence.ParentRef
	Pages       []PageData // pages and blogposts, Meta.Type distinguishes
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return nil
}

// LoadTree reads an export tree from dir. Missing optional artifacts
// (folders, databases, the v2 parent index) load as empty; a missing pages
// directory or space info is a structural failure.
func LoadTree(dir string) (*TreeData, error) {
	tree := fsutil.NewTree(dir)
	if err := tree.Validate(); err != nil {
		return nil, err
	}

	data := &TreeData{
		Tree:        tree,
		PageParents: make(map[string]confluence.ParentRef),
	}
	if err := readJSONFile(tree.SpaceInfoPath(), &data.Space); err != nil {
		return nil, fmt.Errorf("failed to load space info: %w", err)
	}
	if err := readJSONFile(tree.FoldersMetadataPath(), &data.Folders); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load folder metadata: %w", err)
	}
	if err := readJSONFile(tree.DatabasesMetadataPath(), &data.Databases); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load database metadata: %w", err)
	}
	if err := readJSONFile(tree.PageParentsPath(), &data.PageParents); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load v2 parent index: %w", err)
	}

	if err := data.loadPages(tree.PagesDir(), "page"); err != nil {
		return nil, err
	}
	if err := data.loadPages(tree.BlogpostsDir(), "blogpost"); err != nil {
		return nil, err
	}
	return data, nil
}

func (d *TreeData) loadPages(dir, contentType string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".html") {
			continue
		}
		base := strings.TrimSuffix(name, ".html")

		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read page file %s: %w", name, err)
		}
		doc := string(raw)

		page := PageData{Body: content.ExtractBody(doc)}
		metaPath := filepath.Join(dir, base+"_metadata.json")
		if err := readJSONFile(metaPath, &page.Meta); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to load page metadata for %s: %w", name, err)
			}
			// No sidecar: fall back to the document itself.
			logger.Warn("no metadata sidecar for %s, importing without hierarchy info", name)
			page.Meta.Title = content.ExtractTitle(doc)
			if page.Meta.Title == "" {
				page.Meta.Title = base
			}
		}
		if page.Meta.Type == "" {
			page.Meta.Type = contentType
		}

		page.Attachments = d.loadAttachments(page.Meta.Title)
		d.Pages = append(d.Pages, page)
	}
	return nil
}

func (d *TreeData) loadAttachments(pageTitle string) []AttachmentFile {
	dir := d.Tree.PageAttachmentsDir(pageTitle)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []AttachmentFile
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == "attachments_metadata.json" {
			continue
		}
		files = append(files, AttachmentFile{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
		})
	}
	return files
}
