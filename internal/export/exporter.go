package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/confmig/confmig/internal/config"
	"github.com/confmig/confmig/internal/confluence"
	"github.com/confmig/confmig/internal/content"
	"github.com/confmig/confmig/internal/fsutil"
	"github.com/confmig/confmig/internal/logger"
	"github.com/confmig/confmig/internal/report"
)

// Exporter writes a space to the on-disk export tree.
type Exporter struct {
	client *confluence.Client
	cfg    *config.Config
}

// New creates an Exporter.
func New(client *confluence.Client, cfg *config.Config) *Exporter {
	return &Exporter{client: client, cfg: cfg}
}

// ExportSpace exports the whole space and returns the summary and the tree.
// Per-page failures are collected in the summary, not fatal; only an
// unreachable space or an unwritable output directory aborts the run.
func (e *Exporter) ExportSpace(spaceKey string) (*report.ExportSummary, *fsutil.Tree, error) {
	started := time.Now()
	space, err := e.client.GetSpace(spaceKey)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot export space %s: %w", spaceKey, err)
	}

	dir := filepath.Join(e.cfg.Export.OutputDirectory,
		fmt.Sprintf("%s_%s", spaceKey, started.Format("20060102_150405")))
	tree := fsutil.NewTree(dir)
	if err := tree.MkdirAll(); err != nil {
		return nil, nil, err
	}
	logger.Info("exporting space %s (%s) to %s", space.Name, spaceKey, dir)

	summary := &report.ExportSummary{
		RunID:     report.NewRunID(),
		SpaceKey:  spaceKey,
		SpaceName: space.Name,
		ExportDir: dir,
		StartedAt: started,
	}

	info := SpaceInfo{Key: space.Key, Name: space.Name, ID: space.ID, ExportedAt: started}
	if idv2, err := e.client.GetSpaceIDv2(spaceKey); err == nil {
		info.IDv2 = idv2
		e.exportContainers(idv2, tree, summary)
		e.exportParentIndex(idv2, tree, summary)
	} else {
		logger.Warn("no v2 space id for %s, skipping folder/database export: %v", spaceKey, err)
	}
	if err := writeJSONFile(tree.SpaceInfoPath(), info); err != nil {
		return nil, nil, err
	}

	if e.cfg.Export.Format.HTML {
		pages, err := e.client.ListContent(spaceKey, "page")
		if err != nil {
			return nil, nil, fmt.Errorf("cannot list pages of %s: %w", spaceKey, err)
		}
		e.exportPages(pages, tree.PagesDir(), tree, summary)

		blogposts, err := e.client.ListContent(spaceKey, "blogpost")
		if err != nil {
			logger.Warn("cannot list blog posts of %s: %v", spaceKey, err)
		} else {
			e.exportPages(blogposts, tree.BlogpostsDir(), tree, summary)
		}
	}

	summary.DurationSec = time.Since(started).Seconds()
	if err := report.WriteJSON(tree.SummaryPath("json"), summary); err != nil {
		logger.Warn("failed to write export summary: %v", err)
	}
	if err := summary.WriteHTML(tree.SummaryPath("html")); err != nil {
		logger.Warn("failed to write export summary: %v", err)
	}
	logger.Info("export finished: %d pages, %d blog posts, %d attachments, %s, %d errors",
		summary.Pages, summary.Blogposts, summary.Attachments,
		humanize.Bytes(summary.TotalBytes), len(summary.Errors))
	return summary, tree, nil
}

// exportContainers discovers and records folders and databases. An empty
// result is normal on Server/DC editions.
func (e *Exporter) exportContainers(spaceIDv2 string, tree *fsutil.Tree, summary *report.ExportSummary) {
	folders, err := e.client.DiscoverFolders(spaceIDv2)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("folder discovery: %v", err))
	} else {
		metas := make([]FolderMetadata, 0, len(folders))
		for _, f := range folders {
			metas = append(metas, FolderMetadata{ID: f.ID, Title: f.Title, ParentID: f.ParentID, ParentType: f.ParentType})
		}
		if err := writeJSONFile(tree.FoldersMetadataPath(), metas); err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
		summary.Folders = len(metas)
	}

	databases, err := e.client.DiscoverDatabases(spaceIDv2)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("database discovery: %v", err))
		return
	}
	metas := make([]DatabaseMetadata, 0, len(databases))
	for _, d := range databases {
		metas = append(metas, DatabaseMetadata{ID: d.ID, Title: d.Title, ParentID: d.ParentID})
	}
	if err := writeJSONFile(tree.DatabasesMetadataPath(), metas); err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
	summary.Databases = len(metas)
}

func (e *Exporter) exportParentIndex(spaceIDv2 string, tree *fsutil.Tree, summary *report.ExportSummary) {
	index, err := e.client.PageParentIndex(spaceIDv2)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("v2 parent index: %v", err))
		return
	}
	if err := writeJSONFile(tree.PageParentsPath(), index); err != nil {
		summary.Errors = append(summary.Errors, err.Error())
	}
}

// exportPages writes pages concurrently. Workers write disjoint files, so
// only the summary needs locking.
func (e *Exporter) exportPages(pages []confluence.Page, dir string, tree *fsutil.Tree, summary *report.ExportSummary) {
	workers := e.cfg.General.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range pages {
		page := &pages[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			written, attachments, comments, err := e.exportOnePage(page, dir, tree)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("page %q: %v", page.Title, err))
				return
			}
			if page.Type == "blogpost" {
				summary.Blogposts++
			} else {
				summary.Pages++
			}
			summary.Attachments += attachments
			summary.Comments += comments
			summary.TotalBytes += written
		}()
	}
	wg.Wait()
}

func (e *Exporter) exportOnePage(page *confluence.Page, dir string, tree *fsutil.Tree) (uint64, int, int, error) {
	base := fsutil.PageFilename(page.Title, page.ID, e.cfg.Export.Naming.IncludePageID)
	logger.Debug("exporting %s %q -> %s.html", page.Type, page.Title, base)

	meta := []string{
		"Page ID: " + page.ID,
		"Space: " + e.spaceKeyOf(page),
	}
	if page.Version != nil {
		meta = append(meta, fmt.Sprintf("Version: %d", page.Version.Number))
		if page.Version.When != "" {
			meta = append(meta, "Last updated: "+page.Version.When)
		}
	}
	doc := content.WrapDocument(page.Title, page.BodyValue(), meta)
	htmlPath := filepath.Join(dir, base+".html")
	if err := os.WriteFile(htmlPath, []byte(doc), 0644); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to write page file: %w", err)
	}
	written := uint64(len(doc))

	sidecar := PageMetadata{
		ID:        page.ID,
		Title:     page.Title,
		Type:      page.Type,
		SpaceKey:  e.spaceKeyOf(page),
		Ancestors: page.Ancestors,
		Version:   page.Version,
	}
	if sidecar.Ancestors == nil {
		sidecar.Ancestors = []confluence.Ancestor{}
	}
	if err := writeJSONFile(filepath.Join(dir, base+"_metadata.json"), sidecar); err != nil {
		return written, 0, 0, err
	}

	attachments := 0
	if e.cfg.Export.Format.Attachments {
		n, bytes, err := e.exportAttachments(page, tree)
		if err != nil {
			return written, n, 0, err
		}
		attachments = n
		written += bytes
	}

	comments := 0
	if e.cfg.Export.Format.Comments {
		n, err := e.exportComments(page, dir, base)
		if err != nil {
			return written, attachments, 0, err
		}
		comments = n
	}
	return written, attachments, comments, nil
}

func (e *Exporter) spaceKeyOf(page *confluence.Page) string {
	if page.Space != nil {
		return page.Space.Key
	}
	return ""
}

func (e *Exporter) exportAttachments(page *confluence.Page, tree *fsutil.Tree) (int, uint64, error) {
	attachments, err := e.client.ListAttachments(page.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list attachments: %w", err)
	}
	if len(attachments) == 0 {
		return 0, 0, nil
	}

	dir := tree.PageAttachmentsDir(page.Title)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, 0, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	var written uint64
	saved := 0
	for _, a := range attachments {
		data, err := e.client.DownloadAttachment(a.DownloadLink)
		if err != nil {
			return saved, written, fmt.Errorf("failed to download %q: %w", a.Title, err)
		}
		path := filepath.Join(dir, fsutil.SanitizeFilename(a.Title))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return saved, written, fmt.Errorf("failed to write %q: %w", a.Title, err)
		}
		written += uint64(len(data))
		saved++
		logger.Debug("saved attachment %q (%s)", a.Title, humanize.Bytes(uint64(len(data))))
	}
	if err := writeJSONFile(filepath.Join(dir, "attachments_metadata.json"), attachments); err != nil {
		return saved, written, err
	}
	return saved, written, nil
}

func (e *Exporter) exportComments(page *confluence.Page, dir, base string) (int, error) {
	comments, err := e.client.ListComments(page.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list comments: %w", err)
	}
	if len(comments) == 0 {
		return 0, nil
	}
	if err := writeJSONFile(filepath.Join(dir, base+"_comments.json"), comments); err != nil {
		return 0, err
	}
	return len(comments), nil
}

// ExportSinglePage exports one page (found by title) into dir, producing a
// minimal but valid export tree. Used by the synchronizer.
func (e *Exporter) ExportSinglePage(spaceKey, title, dir string) (*fsutil.Tree, error) {
	found, err := e.client.FindPageByTitle(spaceKey, title, "page")
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("page %q not found in space %s", title, spaceKey)
	}
	page, err := e.client.GetPage(found.ID, "body.storage,version,ancestors,space")
	if err != nil {
		return nil, err
	}

	tree := fsutil.NewTree(dir)
	if err := tree.MkdirAll(); err != nil {
		return nil, err
	}
	info := SpaceInfo{Key: spaceKey, ExportedAt: time.Now()}
	if space, err := e.client.GetSpace(spaceKey); err == nil {
		info.Name = space.Name
		info.ID = space.ID
	}
	if err := writeJSONFile(tree.SpaceInfoPath(), info); err != nil {
		return nil, err
	}
	if _, _, _, err := e.exportOnePage(page, tree.PagesDir(), tree); err != nil {
		return nil, err
	}
	return tree, nil
}
