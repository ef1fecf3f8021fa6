// Package syncer keeps two live spaces aligned by diffing them per page and
// funnelling each page that needs syncing through a temp-directory export
// followed by an import into the target.
package syncer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/confmig/confmig/internal/cache"
	"github.com/confmig/confmig/internal/config"
	"github.com/confmig/confmig/internal/confluence"
	"github.com/confmig/confmig/internal/export"
	"github.com/confmig/confmig/internal/importer"
	"github.com/confmig/confmig/internal/logger"
	"github.com/confmig/confmig/internal/report"
)

// Mode selects which pages a sync run pushes.
type Mode string

const (
	// ModeMissingOnly pushes only pages absent from the target.
	ModeMissingOnly Mode = "missing_only"
	// ModeNewerOnly pushes missing pages plus pages newer in the source.
	ModeNewerOnly Mode = "newer_only"
	// ModeFull pushes every source page.
	ModeFull Mode = "full"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMissingOnly, ModeNewerOnly, ModeFull:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown sync mode %q: valid modes are missing_only, newer_only, full", s)
	}
}

// conflictPolicy maps a sync mode onto the import conflict policy that
// realizes it for pages already present in the target.
func (m Mode) conflictPolicy() string {
	switch m {
	case ModeFull:
		return "overwrite"
	case ModeNewerOnly:
		return "update_newer"
	default:
		return "skip"
	}
}

// Synchronizer pushes pages from a source space to a target space, possibly
// on a different instance.
type Synchronizer struct {
	source *confluence.Client
	target *confluence.Client
	cfg    *config.Config
	db     *cache.DB // nil disables the skip cache
}

// New creates a Synchronizer. db may be nil.
func New(source, target *confluence.Client, cfg *config.Config, db *cache.DB) *Synchronizer {
	return &Synchronizer{source: source, target: target, cfg: cfg, db: db}
}

// Result summarizes one sync run.
type Result struct {
	RunID   string   `json:"run_id"`
	Mode    string   `json:"mode"`
	DryRun  bool     `json:"dry_run"`
	Synced  int      `json:"synced"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Planned []string `json:"planned,omitempty"`
	Errors  []string `json:"errors"`
}

// Sync pushes pages from sourceSpace to targetSpace according to mode. With
// dryRun the plan is computed and reported but nothing is written.
func (s *Synchronizer) Sync(sourceSpace, targetSpace string, mode Mode, dryRun bool) (*Result, error) {
	result := &Result{RunID: report.NewRunID(), Mode: string(mode), DryRun: dryRun}

	sourcePages, err := s.source.ListContent(sourceSpace, "page")
	if err != nil {
		return nil, fmt.Errorf("cannot list source space %s: %w", sourceSpace, err)
	}
	targetPages, err := s.target.ListContent(targetSpace, "page")
	if err != nil {
		return nil, fmt.Errorf("cannot list target space %s: %w", targetSpace, err)
	}
	targetByTitle := make(map[string]*confluence.Page, len(targetPages))
	for i := range targetPages {
		targetByTitle[targetPages[i].Title] = &targetPages[i]
	}

	var plan []*confluence.Page
	for i := range sourcePages {
		page := &sourcePages[i]
		if s.needsSync(page, targetByTitle[page.Title], sourceSpace, targetSpace, mode) {
			plan = append(plan, page)
		} else {
			result.Skipped++
		}
	}
	logger.Info("sync %s -> %s (%s): %d of %d pages need syncing",
		sourceSpace, targetSpace, mode, len(plan), len(sourcePages))

	if dryRun {
		for _, page := range plan {
			result.Planned = append(result.Planned, page.Title)
		}
		return result, nil
	}

	var runID int64
	if s.db != nil {
		if runID, err = s.db.StartRun(sourceSpace, targetSpace, string(mode)); err != nil {
			logger.Warn("sync history unavailable: %v", err)
			runID = 0
		}
	}

	tempRoot := filepath.Join(os.TempDir(), "confmig-sync-"+result.RunID)
	defer os.RemoveAll(tempRoot)

	for _, page := range plan {
		if err := s.syncOnePage(page, sourceSpace, targetSpace, mode, tempRoot); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("page %q: %v", page.Title, err))
			logger.Error("failed to sync page %q: %v", page.Title, err)
			continue
		}
		result.Synced++
		if s.db != nil {
			when := ""
			number := 0
			if page.Version != nil {
				number, when = page.Version.Number, page.Version.When
			}
			if err := s.db.RecordSync(sourceSpace, targetSpace, page.Title, number, when); err != nil {
				logger.Warn("failed to record sync state: %v", err)
			}
		}
	}

	if s.db != nil && runID != 0 {
		if err := s.db.FinishRun(runID, result.Synced, result.Skipped, result.Failed); err != nil {
			logger.Warn("failed to finish sync history row: %v", err)
		}
	}
	return result, nil
}

// needsSync decides whether one source page belongs in the plan.
func (s *Synchronizer) needsSync(page, existing *confluence.Page, sourceSpace, targetSpace string, mode Mode) bool {
	if existing == nil {
		return true
	}
	switch mode {
	case ModeFull:
		return true
	case ModeMissingOnly:
		return false
	}

	// newer_only: the skip cache answers without comparing timestamps when
	// this exact source version was already pushed.
	if s.db != nil && page.Version != nil {
		rec, err := s.db.LastSynced(sourceSpace, targetSpace, page.Title)
		if err == nil && rec != nil &&
			rec.VersionNumber == page.Version.Number && rec.VersionWhen == page.Version.When {
			logger.Debug("page %q unchanged since last sync, skipping", page.Title)
			return false
		}
	}
	return versionNewer(page.Version, existing.Version)
}

func versionNewer(src, dst *confluence.Version) bool {
	st, sok := src.Time()
	dt, dok := dst.Time()
	if sok && dok {
		return st.After(dt)
	}
	if src != nil && dst != nil {
		return src.Number > dst.Number
	}
	return dst == nil && src != nil
}

// syncOnePage round-trips one page through a temp export tree and the
// import engine.
func (s *Synchronizer) syncOnePage(page *confluence.Page, sourceSpace, targetSpace string, mode Mode, tempRoot string) error {
	dir := filepath.Join(tempRoot, uuid.NewString())

	exporter := export.New(s.source, s.cfg)
	tree, err := exporter.ExportSinglePage(sourceSpace, page.Title, dir)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	defer os.RemoveAll(dir)

	data, err := export.LoadTree(tree.Root)
	if err != nil {
		return fmt.Errorf("temp export unreadable: %w", err)
	}

	imp := importer.New(s.target, s.cfg)
	summary, err := imp.ImportTree(data, importer.Options{
		TargetSpace:    targetSpace,
		ConflictPolicy: mode.conflictPolicy(),
	})
	if err != nil {
		return err
	}
	if len(summary.Errors) > 0 {
		return fmt.Errorf("%s", summary.Errors[0])
	}
	return nil
}

// Compare diffs two live spaces by title and version without writing
// anything to either.
func (s *Synchronizer) Compare(sourceSpace, targetSpace string) (*report.CompareSummary, error) {
	summary := &report.CompareSummary{
		RunID:       report.NewRunID(),
		SourceSpace: sourceSpace,
		TargetSpace: targetSpace,
		StartedAt:   time.Now(),
	}

	sourcePages, err := s.source.ListContent(sourceSpace, "page")
	if err != nil {
		return nil, fmt.Errorf("cannot list source space %s: %w", sourceSpace, err)
	}
	targetPages, err := s.target.ListContent(targetSpace, "page")
	if err != nil {
		return nil, fmt.Errorf("cannot list target space %s: %w", targetSpace, err)
	}

	targetByTitle := make(map[string]*confluence.Page, len(targetPages))
	for i := range targetPages {
		targetByTitle[targetPages[i].Title] = &targetPages[i]
	}
	sourceTitles := make(map[string]bool, len(sourcePages))

	for i := range sourcePages {
		page := &sourcePages[i]
		sourceTitles[page.Title] = true
		existing := targetByTitle[page.Title]
		switch {
		case existing == nil:
			summary.Diffs = append(summary.Diffs, report.PageDiff{Title: page.Title, Status: "missing_in_target"})
		case versionNewer(page.Version, existing.Version):
			summary.Diffs = append(summary.Diffs, report.PageDiff{Title: page.Title, Status: "newer_in_source"})
		case versionNewer(existing.Version, page.Version):
			summary.Diffs = append(summary.Diffs, report.PageDiff{Title: page.Title, Status: "newer_in_target"})
		default:
			summary.InSync++
		}
	}
	for i := range targetPages {
		if !sourceTitles[targetPages[i].Title] {
			summary.Diffs = append(summary.Diffs, report.PageDiff{Title: targetPages[i].Title, Status: "missing_in_source"})
		}
	}
	return summary, nil
}
