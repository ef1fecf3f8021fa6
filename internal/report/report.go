// Package report renders machine-readable and human-readable summaries of
// export, import, compare and sync runs.
package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// NewRunID returns a unique id stamped into every summary.
func NewRunID() string { return uuid.NewString() }

// ExportSummary describes one completed export run.
type ExportSummary struct {
	RunID       string    `json:"run_id"`
	SpaceKey    string    `json:"space_key"`
	SpaceName   string    `json:"space_name"`
	ExportDir   string    `json:"export_dir"`
	StartedAt   time.Time `json:"started_at"`
	DurationSec float64   `json:"duration_seconds"`
	Pages       int       `json:"pages"`
	Blogposts   int       `json:"blogposts"`
	Folders     int       `json:"folders"`
	Databases   int       `json:"databases"`
	Attachments int       `json:"attachments"`
	Comments    int       `json:"comments"`
	TotalBytes  uint64    `json:"total_bytes"`
	Errors      []string  `json:"errors"`
}

// TotalSize renders the exported byte count for humans.
func (s *ExportSummary) TotalSize() string { return humanize.Bytes(s.TotalBytes) }

// ImportSummary describes one completed import run, including the identity
// maps for audit.
type ImportSummary struct {
	RunID       string    `json:"run_id"`
	SourceDir   string    `json:"source_dir"`
	TargetSpace string    `json:"target_space"`
	Policy      string    `json:"conflict_resolution"`
	StartedAt   time.Time `json:"started_at"`
	DurationSec float64   `json:"duration_seconds"`

	PagesCreated     int `json:"pages_created"`
	PagesUpdated     int `json:"pages_updated"`
	PagesSkipped     int `json:"pages_skipped"`
	PagesRenamed     int `json:"pages_renamed"`
	PagesSynthesized int `json:"pages_synthesized"`
	PagesMoved       int `json:"pages_moved"`
	FoldersCreated   int `json:"folders_created"`
	FoldersSkipped   int `json:"folders_skipped"`
	DatabasesCreated int `json:"databases_created"`
	DatabasesSkipped int `json:"databases_skipped"`
	Attachments      int `json:"attachments_uploaded"`

	Errors      []string          `json:"errors"`
	Warnings    []string          `json:"warnings"`
	PageMap     map[string]string `json:"page_id_map"`
	FolderMap   map[string]string `json:"folder_id_map"`
	DatabaseMap map[string]string `json:"database_id_map"`
}

// PageDiff is one per-page entry of a compare run.
type PageDiff struct {
	Title  string `json:"title"`
	Status string `json:"status"` // missing_in_target | missing_in_source | newer_in_source | newer_in_target | in_sync
}

// CompareSummary describes a compare (or sync dry-run) between two spaces.
type CompareSummary struct {
	RunID       string     `json:"run_id"`
	SourceSpace string     `json:"source_space"`
	TargetSpace string     `json:"target_space"`
	StartedAt   time.Time  `json:"started_at"`
	Diffs       []PageDiff `json:"diffs"`
	InSync      int        `json:"in_sync"`
}

// WriteJSON writes any summary as indented JSON.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary %s: %w", path, err)
	}
	return nil
}

var exportTemplate = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"/><title>Export summary: {{.SpaceKey}}</title></head>
<body>
<h1>Export summary: {{.SpaceName}} ({{.SpaceKey}})</h1>
<p>Run {{.RunID}} started {{.StartedAt.Format "2006-01-02 15:04:05"}}, took {{printf "%.1f" .DurationSec}}s.</p>
<table border="1" cellpadding="4">
<tr><th>Pages</th><td>{{.Pages}}</td></tr>
<tr><th>Blog posts</th><td>{{.Blogposts}}</td></tr>
<tr><th>Folders</th><td>{{.Folders}}</td></tr>
<tr><th>Databases</th><td>{{.Databases}}</td></tr>
<tr><th>Attachments</th><td>{{.Attachments}}</td></tr>
<tr><th>Comments</th><td>{{.Comments}}</td></tr>
<tr><th>Total size</th><td>{{.TotalSize}}</td></tr>
</table>
<p>Export directory: <code>{{.ExportDir}}</code></p>
{{if .Errors}}<h2>Errors ({{len .Errors}})</h2><ul>{{range .Errors}}<li>{{.}}</li>{{end}}</ul>{{else}}<p>No errors.</p>{{end}}
</body>
</html>
`))

var importTemplate = template.Must(template.New("import").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"/><title>Import summary: {{.TargetSpace}}</title></head>
<body>
<h1>Import summary: {{.TargetSpace}}</h1>
<p>Run {{.RunID}} started {{.StartedAt.Format "2006-01-02 15:04:05"}}, took {{printf "%.1f" .DurationSec}}s.
Conflict policy: <code>{{.Policy}}</code>. Source: <code>{{.SourceDir}}</code></p>
<table border="1" cellpadding="4">
<tr><th>Pages created</th><td>{{.PagesCreated}}</td></tr>
<tr><th>Pages updated</th><td>{{.PagesUpdated}}</td></tr>
<tr><th>Pages skipped</th><td>{{.PagesSkipped}}</td></tr>
<tr><th>Pages renamed</th><td>{{.PagesRenamed}}</td></tr>
<tr><th>Placeholder parents created</th><td>{{.PagesSynthesized}}</td></tr>
<tr><th>Pages moved into containers</th><td>{{.PagesMoved}}</td></tr>
<tr><th>Folders created</th><td>{{.FoldersCreated}}</td></tr>
<tr><th>Folders skipped</th><td>{{.FoldersSkipped}}</td></tr>
<tr><th>Databases created</th><td>{{.DatabasesCreated}}</td></tr>
<tr><th>Databases skipped</th><td>{{.DatabasesSkipped}}</td></tr>
<tr><th>Attachments uploaded</th><td>{{.Attachments}}</td></tr>
</table>
{{if .Warnings}}<h2>Warnings ({{len .Warnings}})</h2><ul>{{range .Warnings}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Errors}}<h2>Errors ({{len .Errors}})</h2><ul>{{range .Errors}}<li>{{.}}</li>{{end}}</ul>{{else}}<p>No errors.</p>{{end}}
</body>
</html>
`))

var compareTemplate = template.Must(template.New("compare").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"/><title>Compare: {{.SourceSpace}} vs {{.TargetSpace}}</title></head>
<body>
<h1>Compare: {{.SourceSpace}} &rarr; {{.TargetSpace}}</h1>
<p>Run {{.RunID}} started {{.StartedAt.Format "2006-01-02 15:04:05"}}. {{.InSync}} pages in sync.</p>
{{if .Diffs}}
<table border="1" cellpadding="4">
<tr><th>Page</th><th>Status</th></tr>
{{range .Diffs}}<tr><td>{{.Title}}</td><td>{{.Status}}</td></tr>
{{end}}</table>
{{else}}<p>Spaces are identical.</p>{{end}}
</body>
</html>
`))

// WriteHTML renders the export summary to path.
func (s *ExportSummary) WriteHTML(path string) error {
	return renderTemplate(exportTemplate, path, s)
}

// WriteHTML renders the import summary to path.
func (s *ImportSummary) WriteHTML(path string) error {
	return renderTemplate(importTemplate, path, s)
}

// WriteHTML renders the compare summary to path.
func (s *CompareSummary) WriteHTML(path string) error {
	return renderTemplate(compareTemplate, path, s)
}

func renderTemplate(tpl *template.Template, path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary %s: %w", path, err)
	}
	defer f.Close()
	if err := tpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to render summary %s: %w", path, err)
	}
	return nil
}
