// Package confluence provides a REST client for Confluence Cloud and
// Server/Data Center instances, covering the v1 content API and the v2
// spaces/pages/folders API where available.
package confluence

import "time"

// Space represents a Confluence space (v1 shape).
type Space struct {
	ID   int64  `json:"id,omitempty"`
	Key  string `json:"key"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// SpaceRef is the minimal space reference embedded in content payloads.
type SpaceRef struct {
	Key string `json:"key"`
}

// Version carries content version metadata.
type Version struct {
	Number int    `json:"number"`
	When   string `json:"when,omitempty"`
}

// Time parses the version timestamp. ok is false when the timestamp is
// missing or unparseable.
func (v *Version) Time() (time.Time, bool) {
	if v == nil || v.When == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000-07:00"} {
		if t, err := time.Parse(layout, v.When); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Ancestor is one entry of a page's legacy ancestors chain, ordered
// root-first: the last element is the page's direct parent.
type Ancestor struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Storage is the storage-format representation of a page body.
type Storage struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

// Body wraps the storage representation.
type Body struct {
	Storage Storage `json:"storage"`
}

// Page represents a page or blogpost (v1 content shape).
type Page struct {
	ID        string     `json:"id,omitempty"`
	Type      string     `json:"type"`
	Status    string     `json:"status,omitempty"`
	Title     string     `json:"title"`
	Space     *SpaceRef  `json:"space,omitempty"`
	Body      *Body      `json:"body,omitempty"`
	Ancestors []Ancestor `json:"ancestors,omitempty"`
	Version   *Version   `json:"version,omitempty"`
}

// BodyValue returns the storage body, or "" when none was expanded.
func (p *Page) BodyValue() string {
	if p.Body == nil {
		return ""
	}
	return p.Body.Storage.Value
}

// ParentID returns the id of the page's direct parent from the legacy
// ancestors chain, or "" for a root page.
func (p *Page) ParentID() string {
	if len(p.Ancestors) == 0 {
		return ""
	}
	return p.Ancestors[len(p.Ancestors)-1].ID
}

// ParentTitle returns the title of the page's direct parent, or "".
func (p *Page) ParentTitle() string {
	if len(p.Ancestors) == 0 {
		return ""
	}
	return p.Ancestors[len(p.Ancestors)-1].Title
}

// Folder represents a v2 folder.
type Folder struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ParentID   string `json:"parentId,omitempty"`
	ParentType string `json:"parentType,omitempty"`
	SpaceID    string `json:"spaceId,omitempty"`
}

// Database represents a v2 database stub. Row data is not reachable through
// the public API, so only the container itself round-trips.
type Database struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parentId,omitempty"`
	SpaceID  string `json:"spaceId,omitempty"`
}

// PageV2 is the v2 page shape, which exposes the typed parent link that the
// v1 ancestors chain hides.
type PageV2 struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ParentID   string `json:"parentId,omitempty"`
	ParentType string `json:"parentType,omitempty"`
	SpaceID    string `json:"spaceId,omitempty"`
}

// ParentRef is a typed parent link, as recorded in the v2 page-parent index.
type ParentRef struct {
	ParentID   string `json:"parentId"`
	ParentType string `json:"parentType"`
}

// Attachment represents a page attachment.
type Attachment struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	MediaType    string `json:"mediaType,omitempty"`
	FileSize     int64  `json:"fileSize,omitempty"`
	DownloadLink string `json:"downloadLink,omitempty"`
}

// Comment represents a page comment.
type Comment struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Body  *Body  `json:"body,omitempty"`
}
