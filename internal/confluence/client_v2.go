package confluence

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/confmig/confmig/internal/logger"
)

// GetSpaceIDv2 resolves a space key to its v2 numeric-string id. The v1 space
// id is a different number and causes server-side 500s when passed to v2
// endpoints, so v2 operations must use this id.
func (c *Client) GetSpaceIDv2(key string) (string, error) {
	query := url.Values{}
	query.Set("keys", key)

	var out struct {
		Results []struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		} `json:"results"`
	}
	if err := c.getJSON(c.v2Path+"/spaces", query, &out); err != nil {
		return "", fmt.Errorf("failed to resolve v2 id for space %s: %w", key, err)
	}
	for _, s := range out.Results {
		if s.Key == key {
			return s.ID, nil
		}
	}
	return "", &APIError{StatusCode: http.StatusNotFound, Method: http.MethodGet,
		URL: c.v2Path + "/spaces", Message: "space key " + key + " not in v2 results"}
}

// getPagedV2 walks v2 cursor pagination.
func (c *Client) getPagedV2(path string, query url.Values, appendPage func(raw json.RawMessage) error) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", strconv.Itoa(pageSize))
	for {
		var page struct {
			Results json.RawMessage `json:"results"`
			Links   struct {
				Next string `json:"next"`
			} `json:"_links"`
		}
		if err := c.getJSON(path, query, &page); err != nil {
			return err
		}
		if err := appendPage(page.Results); err != nil {
			return err
		}
		if page.Links.Next == "" {
			return nil
		}
		next, err := url.Parse(page.Links.Next)
		if err != nil {
			return fmt.Errorf("invalid next link %q: %w", page.Links.Next, err)
		}
		cursor := next.Query().Get("cursor")
		if cursor == "" {
			return nil
		}
		query.Set("cursor", cursor)
	}
}

// ListPagesV2 returns every page in the space with its typed parent link.
func (c *Client) ListPagesV2(spaceID string) ([]PageV2, error) {
	var pages []PageV2
	err := c.getPagedV2(c.v2Path+"/spaces/"+url.PathEscape(spaceID)+"/pages", nil,
		func(raw json.RawMessage) error {
			var batch []PageV2
			if err := json.Unmarshal(raw, &batch); err != nil {
				return fmt.Errorf("failed to decode v2 page list: %w", err)
			}
			pages = append(pages, batch...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list v2 pages of space %s: %w", spaceID, err)
	}
	return pages, nil
}

// PageParentIndex builds the {pageID: parent} index from the v2 page listing.
func (c *Client) PageParentIndex(spaceID string) (map[string]ParentRef, error) {
	pages, err := c.ListPagesV2(spaceID)
	if err != nil {
		return nil, err
	}
	index := make(map[string]ParentRef, len(pages))
	for _, p := range pages {
		if p.ParentID != "" {
			index[p.ID] = ParentRef{ParentID: p.ParentID, ParentType: p.ParentType}
		}
	}
	return index, nil
}

// GetFolderV2 fetches one folder by id.
func (c *Client) GetFolderV2(id string) (*Folder, error) {
	var folder Folder
	if err := c.getJSON(c.v2Path+"/folders/"+url.PathEscape(id), nil, &folder); err != nil {
		return nil, fmt.Errorf("failed to get folder %s: %w", id, err)
	}
	return &folder, nil
}

// GetDatabaseV2 fetches one database by id.
func (c *Client) GetDatabaseV2(id string) (*Database, error) {
	var db Database
	if err := c.getJSON(c.v2Path+"/databases/"+url.PathEscape(id), nil, &db); err != nil {
		return nil, fmt.Errorf("failed to get database %s: %w", id, err)
	}
	return &db, nil
}

// CreateFolder creates a folder in the space. parentID may be empty for a
// space-root folder.
func (c *Client) CreateFolder(spaceID, title, parentID string) (*Folder, error) {
	payload := map[string]interface{}{
		"spaceId": spaceID,
		"title":   title,
	}
	if parentID != "" {
		payload["parentId"] = parentID
	}
	var folder Folder
	if err := c.sendJSON(http.MethodPost, c.v2Path+"/folders", payload, &folder); err != nil {
		return nil, fmt.Errorf("failed to create folder %q: %w", title, err)
	}
	return &folder, nil
}

// DeleteFolder deletes a folder.
func (c *Client) DeleteFolder(id string) error {
	if _, err := c.doRequest(http.MethodDelete, c.v2Path+"/folders/"+url.PathEscape(id), nil, nil, ""); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", id, err)
	}
	return nil
}

// CreateDatabase creates an empty database container. Row data cannot be
// written through the public API.
func (c *Client) CreateDatabase(spaceID, title, parentID string) (*Database, error) {
	payload := map[string]interface{}{
		"spaceId": spaceID,
		"title":   title,
	}
	if parentID != "" {
		payload["parentId"] = parentID
	}
	var db Database
	if err := c.sendJSON(http.MethodPost, c.v2Path+"/databases", payload, &db); err != nil {
		return nil, fmt.Errorf("failed to create database %q: %w", title, err)
	}
	return &db, nil
}

// DiscoverFolders finds every folder in the space. The bulk folder listing
// endpoint returns 500s on many tenants, so discovery instead scans every
// page's parent link and walks upward through folder parents.
func (c *Client) DiscoverFolders(spaceID string) ([]Folder, error) {
	pages, err := c.ListPagesV2(spaceID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var queue []string
	for _, p := range pages {
		if p.ParentType == "folder" && !seen[p.ParentID] {
			seen[p.ParentID] = true
			queue = append(queue, p.ParentID)
		}
	}

	var folders []Folder
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		folder, err := c.GetFolderV2(id)
		if err != nil {
			logger.Warn("folder %s referenced as a parent but not readable: %v", id, err)
			continue
		}
		folders = append(folders, *folder)
		if folder.ParentType == "folder" && folder.ParentID != "" && !seen[folder.ParentID] {
			seen[folder.ParentID] = true
			queue = append(queue, folder.ParentID)
		}
	}
	return folders, nil
}

// DiscoverDatabases finds every database referenced as a page parent.
func (c *Client) DiscoverDatabases(spaceID string) ([]Database, error) {
	pages, err := c.ListPagesV2(spaceID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var databases []Database
	for _, p := range pages {
		if p.ParentType != "database" || seen[p.ParentID] {
			continue
		}
		seen[p.ParentID] = true
		db, err := c.GetDatabaseV2(p.ParentID)
		if err != nil {
			logger.Warn("database %s referenced as a parent but not readable: %v", p.ParentID, err)
			continue
		}
		databases = append(databases, *db)
	}
	return databases, nil
}
