package confluence

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// MockServer provides a fake Confluence API for testing. It serves the
// Server/DC v1 paths (/rest/api) plus the v2 paths (/api/v2) and keeps all
// state in memory behind a mutex so tests can seed and inspect it directly.
type MockServer struct {
	*httptest.Server
	mu sync.RWMutex

	spaces    map[string]*Space  // key -> space
	spaceV2ID map[string]string  // key -> v2 id
	pages     map[string]*Page   // content id -> page/blogpost
	parents   map[string]ParentRef // content id -> typed parent (v2 view)
	folders   map[string]*Folder
	databases map[string]*Database

	attachments    map[string][]Attachment // page id -> attachments
	attachmentData map[string][]byte       // download link -> bytes
	comments       map[string][]Comment    // page id -> comments

	nextID int

	// Failure injection.
	FailMoves        bool // every move returns 404
	FailFolderCreate bool // folder creation returns 500
	serverErrorsLeft int  // next N requests return 500
	rateLimitsLeft   int  // next N requests return 429 with Retry-After
}

// NewMockServer creates a mock Confluence server with no content.
func NewMockServer() *MockServer {
	m := &MockServer{
		spaces:         make(map[string]*Space),
		spaceV2ID:      make(map[string]string),
		pages:          make(map[string]*Page),
		parents:        make(map[string]ParentRef),
		folders:        make(map[string]*Folder),
		databases:      make(map[string]*Database),
		attachments:    make(map[string][]Attachment),
		attachmentData: make(map[string][]byte),
		comments:       make(map[string][]Comment),
		nextID:         1000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/user/current", m.intercept(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"accountId": "mock-user"})
	}))
	mux.HandleFunc("/rest/api/space", m.intercept(m.handleSpaces))
	mux.HandleFunc("/rest/api/space/", m.intercept(m.handleSpace))
	mux.HandleFunc("/rest/api/content", m.intercept(m.handleContent))
	mux.HandleFunc("/rest/api/content/", m.intercept(m.handleContentItem))
	mux.HandleFunc("/download/", m.intercept(m.handleDownload))
	mux.HandleFunc("/api/v2/spaces", m.intercept(m.handleSpacesV2))
	mux.HandleFunc("/api/v2/spaces/", m.intercept(m.handlePagesV2))
	mux.HandleFunc("/api/v2/folders", m.intercept(m.handleCreateFolder))
	mux.HandleFunc("/api/v2/folders/", m.intercept(m.handleFolder))
	mux.HandleFunc("/api/v2/databases", m.intercept(m.handleCreateDatabase))
	mux.HandleFunc("/api/v2/databases/", m.intercept(m.handleDatabase))

	m.Server = httptest.NewServer(mux)
	return m
}

// intercept applies injected transient failures before the real handler.
func (m *MockServer) intercept(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		if m.serverErrorsLeft > 0 {
			m.serverErrorsLeft--
			m.mu.Unlock()
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if m.rateLimitsLeft > 0 {
			m.rateLimitsLeft--
			m.mu.Unlock()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		m.mu.Unlock()
		h(w, r)
	}
}

// InjectServerErrors makes the next n requests fail with HTTP 500.
func (m *MockServer) InjectServerErrors(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverErrorsLeft = n
}

// InjectRateLimits makes the next n requests fail with HTTP 429.
func (m *MockServer) InjectRateLimits(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitsLeft = n
}

func (m *MockServer) newID() string {
	m.nextID++
	return strconv.Itoa(m.nextID)
}

// AddSpace seeds a space. The v2 id is derived from the v1 id.
func (m *MockServer) AddSpace(key, name string) *Space {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.spaces) + 1)
	s := &Space{ID: id, Key: key, Name: name, Type: "global"}
	m.spaces[key] = s
	m.spaceV2ID[key] = fmt.Sprintf("v2-%d", id)
	return s
}

// SpaceIDv2 returns the seeded v2 id for a space key.
func (m *MockServer) SpaceIDv2(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spaceV2ID[key]
}

// AddPage seeds a page and returns it.
func (m *MockServer) AddPage(page *Page) *Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page.ID == "" {
		page.ID = m.newID()
	}
	if page.Type == "" {
		page.Type = "page"
	}
	if page.Version == nil {
		page.Version = &Version{Number: 1}
	}
	m.pages[page.ID] = page
	return page
}

// AddFolder seeds a folder.
func (m *MockServer) AddFolder(f *Folder) *Folder {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = m.newID()
	}
	m.folders[f.ID] = f
	return f
}

// AddDatabase seeds a database.
func (m *MockServer) AddDatabase(d *Database) *Database {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = m.newID()
	}
	m.databases[d.ID] = d
	return d
}

// SetParent records a typed v2 parent link for a page.
func (m *MockServer) SetParent(pageID string, ref ParentRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[pageID] = ref
}

// AddAttachment seeds an attachment with data.
func (m *MockServer) AddAttachment(pageID, filename string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link := "/download/attachments/" + pageID + "/" + filename
	m.attachments[pageID] = append(m.attachments[pageID], Attachment{
		ID:           m.newID(),
		Title:        filename,
		FileSize:     int64(len(data)),
		DownloadLink: link,
	})
	m.attachmentData[link] = data
}

// AddComment seeds a comment on a page.
func (m *MockServer) AddComment(pageID string, c Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = m.newID()
	}
	m.comments[pageID] = append(m.comments[pageID], c)
}

// PageByID returns a seeded or created page for assertions.
func (m *MockServer) PageByID(id string) *Page {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pages[id]
}

// PageByTitle returns the first page with the given title in the space.
func (m *MockServer) PageByTitle(spaceKey, title string) *Page {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pages {
		if p.Title == title && p.Space != nil && p.Space.Key == spaceKey {
			return p
		}
	}
	return nil
}

// FolderByTitle returns the first folder with the given title.
func (m *MockServer) FolderByTitle(title string) *Folder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.folders {
		if f.Title == title {
			return f
		}
	}
	return nil
}

// DatabaseByTitle returns the first database with the given title.
func (m *MockServer) DatabaseByTitle(title string) *Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.databases {
		if d.Title == title {
			return d
		}
	}
	return nil
}

// ParentOf returns the typed parent link of a page, as set by moves.
func (m *MockServer) ParentOf(pageID string) (ParentRef, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.parents[pageID]
	return ref, ok
}

// AttachmentsOf returns the attachments of a page.
func (m *MockServer) AttachmentsOf(pageID string) []Attachment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attachments[pageID]
}

// PageCount returns the number of pages currently stored.
func (m *MockServer) PageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type pagedEnvelope struct {
	Results interface{}       `json:"results"`
	Size    int               `json:"size"`
	Links   map[string]string `json:"_links,omitempty"`
}

func (m *MockServer) handleSpaces(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.mu.RLock()
		spaces := make([]*Space, 0, len(m.spaces))
		for _, s := range m.spaces {
			spaces = append(spaces, s)
		}
		m.mu.RUnlock()
		writeJSON(w, pagedEnvelope{Results: spaces, Size: len(spaces)})
	case http.MethodPost:
		var payload struct {
			Key  string `json:"key"`
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		id := int64(len(m.spaces) + 1)
		s := &Space{ID: id, Key: payload.Key, Name: payload.Name, Type: "global"}
		m.spaces[payload.Key] = s
		m.spaceV2ID[payload.Key] = fmt.Sprintf("v2-%d", id)
		m.mu.Unlock()
		writeJSON(w, s)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleSpace(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/rest/api/space/")
	m.mu.RLock()
	s, ok := m.spaces[key]
	m.mu.RUnlock()
	if !ok {
		http.Error(w, "space not found", http.StatusNotFound)
		return
	}
	writeJSON(w, s)
}

func (m *MockServer) handleContent(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.handleListContent(w, r)
	case http.MethodPost:
		m.handleCreateContent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleListContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	spaceKey := q.Get("spaceKey")
	ctype := q.Get("type")
	title := q.Get("title")
	start, _ := strconv.Atoi(q.Get("start"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 25
	}

	m.mu.RLock()
	var matches []*Page
	for _, p := range m.pages {
		if spaceKey != "" && (p.Space == nil || p.Space.Key != spaceKey) {
			continue
		}
		if ctype != "" && p.Type != ctype {
			continue
		}
		if title != "" && p.Title != title {
			continue
		}
		matches = append(matches, p)
	}
	m.mu.RUnlock()

	// Stable order so pagination windows do not overlap.
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].ID < matches[i].ID {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
	}

	end := start + limit
	if start > len(matches) {
		start = len(matches)
	}
	if end > len(matches) {
		end = len(matches)
	}
	window := matches[start:end]
	writeJSON(w, pagedEnvelope{Results: window, Size: len(window)})
}

func (m *MockServer) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	var page Page
	if err := json.NewDecoder(r.Body).Decode(&page); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	page.ID = m.newID()
	if page.Version == nil {
		page.Version = &Version{Number: 1}
	}
	// The create API honors only page parents; folder/database hints are
	// dropped, matching real Confluence behavior.
	if len(page.Ancestors) > 0 {
		if _, ok := m.pages[page.Ancestors[len(page.Ancestors)-1].ID]; !ok {
			page.Ancestors = nil
		}
	}
	m.pages[page.ID] = &page
	m.mu.Unlock()
	writeJSON(w, &page)
}

func (m *MockServer) handleContentItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/rest/api/content/")
	parts := strings.Split(rest, "/")
	id := parts[0]

	// /content/{id}/move/{position}/{targetId}
	if len(parts) == 4 && parts[1] == "move" {
		m.handleMove(w, r, id, parts[3])
		return
	}
	// /content/{id}/child/attachment | comment
	if len(parts) == 3 && parts[1] == "child" {
		switch parts[2] {
		case "attachment":
			m.handleAttachments(w, r, id)
		case "comment":
			m.handleComments(w, r, id)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		m.mu.RLock()
		p, ok := m.pages[id]
		m.mu.RUnlock()
		if !ok {
			http.Error(w, "content not found", http.StatusNotFound)
			return
		}
		writeJSON(w, p)
	case http.MethodPut:
		var update Page
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		existing, ok := m.pages[id]
		if !ok {
			m.mu.Unlock()
			http.Error(w, "content not found", http.StatusNotFound)
			return
		}
		if update.Version != nil && update.Version.Number != existing.Version.Number+1 {
			m.mu.Unlock()
			http.Error(w, "version conflict", http.StatusConflict)
			return
		}
		update.ID = id
		if update.Space == nil {
			update.Space = existing.Space
		}
		m.pages[id] = &update
		m.mu.Unlock()
		writeJSON(w, &update)
	case http.MethodDelete:
		m.mu.Lock()
		if _, ok := m.pages[id]; !ok {
			m.mu.Unlock()
			http.Error(w, "content not found", http.StatusNotFound)
			return
		}
		delete(m.pages, id)
		m.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleMove(w http.ResponseWriter, r *http.Request, id, targetID string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMoves {
		http.Error(w, "move not supported", http.StatusNotFound)
		return
	}
	page, ok := m.pages[id]
	if !ok {
		http.Error(w, "content not found", http.StatusNotFound)
		return
	}
	switch {
	case m.folders[targetID] != nil:
		m.parents[id] = ParentRef{ParentID: targetID, ParentType: "folder"}
	case m.databases[targetID] != nil:
		m.parents[id] = ParentRef{ParentID: targetID, ParentType: "database"}
	case m.pages[targetID] != nil:
		m.parents[id] = ParentRef{ParentID: targetID, ParentType: "page"}
		page.Ancestors = []Ancestor{{ID: targetID, Title: m.pages[targetID].Title}}
	default:
		http.Error(w, "move target not found", http.StatusNotFound)
		return
	}
	writeJSON(w, page)
}

func (m *MockServer) handleAttachments(w http.ResponseWriter, r *http.Request, pageID string) {
	switch r.Method {
	case http.MethodGet:
		m.mu.RLock()
		list := m.attachments[pageID]
		m.mu.RUnlock()
		results := make([]map[string]interface{}, 0, len(list))
		for _, a := range list {
			results = append(results, map[string]interface{}{
				"id":    a.ID,
				"title": a.Title,
				"extensions": map[string]interface{}{
					"mediaType": a.MediaType,
					"fileSize":  a.FileSize,
				},
				"_links": map[string]string{"download": a.DownloadLink},
			})
		}
		writeJSON(w, pagedEnvelope{Results: results, Size: len(results)})
	case http.MethodPost:
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, "bad multipart form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file part", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "read failed", http.StatusInternalServerError)
			return
		}
		m.AddAttachment(pageID, header.Filename, data)
		writeJSON(w, pagedEnvelope{Results: []Attachment{}, Size: 1})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleComments(w http.ResponseWriter, r *http.Request, pageID string) {
	m.mu.RLock()
	list := m.comments[pageID]
	m.mu.RUnlock()
	if list == nil {
		list = []Comment{}
	}
	writeJSON(w, pagedEnvelope{Results: list, Size: len(list)})
}

func (m *MockServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	data, ok := m.attachmentData[r.URL.Path]
	m.mu.RUnlock()
	if !ok {
		http.Error(w, "attachment not found", http.StatusNotFound)
		return
	}
	w.Write(data)
}

func (m *MockServer) handleSpacesV2(w http.ResponseWriter, r *http.Request) {
	keys := r.URL.Query().Get("keys")
	m.mu.RLock()
	defer m.mu.RUnlock()
	var results []map[string]string
	for key, id := range m.spaceV2ID {
		if keys == "" || keys == key {
			results = append(results, map[string]string{"id": id, "key": key})
		}
	}
	writeJSON(w, map[string]interface{}{"results": results})
}

func (m *MockServer) handlePagesV2(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v2/spaces/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "pages" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	spaceID := parts[0]

	m.mu.RLock()
	defer m.mu.RUnlock()
	spaceKey := ""
	for key, id := range m.spaceV2ID {
		if id == spaceID {
			spaceKey = key
		}
	}
	var results []PageV2
	for id, p := range m.pages {
		if p.Space == nil || p.Space.Key != spaceKey || p.Type != "page" {
			continue
		}
		v2 := PageV2{ID: id, Title: p.Title, SpaceID: spaceID}
		if ref, ok := m.parents[id]; ok {
			v2.ParentID, v2.ParentType = ref.ParentID, ref.ParentType
		} else if pid := p.ParentID(); pid != "" {
			v2.ParentID, v2.ParentType = pid, "page"
		}
		results = append(results, v2)
	}
	writeJSON(w, map[string]interface{}{"results": results, "_links": map[string]string{}})
}

func (m *MockServer) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailFolderCreate {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	var payload struct {
		SpaceID  string `json:"spaceId"`
		Title    string `json:"title"`
		ParentID string `json:"parentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	f := &Folder{ID: m.newID(), Title: payload.Title, ParentID: payload.ParentID, SpaceID: payload.SpaceID}
	if payload.ParentID != "" {
		f.ParentType = "folder"
	}
	m.folders[f.ID] = f
	writeJSON(w, f)
}

func (m *MockServer) handleFolder(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v2/folders/")
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[id]
	if !ok {
		http.Error(w, "folder not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, f)
	case http.MethodDelete:
		delete(m.folders, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleCreateDatabase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		SpaceID  string `json:"spaceId"`
		Title    string `json:"title"`
		ParentID string `json:"parentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	d := &Database{ID: m.newID(), Title: payload.Title, ParentID: payload.ParentID, SpaceID: payload.SpaceID}
	m.databases[d.ID] = d
	m.mu.Unlock()
	writeJSON(w, d)
}

func (m *MockServer) handleDatabase(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v2/databases/")
	m.mu.RLock()
	d, ok := m.databases[id]
	m.mu.RUnlock()
	if !ok {
		http.Error(w, "database not found", http.StatusNotFound)
		return
	}
	writeJSON(w, d)
}
