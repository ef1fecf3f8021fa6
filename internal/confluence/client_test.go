package confluence

import (
	"fmt"
	"testing"
	"time"
)

func testClient(m *MockServer) *Client {
	return New(m.URL, "user@example.com", "token", Options{
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
	})
}

func TestTestConnectionAutocorrectsAPIPath(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	c := testClient(mock)
	// Simulate a misconfigured client addressing a Server instance with
	// Cloud paths.
	c.apiPath = cloudAPIPath
	c.v2Path = v2CloudPath

	if err := c.TestConnection(); err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}
	if c.apiPath != serverAPIPath {
		t.Errorf("apiPath = %q, want %q", c.apiPath, serverAPIPath)
	}
	if c.v2Path != v2ServerPath {
		t.Errorf("v2Path = %q, want %q", c.v2Path, v2ServerPath)
	}
}

func TestBaseURLNormalization(t *testing.T) {
	tests := []struct {
		in      string
		wantURL string
		wantAPI string
	}{
		{"https://acme.atlassian.net/wiki", "https://acme.atlassian.net", cloudAPIPath},
		{"https://acme.atlassian.net/", "https://acme.atlassian.net", cloudAPIPath},
		{"https://wiki.internal.example.com", "https://wiki.internal.example.com", serverAPIPath},
	}
	for _, tt := range tests {
		c := New(tt.in, "u", "s", Options{})
		if c.baseURL != tt.wantURL {
			t.Errorf("New(%q).baseURL = %q, want %q", tt.in, c.baseURL, tt.wantURL)
		}
		if c.apiPath != tt.wantAPI {
			t.Errorf("New(%q).apiPath = %q, want %q", tt.in, c.apiPath, tt.wantAPI)
		}
	}
}

func TestRetryOnServerError(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	mock.InjectServerErrors(2)

	c := testClient(mock)
	space, err := c.GetSpace("DEV")
	if err != nil {
		t.Fatalf("GetSpace after transient 500s failed: %v", err)
	}
	if space.Key != "DEV" {
		t.Errorf("space.Key = %q, want DEV", space.Key)
	}
}

func TestRetryExhaustionSurfacesServerError(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	mock.InjectServerErrors(10)

	c := testClient(mock)
	_, err := c.GetSpace("DEV")
	if err == nil {
		t.Fatal("expected error after retry exhaustion")
	}
	if !IsServerError(err) {
		t.Errorf("IsServerError(%v) = false, want true", err)
	}
}

func TestRetryOnRateLimit(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	mock.InjectRateLimits(1)

	c := testClient(mock)
	if _, err := c.GetSpace("DEV"); err != nil {
		t.Fatalf("GetSpace after one 429 failed: %v", err)
	}
}

func TestNoRetryOnNotFound(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()

	c := testClient(mock)
	_, err := c.GetSpace("NOPE")
	if err == nil {
		t.Fatal("expected error for missing space")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestListContentPaginates(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	for i := 0; i < 120; i++ {
		mock.AddPage(&Page{
			Title: fmt.Sprintf("Page %03d", i),
			Type:  "page",
			Space: &SpaceRef{Key: "DEV"},
			Body:  &Body{Storage: Storage{Value: "<p>x</p>", Representation: "storage"}},
		})
	}

	c := testClient(mock)
	pages, err := c.ListContent("DEV", "page")
	if err != nil {
		t.Fatalf("ListContent failed: %v", err)
	}
	if len(pages) != 120 {
		t.Errorf("got %d pages, want 120", len(pages))
	}
	seen := make(map[string]bool)
	for _, p := range pages {
		if seen[p.ID] {
			t.Errorf("page %s returned twice across pagination windows", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestFindPageByTitle(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	mock.AddPage(&Page{Title: "Roadmap", Type: "page", Space: &SpaceRef{Key: "DEV"}})

	c := testClient(mock)

	page, err := c.FindPageByTitle("DEV", "Roadmap", "page")
	if err != nil {
		t.Fatalf("FindPageByTitle failed: %v", err)
	}
	if page == nil || page.Title != "Roadmap" {
		t.Fatalf("got %+v, want page titled Roadmap", page)
	}

	missing, err := c.FindPageByTitle("DEV", "No Such Page", "page")
	if err != nil {
		t.Fatalf("FindPageByTitle for missing page errored: %v", err)
	}
	if missing != nil {
		t.Errorf("got %+v, want nil for missing page", missing)
	}
}

func TestCreateUpdateDeletePage(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	c := testClient(mock)

	created, err := c.CreatePage(&Page{
		Title: "New Page",
		Space: &SpaceRef{Key: "DEV"},
		Body:  &Body{Storage: Storage{Value: "<p>v1</p>", Representation: "storage"}},
	})
	if err != nil {
		t.Fatalf("CreatePage failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created page has no id")
	}

	updated, err := c.UpdatePage(&Page{
		ID:      created.ID,
		Type:    "page",
		Title:   "New Page",
		Body:    &Body{Storage: Storage{Value: "<p>v2</p>", Representation: "storage"}},
		Version: &Version{Number: 2},
	})
	if err != nil {
		t.Fatalf("UpdatePage failed: %v", err)
	}
	if updated.Version.Number != 2 {
		t.Errorf("updated version = %d, want 2", updated.Version.Number)
	}

	if err := c.DeletePage(created.ID); err != nil {
		t.Fatalf("DeletePage failed: %v", err)
	}
	if mock.PageByID(created.ID) != nil {
		t.Error("page still present after delete")
	}
}

func TestMoveContentIntoFolder(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	folder := mock.AddFolder(&Folder{Title: "Specs"})
	page := mock.AddPage(&Page{Title: "Design", Type: "page", Space: &SpaceRef{Key: "DEV"}})

	c := testClient(mock)
	if err := c.MoveContent(page.ID, "append", folder.ID); err != nil {
		t.Fatalf("MoveContent failed: %v", err)
	}
	ref, ok := mock.ParentOf(page.ID)
	if !ok || ref.ParentID != folder.ID || ref.ParentType != "folder" {
		t.Errorf("parent = %+v, want folder %s", ref, folder.ID)
	}
}

func TestMoveContentNotFound(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	page := mock.AddPage(&Page{Title: "Design", Type: "page", Space: &SpaceRef{Key: "DEV"}})
	mock.FailMoves = true

	c := testClient(mock)
	err := c.MoveContent(page.ID, "append", "12345")
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestAttachmentRoundTrip(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")
	page := mock.AddPage(&Page{Title: "Docs", Type: "page", Space: &SpaceRef{Key: "DEV"}})
	mock.AddAttachment(page.ID, "diagram.png", []byte("png-bytes"))

	c := testClient(mock)
	attachments, err := c.ListAttachments(page.ID)
	if err != nil {
		t.Fatalf("ListAttachments failed: %v", err)
	}
	if len(attachments) != 1 || attachments[0].Title != "diagram.png" {
		t.Fatalf("attachments = %+v, want one diagram.png", attachments)
	}

	data, err := c.DownloadAttachment(attachments[0].DownloadLink)
	if err != nil {
		t.Fatalf("DownloadAttachment failed: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("downloaded %q, want png-bytes", data)
	}

	if err := c.UploadAttachment(page.ID, "notes.txt", []byte("hello")); err != nil {
		t.Fatalf("UploadAttachment failed: %v", err)
	}
	if got := len(mock.AttachmentsOf(page.ID)); got != 2 {
		t.Errorf("page has %d attachments after upload, want 2", got)
	}
}

func TestGetSpaceIDv2(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")

	c := testClient(mock)
	id, err := c.GetSpaceIDv2("DEV")
	if err != nil {
		t.Fatalf("GetSpaceIDv2 failed: %v", err)
	}
	if id != mock.SpaceIDv2("DEV") {
		t.Errorf("v2 id = %q, want %q", id, mock.SpaceIDv2("DEV"))
	}
}

func TestDiscoverFoldersWalksUpward(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")

	top := mock.AddFolder(&Folder{Title: "Top"})
	nested := mock.AddFolder(&Folder{Title: "Nested", ParentID: top.ID, ParentType: "folder"})
	page := mock.AddPage(&Page{Title: "Leaf", Type: "page", Space: &SpaceRef{Key: "DEV"}})
	mock.SetParent(page.ID, ParentRef{ParentID: nested.ID, ParentType: "folder"})

	c := testClient(mock)
	folders, err := c.DiscoverFolders(mock.SpaceIDv2("DEV"))
	if err != nil {
		t.Fatalf("DiscoverFolders failed: %v", err)
	}
	// Only Nested is a direct page parent; Top must be found by walking up.
	titles := make(map[string]bool)
	for _, f := range folders {
		titles[f.Title] = true
	}
	if !titles["Nested"] || !titles["Top"] {
		t.Errorf("discovered folders %v, want Nested and Top", titles)
	}
}

func TestDiscoverDatabases(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")

	db := mock.AddDatabase(&Database{Title: "Inventory"})
	page := mock.AddPage(&Page{Title: "Row view", Type: "page", Space: &SpaceRef{Key: "DEV"}})
	mock.SetParent(page.ID, ParentRef{ParentID: db.ID, ParentType: "database"})

	c := testClient(mock)
	databases, err := c.DiscoverDatabases(mock.SpaceIDv2("DEV"))
	if err != nil {
		t.Fatalf("DiscoverDatabases failed: %v", err)
	}
	if len(databases) != 1 || databases[0].Title != "Inventory" {
		t.Errorf("databases = %+v, want one Inventory", databases)
	}
}

func TestPageParentIndex(t *testing.T) {
	mock := NewMockServer()
	defer mock.Close()
	mock.AddSpace("DEV", "Development")

	folder := mock.AddFolder(&Folder{Title: "Specs"})
	child := mock.AddPage(&Page{Title: "Design", Type: "page", Space: &SpaceRef{Key: "DEV"}})
	mock.AddPage(&Page{Title: "Root", Type: "page", Space: &SpaceRef{Key: "DEV"}})
	mock.SetParent(child.ID, ParentRef{ParentID: folder.ID, ParentType: "folder"})

	c := testClient(mock)
	index, err := c.PageParentIndex(mock.SpaceIDv2("DEV"))
	if err != nil {
		t.Fatalf("PageParentIndex failed: %v", err)
	}
	ref, ok := index[child.ID]
	if !ok || ref.ParentType != "folder" || ref.ParentID != folder.ID {
		t.Errorf("index[%s] = %+v, want folder %s", child.ID, ref, folder.ID)
	}
	if len(index) != 1 {
		t.Errorf("index has %d entries, want 1", len(index))
	}
}

func TestVersionTime(t *testing.T) {
	v := &Version{Number: 3, When: "2024-05-01T10:00:00.000Z"}
	if _, ok := v.Time(); !ok {
		t.Error("expected parseable timestamp")
	}
	if _, ok := (&Version{Number: 3}).Time(); ok {
		t.Error("expected no timestamp for empty When")
	}
	var nilV *Version
	if _, ok := nilV.Time(); ok {
		t.Error("expected no timestamp for nil version")
	}
}
