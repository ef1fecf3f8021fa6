package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/confmig/confmig/internal/config"
	"github.com/confmig/confmig/internal/confluence"
	"github.com/confmig/confmig/internal/fsutil"
)

func testSetup(t *testing.T) (*confluence.MockServer, *Exporter, string) {
	t.Helper()
	mock := confluence.NewMockServer()
	t.Cleanup(mock.Close)
	mock.AddSpace("DEV", "Development")

	outDir := t.TempDir()
	cfg := config.Default()
	cfg.Export.OutputDirectory = outDir
	cfg.General.MaxWorkers = 2

	client := confluence.New(mock.URL, "u", "s", confluence.Options{
		MaxAttempts: 2,
		RetryBase:   time.Millisecond,
	})
	return mock, New(client, cfg), outDir
}

func seedPage(mock *confluence.MockServer, title, body string, ancestors []confluence.Ancestor) *confluence.Page {
	return mock.AddPage(&confluence.Page{
		Title:     title,
		Type:      "page",
		Space:     &confluence.SpaceRef{Key: "DEV"},
		Body:      &confluence.Body{Storage: confluence.Storage{Value: body, Representation: "storage"}},
		Ancestors: ancestors,
		Version:   &confluence.Version{Number: 1, When: "2024-05-01T10:00:00.000Z"},
	})
}

func TestExportSpaceTreeLayout(t *testing.T) {
	mock, exporter, _ := testSetup(t)

	root := seedPage(mock, "Home", "<p>home</p>", nil)
	seedPage(mock, "Child", "<p>child</p>", []confluence.Ancestor{{ID: root.ID, Title: "Home"}})
	mock.AddAttachment(root.ID, "logo.png", []byte("png"))
	mock.AddComment(root.ID, confluence.Comment{Title: "Re: Home"})

	summary, tree, err := exporter.ExportSpace("DEV")
	if err != nil {
		t.Fatalf("ExportSpace failed: %v", err)
	}
	if summary.Pages != 2 {
		t.Errorf("summary.Pages = %d, want 2", summary.Pages)
	}
	if summary.Attachments != 1 {
		t.Errorf("summary.Attachments = %d, want 1", summary.Attachments)
	}
	if summary.Comments != 1 {
		t.Errorf("summary.Comments = %d, want 1", summary.Comments)
	}
	if len(summary.Errors) != 0 {
		t.Errorf("summary.Errors = %v, want none", summary.Errors)
	}

	for _, path := range []string{
		tree.SpaceInfoPath(),
		filepath.Join(tree.PagesDir(), "Home.html"),
		filepath.Join(tree.PagesDir(), "Home_metadata.json"),
		filepath.Join(tree.PagesDir(), "Child.html"),
		filepath.Join(tree.PagesDir(), "Home_comments.json"),
		filepath.Join(tree.PageAttachmentsDir("Home"), "logo.png"),
		tree.PageParentsPath(),
		tree.SummaryPath("json"),
		tree.SummaryPath("html"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected export artifact missing: %s", path)
		}
	}

	// Summaries live next to the tree, never inside it.
	if strings.HasPrefix(tree.SummaryPath("json"), tree.Root+string(os.PathSeparator)) {
		t.Error("summary was written inside the export tree")
	}
}

func TestExportSpaceFoldersAndDatabases(t *testing.T) {
	mock, exporter, _ := testSetup(t)

	folder := mock.AddFolder(&confluence.Folder{Title: "Specs"})
	db := mock.AddDatabase(&confluence.Database{Title: "Inventory"})
	inFolder := seedPage(mock, "Design", "<p>d</p>", nil)
	inDB := seedPage(mock, "Rows", "<p>r</p>", nil)
	mock.SetParent(inFolder.ID, confluence.ParentRef{ParentID: folder.ID, ParentType: "folder"})
	mock.SetParent(inDB.ID, confluence.ParentRef{ParentID: db.ID, ParentType: "database"})

	summary, tree, err := exporter.ExportSpace("DEV")
	if err != nil {
		t.Fatalf("ExportSpace failed: %v", err)
	}
	if summary.Folders != 1 || summary.Databases != 1 {
		t.Errorf("folders=%d databases=%d, want 1 and 1", summary.Folders, summary.Databases)
	}

	data, err := LoadTree(tree.Root)
	if err != nil {
		t.Fatalf("LoadTree failed: %v", err)
	}
	if len(data.Folders) != 1 || data.Folders[0].Title != "Specs" {
		t.Errorf("loaded folders = %+v", data.Folders)
	}
	if len(data.Databases) != 1 || data.Databases[0].Title != "Inventory" {
		t.Errorf("loaded databases = %+v", data.Databases)
	}
	ref, ok := data.PageParents[inFolder.ID]
	if !ok || ref.ParentType != "folder" {
		t.Errorf("parent index entry for %s = %+v", inFolder.ID, ref)
	}
}

func TestLoadTreeRoundTrip(t *testing.T) {
	mock, exporter, _ := testSetup(t)

	root := seedPage(mock, "Root", "<p>body with <div>nested</div> div</p>", nil)
	seedPage(mock, "Leaf", "<p>leaf</p>", []confluence.Ancestor{{ID: root.ID, Title: "Root"}})
	mock.AddAttachment(root.ID, "file.bin", []byte{1, 2, 3})

	_, tree, err := exporter.ExportSpace("DEV")
	if err != nil {
		t.Fatalf("ExportSpace failed: %v", err)
	}

	data, err := LoadTree(tree.Root)
	if err != nil {
		t.Fatalf("LoadTree failed: %v", err)
	}
	if len(data.Pages) != 2 {
		t.Fatalf("loaded %d pages, want 2", len(data.Pages))
	}

	byTitle := make(map[string]*PageData)
	for i := range data.Pages {
		byTitle[data.Pages[i].Meta.Title] = &data.Pages[i]
	}
	rootData := byTitle["Root"]
	if rootData == nil {
		t.Fatal("Root page not loaded")
	}
	if rootData.Body != "<p>body with <div>nested</div> div</p>" {
		t.Errorf("Root body = %q", rootData.Body)
	}
	if len(rootData.Attachments) != 1 || rootData.Attachments[0].Name != "file.bin" {
		t.Errorf("Root attachments = %+v", rootData.Attachments)
	}

	leaf := byTitle["Leaf"]
	if leaf == nil {
		t.Fatal("Leaf page not loaded")
	}
	if leaf.ParentID() != root.ID || leaf.ParentTitle() != "Root" {
		t.Errorf("Leaf parent = %s/%s, want %s/Root", leaf.ParentID(), leaf.ParentTitle(), root.ID)
	}
}

func TestLoadTreeRejectsMalformedDir(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadTree(dir); err == nil {
		t.Fatal("expected error for directory without pages/")
	}

	tree := fsutil.NewTree(filepath.Join(dir, "x"))
	if err := tree.MkdirAll(); err != nil {
		t.Fatal(err)
	}
	// pages/ exists but space info is missing.
	if _, err := LoadTree(tree.Root); err == nil {
		t.Fatal("expected error for tree without space_info.json")
	}
}

func TestLoadTreeWithoutSidecarFallsBackToDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tree")
	tree := fsutil.NewTree(dir)
	if err := tree.MkdirAll(); err != nil {
		t.Fatal(err)
	}
	if err := writeJSONFile(tree.SpaceInfoPath(), SpaceInfo{Key: "DEV"}); err != nil {
		t.Fatal(err)
	}
	doc := "<html><head><title>Loose Page</title></head><body><div class=\"page-content\"><p>x</p></div></body></html>"
	if err := os.WriteFile(filepath.Join(tree.PagesDir(), "Loose Page.html"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	data, err := LoadTree(dir)
	if err != nil {
		t.Fatalf("LoadTree failed: %v", err)
	}
	if len(data.Pages) != 1 {
		t.Fatalf("loaded %d pages, want 1", len(data.Pages))
	}
	if data.Pages[0].Meta.Title != "Loose Page" {
		t.Errorf("title = %q, want Loose Page", data.Pages[0].Meta.Title)
	}
	if data.Pages[0].Body != "<p>x</p>" {
		t.Errorf("body = %q, want <p>x</p>", data.Pages[0].Body)
	}
}
