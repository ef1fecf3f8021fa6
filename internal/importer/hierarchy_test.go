package importer

import (
	"fmt"
	"strconv"
	"testing"
)

// fakeCreate counts creations and hands out sequential target ids.
func fakeCreate() (createFunc, *[]string) {
	var created []string
	next := 0
	fn := func(item hierarchyItem, parentTargetID string) (string, error) {
		next++
		created = append(created, item.Title)
		return "t" + strconv.Itoa(next), nil
	}
	return fn, &created
}

func TestImportHierarchyParentsBeforeChildren(t *testing.T) {
	rc := NewContext()
	items := []hierarchyItem{
		{ForeignID: "3", Title: "grandchild", ParentID: "2"},
		{ForeignID: "2", Title: "child", ParentID: "1"},
		{ForeignID: "1", Title: "root"},
	}
	create, order := fakeCreate()

	created, skipped := importHierarchy("folder", items, rc.Folders, rc, create)
	if created != 3 || skipped != 0 {
		t.Fatalf("created=%d skipped=%d, want 3 and 0", created, skipped)
	}
	want := []string{"root", "child", "grandchild"}
	for i, title := range want {
		if (*order)[i] != title {
			t.Errorf("creation order[%d] = %s, want %s", i, (*order)[i], title)
		}
	}
	for _, id := range []string{"1", "2", "3"} {
		if _, ok := rc.Folders.Get(id); !ok {
			t.Errorf("no identity map entry for %s", id)
		}
		if rc.StatusOf("folder", id) != StatusResolved {
			t.Errorf("status of %s = %v, want resolved", id, rc.StatusOf("folder", id))
		}
	}
}

func TestImportHierarchyCycleTerminates(t *testing.T) {
	rc := NewContext()
	items := []hierarchyItem{
		{ForeignID: "1", Title: "a", ParentID: "3"},
		{ForeignID: "2", Title: "b", ParentID: "1"},
		{ForeignID: "3", Title: "c", ParentID: "2"},
	}
	create, _ := fakeCreate()

	created, skipped := importHierarchy("folder", items, rc.Folders, rc, create)
	if created != 0 || skipped != 3 {
		t.Fatalf("created=%d skipped=%d, want 0 and 3", created, skipped)
	}
	if got := len(rc.Ledger.Errors()); got != 3 {
		t.Errorf("ledger has %d errors, want 3", got)
	}
	for _, id := range []string{"1", "2", "3"} {
		if rc.StatusOf("folder", id) != StatusSkipped {
			t.Errorf("status of %s = %v, want skipped", id, rc.StatusOf("folder", id))
		}
	}
}

func TestImportHierarchyDepthBeyondPassBound(t *testing.T) {
	// A chain deeper than the pass bound resolves one level per pass in
	// the worst-case ordering; levels past the bound are skipped, never
	// looped on.
	rc := NewContext()
	depth := maxPasses + 3
	var items []hierarchyItem
	for i := depth; i >= 1; i-- {
		item := hierarchyItem{ForeignID: strconv.Itoa(i), Title: fmt.Sprintf("level-%d", i)}
		if i > 1 {
			item.ParentID = strconv.Itoa(i - 1)
		}
		items = append(items, item)
	}
	create, _ := fakeCreate()

	created, skipped := importHierarchy("folder", items, rc.Folders, rc, create)
	if created+skipped != depth {
		t.Fatalf("created+skipped = %d, want %d (no item lost)", created+skipped, depth)
	}
	if created != maxPasses+1 {
		t.Errorf("created = %d, want %d (root plus one level per pass)", created, maxPasses+1)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
}

func TestImportHierarchySelfReference(t *testing.T) {
	rc := NewContext()
	items := []hierarchyItem{{ForeignID: "1", Title: "ouroboros", ParentID: "1"}}
	create, _ := fakeCreate()

	created, skipped := importHierarchy("database", items, rc.Databases, rc, create)
	if created != 0 || skipped != 1 {
		t.Fatalf("created=%d skipped=%d, want 0 and 1", created, skipped)
	}
}

func TestImportHierarchyCreateFailureDoesNotAbortBatch(t *testing.T) {
	rc := NewContext()
	items := []hierarchyItem{
		{ForeignID: "1", Title: "bad"},
		{ForeignID: "2", Title: "good"},
	}
	n := 0
	create := func(item hierarchyItem, parentTargetID string) (string, error) {
		n++
		if item.Title == "bad" {
			return "", fmt.Errorf("boom")
		}
		return "t" + strconv.Itoa(n), nil
	}

	created, skipped := importHierarchy("folder", items, rc.Folders, rc, create)
	if created != 1 || skipped != 1 {
		t.Fatalf("created=%d skipped=%d, want 1 and 1", created, skipped)
	}
	if _, ok := rc.Folders.Get("2"); !ok {
		t.Error("surviving item missing from identity map")
	}
	if len(rc.Ledger.Errors()) != 1 {
		t.Errorf("ledger errors = %v, want exactly one", rc.Ledger.Errors())
	}
}

func TestIdentityMapFirstWriteWins(t *testing.T) {
	m := NewIdentityMap()
	m.Put("x", "first")
	m.Put("x", "second")
	if got, _ := m.Get("x"); got != "first" {
		t.Errorf("Get(x) = %q, want first", got)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
	snap := m.Snapshot()
	snap["x"] = "mutated"
	if got, _ := m.Get("x"); got != "first" {
		t.Error("Snapshot must be a copy")
	}
}
