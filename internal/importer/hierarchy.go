package importer

import (
	"github.com/confmig/confmig/internal/logger"
)

// maxPasses bounds every fixed-point loop. A cycle or a truly missing parent
// exhausts the passes and is reported instead of looping forever.
const maxPasses = 10

// hierarchyItem is the kind-agnostic view of a folder or database stub.
type hierarchyItem struct {
	ForeignID string
	Title     string
	ParentID  string
}

// createFunc creates one item in the target and returns its new id.
// parentTargetID is "" for space-root items.
type createFunc func(item hierarchyItem, parentTargetID string) (string, error)

// importHierarchy reconciles one content kind whose items form a tree through
// same-kind parent references. Roots are created immediately; children are
// retried over bounded passes until their parent appears in the identity
// map. A pass that resolves nothing ends the loop and everything still
// pending is permanently skipped. Returns (created, skipped).
func importHierarchy(kind string, items []hierarchyItem, ids *IdentityMap, rc *Context, create createFunc) (int, int) {
	created, skipped := 0, 0

	attempt := func(item hierarchyItem, parentTargetID string) {
		targetID, err := create(item, parentTargetID)
		if err != nil {
			rc.Ledger.Errorf("failed to create %s %q: %v", kind, item.Title, err)
			rc.SetStatus(kind, item.ForeignID, StatusSkipped)
			skipped++
			return
		}
		ids.Put(item.ForeignID, targetID)
		rc.SetStatus(kind, item.ForeignID, StatusResolved)
		created++
	}

	var pending []hierarchyItem
	for _, item := range items {
		if item.ParentID == "" {
			attempt(item, "")
		} else {
			pending = append(pending, item)
			rc.SetStatus(kind, item.ForeignID, StatusPending)
		}
	}

	for pass := 1; pass <= maxPasses && len(pending) > 0; pass++ {
		logger.Debug("%s pass %d: %d pending", kind, pass, len(pending))
		var next []hierarchyItem
		progress := 0
		for _, item := range pending {
			parentTargetID, ok := ids.Get(item.ParentID)
			if !ok {
				next = append(next, item)
				continue
			}
			attempt(item, parentTargetID)
			progress++
		}
		pending = next
		if progress == 0 {
			break
		}
	}

	for _, item := range pending {
		rc.Ledger.Errorf("%s %q skipped: parent %s never resolved (missing from export or part of a reference cycle)",
			kind, item.Title, item.ParentID)
		rc.SetStatus(kind, item.ForeignID, StatusSkipped)
		skipped++
	}
	return created, skipped
}
