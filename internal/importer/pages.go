package importer

import (
	"html"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/confmig/confmig/internal/confluence"
	"github.com/confmig/confmig/internal/content"
	"github.com/confmig/confmig/internal/export"
	"github.com/confmig/confmig/internal/logger"
)

// importPages is the page phase: roots first, then children over bounded
// passes, then placeholder recovery for whatever is still stuck. Every page
// ends up mapped, recovered, or in the error ledger.
func (r *run) importPages(pages []export.PageData) {
	var roots, children []export.PageData
	for _, p := range pages {
		if p.ParentID() == "" {
			roots = append(roots, p)
		} else {
			children = append(children, p)
		}
	}
	logger.Info("importing %d pages (%d roots, %d children)", len(pages), len(roots), len(children))

	for i := range roots {
		r.importOnePage(&roots[i])
	}

	pending := children
	for pass := 1; pass <= maxPasses && len(pending) > 0; pass++ {
		logger.Debug("page pass %d: %d pending", pass, len(pending))
		var next []export.PageData
		progress := 0
		for i := range pending {
			p := &pending[i]
			if !r.parentAvailable(p) {
				next = append(next, *p)
				continue
			}
			r.importOnePage(p)
			progress++
		}
		pending = next
		if progress == 0 {
			break
		}
	}

	if len(pending) > 0 {
		r.recoverOrphans(pending)
	}
}

// parentAvailable checks whether the page's parent can be resolved right
// now: the three identity maps in priority order, then a live title lookup
// covering parents that already existed in the target before this run.
func (r *run) parentAvailable(p *export.PageData) bool {
	pid := p.ParentID()
	if _, ok := r.rc.Pages.Get(pid); ok {
		return true
	}
	if _, ok := r.rc.Folders.Get(pid); ok {
		return true
	}
	if _, ok := r.rc.Databases.Get(pid); ok {
		return true
	}
	if title := p.ParentTitle(); title != "" {
		existing, err := r.client.FindPageByTitle(r.opts.TargetSpace, title, "page")
		if err == nil && existing != nil {
			r.rc.Pages.Put(pid, existing.ID)
			return true
		}
	}
	return false
}

// importOnePage reconciles one page or blog post and records the outcome.
func (r *run) importOnePage(p *export.PageData) {
	targetID, err := r.reconcilePage(p)
	if err != nil {
		r.rc.Ledger.Errorf("failed to import page %q: %v", p.Meta.Title, err)
		if p.Meta.ID != "" {
			r.rc.SetStatus("page", p.Meta.ID, StatusSkipped)
		}
		return
	}
	if p.Meta.ID != "" {
		r.rc.Pages.Put(p.Meta.ID, targetID)
		r.rc.SetStatus("page", p.Meta.ID, StatusResolved)
	}
	if r.cfg.Import.ImportAttachments {
		r.importAttachments(p, targetID)
	}
}

// reconcilePage applies conflict resolution and creates or updates the page,
// returning its id in the target space.
func (r *run) reconcilePage(p *export.PageData) (string, error) {
	body := r.rewriteBody(p.Body)
	ctype := p.Meta.Type
	if ctype == "" {
		ctype = "page"
	}

	if r.policy == "rename" {
		title := p.Meta.Title + time.Now().Format(" (Imported 2006-01-02 15:04)")
		return r.createPage(p, ctype, title, body, false)
	}

	existing, err := r.client.FindPageByTitle(r.opts.TargetSpace, p.Meta.Title, ctype)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return r.createPage(p, ctype, p.Meta.Title, body, false)
	}

	switch r.policy {
	case "overwrite":
		return r.updatePage(existing, ctype, body)
	case "update_newer":
		if sourceNewer(p.Meta.Version, existing.Version) {
			return r.updatePage(existing, ctype, body)
		}
		logger.Debug("page %q is not newer than target, skipping", p.Meta.Title)
		r.summary.PagesSkipped++
		return existing.ID, nil
	default: // skip
		logger.Debug("page %q already exists, skipping", p.Meta.Title)
		r.summary.PagesSkipped++
		return existing.ID, nil
	}
}

func (r *run) createPage(p *export.PageData, ctype, title, body string, synthetic bool) (string, error) {
	page := &confluence.Page{
		Type:  ctype,
		Title: title,
		Space: &confluence.SpaceRef{Key: r.opts.TargetSpace},
		Body:  &confluence.Body{Storage: confluence.Storage{Value: body, Representation: "storage"}},
	}
	// The creation call only honors page parents; folder and database
	// parents are attached by a follow-up move.
	if pid := p.ParentID(); pid != "" {
		if parentTarget, ok := r.rc.Pages.Get(pid); ok {
			page.Ancestors = []confluence.Ancestor{{ID: parentTarget}}
		}
	}

	created, err := r.client.CreatePage(page)
	if err != nil {
		return "", err
	}
	if synthetic {
		r.summary.PagesSynthesized++
	} else if r.policy == "rename" {
		r.summary.PagesRenamed++
	} else {
		r.summary.PagesCreated++
	}
	r.moveIntoContainer(p, created.ID)
	return created.ID, nil
}

func (r *run) updatePage(existing *confluence.Page, ctype, body string) (string, error) {
	next := 2
	if existing.Version != nil {
		next = existing.Version.Number + 1
	}
	_, err := r.client.UpdatePage(&confluence.Page{
		ID:      existing.ID,
		Type:    ctype,
		Title:   existing.Title,
		Body:    &confluence.Body{Storage: confluence.Storage{Value: body, Representation: "storage"}},
		Version: &confluence.Version{Number: next},
	})
	if err != nil {
		return "", err
	}
	r.summary.PagesUpdated++
	return existing.ID, nil
}

// moveIntoContainer performs the follow-up move when the page's resolved
// parent is a folder or database. Parent-kind detection prefers the v2
// index captured at export time; the ancestors fallback additionally covers
// database parents on exports without one. A failed move is non-fatal: the
// page exists, merely at space root.
func (r *run) moveIntoContainer(p *export.PageData, newID string) {
	var targetID, kind string

	if ref, ok := r.data.PageParents[p.Meta.ID]; ok && (ref.ParentType == "folder" || ref.ParentType == "database") {
		if id, ok := r.rc.MapFor(ref.ParentType).Get(ref.ParentID); ok {
			targetID, kind = id, ref.ParentType
		}
	}
	if targetID == "" {
		if pid := p.ParentID(); pid != "" {
			if id, ok := r.rc.Folders.Get(pid); ok {
				targetID, kind = id, "folder"
			} else if id, ok := r.rc.Databases.Get(pid); ok {
				targetID, kind = id, "database"
			}
		}
	}
	if targetID == "" {
		return
	}

	if err := r.client.MoveContent(newID, "append", targetID); err != nil {
		r.rc.Ledger.Warnf("page %q created but could not be moved into %s %s: %v", p.Meta.Title, kind, targetID, err)
		return
	}
	logger.Debug("moved page %q into %s %s", p.Meta.Title, kind, targetID)
	r.summary.PagesMoved++
}

// recoverOrphans handles pages whose parent never resolved. Stuck pages are
// grouped by missing parent id; each group gets one placeholder parent page
// that lists its children, the placeholder id is adopted into the page
// identity map under the missing foreign id, and the children import under
// it. Pages whose metadata carries no parent information import as roots.
func (r *run) recoverOrphans(pending []export.PageData) {
	groups := make(map[string][]*export.PageData)
	var order []string
	for i := range pending {
		pid := pending[i].ParentID()
		if _, seen := groups[pid]; !seen {
			order = append(order, pid)
		}
		groups[pid] = append(groups[pid], &pending[i])
	}
	sort.Strings(order)
	logger.Warn("%d pages have unresolvable parents, recovering under placeholder pages", len(pending))

	for _, pid := range order {
		children := groups[pid]
		if pid == "" {
			for _, child := range children {
				child.Meta.Ancestors = nil
				r.importOnePage(child)
			}
			continue
		}

		// A previous group's children may have imported this very parent.
		if _, ok := r.rc.Pages.Get(pid); ok {
			for _, child := range children {
				r.importOnePage(child)
			}
			continue
		}

		parentTitle := children[0].ParentTitle()
		title := "[Recovered] " + parentTitle
		if parentTitle == "" {
			title = "[Recovered] Parent " + pid
		}

		stub := &export.PageData{Meta: export.PageMetadata{Title: title, Type: "page"}}
		placeholderID, err := r.createPage(stub, "page", title, placeholderBody(parentTitle, children), true)
		if err != nil {
			for _, child := range children {
				r.rc.Ledger.Errorf("page %q skipped: parent %s unresolved and placeholder creation failed: %v",
					child.Meta.Title, pid, err)
				r.rc.SetStatus("page", child.Meta.ID, StatusSkipped)
			}
			continue
		}
		r.rc.Pages.Put(pid, placeholderID)
		r.rc.SetStatus("page", pid, StatusSynthesized)

		for _, child := range children {
			r.importOnePage(child)
		}
	}
}

func placeholderBody(parentTitle string, children []*export.PageData) string {
	var b strings.Builder
	b.WriteString("<p>This page was created automatically during an import. The original parent page")
	if parentTitle != "" {
		b.WriteString(" <strong>")
		b.WriteString(html.EscapeString(parentTitle))
		b.WriteString("</strong>")
	}
	b.WriteString(" was not part of the export, so its pages were grouped here instead of being dropped.</p>")
	b.WriteString("<p>Recovered pages:</p><ul>")
	for _, c := range children {
		b.WriteString("<li>")
		b.WriteString(html.EscapeString(c.Meta.Title))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

func (r *run) importBlogposts(blogposts []export.PageData) {
	for i := range blogposts {
		r.importOnePage(&blogposts[i])
	}
}

func (r *run) importAttachments(p *export.PageData, pageID string) {
	for _, file := range p.Attachments {
		data, err := os.ReadFile(file.Path)
		if err != nil {
			r.rc.Ledger.Errorf("failed to read attachment %s for page %q: %v", file.Name, p.Meta.Title, err)
			continue
		}
		if err := r.client.UploadAttachment(pageID, file.Name, data); err != nil {
			r.rc.Ledger.Errorf("failed to upload attachment %s to page %q: %v", file.Name, p.Meta.Title, err)
			continue
		}
		r.summary.Attachments++
	}
}

func (r *run) rewriteBody(body string) string {
	if r.opts.OldSpaceKey == "" || r.opts.OldSpaceKey == r.opts.NewSpaceKey {
		return body
	}
	rewritten, counts := content.RewriteSpaceKey(body, r.opts.OldSpaceKey, r.opts.NewSpaceKey)
	if counts.Total() > 0 {
		logger.Debug("rewrote %d space-key references %s -> %s", counts.Total(), r.opts.OldSpaceKey, r.opts.NewSpaceKey)
	}
	return rewritten
}

// sourceNewer orders two versions by timestamp, falling back to version
// numbers when either timestamp is absent or unparseable.
func sourceNewer(src, dst *confluence.Version) bool {
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
