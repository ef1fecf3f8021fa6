package content

import (
	"regexp"
)

// RewriteCounts records how many substitutions each category performed.
type RewriteCounts struct {
	SpaceTags      int // ri:space-key attributes
	WikiLinks      int // [Title|KEY:Page] cross-space links
	Links          int // anchor hrefs containing /spaces/KEY/
	MacroParams    int // macro parameter values KEY:...
	AttachmentURLs int // attachment download URLs
}

// Total returns the sum over all categories.
func (c RewriteCounts) Total() int {
	return c.SpaceTags + c.WikiLinks + c.Links + c.MacroParams + c.AttachmentURLs
}

type rewriteRule struct {
	pattern *regexp.Regexp
	count   func(*RewriteCounts)
}

// RewriteSpaceKey rewrites every reference to oldKey in a page body so it
// points at newKey instead. The five categories are independent and each
// pattern requires a delimiter after the key, so a key never matches inside
// a longer key (KB does not fire inside KB2). Idempotent for oldKey != newKey.
func RewriteSpaceKey(body, oldKey, newKey string) (string, RewriteCounts) {
	var counts RewriteCounts
	if oldKey == "" || oldKey == newKey {
		return body, counts
	}
	key := regexp.QuoteMeta(oldKey)

	rules := []rewriteRule{
		// <ri:space ri:space-key="KEY"/> and page references carrying the key.
		{
			pattern: regexp.MustCompile(`(ri:space-key=")` + key + `(")`),
			count:   func(c *RewriteCounts) { c.SpaceTags++ },
		},
		// Wiki-style links: [Title|KEY:Page Name]
		{
			pattern: regexp.MustCompile(`(\[[^\]|]*\|)` + key + `(:)`),
			count:   func(c *RewriteCounts) { c.WikiLinks++ },
		},
		// Anchor hrefs, relative or absolute: href="…/spaces/KEY/…"
		{
			pattern: regexp.MustCompile(`((?i:href="[^"]*/spaces/))` + key + `(/)`),
			count:   func(c *RewriteCounts) { c.Links++ },
		},
		// Macro parameters: <ac:parameter ac:name="…">KEY:…
		{
			pattern: regexp.MustCompile(`(<ac:parameter[^>]*>)` + key + `(:)`),
			count:   func(c *RewriteCounts) { c.MacroParams++ },
		},
		// Macro parameters that hold a bare space key.
		{
			pattern: regexp.MustCompile(`((?i:<ac:parameter[^>]*ac:name="[^"]*space[^"]*"[^>]*>))` + key + `(</ac:parameter>)`),
			count:   func(c *RewriteCounts) { c.MacroParams++ },
		},
		// Attachment download URLs: src="/download/attachments/…spaceKey=KEY…"
		{
			pattern: regexp.MustCompile(`((?i:src="[^"]*/download/[^"]*spaceKey=))` + key + `(["&])`),
			count:   func(c *RewriteCounts) { c.AttachmentURLs++ },
		},
	}

	for _, rule := range rules {
		body = rule.pattern.ReplaceAllStringFunc(body, func(match string) string {
			rule.count(&counts)
			groups := rule.pattern.FindStringSubmatch(match)
			return groups[1] + newKey + groups[2]
		})
	}
	return body, counts
}
