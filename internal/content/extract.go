// Package content extracts titles and bodies from exported page documents
// and rewrites space-key references when content moves between spaces.
package content

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

const (
	contentDivClass = "page-content"
	titleClass      = "page-title"
)

var (
	contentDivOpen = regexp.MustCompile(`<div[^>]*class="` + contentDivClass + `"[^>]*>`)
	divTag         = regexp.MustCompile(`(?i)<(/?)div\b[^>]*>`)
	h1Title        = regexp.MustCompile(`(?s)<h1[^>]*class="` + titleClass + `"[^>]*>(.*?)</h1>`)
	docTitle       = regexp.MustCompile(`(?s)<title[^>]*>(.*?)</title>`)
	bodyTag        = regexp.MustCompile(`(?s)<body[^>]*>(.*)</body>`)
	metadataDiv    = regexp.MustCompile(`(?s)<div[^>]*class="page-metadata"[^>]*>.*?</div>\s*`)
)

// ExtractTitle pulls the page title out of an exported document: the
// page-title heading first, then the document title, then "". Callers fall
// back to the filename for the empty case.
func ExtractTitle(doc string) string {
	if m := h1Title.FindStringSubmatch(doc); m != nil {
		return strings.TrimSpace(html.UnescapeString(stripTags(m[1])))
	}
	if m := docTitle.FindStringSubmatch(doc); m != nil {
		return strings.TrimSpace(html.UnescapeString(m[1]))
	}
	return ""
}

// ExtractBody pulls the storage-format body out of an exported document.
// The body lives in a page-content div which may itself contain nested divs,
// so the primary path tracks div depth rather than matching a closing tag by
// pattern. The raw text between the markers is returned untouched, keeping
// CDATA sections and entity references intact. Degrades to a regex scan and
// finally to the whole document body.
func ExtractBody(doc string) string {
	if body, err := extractByDepth(doc); err == nil {
		return body
	}
	if body, ok := extractByRegex(doc); ok {
		return body
	}
	if m := bodyTag.FindStringSubmatch(doc); m != nil {
		return strings.TrimSpace(metadataDiv.ReplaceAllString(m[1], ""))
	}
	return doc
}

// extractByDepth locates the content container and scans forward counting
// div nesting until the container closes.
func extractByDepth(doc string) (string, error) {
	loc := contentDivOpen.FindStringIndex(doc)
	if loc == nil {
		return "", fmt.Errorf("no %s container found", contentDivClass)
	}
	rest := doc[loc[1]:]

	depth := 1
	offset := 0
	for depth > 0 {
		m := divTag.FindStringIndex(rest[offset:])
		if m == nil {
			return "", fmt.Errorf("unbalanced div nesting after %s container", contentDivClass)
		}
		tag := rest[offset+m[0] : offset+m[1]]
		if strings.HasPrefix(tag, "</") {
			depth--
		} else {
			depth++
		}
		if depth == 0 {
			return rest[:offset+m[0]], nil
		}
		offset += m[1]
	}
	return "", fmt.Errorf("unbalanced div nesting after %s container", contentDivClass)
}

// extractByRegex is the lenient fallback: take everything from the container
// open tag to the last closing div in the document.
func extractByRegex(doc string) (string, bool) {
	loc := contentDivOpen.FindStringIndex(doc)
	if loc == nil {
		return "", false
	}
	rest := doc[loc[1]:]
	end := strings.LastIndex(rest, "</div>")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}

// WrapDocument builds the exported HTML document for a page: a readable
// standalone file whose body round-trips through ExtractBody. The metadata
// block sits outside the content container so it never leaks into re-imports.
func WrapDocument(title, body string, metadata []string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\"/>\n<title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title>\n</head>\n<body>\n<h1 class=\"")
	b.WriteString(titleClass)
	b.WriteString("\">")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</h1>\n<div class=\"")
	b.WriteString(contentDivClass)
	b.WriteString("\">")
	b.WriteString(body)
	b.WriteString("</div>\n")
	if len(metadata) > 0 {
		b.WriteString("<div class=\"page-metadata\">\n<ul>\n")
		for _, line := range metadata {
			b.WriteString("<li>")
			b.WriteString(html.EscapeString(line))
			b.WriteString("</li>\n")
		}
		b.WriteString("</ul>\n</div>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
