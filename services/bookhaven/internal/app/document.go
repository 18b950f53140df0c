package app

import (
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

var allowedPaperTypes = []string{"application/pdf", "image/jpeg", "image/png", "image/gif"}

// inspectedFile is what the upload path learned about a file's bytes.
type inspectedFile struct {
	ContentType string
	PageCount   int
}

// inspectFile sniffs the content type from the bytes, ignoring whatever the
// client claimed, and counts PDF pages.
func inspectFile(data []byte) (inspectedFile, error) {
	detected := mimetype.Detect(data)
	var contentType string
	for _, allowed := range allowedPaperTypes {
		if detected.Is(allowed) {
			contentType = allowed
			break
		}
	}
	if contentType == "" {
		return inspectedFile{}, invalid("file", "file must be a PDF, JPEG, PNG or GIF")
	}
	out := inspectedFile{ContentType: contentType}
	if contentType == "application/pdf" {
		pages, err := countPDFPages(data)
		if err != nil {
			return inspectedFile{}, invalid("file", "PDF could not be read")
		}
		out.PageCount = pages
	}
	return out, nil
}

func countPDFPages(data []byte) (n int, err error) {
	// the pdf reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return reader.NumPage(), nil
}

// plainText drops markup from user-supplied text so descriptions are stored
// and mailed as plain text.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	return normalizeText(extractText(doc))
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// buildStorageKey returns papers/{paperID}/{name}. The key always has its
// own leaf under the paper's prefix so a delete never reaches another blob.
func buildStorageKey(paperID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "paper"
	}
	prefix := "papers/" + paperID + "/"
	key := path.Join("papers", paperID, name)
	if !strings.HasPrefix(key, prefix) || key == prefix {
		key = prefix + "paper"
	}
	return key
}

// sanitizeFilename keeps [A-Za-z0-9._-], collapses the rest to "_" and
// drops leading dots so "." and ".." never survive as path elements.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(strings.TrimLeft(b.String(), "._"), "_")
}

// downloadName is the filename offered to browsers for a paper.
func downloadName(title, key string) string {
	ext := path.Ext(key)
	name := sanitizeFilename(title)
	if name == "" {
		return path.Base(key)
	}
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		name += ext
	}
	return name
}
