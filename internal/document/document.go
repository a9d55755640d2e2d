package document

import (
	"io"
	"regexp"
	"strings"
)

// ContentType is the MIME type of rendered documents
const ContentType = "application/pdf"

// Document is a rendered invoice
type Document struct {
	filename string
	data     []byte
	pages    int
}

// Bytes returns the final PDF bytes
func (d *Document) Bytes() []byte {
	return d.data
}

// Filename suggests a name for saving the document
func (d *Document) Filename() string {
	return d.filename
}

// Pages returns the number of pages the layout produced
func (d *Document) Pages() int {
	return d.pages
}

// WriteTo writes the PDF bytes to w
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d.data)
	return int64(n), err
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_\-]+`)

// Filename builds "<slug>-invoice-<number>.pdf", replacing characters that are
// unsafe in filenames.
func Filename(slug, invoiceNumber string) string {
	base := unsafeFilenameChars.ReplaceAllString(strings.TrimSpace(invoiceNumber), "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "draft"
	}
	if slug == "" {
		return "invoice-" + base + ".pdf"
	}
	return slug + "-invoice-" + base + ".pdf"
}
