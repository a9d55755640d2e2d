package document

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-markup/internal/invoice"
)

// Page geometry in millimetres (A4 portrait)
const (
	marginLeft   = 15.0
	marginTop    = 15.0
	marginRight  = 15.0
	marginBottom = 15.0
	rightEdge    = 195.0

	headerTop   = 50.0
	headerLeap  = 5.0
	billToTop   = 95.0
	tableTop    = 135.0
	totalsGap   = 10.0
	totalsDepth = 20.0

	lineHeight          = 4.5
	cellPadding         = 2.0
	minDescriptionWidth = 80.0
)

const (
	coreFontFamily = "Helvetica"
	utf8FontFamily = "InvoiceSans"
)

var (
	tableHeadings = [4]string{"Description", "Quantity", "Unit Price", "Total"}
	tableAligns   = [4]string{"L", "C", "R", "R"}
	// Quantity, Unit Price and Total are fixed; Description takes the rest.
	fixedColumnWidths = [3]float64{25, 37.5, 37.5}
)

// Option configures a Renderer
type Option func(*Renderer)

// WithIssuer sets the party printed in the header
func WithIssuer(issuer Issuer) Option {
	return func(r *Renderer) {
		r.issuer = issuer
	}
}

// WithoutCompression writes uncompressed content streams
func WithoutCompression() Option {
	return func(r *Renderer) {
		r.compress = false
	}
}

// WithUTF8Font embeds a TrueType font (regular and bold faces) so text
// outside Windows-1252, such as Hebrew or Turkish names, prints as written.
// Without it the core Helvetica font is used.
func WithUTF8Font(regular, bold []byte) Option {
	return func(r *Renderer) {
		r.fontRegular = regular
		r.fontBold = bold
	}
}

// Renderer lays out invoice records as PDF documents. It performs no
// validation: whatever the record holds is printed.
type Renderer struct {
	issuer      Issuer
	compress    bool
	fontRegular []byte
	fontBold    []byte
}

// NewRenderer creates a Renderer using DefaultIssuer unless overridden
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		issuer:   DefaultIssuer,
		compress: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// page wraps the gofpdf handle with the active font family and the text
// encoding it needs
type page struct {
	pdf    *gofpdf.Fpdf
	family string
	utf8   bool
	tr     func(string) string
}

func (p *page) text(x, y float64, s string) {
	p.pdf.Text(x, y, p.tr(s))
}

// textRight places s so that it ends at x, on baseline y
func (p *page) textRight(x, y float64, s string) {
	s = p.tr(s)
	p.pdf.Text(x-p.pdf.GetStringWidth(s), y, s)
}

func (p *page) setFont(style string, size float64) {
	p.pdf.SetFont(p.family, style, size)
}

// wrap splits s into lines that fit width in the current font. Lines are
// returned already encoded for the font.
func (p *page) wrap(s string, width float64) []string {
	if s == "" {
		return []string{""}
	}
	var lines []string
	if p.utf8 {
		lines = p.pdf.SplitText(s, width)
	} else {
		for _, line := range p.pdf.SplitLines([]byte(p.tr(s)), width) {
			lines = append(lines, string(line))
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

// newCanvas registers the configured fonts and returns the page writer
func (r *Renderer) newCanvas(pdf *gofpdf.Fpdf) (*page, error) {
	if len(r.fontRegular) == 0 {
		return &page{pdf: pdf, family: coreFontFamily, tr: pdf.UnicodeTranslatorFromDescriptor("")}, nil
	}
	bold := r.fontBold
	if len(bold) == 0 {
		bold = r.fontRegular
	}
	for _, face := range [][]byte{r.fontRegular, bold} {
		if !isTrueType(face) {
			return nil, fmt.Errorf("font data is not TrueType")
		}
	}

	pdf.AddUTF8FontFromBytes(utf8FontFamily, "", r.fontRegular)
	pdf.AddUTF8FontFromBytes(utf8FontFamily, "B", bold)
	// gofpdf only reports a face it could not parse once it is selected
	pdf.SetFont(utf8FontFamily, "", 10)
	pdf.SetFont(utf8FontFamily, "B", 10)
	if err := pdf.Error(); err != nil {
		return nil, err
	}
	return &page{pdf: pdf, family: utf8FontFamily, utf8: true, tr: func(s string) string { return s }}, nil
}

func isTrueType(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	magic := string(data[:4])
	return magic == "\x00\x01\x00\x00" || magic == "true"
}

// Render produces the PDF for rec. Errors come only from the PDF writer
// and from a configured font that cannot be loaded.
func (r *Renderer) Render(rec *invoice.Record) (*Document, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(marginLeft, marginTop, marginRight)
	// Rows are placed by hand; only rows taller than a page are split
	pdf.SetAutoPageBreak(false, marginBottom)
	pdf.SetCompression(r.compress)
	pdf.SetTitle("Invoice "+rec.InvoiceNumber, true)
	pdf.SetCreator(r.issuer.Name, true)

	p, err := r.newCanvas(pdf)
	if err != nil {
		return nil, fmt.Errorf("loading font: %w", err)
	}
	pdf.AddPage()

	r.drawLogo(p)
	r.drawHeader(p, rec)
	r.drawBillTo(p, rec)
	finalY := r.drawTable(p, rec)
	r.drawTotals(p, rec, finalY)

	pages := pdf.PageCount()
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing pdf: %w", err)
	}

	return &Document{
		filename: Filename(r.issuer.Slug, rec.InvoiceNumber),
		data:     buf.Bytes(),
		pages:    pages,
	}, nil
}

func (r *Renderer) drawLogo(p *page) {
	if len(r.issuer.Logo) == 0 {
		return
	}
	var imageType string
	switch http.DetectContentType(r.issuer.Logo) {
	case "image/png":
		imageType = "PNG"
	case "image/jpeg":
		imageType = "JPG"
	default:
		slog.Warn("Skipping logo with unsupported format")
		return
	}
	opts := gofpdf.ImageOptions{ImageType: imageType}
	p.pdf.RegisterImageOptionsReader("logo", opts, bytes.NewReader(r.issuer.Logo))
	p.pdf.ImageOptions("logo", marginLeft, marginTop, 60, 25, false, opts, 0, "")
}

// drawHeader prints the issuer block on the left and the invoice metadata
// right-aligned on the same baselines.
func (r *Renderer) drawHeader(p *page, rec *invoice.Record) {
	issuer := []string{
		r.issuer.Name,
		r.issuer.Subname,
		r.issuer.Address,
		r.issuer.City,
		"VAT NM: " + r.issuer.VAT,
		"EMAIL: " + r.issuer.Email,
	}
	meta := []string{
		"Invoice No: " + rec.InvoiceNumber,
		"Date: " + rec.IssueDate,
		"Incoterms: " + rec.Incoterms,
		"Country of Origin: " + r.issuer.CountryOfOrigin,
		"Payment Terms: " + rec.PaymentTerms,
	}

	p.pdf.SetTextColor(0, 0, 0)
	p.setFont("", 24)
	p.textRight(rightEdge, 30, "INVOICE")

	p.setFont("", 10)
	for i, line := range issuer {
		p.text(marginLeft, headerTop+float64(i)*headerLeap, line)
	}
	for i, line := range meta {
		p.textRight(rightEdge, headerTop+float64(i)*headerLeap, line)
	}
}

func (r *Renderer) drawBillTo(p *page, rec *invoice.Record) {
	p.setFont("", 12)
	p.text(marginLeft, billToTop, "Bill To:")

	p.setFont("", 10)
	p.text(marginLeft, billToTop+7, rec.Client.Name)
	p.text(marginLeft, billToTop+14, singleLine(rec.Client.Address))
	p.text(marginLeft, billToTop+21, "VAT: "+rec.Client.TaxID)
}

// drawTable prints the item table starting at tableTop and returns the y
// position just below its last row, on whatever page that ended up.
func (r *Renderer) drawTable(p *page, rec *invoice.Record) float64 {
	pdf := p.pdf
	pageW, pageH := pdf.GetPageSize()
	limit := pageH - marginBottom
	widths := columnWidths(pageW)
	headHeight := lineHeight + 2*cellPadding
	// lines that fit in one row on a page holding only the head row
	pageLines := int((limit - marginTop - headHeight - 2*cellPadding) / lineHeight)

	pdf.SetCellMargin(cellPadding)
	pdf.SetLineWidth(0.1)
	pdf.SetDrawColor(80, 80, 80)

	y := r.drawTableHead(p, widths, tableTop)
	for i, item := range rec.Items {
		cells := [4]string{
			item.Description,
			item.Quantity.String(),
			money(rec.Currency, item.UnitPrice),
			money(rec.Currency, item.LineTotal),
		}

		p.setFont("", 9)
		var lines [4][]string
		for c, cell := range cells {
			lines[c] = p.wrap(cell, widths[c])
		}

		style := "D"
		if i%2 == 1 {
			style = "FD"
		}

		// A row stays whole when a fresh page can hold it; taller rows are
		// split across pages.
		for {
			rows := rowLines(lines)
			height := float64(rows)*lineHeight + 2*cellPadding
			if y+height <= limit {
				r.drawRow(p, widths, lines, y, height, style)
				y += height
				break
			}

			fit := int((limit - y - 2*cellPadding) / lineHeight)
			if rows > pageLines && fit >= 1 {
				var head [4][]string
				for c := range lines {
					n := min(fit, len(lines[c]))
					head[c], lines[c] = lines[c][:n], lines[c][n:]
				}
				r.drawRow(p, widths, head, y, float64(fit)*lineHeight+2*cellPadding, style)
			}

			pdf.AddPage()
			y = r.drawTableHead(p, widths, marginTop)
			p.setFont("", 9)
		}
	}
	return y
}

// drawRow draws one table row (or one page's share of it) at y
func (r *Renderer) drawRow(p *page, widths [4]float64, lines [4][]string, y, height float64, style string) {
	pdf := p.pdf
	if style == "FD" {
		pdf.SetFillColor(245, 245, 245)
	}
	pdf.SetTextColor(50, 50, 50)
	x := marginLeft
	for c := range lines {
		pdf.Rect(x, y, widths[c], height, style)
		for n, line := range lines[c] {
			pdf.SetXY(x, y+cellPadding+float64(n)*lineHeight)
			pdf.CellFormat(widths[c], lineHeight, line, "", 0, tableAligns[c], false, 0, "")
		}
		x += widths[c]
	}
}

func rowLines(lines [4][]string) int {
	rows := 1
	for _, l := range lines {
		rows = max(rows, len(l))
	}
	return rows
}

func (r *Renderer) drawTableHead(p *page, widths [4]float64, y float64) float64 {
	pdf := p.pdf
	height := lineHeight + 2*cellPadding

	p.setFont("B", 10)
	pdf.SetFillColor(66, 139, 202)
	pdf.SetTextColor(255, 255, 255)
	x := marginLeft
	for c, heading := range tableHeadings {
		pdf.SetXY(x, y)
		pdf.CellFormat(widths[c], height, heading, "1", 0, "CM", true, 0, "")
		x += widths[c]
	}
	return y + height
}

// drawTotals anchors the totals block just below the table
func (r *Renderer) drawTotals(p *page, rec *invoice.Record, finalY float64) {
	pdf := p.pdf
	_, pageH := pdf.GetPageSize()

	y := finalY + totalsGap
	if y+totalsDepth > pageH-marginBottom {
		pdf.AddPage()
		y = marginTop + totalsGap
	}

	pdf.SetTextColor(0, 0, 0)
	p.setFont("", 10)
	p.textRight(rightEdge, y, "Subtotal: "+money(rec.Currency, rec.Subtotal))
	p.textRight(rightEdge, y+7, fmt.Sprintf("Markup (%s): %s", invoice.MarkupPercent, money(rec.Currency, rec.Markup())))

	p.setFont("B", 11)
	p.textRight(rightEdge, y+15, "Total: "+money(rec.Currency, rec.MarkupTotal))
}

func columnWidths(pageW float64) [4]float64 {
	usable := pageW - marginLeft - marginRight
	description := usable
	for _, w := range fixedColumnWidths {
		description -= w
	}
	return [4]float64{
		max(description, minDescriptionWidth),
		fixedColumnWidths[0],
		fixedColumnWidths[1],
		fixedColumnWidths[2],
	}
}

func money(currency string, amount decimal.Decimal) string {
	return currency + " " + amount.StringFixed(2)
}

// singleLine folds a multi-line address into one printable line
func singleLine(s string) string {
	var parts []string
	for _, part := range strings.Split(s, "\n") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}
