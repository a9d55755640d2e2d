package invoice

import "github.com/shopspring/decimal"

const (
	// DefaultCurrency is used when the first line item declares no currency.
	DefaultCurrency = "EUR"
	// DefaultIncoterms is used when the payload carries no delivery terms.
	DefaultIncoterms = "FOB"
	// IssueDateLayout renders dates in day/month/year order.
	IssueDateLayout = "02/01/2006"
	// MarkupPercent is the surcharge label shown on rendered documents.
	MarkupPercent = "2.5%"
)

// markupFactor is applied once to the subtotal.
var markupFactor = decimal.RequireFromString("1.025")

// ClientDetails identifies the party being invoiced
type ClientDetails struct {
	Name    string `json:"name" validate:"required"`
	Address string `json:"address" validate:"required"`
	TaxID   string `json:"taxId" validate:"required"`
}

// Metadata is the operator-supplied part of an invoice. None of it is taken
// from the scanned payload, which belongs to a different billing party.
type Metadata struct {
	InvoiceNumber string        `json:"invoiceNumber" validate:"required"`
	PaymentTerms  string        `json:"paymentTerms" validate:"required"`
	Client        ClientDetails `json:"client"`
}

// LineItem is a validated invoice line
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
}

// Record is a normalized invoice ready for rendering. A Record is never
// modified after Normalize returns it.
type Record struct {
	InvoiceNumber string          `json:"invoiceNumber"`
	IssueDate     string          `json:"date"`
	Incoterms     string          `json:"incoterms"`
	PaymentTerms  string          `json:"paymentTerms"`
	Currency      string          `json:"currency"`
	Items         []LineItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	OriginalTotal decimal.Decimal `json:"originalTotal"`
	MarkupTotal   decimal.Decimal `json:"markupTotal"`
	MarkupApplied bool            `json:"markupApplied"`
	Client        ClientDetails   `json:"clientDetails"`
}

// Markup returns the surcharge added on top of the original total
func (r *Record) Markup() decimal.Decimal {
	return r.MarkupTotal.Sub(r.OriginalTotal)
}

// round2 rounds a monetary value to two fractional digits, half away from zero.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
