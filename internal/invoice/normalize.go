package invoice

import (
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Normalizer turns a raw extraction payload into a Record. It holds no
// per-call state and may be shared.
type Normalizer struct {
	clock TimeSource
}

// NewNormalizer creates a Normalizer that dates invoices with the system clock
func NewNormalizer() *Normalizer {
	return &Normalizer{clock: systemClock{}}
}

// NewNormalizerWithClock creates a Normalizer with a custom time source for testing
func NewNormalizerWithClock(clock TimeSource) *Normalizer {
	return &Normalizer{clock: clock}
}

// Normalize extracts the invoice document from raw, validates its item list
// and computes line totals, subtotal and markup. Every failure is a
// *ProcessingError wrapping a *MalformedPayloadError or *ValidationError.
func (n *Normalizer) Normalize(raw any, md Metadata) (*Record, error) {
	ex, err := extract(raw)
	if err != nil {
		return nil, &ProcessingError{Stage: StageExtract, Err: err}
	}
	slog.Debug("Extracted invoice payload", "source", ex.kind.String(), "strategy", ex.strategy)
	doc := ex.doc

	items := doc.Get("items")
	if !items.Exists() || items.Type == gjson.Null {
		return nil, &ProcessingError{Stage: StageValidate, Err: &ValidationError{Message: "missing items"}}
	}
	if !items.IsArray() {
		return nil, &ProcessingError{Stage: StageValidate, Err: &ValidationError{Message: "items is not a list"}}
	}

	currency := documentCurrency(items)
	lines := make([]LineItem, 0, len(items.Array()))
	subtotal := decimal.Zero
	for _, item := range items.Array() {
		line := normalizeItem(item, currency)
		subtotal = subtotal.Add(line.LineTotal)
		lines = append(lines, line)
	}

	return &Record{
		InvoiceNumber: md.InvoiceNumber,
		IssueDate:     n.clock.Now().Format(IssueDateLayout),
		Incoterms:     incoterms(doc),
		PaymentTerms:  md.PaymentTerms,
		Currency:      currency,
		Items:         lines,
		Subtotal:      subtotal,
		OriginalTotal: subtotal,
		MarkupTotal:   round2(subtotal.Mul(markupFactor)),
		MarkupApplied: true,
		Client:        md.Client,
	}, nil
}

// Normalize runs a default Normalizer
func Normalize(raw any, md Metadata) (*Record, error) {
	return NewNormalizer().Normalize(raw, md)
}

func normalizeItem(item gjson.Result, currency string) LineItem {
	quantity := amount(item.Get("quantity"))
	unitPrice := amount(item.Get("unitPrice"))

	itemCurrency := text(item.Get("currency"))
	if itemCurrency == "" {
		itemCurrency = currency
	}

	return LineItem{
		Description: item.Get("description").String(),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		LineTotal:   round2(quantity.Mul(unitPrice)),
		Currency:    itemCurrency,
	}
}

// documentCurrency resolves the single currency used across the document
// from the first item alone. Later items that disagree are still printed in
// the document currency.
func documentCurrency(items gjson.Result) string {
	first := items.Get("0")
	if c := text(first.Get("currency")); c != "" {
		return c
	}
	return DefaultCurrency
}

// incoterms takes the first word of the free-text delivery terms
func incoterms(doc gjson.Result) string {
	fields := strings.Fields(text(doc.Get("delivery.terms")))
	if len(fields) == 0 {
		return DefaultIncoterms
	}
	return fields[0]
}

// amount coerces a JSON number or numeric string. Anything else, including
// negative or out of range values, becomes zero.
func amount(v gjson.Result) decimal.Decimal {
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
	default:
		return decimal.Zero
	}
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() || !inRange(d) {
		return decimal.Zero
	}
	return d
}

// Amounts beyond these bounds are not invoice figures. Rescaling a value like
// 1e50000000 to two places would run for seconds, so they count as unusable.
const (
	maxAmountExponent = 18
	maxAmountDigits   = 30
)

func inRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp > maxAmountExponent || exp < -maxAmountExponent {
		return false
	}
	return d.NumDigits() <= maxAmountDigits
}

func text(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.Str)
}
