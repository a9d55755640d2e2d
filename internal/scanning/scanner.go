package scanning

import "context"

// Scanner hands an uploaded source invoice to an extraction service and
// returns the service's response text. The text is loosely structured and is
// left for the invoice normalizer to interpret.
type Scanner interface {
	// ScanInvoice extracts invoice data from a PDF or image
	ScanInvoice(ctx context.Context, filename string, data []byte, contentType string) (string, error)
	// Close releases resources held by the scanner
	Close() error
}
