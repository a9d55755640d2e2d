package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 120 * time.Second

// Webhook hands the source invoice to an automation service (a Make or
// Zapier style hook) that runs OCR and answers with the extracted data, either
// as JSON or as text with JSON inside it.
type Webhook struct {
	url    string
	client *resty.Client
}

type webhookRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// NewWebhook creates a Webhook scanner posting to url
func NewWebhook(url string, timeout time.Duration) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Webhook{
		url:    url,
		client: client,
	}, nil
}

// ScanInvoice posts the base64 encoded file and returns the response body
func (w *Webhook) ScanInvoice(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookRequest{
			Filename: filename,
			Content:  base64.StdEncoding.EncodeToString(data),
		}).
		Post(w.url)
	if err != nil {
		return "", fmt.Errorf("calling webhook: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("webhook error (status %d): %s", resp.StatusCode(), resp.String())
	}

	return cleanResponse(resp.String())
}

// Close releases idle connections
func (w *Webhook) Close() error {
	w.client.GetClient().CloseIdleConnections()
	return nil
}
