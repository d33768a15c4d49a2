// Package caption asks a vision model for a short description of a scanned
// page, used to title the document when it is delivered.
package caption

import (
	"context"
	"fmt"

	"github.com/zombor/scanbot/internal/imaging"
)

// Summary is what the model found on the page
type Summary struct {
	Title string `json:"title"`
	Date  string `json:"date"` // ISO 8601, empty when the page shows none
	Kind  string `json:"kind"`
}

// Captioner describes scanned pages
type Captioner interface {
	// Describe analyzes a scanned page
	Describe(ctx context.Context, imageData []byte, contentType string) (*Summary, error)
	// Close releases the backend client
	Close() error
}

// documentPrompt is the shared prompt used by all model backends
const documentPrompt = `You are looking at a single scanned page. Read the text on it and extract:

1. **Title**: a short human title for the document, at most eight words. Start with the sender or issuer when one is visible, e.g. "City Water - Invoice March".

2. **Date**: the document date (issue date, letter date, statement date) in ISO 8601 format (YYYY-MM-DD).

3. **Kind**: one of "invoice", "receipt", "letter", "form", "statement", "contract", "photo", "other".

Return ONLY valid JSON in this exact format:
{
  "title": "Issuer - Subject",
  "date": "YYYY-MM-DD",
  "kind": "letter"
}

Important:
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// preparePNG converts the scan to PNG, the one format every backend accepts
func preparePNG(imageData []byte, contentType string) ([]byte, error) {
	data, err := imaging.ToPNG(imageData, contentType)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}
	return data, nil
}
