// Package tesseract reads receipts with Tesseract OCR and hands the text to a
// language model for structuring.
package tesseract

import (
	"fmt"
	"io"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// Scanner implements scanning.Scanner as an OCR pass followed by a text extraction pass
type Scanner struct {
	languages []string
	extractor scanning.TextExtractor
}

// New creates a Scanner. languages uses Tesseract's plus-separated form, e.g. "kor+eng".
func New(languages string, extractor scanning.TextExtractor) (*Scanner, error) {
	if extractor == nil {
		return nil, fmt.Errorf("a text extractor is required")
	}
	if languages == "" {
		languages = "eng"
	}
	return &Scanner{
		languages: strings.Split(languages, "+"),
		extractor: extractor,
	}, nil
}

// ScanReceipt runs OCR on a preprocessed copy of the image and structures the text
func (s *Scanner) ScanReceipt(imageData []byte, contentType string) (*scanning.ReceiptData, error) {
	prepared, err := scanning.PrepareForOCR(imageData, contentType)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(s.languages...); err != nil {
		return nil, fmt.Errorf("setting OCR language: %w", err)
	}
	if err := client.SetImageFromBytes(prepared); err != nil {
		return nil, fmt.Errorf("loading image for OCR: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("running OCR: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text recognized")
	}

	return s.extractor.ExtractFromText(text)
}

// Close releases the text extractor when it holds resources
func (s *Scanner) Close() error {
	if closer, ok := s.extractor.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
