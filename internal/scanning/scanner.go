package scanning

import "github.com/shopspring/decimal"

// LineItem is one purchased item read from a receipt
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ReceiptData contains extracted information from a receipt.
// Empty strings and a nil TotalAmount mean the model could not find the field.
type ReceiptData struct {
	Vendor       string           `json:"vendor"`
	PurchaseDate string           `json:"purchase_date"` // YYYY-MM-DD
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	Items        []LineItem       `json:"items"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts structured data
	ScanReceipt(imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// TextExtractor turns raw OCR text into structured receipt data
type TextExtractor interface {
	ExtractFromText(text string) (*ReceiptData, error)
}
