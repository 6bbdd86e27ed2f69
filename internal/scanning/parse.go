package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"02-01-2006",
	"2006-01-02T15:04:05Z07:00",
}

type rawLineItem struct {
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
}

type rawReceipt struct {
	Vendor       *string          `json:"vendor"`
	PurchaseDate *string          `json:"purchase_date"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	Items        []rawLineItem    `json:"items"`
}

// stripCodeFence removes markdown code fences models like to wrap JSON in
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseReceiptJSON parses a model response. Anything that does not fit the receipt
// schema is rejected rather than patched up.
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text = stripCodeFence(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawReceipt
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data := &ReceiptData{
		TotalAmount: raw.TotalAmount,
		Items:       make([]LineItem, 0, len(raw.Items)),
	}

	if raw.Vendor != nil {
		data.Vendor = strings.TrimSpace(*raw.Vendor)
	}

	if raw.PurchaseDate != nil && strings.TrimSpace(*raw.PurchaseDate) != "" {
		date, err := normalizeDate(strings.TrimSpace(*raw.PurchaseDate))
		if err != nil {
			return nil, err
		}
		data.PurchaseDate = date
	}

	for i, item := range raw.Items {
		if item.Description == nil || strings.TrimSpace(*item.Description) == "" {
			return nil, fmt.Errorf("item %d has no description", i)
		}
		if item.Amount == nil {
			return nil, fmt.Errorf("item %d has no amount", i)
		}
		data.Items = append(data.Items, LineItem{
			Description: strings.TrimSpace(*item.Description),
			Amount:      *item.Amount,
		})
	}

	return data, nil
}

// normalizeDate converts the date formats models commonly return to YYYY-MM-DD
func normalizeDate(value string) (string, error) {
	for _, format := range dateFormats {
		if d, err := time.Parse(format, value); err == nil {
			return d.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized purchase date %q", value)
}
