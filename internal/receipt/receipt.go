package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const dateLayout = "2006-01-02"

// Date is a calendar date serialized as YYYY-MM-DD
type Date struct {
	time.Time
}

// ParseDate parses a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// MarshalJSON implements json.Marshaler
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Item is a single line on a receipt
type Item struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Draft is an extracted receipt waiting in staging for human review
type Draft struct {
	ID           string           `json:"id"`
	VendorName   *string          `json:"vendor"`
	PurchaseDate *Date            `json:"purchase_date"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	Items        []Item           `json:"items"`
	SourceFile   string           `json:"source_file,omitempty"` // inbox image the draft came from
	CreatedAt    time.Time        `json:"created_at"`
}

// Edits holds human corrections applied when a draft is approved.
// A nil field keeps the extracted value; a field named in Clear is removed.
type Edits struct {
	VendorName   *string          `json:"vendor,omitempty"`
	PurchaseDate *Date            `json:"purchase_date,omitempty"`
	TotalAmount  *decimal.Decimal `json:"total_amount,omitempty"`
	Items        *[]Item          `json:"items,omitempty"`
	Clear        []string         `json:"-"` // JSON names of fields sent as null
}

// UnmarshalJSON accepts only the receipt fields. An explicit null marks the field for clearing.
func (e *Edits) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Edits
	for key, value := range raw {
		var target any
		switch key {
		case "vendor":
			target = &out.VendorName
		case "purchase_date":
			target = &out.PurchaseDate
		case "total_amount":
			target = &out.TotalAmount
		case "items":
			target = &out.Items
		default:
			return fmt.Errorf("json: unknown field %q", key)
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			out.Clear = append(out.Clear, key)
			continue
		}
		if err := json.Unmarshal(value, target); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	sort.Strings(out.Clear)
	*e = out
	return nil
}

// IsEmpty reports whether the edits change nothing
func (e Edits) IsEmpty() bool {
	return e.VendorName == nil && e.PurchaseDate == nil && e.TotalAmount == nil && e.Items == nil && len(e.Clear) == 0
}

func (e Edits) clears(field string) bool {
	return slices.Contains(e.Clear, field)
}

// Merge returns a copy of the draft with the edited fields overriding the extracted ones
func (d Draft) Merge(edits Edits) Draft {
	merged := d
	if edits.clears("vendor") {
		merged.VendorName = nil
	}
	if edits.clears("purchase_date") {
		merged.PurchaseDate = nil
	}
	if edits.clears("total_amount") {
		merged.TotalAmount = nil
	}
	if edits.clears("items") {
		merged.Items = nil
	}
	if edits.VendorName != nil {
		v := *edits.VendorName
		merged.VendorName = &v
	}
	if edits.PurchaseDate != nil {
		v := *edits.PurchaseDate
		merged.PurchaseDate = &v
	}
	if edits.TotalAmount != nil {
		v := *edits.TotalAmount
		merged.TotalAmount = &v
	}
	if edits.Items != nil {
		merged.Items = append([]Item(nil), (*edits.Items)...)
	}
	if merged.Items == nil {
		merged.Items = []Item{}
	}
	return merged
}

// VerifiedReceipt is an approved receipt in the ledger
type VerifiedReceipt struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	ReceiptID    string              `gorm:"size:255;uniqueIndex;not null" json:"receipt_id"`
	VendorName   *string             `gorm:"size:255" json:"vendor_name"`
	PurchaseDate *Date               `gorm:"type:date" json:"purchase_date"`
	TotalAmount  decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"total_amount"`
	ItemsJSON    datatypes.JSON      `gorm:"column:items_json" json:"items"`
	ApprovedAt   time.Time           `gorm:"not null;index" json:"approved_at"`
}

// TableName pins the ledger table name
func (VerifiedReceipt) TableName() string {
	return "verified_receipts"
}

// Items decodes the stored line items
func (v *VerifiedReceipt) Items() ([]Item, error) {
	items := make([]Item, 0)
	if len(v.ItemsJSON) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(v.ItemsJSON, &items); err != nil {
		return nil, fmt.Errorf("unmarshaling items: %w", err)
	}
	return items, nil
}

// Category is a manually registered expense category
type Category struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName pins the categories table name
func (Category) TableName() string {
	return "categories"
}
