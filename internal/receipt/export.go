package receipt

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Receipts"

var exportHeaders = []string{"ID", "Receipt ID", "Vendor", "Purchase Date", "Total", "Items", "Approved At"}

// WriteLedgerXLSX writes approved receipts as an Excel workbook
func WriteLedgerXLSX(w io.Writer, receipts []*VerifiedReceipt) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, h)
	}
	styleHeader, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4F46E5"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(exportHeaders), 1)
	f.SetCellStyle(exportSheet, "A1", lastHeader, styleHeader)

	for i, r := range receipts {
		row := i + 2
		items, err := r.Items()
		if err != nil {
			return fmt.Errorf("receipt %s: %w", r.ReceiptID, err)
		}
		descriptions := make([]string, 0, len(items))
		for _, item := range items {
			descriptions = append(descriptions, fmt.Sprintf("%s (%s)", item.Description, item.Amount.StringFixed(2)))
		}

		values := []interface{}{r.ID, r.ReceiptID, "", "", "", strings.Join(descriptions, "; "), r.ApprovedAt.Format("2006-01-02 15:04:05")}
		if r.VendorName != nil {
			values[2] = *r.VendorName
		}
		if r.PurchaseDate != nil {
			values[3] = r.PurchaseDate.String()
		}
		if r.TotalAmount.Valid {
			values[4] = r.TotalAmount.Decimal.InexactFloat64()
		}

		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", row, err)
		}
	}

	f.SetColWidth(exportSheet, "B", "B", 38)
	f.SetColWidth(exportSheet, "C", "C", 25)
	f.SetColWidth(exportSheet, "F", "F", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
