package reports

import (
	"context"
	"fmt"
	"io"

	"bitbucket.org/mmdatafocus/procure_backend/models"
	"github.com/xuri/excelize/v2"
)

// WriteFlaggedInvoiceReport streams an xlsx workbook of every open flag
// joined with its invoice and vendor, highest severity first.
func WriteFlaggedInvoiceReport(ctx context.Context, w io.Writer) error {
	rows, err := models.GetFlaggedInvoiceRows(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "ValidationId")
	f.SetCellValue(sheet, "B1", "InvoiceId")
	f.SetCellValue(sheet, "C1", "InvoiceNumber")
	f.SetCellValue(sheet, "D1", "VendorName")
	f.SetCellValue(sheet, "E1", "TotalAmount")
	f.SetCellValue(sheet, "F1", "RuleType")
	f.SetCellValue(sheet, "G1", "Severity")
	f.SetCellValue(sheet, "H1", "FlaggedAt")

	// Add data
	for i, row := range rows {
		rowNo := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+rowNo, row.ValidationId)
		f.SetCellValue(sheet, "B"+rowNo, row.InvoiceId)
		f.SetCellValue(sheet, "C"+rowNo, row.InvoiceNumber)
		f.SetCellValue(sheet, "D"+rowNo, row.VendorName)
		f.SetCellValue(sheet, "E"+rowNo, row.TotalAmount)
		f.SetCellValue(sheet, "F"+rowNo, string(row.RuleType))
		f.SetCellValue(sheet, "G"+rowNo, string(row.Severity))
		f.SetCellValue(sheet, "H"+rowNo, row.FlaggedAt.Format("2006-01-02 15:04:05"))
	}

	return f.Write(w)
}
