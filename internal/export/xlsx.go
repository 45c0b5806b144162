package export

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XlsxWriter writes the report to a local .xlsx workbook, one sheet per fund.
type XlsxWriter struct {
	path string
}

// NewXlsxWriter creates a writer targeting the given file path.
func NewXlsxWriter(path string) *XlsxWriter {
	return &XlsxWriter{path: path}
}

// Write renders and saves the workbook, replacing any existing file.
func (w *XlsxWriter) Write(ctx context.Context, report Report) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, fr := range report.Funds {
		if err := ctx.Err(); err != nil {
			return err
		}
		sheet := sheetName(fr)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return fmt.Errorf("naming sheet %s: %w", sheet, err)
			}
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return fmt.Errorf("creating sheet %s: %w", sheet, err)
			}
		}

		for rowIdx, row := range navRows(fr) {
			cell, err := excelize.CoordinatesToCellName(1, rowIdx+1)
			if err != nil {
				return fmt.Errorf("addressing row %d: %w", rowIdx+1, err)
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return fmt.Errorf("writing row %d of %s: %w", rowIdx+1, sheet, err)
			}
		}
	}

	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("saving report to %s: %w", w.path, err)
	}
	return nil
}

func sheetName(fr FundReport) string {
	if fr.Fund.Name != "" {
		return fr.Fund.Name
	}
	return fmt.Sprintf("Fund %d", fr.Fund.ID)
}
