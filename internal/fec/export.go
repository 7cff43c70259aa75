package fec

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const sheetName = "FEC"

// WriteFEC writes the document as a tab separated FEC file with header.
func WriteFEC(w io.Writer, doc *Document) error {
	return WriteCSV(w, doc, '\t')
}

// WriteCSV writes the document with the given separator.
func WriteCSV(w io.Writer, doc *Document, sep rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = sep
	if err := cw.Write(ColumnNames()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range doc.Entries {
		if err := cw.Write(e.Values()); err != nil {
			return fmt.Errorf("write row %d: %w", e.Row, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the document as a single-sheet workbook. Debit and Credit
// are stored as numbers so the sheet can total them.
func WriteXLSX(w io.Writer, doc *Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for i, name := range ColumnNames() {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(Fields), 1)
	if err := f.SetCellStyle(sheetName, "A1", last, bold); err != nil {
		return err
	}

	for r, e := range doc.Entries {
		for c, v := range e.Values() {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			var value any = v
			switch Fields[c].Name {
			case "Debit":
				value = e.Debit.Float()
			case "Credit":
				value = e.Credit.Float()
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
