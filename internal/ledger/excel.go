package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

var excelHeaders = []string{"Date", "Mileage", "Refilled", "Cost/Litre", "Cost", "Notes", "Km/Litre"}

// ExcelLedger implements Writer on a local XLSX workbook
type ExcelLedger struct {
	path  string
	sheet string
	mu    sync.Mutex
}

// NewExcelLedger creates an ExcelLedger, creating the workbook with a header row if needed
func NewExcelLedger(path, sheet string) (*ExcelLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("workbook path is required")
	}
	if sheet == "" {
		sheet = DefaultWorksheet
	}

	l := &ExcelLedger{path: path, sheet: sheet}
	f, err := l.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("saving workbook: %w", err)
	}
	return l, nil
}

// open loads the workbook, creating it or the sheet when missing
func (l *ExcelLedger) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
		if err := f.SetSheetName("Sheet1", l.sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("naming sheet: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}

	index, err := f.GetSheetIndex(l.sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("looking up sheet: %w", err)
	}
	if index == -1 {
		if _, err := f.NewSheet(l.sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("creating sheet: %w", err)
		}
	}

	header, err := f.GetCellValue(l.sheet, "A1")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if header == "" {
		for i, h := range excelHeaders {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			_ = f.SetCellValue(l.sheet, cell, h)
		}
	}
	return f, nil
}

func (l *ExcelLedger) nextAvailableRow(f *excelize.File) (int, error) {
	rows, err := f.GetRows(l.sheet)
	if err != nil {
		return 0, fmt.Errorf("reading rows: %w", err)
	}
	count := 0
	for _, row := range rows {
		if len(row) > 0 && strings.TrimSpace(row[0]) != "" {
			count++
		}
	}
	return count + 1, nil
}

// PreviousMileage implements Writer
func (l *ExcelLedger) PreviousMileage(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	next, err := l.nextAvailableRow(f)
	if err != nil {
		return 0, err
	}
	last := next - 1
	if last < 2 {
		return 0, nil
	}

	value, err := f.GetCellValue(l.sheet, fmt.Sprintf("B%d", last))
	if err != nil {
		return 0, fmt.Errorf("reading mileage at row %d: %w", last, err)
	}
	mileage, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parsing mileage at row %d: %w", last, err)
	}
	return mileage, nil
}

// AppendRecord implements Writer
func (l *ExcelLedger) AppendRecord(ctx context.Context, entry Entry) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := l.open()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	row, err := l.nextAvailableRow(f)
	if err != nil {
		return 0, err
	}

	write := func(col string, v any) error {
		return f.SetCellValue(l.sheet, fmt.Sprintf("%s%d", col, row), v)
	}
	if err := f.SetCellStr(l.sheet, fmt.Sprintf("A%d", row), entry.Date); err != nil {
		return 0, fmt.Errorf("writing date: %w", err)
	}
	if err := write("B", entry.Mileage); err != nil {
		return 0, fmt.Errorf("writing mileage: %w", err)
	}
	if err := write("C", entry.Refilled); err != nil {
		return 0, fmt.Errorf("writing refilled: %w", err)
	}
	if err := write("D", entry.CostPerLitre); err != nil {
		return 0, fmt.Errorf("writing cost per litre: %w", err)
	}
	if err := f.SetCellFormula(l.sheet, fmt.Sprintf("E%d", row), costFormula(row)); err != nil {
		return 0, fmt.Errorf("writing cost formula: %w", err)
	}
	if hasPreviousRow(row) {
		if err := f.SetCellFormula(l.sheet, fmt.Sprintf("G%d", row), efficiencyFormula(row)); err != nil {
			return 0, fmt.Errorf("writing efficiency formula: %w", err)
		}
	}

	if err := f.SaveAs(l.path); err != nil {
		return 0, fmt.Errorf("saving workbook: %w", err)
	}
	return row, nil
}
