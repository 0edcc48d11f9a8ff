package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsLedger implements Writer on a Google Sheets worksheet
type SheetsLedger struct {
	service       *sheets.Service
	spreadsheetID string
	worksheet     string
}

// NewSheetsLedger creates a SheetsLedger. Callers pass credentials through opts,
// e.g. option.WithCredentialsFile for a service account key.
func NewSheetsLedger(ctx context.Context, spreadsheetID, worksheet string, opts ...option.ClientOption) (*SheetsLedger, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}

	return &SheetsLedger{
		service:       service,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
	}, nil
}

// a1 quotes the worksheet name so spaces and punctuation survive in the range
func (s *SheetsLedger) a1(ref string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(s.worksheet, "'", "''"), ref)
}

// nextAvailableRow counts the non-empty cells of column A
func (s *SheetsLedger) nextAvailableRow(ctx context.Context) (int, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("reading column A: %w", err)
	}

	count := 0
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(fmt.Sprint(row[0])); v != "" {
			count++
		}
	}
	return count + 1, nil
}

// PreviousMileage implements Writer
func (s *SheetsLedger) PreviousMileage(ctx context.Context) (int, error) {
	next, err := s.nextAvailableRow(ctx)
	if err != nil {
		return 0, err
	}
	last := next - 1
	if last < 2 {
		return 0, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1(fmt.Sprintf("B%d", last))).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("reading mileage at row %d: %w", last, err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return 0, fmt.Errorf("no mileage at row %d", last)
	}

	mileage, err := strconv.Atoi(strings.TrimSpace(fmt.Sprint(resp.Values[0][0])))
	if err != nil {
		return 0, fmt.Errorf("parsing mileage at row %d: %w", last, err)
	}
	return mileage, nil
}

// AppendRecord implements Writer
func (s *SheetsLedger) AppendRecord(ctx context.Context, entry Entry) (int, error) {
	row, err := s.nextAvailableRow(ctx)
	if err != nil {
		return 0, err
	}

	// RAW keeps the DDMMYY date as text so a leading zero survives
	values := &sheets.ValueRange{
		Values: [][]interface{}{{entry.Date, entry.Mileage, entry.Refilled, entry.CostPerLitre}},
	}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.a1(fmt.Sprintf("A%d:D%d", row, row)), values).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("writing row %d: %w", row, err)
	}

	data := []*sheets.ValueRange{{
		Range:  s.a1(fmt.Sprintf("E%d", row)),
		Values: [][]interface{}{{"=" + costFormula(row)}},
	}}
	if hasPreviousRow(row) {
		data = append(data, &sheets.ValueRange{
			Range:  s.a1(fmt.Sprintf("G%d", row)),
			Values: [][]interface{}{{"=" + efficiencyFormula(row)}},
		})
	}
	_, err = s.service.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("writing formulas for row %d: %w", row, err)
	}

	return row, nil
}
