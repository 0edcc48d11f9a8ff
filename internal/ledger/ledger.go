package ledger

import (
	"context"
	"fmt"
)

// DefaultWorksheet is the tab refills are logged to
const DefaultWorksheet = "PetrolSF"

// Entry is a single refill row: columns A to D of the ledger
type Entry struct {
	Date         string  `json:"date"` // DDMMYY
	Mileage      int     `json:"mileage"`
	Refilled     float64 `json:"refilled"`
	CostPerLitre float64 `json:"cost_per_litre"`
}

// Writer defines the operations on the refill ledger
type Writer interface {
	// AppendRecord writes entry to the next empty row and returns that row's index
	AppendRecord(ctx context.Context, entry Entry) (int, error)

	// PreviousMileage returns the mileage of the last logged row, 0 if only the header exists
	PreviousMileage(ctx context.Context) (int, error)
}

// Derived columns written next to every row. Row 1 is the header.
func costFormula(row int) string {
	return fmt.Sprintf("C%[1]d*D%[1]d*0.84", row)
}

func efficiencyFormula(row int) string {
	return fmt.Sprintf("(B%d-B%d)/C%d", row, row-1, row)
}

// hasPreviousRow reports whether efficiency can be computed against a prior data row
func hasPreviousRow(row int) bool {
	return row > 2
}
