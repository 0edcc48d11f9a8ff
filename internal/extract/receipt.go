package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultMarker identifies a CaltexGO successful payment email
const DefaultMarker = "Thank You - Successful Payment ("

// volumeDelimiter separates refilled litres from the price per litre
const volumeDelimiter = "litre @"

// decimalPattern admits plain decimals only; ParseFloat alone also takes NaN, Inf and hex
var decimalPattern = regexp.MustCompile(`^([0-9]+\.?[0-9]*|\.[0-9]+)$`)

// ErrNotApplicable is returned when the body is not a receipt at all
var ErrNotApplicable = errors.New("not a receipt")

// Receipt contains the fields extracted from a refill receipt
type Receipt struct {
	Date          time.Time `json:"date"`
	VolumeLitres  float64   `json:"volume_litres"`
	PricePerLitre float64   `json:"price_per_litre"`
}

// DDMMYY renders the receipt date as six digits
func (r *Receipt) DDMMYY() string {
	return r.Date.Format("020106")
}

// Fields holds the raw text of the cells a strategy located
type Fields struct {
	DateTime string
	Volume   string
}

// Strategy locates the raw field text inside a receipt body
type Strategy interface {
	Fields(body string) (Fields, error)
}

// Extractor turns decoded email bodies into receipts
type Extractor struct {
	marker   string
	strategy Strategy
}

// NewExtractor creates an Extractor. An empty marker falls back to DefaultMarker.
func NewExtractor(marker string, strategy Strategy) *Extractor {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Extractor{
		marker:   marker,
		strategy: strategy,
	}
}

// Extract parses a receipt body.
// Bodies without the marker yield ErrNotApplicable, malformed receipts a *ParseError.
func (e *Extractor) Extract(body string) (*Receipt, error) {
	if !strings.Contains(body, e.marker) {
		return nil, ErrNotApplicable
	}

	fields, err := e.strategy.Fields(body)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, &ParseError{Step: StepLookup, Reason: "locating receipt fields", Err: err}
	}

	date, err := parseDate(fields.DateTime)
	if err != nil {
		return nil, err
	}

	litres, price, err := parseVolume(fields.Volume)
	if err != nil {
		return nil, err
	}

	return &Receipt{
		Date:          date,
		VolumeLitres:  litres,
		PricePerLitre: price,
	}, nil
}

// parseDate reads "YYYY-MM-DD,HH:MM[:SS]" and keeps the date portion
func parseDate(text string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(text), ",")
	if len(parts) != 2 {
		return time.Time{}, &ParseError{
			Step:   StepFormat,
			Field:  FieldDate,
			Reason: fmt.Sprintf("can't split %q into date and time", text),
		}
	}

	ymd := strings.Split(strings.TrimSpace(parts[0]), "-")
	if len(ymd) != 3 {
		return time.Time{}, &ParseError{
			Step:   StepFormat,
			Field:  FieldDate,
			Reason: fmt.Sprintf("can't split %q into year, month and day", parts[0]),
		}
	}

	nums := make([]int, 3)
	for i, p := range ymd {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, &ParseError{
				Step:   StepFormat,
				Field:  FieldDate,
				Reason: fmt.Sprintf("non-numeric date component %q", p),
				Err:    err,
			}
		}
		nums[i] = n
	}

	date := time.Date(nums[0], time.Month(nums[1]), nums[2], 0, 0, 0, 0, time.UTC)
	// time.Date normalises overflow, so 2021-02-30 would silently become March 2nd
	if date.Year() != nums[0] || int(date.Month()) != nums[1] || date.Day() != nums[2] {
		return time.Time{}, &ParseError{
			Step:   StepFormat,
			Field:  FieldDate,
			Reason: fmt.Sprintf("%q is not a calendar date", parts[0]),
		}
	}

	return date, nil
}

// parseVolume reads "<refilled> litre @ <costperlitre>"
func parseVolume(text string) (float64, float64, error) {
	if !strings.Contains(text, volumeDelimiter) {
		return 0, 0, &ParseError{
			Step:   StepLookup,
			Field:  FieldVolume,
			Reason: fmt.Sprintf("can't find %q delim", volumeDelimiter),
		}
	}

	parts := strings.Split(text, volumeDelimiter)
	if len(parts) != 2 {
		return 0, 0, &ParseError{
			Step:   StepFormat,
			Field:  FieldVolume,
			Reason: fmt.Sprintf("%q appears more than once", volumeDelimiter),
		}
	}

	litres, err := parsePositive(parts[0])
	if err != nil {
		return 0, 0, err
	}
	price, err := parsePositive(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return litres, price, nil
}

func parsePositive(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if !decimalPattern.MatchString(text) {
		return 0, &ParseError{
			Step:   StepConversion,
			Field:  FieldVolume,
			Reason: fmt.Sprintf("%q is not a decimal", text),
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, &ParseError{
			Step:   StepConversion,
			Field:  FieldVolume,
			Reason: fmt.Sprintf("can't convert %q to float", text),
			Err:    err,
		}
	}
	if v <= 0 {
		return 0, &ParseError{
			Step:   StepConversion,
			Field:  FieldVolume,
			Reason: fmt.Sprintf("%q is not positive", text),
		}
	}
	return v, nil
}
