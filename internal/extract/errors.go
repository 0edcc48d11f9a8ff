package extract

import "fmt"

// Step names the stage of extraction that failed
type Step string

const (
	StepLookup     Step = "lookup"
	StepFormat     Step = "format"
	StepConversion Step = "conversion"
)

// Field names a logical receipt field
type Field string

const (
	FieldDate   Field = "date"
	FieldVolume Field = "volume"
)

// ParseError reports a receipt that carries the marker but cannot be read
type ParseError struct {
	Step   Step
	Field  Field
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parsing error"
	if e.Field != "" {
		msg = fmt.Sprintf("parsing error (%s %s)", e.Field, e.Step)
	} else if e.Step != "" {
		msg = fmt.Sprintf("parsing error (%s)", e.Step)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
