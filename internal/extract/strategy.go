package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Labels printed next to the values in the receipt table
const (
	DateTimeLabel = "Transaction Date & Time:"
	VolumeLabel   = "Volume:"
)

// NewStrategy returns the strategy registered under name: "table" or "delimiter"
func NewStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "table":
		return NewTableStrategy(), nil
	case "delimiter":
		return NewDelimiterStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q", name)
	}
}

// TableStrategy finds a labelled <td> and reads the cell that follows it
type TableStrategy struct {
	DateTimeLabel string
	VolumeLabel   string
}

// NewTableStrategy creates a TableStrategy for the CaltexGO receipt labels
func NewTableStrategy() *TableStrategy {
	return &TableStrategy{
		DateTimeLabel: DateTimeLabel,
		VolumeLabel:   VolumeLabel,
	}
}

// Fields implements Strategy
func (t *TableStrategy) Fields(body string) (Fields, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return Fields{}, &ParseError{Step: StepLookup, Reason: "parsing markup", Err: err}
	}

	var cells []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Td {
			cells = append(cells, strings.TrimSpace(nodeText(n)))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	dateTime, err := adjacentCell(cells, t.DateTimeLabel, FieldDate)
	if err != nil {
		return Fields{}, err
	}
	volume, err := adjacentCell(cells, t.VolumeLabel, FieldVolume)
	if err != nil {
		return Fields{}, err
	}
	return Fields{DateTime: dateTime, Volume: volume}, nil
}

func adjacentCell(cells []string, label string, field Field) (string, error) {
	for i, cell := range cells {
		if cell != label {
			continue
		}
		if i+1 >= len(cells) {
			return "", &ParseError{
				Step:   StepLookup,
				Field:  field,
				Reason: fmt.Sprintf("can't find cell after %q", label),
			}
		}
		return cells[i+1], nil
	}
	return "", &ParseError{
		Step:   StepLookup,
		Field:  field,
		Reason: fmt.Sprintf("can't find %q cell", label),
	}
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// Keywords bracket a value in the text projection of a body
type Keywords struct {
	Start string
	End   string
}

// DelimiterStrategy takes the text strictly between a start and an end keyword
type DelimiterStrategy struct {
	DateTime Keywords
	Volume   Keywords
}

// NewDelimiterStrategy creates a DelimiterStrategy reading the value on the label's line
// or, for table markup, the line after it.
func NewDelimiterStrategy() *DelimiterStrategy {
	return &DelimiterStrategy{
		DateTime: Keywords{Start: DateTimeLabel, End: "\n"},
		Volume:   Keywords{Start: VolumeLabel, End: "\n"},
	}
}

// Fields implements Strategy
func (d *DelimiterStrategy) Fields(body string) (Fields, error) {
	text := plainText(body)

	dateTime, err := between(text, d.DateTime, FieldDate)
	if err != nil {
		return Fields{}, err
	}
	volume, err := between(text, d.Volume, FieldVolume)
	if err != nil {
		return Fields{}, err
	}
	return Fields{DateTime: dateTime, Volume: volume}, nil
}

func between(text string, kw Keywords, field Field) (string, error) {
	i := strings.Index(text, kw.Start)
	if i == -1 {
		return "", &ParseError{
			Step:   StepLookup,
			Field:  field,
			Reason: fmt.Sprintf("can't find start keyword %q", kw.Start),
		}
	}
	rest := strings.TrimLeft(text[i+len(kw.Start):], " \t\r\n")
	j := strings.Index(rest, kw.End)
	if j == -1 {
		return "", &ParseError{
			Step:   StepLookup,
			Field:  field,
			Reason: fmt.Sprintf("can't find end keyword %q after %q", kw.End, kw.Start),
		}
	}
	return strings.TrimSpace(rest[:j]), nil
}

// plainText drops markup and emits every text node on its own newline-terminated line
func plainText(body string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(body))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF, or a reader error which strings.Reader never returns
			return sb.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if a := atom.Lookup(name); a == atom.Script || a == atom.Style {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if a := atom.Lookup(name); (a == atom.Script || a == atom.Style) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			sb.WriteString(text)
			sb.WriteByte('\n')
		}
	}
}
