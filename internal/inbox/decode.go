package inbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // Register non UTF-8 charsets
)

// DecodeError is returned when a raw message cannot be turned into text
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoded is the readable form of an RFC 5322 message
type Decoded struct {
	MessageID string
	From      string
	Subject   string
	Body      string
}

// Decode parses a raw message, undoes its transfer encoding and charset, and
// returns the first text/html part, falling back to the first text/plain part.
// Non-ASCII characters are dropped from the body.
func Decode(raw []byte) (*Decoded, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, &DecodeError{Err: err}
	}

	decoded := &Decoded{
		MessageID: strings.Trim(strings.TrimSpace(entity.Header.Get("Message-Id")), "<>"),
		From:      entity.Header.Get("From"),
		Subject:   entity.Header.Get("Subject"),
	}

	var htmlBody, textBody string
	var foundHTML, foundText bool
	err = entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				return nil
			}
			return err
		}

		mediaType, _, ctErr := part.Header.ContentType()
		if ctErr != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		switch {
		case mediaType == "text/html" && !foundHTML:
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return fmt.Errorf("reading html part: %w", readErr)
			}
			htmlBody, foundHTML = string(body), true
		case mediaType == "text/plain" && !foundText:
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				return fmt.Errorf("reading text part: %w", readErr)
			}
			textBody, foundText = string(body), true
		}
		return nil
	})
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch {
	case foundHTML:
		decoded.Body = toASCII(htmlBody)
	case foundText:
		decoded.Body = toASCII(textBody)
	default:
		return nil, &DecodeError{Err: fmt.Errorf("no text part in message")}
	}
	return decoded, nil
}

func toASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 127 {
			return -1
		}
		return r
	}, s)
}
