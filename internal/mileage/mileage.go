package mileage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PromptFormat is sent to the user, with the current timestamp filled in
const PromptFormat = "[%s] Please enter your mileage for petrol pump:"

// Message is a single chat message received from the user
type Message struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel defines the messaging operations the protocol relies on
type Channel interface {
	// Send delivers text to the configured chat
	Send(ctx context.Context, text string) error

	// LatestMessages returns the chat's messages, oldest first
	LatestMessages(ctx context.Context) ([]Message, error)
}

// RetryPolicy bounds how the protocol waits on the channel
type RetryPolicy struct {
	// TransportBackoff is the fixed delay after a failed Send or LatestMessages
	TransportBackoff time.Duration
	// PollInterval is the delay between polls while no acceptable reply exists
	PollInterval time.Duration
	// MaxTransportRetries caps consecutive retries of one call; 0 retries forever
	MaxTransportRetries int
	// MaxWait caps a whole confirmation; 0 waits forever
	MaxWait time.Duration
}

// DefaultRetryPolicy retries transport errors every minute and polls every five seconds
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		TransportBackoff: 60 * time.Second,
		PollInterval:     5 * time.Second,
	}
}

// State is a step of the confirmation state machine
type State string

const (
	StateAwaitingSend  State = "AWAITING_SEND"
	StateAwaitingReply State = "AWAITING_REPLY"
	StateRetryPoll     State = "RETRY_POLL"
	StateAccepted      State = "ACCEPTED"
	StateDone          State = "DONE"
)

// ReplyParseError is returned when the latest reply is not an integer
type ReplyParseError struct {
	Text string
	Err  error
}

func (e *ReplyParseError) Error() string {
	return fmt.Sprintf("can't parse mileage from user: %q: %v", e.Text, e.Err)
}

func (e *ReplyParseError) Unwrap() error {
	return e.Err
}

// TransportError is returned once a bounded retry policy gives up on the channel
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseReply reads an odometer value out of a chat message
func ParseReply(text string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, &ReplyParseError{Text: text, Err: err}
	}
	return v, nil
}
