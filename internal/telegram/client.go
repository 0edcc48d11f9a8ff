package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/petrol-logger/internal/mileage"
)

// DefaultBaseURL is the public Telegram Bot API endpoint
const DefaultBaseURL = "https://api.telegram.org"

// Client implements mileage.Channel using the Telegram Bot API
type Client struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewClient creates a new Telegram Client for a single chat
func NewClient(baseURL, token, chatID string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if chatID == "" {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// apiResponse is the envelope every Bot API method returns
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result"`
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type update struct {
	UpdateID int64          `json:"update_id"`
	Message  *updateMessage `json:"message,omitempty"`
}

type updateMessage struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

// Send posts text to the configured chat
func (c *Client) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: c.chatID, Text: text})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	if _, err := c.call(ctx, "sendMessage", body); err != nil {
		return err
	}
	return nil
}

// LatestMessages returns the chat's pending text messages, oldest first
func (c *Client) LatestMessages(ctx context.Context) ([]mileage.Message, error) {
	result, err := c.call(ctx, "getUpdates", nil)
	if err != nil {
		return nil, err
	}

	var updates []update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].UpdateID < updates[j].UpdateID
	})

	messages := make([]mileage.Message, 0, len(updates))
	for _, u := range updates {
		if u.Message == nil || u.Message.Text == "" {
			continue
		}
		if strconv.FormatInt(u.Message.Chat.ID, 10) != c.chatID {
			continue
		}
		messages = append(messages, mileage.Message{
			Text:      u.Message.Text,
			Timestamp: time.Unix(u.Message.Date, 0),
		})
	}
	return messages, nil
}

// call invokes a Bot API method and returns its result payload
func (c *Client) call(ctx context.Context, method string, body []byte) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	httpMethod := http.MethodGet
	var reader io.Reader
	if body != nil {
		httpMethod = http.MethodPost
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// url.Error would leak the bot token embedded in the path
		return nil, fmt.Errorf("calling telegram %s: %w", method, redact(err, c.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("telegram %s error (status %d): %s", method, resp.StatusCode, string(b))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("telegram %s rejected: %s", method, apiResp.Description)
	}
	return apiResp.Result, nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, token string) error {
	return &redactedError{
		msg: strings.ReplaceAll(err.Error(), token, "<token>"),
		err: err,
	}
}
