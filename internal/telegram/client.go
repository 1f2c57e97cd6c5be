// Package telegram is a small Bot API client: long polling for updates and
// the send/edit/delete actions the engine needs.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// parseMode is used for every outgoing text. Responders produce HTML.
const parseMode = "HTML"

// APIError is a Bot API call that returned ok=false or a non-2xx status.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// IsAPIError returns true if err wraps an APIError.
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}

// Client talks to the Bot API with one token.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at another endpoint (tests, local Bot API
// servers).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client for token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 90 * time.Second},
		baseURL: DefaultBaseURL,
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMe returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var u User
	err := c.call(ctx, "getMe", struct{}{}, &u)
	return u, err
}

// GetUpdates long-polls for updates starting at offset. timeout is the
// server-side wait; the request deadline adds a margin on top.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	secs := int(timeout.Seconds())
	if secs < 0 {
		secs = 0
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	var updates []Update
	err := c.call(reqCtx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        secs,
		AllowedUpdates: []string{"message", "edited_message"},
	}, &updates)
	return updates, err
}

// Send posts text as a reply to replyTo (0 for none) and returns the new
// message id.
func (c *Client) Send(ctx context.Context, chatID, replyTo int64, text string) (int64, error) {
	var m Message
	err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
		ReplyToMessageID:      replyTo,
	}, &m)
	if err != nil {
		return 0, err
	}
	return m.MessageID, nil
}

// Edit replaces the text of a message sent by the bot. Editing a message
// that is gone, or to identical text, is treated as success.
func (c *Client) Edit(ctx context.Context, chatID, messageID int64, text string) error {
	var ignored json.RawMessage
	err := c.call(ctx, "editMessageText", editMessageTextRequest{
		ChatID:                chatID,
		MessageID:             messageID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
	}, &ignored)
	if alreadyApplied(err) {
		return nil
	}
	return err
}

// Delete removes a message. Deleting a message that is already gone is
// treated as success.
func (c *Client) Delete(ctx context.Context, chatID, messageID int64) error {
	var ignored json.RawMessage
	err := c.call(ctx, "deleteMessage", deleteMessageRequest{
		ChatID:    chatID,
		MessageID: messageID,
	}, &ignored)
	if alreadyApplied(err) {
		return nil
	}
	return err
}

// alreadyApplied reports Bot API errors meaning the target state already
// holds.
func alreadyApplied(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) || ae.Code != http.StatusBadRequest {
		return false
	}
	d := strings.ToLower(ae.Description)
	return strings.Contains(d, "message is not modified") ||
		strings.Contains(d, "message to edit not found") ||
		strings.Contains(d, "message to delete not found")
}

func (c *Client) call(ctx context.Context, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram %s: encode request: %w", method, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// The URL carries the token; report the method only.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("telegram %s: read response: %w", method, err)
	}

	env := response[json.RawMessage]{}
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Method: method, Code: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if !env.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Method: method, Code: code, Description: env.Description}
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}
