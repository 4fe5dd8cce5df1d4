// Package telegram is a minimal Bot API client covering the three calls the
// dispatcher needs: getMe (startup token validation), sendMessage, and
// sendPhoto.
package telegram

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	requestTimeout = 15 * time.Second
)

// Client talks to the Telegram Bot API for one bot token.
type Client struct {
	http  *resty.Client
	token string
}

// Option customizes the client, mainly for tests.
type Option func(*Client)

// WithBaseURL points the client at a different API host.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.http.SetBaseURL(url) }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token: token,
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(requestTimeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

type botUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type getMeResponse struct {
	apiResponse
	Result botUser `json:"result"`
}

func (c *Client) method(name string) string {
	return "/bot" + c.token + "/" + name
}

// GetMe validates the bot token and returns the bot's username. A 401 means
// the token is rejected and the bot cannot run.
func (c *Client) GetMe(ctx context.Context) (string, error) {
	var out getMeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Get(c.method("getMe"))
	if err != nil {
		return "", fmt.Errorf("getMe: %w", err)
	}
	if resp.StatusCode() == 401 {
		return "", fmt.Errorf("getMe: bot token rejected: %s", out.Description)
	}
	if !out.OK {
		return "", fmt.Errorf("getMe: %s (code %d)", out.Description, out.ErrorCode)
	}
	return out.Result.Username, nil
}

// SendMessage delivers an HTML-formatted text message to one chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":                  strconv.FormatInt(chatID, 10),
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": "true",
		}).
		SetResult(&out).
		SetError(&out).
		Post(c.method("sendMessage"))
	if err != nil {
		return fmt.Errorf("sendMessage chat %d: %w", chatID, err)
	}
	if !out.OK {
		return fmt.Errorf("sendMessage chat %d: %s (code %d, http %d)",
			chatID, out.Description, out.ErrorCode, resp.StatusCode())
	}
	return nil
}

// SendPhoto delivers an image with an HTML caption to one chat. The image is
// uploaded as multipart form data from the given file path.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, imagePath, caption string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("sendPhoto chat %d: open image: %w", chatID, err)
	}
	defer f.Close()

	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("photo", imagePath, f).
		SetFormData(map[string]string{
			"chat_id":    strconv.FormatInt(chatID, 10),
			"caption":    caption,
			"parse_mode": "HTML",
		}).
		SetResult(&out).
		SetError(&out).
		Post(c.method("sendPhoto"))
	if err != nil {
		return fmt.Errorf("sendPhoto chat %d: %w", chatID, err)
	}
	if !out.OK {
		return fmt.Errorf("sendPhoto chat %d: %s (code %d, http %d)",
			chatID, out.Description, out.ErrorCode, resp.StatusCode())
	}
	return nil
}
