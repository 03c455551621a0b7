package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const parseMode = "HTML"

// APIError is a response the Bot API answered with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TelegramClient implements BotAPI over the Telegram Bot HTTP API.
type TelegramClient struct {
	client *resty.Client
}

func NewTelegramClient(config Config) *TelegramClient {
	base := config.APIBase
	if base == "" {
		base = DefaultAPIBase
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", base, config.BotToken)).
		SetTimeout(timeout).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "track-relay/0.0.1")

	return &TelegramClient{client: client}
}

func (c *TelegramClient) SendMessage(ctx context.Context, chatID, text string) error {
	var out apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":    chatID,
			"text":       text,
			"parse_mode": parseMode,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/sendMessage")

	return checkResponse("sendMessage", resp, err, &out)
}

func (c *TelegramClient) SendPhoto(ctx context.Context, chatID string, photo []byte, caption string) error {
	var out apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    chatID,
			"caption":    caption,
			"parse_mode": parseMode,
		}).
		SetFileReader("photo", "photo.jpg", bytes.NewReader(photo)).
		SetResult(&out).
		SetError(&out).
		Post("/sendPhoto")

	return checkResponse("sendPhoto", resp, err, &out)
}

func checkResponse(method string, resp *resty.Response, err error, out *apiResponse) error {
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	if out.OK {
		return nil
	}
	if out.ErrorCode != 0 || out.Description != "" {
		return &APIError{Method: method, Code: out.ErrorCode, Description: out.Description}
	}
	return fmt.Errorf("unexpected response from %s: %s", method, resp.Status())
}
