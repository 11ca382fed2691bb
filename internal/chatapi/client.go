// Package chatapi implements ChatTransport against a Telegram-compatible
// bot HTTP API: plain sendMessage/sendPhoto calls, with inline keyboards
// for the product and cart action buttons.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"macroferro-bot/internal/metrics"
	"macroferro-bot/internal/orchestrator"
)

// Config holds the bot API connection parameters.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is ChatTransport.
type Client struct {
	logger  *slog.Logger
	baseURL string
	token   string
	http    *http.Client
	metrics *metrics.Metrics
}

// New builds a Client against the configured bot API base URL.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "chatapi"),
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		metrics: m,
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type sendMessageRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup *struct {
		InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
	} `json:"reply_markup,omitempty"`
}

// SendText posts a text message, with one button per row when buttons
// are supplied.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, buttons []orchestrator.Button) error {
	req := sendMessageRequest{ChatID: chatID, Text: text}
	if len(buttons) > 0 {
		rows := make([][]inlineButton, len(buttons))
		for i, b := range buttons {
			rows[i] = []inlineButton{{Text: b.Label, CallbackData: b.CallbackData}}
		}
		req.ReplyMarkup = &struct {
			InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
		}{InlineKeyboard: rows}
	}
	return c.post(ctx, "sendMessage", req)
}

type sendPhotoRequest struct {
	ChatID  int64  `json:"chat_id"`
	Photo   string `json:"photo"`
	Caption string `json:"caption,omitempty"`
}

// SendPhoto posts a photo by URL with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, url, caption string) error {
	return c.post(ctx, "sendPhoto", sendPhotoRequest{ChatID: chatID, Photo: url, Caption: caption})
}

func (c *Client) post(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.Errors.WithLabelValues("chatapi", "transient").Inc()
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		c.logger.Error("chat api call failed", "method", method, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("%s failed: status %d", method, resp.StatusCode)
	}
	return nil
}
