package orchestrator

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"macroferro-bot/internal/metrics"
)

// rawUpdate mirrors the recognized subset of the inbound webhook shape.
type rawUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
	CallbackQuery struct {
		Data string `json:"data"`
	} `json:"callback_query"`
}

// WebhookHandler validates the shared secret header and forwards
// parsed updates to the Orchestrator.
type WebhookHandler struct {
	logger       *slog.Logger
	metrics      *metrics.Metrics
	orchestrator *Orchestrator
	sharedSecret string
}

// NewWebhookHandler builds the inbound webhook HTTP handler.
func NewWebhookHandler(logger *slog.Logger, m *metrics.Metrics, orchestrator *Orchestrator, sharedSecret string) *WebhookHandler {
	return &WebhookHandler{
		logger:       logger.With("component", "webhook"),
		metrics:      m,
		orchestrator: orchestrator,
		sharedSecret: sharedSecret,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Header.Get("X-Webhook-Secret") != h.sharedSecret {
		h.metrics.Errors.WithLabelValues("webhook", "unauthorized").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var raw rawUpdate
	if err := json.Unmarshal(body, &raw); err != nil {
		h.metrics.Errors.WithLabelValues("webhook", "malformed").Inc()
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	text := raw.Message.Text
	if text == "" {
		text = translateCallback(raw.CallbackQuery.Data)
	}
	chatID := raw.Message.Chat.ID

	update := Update{
		UpdateID: raw.UpdateID,
		ChatID:   chatID,
		Text:     text,
		Username: raw.Message.From.Username,
	}

	if err := h.orchestrator.HandleUpdate(r.Context(), update); err != nil {
		h.logger.Error("orchestrator failed", "chat_id", chatID, "update_id", raw.UpdateID, "error", err)
		http.Error(w, "failed to process", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// translateCallback turns an inline-button payload into text that
// dispatches as if typed: "add:<SKU>:<qty>" becomes the equivalent
// /agregar command, and "detail:<SKU>" becomes the bare SKU.
func translateCallback(data string) string {
	if data == "" {
		return ""
	}
	parts := strings.Split(data, ":")
	switch parts[0] {
	case "detail":
		if len(parts) == 2 {
			return parts[1]
		}
	case "add":
		if len(parts) == 3 {
			return "/agregar " + parts[1] + " " + parts[2]
		}
	}
	return data
}
