// Package llm implements LLMClient: chat-completion based intent
// classification in JSON mode, and text embeddings.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/metrics"
)

// classifyTimeout is the per-call budget for Classify; AnswerGrounded
// allows 5s more, and Embed sets no timeout of its own.
const classifyTimeout = 10 * time.Second

// ClassifyResult is the raw, not-yet-normalized structured output the
// model returns. AIAnalyzer owns validation/normalization; this package
// only owns the transport.
type ClassifyResult struct {
	IntentType   string `json:"intent_type"`
	Confidence   float64 `json:"confidence"`
	SKU          string `json:"sku,omitempty"`
	Position     int    `json:"position,omitempty"`
	Quantity     int    `json:"quantity,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
	Value        string `json:"value,omitempty"`
	IsRepetition bool   `json:"is_repetition,omitempty"`
}

// Turn is one role/content pair of conversation history.
type Turn struct {
	Role    string
	Content string
}

// Client wraps the OpenAI-compatible provider used for both
// classification and embeddings.
type Client struct {
	api            *openai.Client
	chatModel      string
	embeddingModel string
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// New builds a Client from an API key and model names.
func New(apiKey, chatModel, embeddingModel string, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		api:            openai.NewClient(apiKey),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		logger:         logger.With("component", "llm"),
		metrics:        m,
	}
}

var jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// extractJSON strips a markdown code fence if the model wrapped its
// JSON response in one, matching the reference prompt's own fallback.
func extractJSON(content string) string {
	if m := jsonFence.FindStringSubmatch(content); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

// Classify invokes the chat-completion endpoint in JSON mode with the
// given system prompt and a short window of recent turns.
func (c *Client) Classify(ctx context.Context, systemPrompt string, history []Turn, message string) (ClassifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, t := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          c.chatModel,
		Messages:       messages,
		Temperature:    0.1,
		MaxTokens:      300,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	c.metrics.LLMLatency.WithLabelValues("classify").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.LLMRequests.WithLabelValues("classify", "error").Inc()
		return ClassifyResult{}, apperr.Transient("llm classify", err)
	}
	if len(resp.Choices) == 0 {
		c.metrics.LLMRequests.WithLabelValues("classify", "empty").Inc()
		return ClassifyResult{}, apperr.Schema("llm classify returned no choices", nil)
	}

	content := extractJSON(resp.Choices[0].Message.Content)
	var result ClassifyResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		c.metrics.LLMRequests.WithLabelValues("classify", "malformed").Inc()
		return ClassifyResult{}, apperr.Schema("llm classify returned malformed json", err)
	}
	c.metrics.LLMRequests.WithLabelValues("classify", "ok").Inc()
	return result, nil
}

// Embed returns a fixed-dimension embedding for arbitrary text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	c.metrics.LLMLatency.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.LLMRequests.WithLabelValues("embed", "error").Inc()
		return nil, apperr.Transient("llm embed", err)
	}
	if len(resp.Data) == 0 {
		c.metrics.LLMRequests.WithLabelValues("embed", "empty").Inc()
		return nil, apperr.Schema("llm embed returned no data", nil)
	}
	c.metrics.LLMRequests.WithLabelValues("embed", "ok").Inc()
	return resp.Data[0].Embedding, nil
}

// AnswerGrounded asks a free-form question, grounded only in the
// supplied context text, for ProductHandler.answer_technical.
func (c *Client) AnswerGrounded(ctx context.Context, groundingText, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout+5*time.Second)
	defer cancel()

	prompt := fmt.Sprintf(
		"Answer the customer's question using only the information below. "+
			"If the information is not enough to answer confidently, say so instead of guessing.\n\n"+
			"Product information:\n%s\n\nQuestion: %s", groundingText, question,
	)

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   250,
	})
	c.metrics.LLMLatency.WithLabelValues("answer_grounded").Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.LLMRequests.WithLabelValues("answer_grounded", "error").Inc()
		return "", apperr.Transient("llm answer grounded", err)
	}
	if len(resp.Choices) == 0 {
		c.metrics.LLMRequests.WithLabelValues("answer_grounded", "empty").Inc()
		return "", apperr.Schema("llm answer grounded returned no choices", nil)
	}
	c.metrics.LLMRequests.WithLabelValues("answer_grounded", "ok").Inc()
	return resp.Choices[0].Message.Content, nil
}
