// Package analyzer implements AIAnalyzer: it produces a validated
// (intent, entities) tuple from a chat message and the recent-context
// window, short-circuiting slash commands and falling back to keyword
// fingerprinting when the LLM is unavailable or malformed.
package analyzer

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/domain"
	"macroferro-bot/internal/llm"
)

// maxHistoryTurns bounds the conversation window handed to the model.
const maxHistoryTurns = 6

var demonstratives = map[string]bool{
	"this": true, "that": true, "it": true, "este": true, "esta": true,
	"ese": true, "esa": true, "eso": true,
}

// Classifier is the subset of LLMClient the analyzer depends on.
type Classifier interface {
	Classify(ctx context.Context, systemPrompt string, history []llm.Turn, message string) (llm.ClassifyResult, error)
}

// Analyzer builds prompts, invokes the classifier, and normalizes the
// result into a domain.Analysis.
type Analyzer struct {
	classifier Classifier
	logger     *slog.Logger
}

// New builds an Analyzer over the given classifier.
func New(classifier Classifier, logger *slog.Logger) *Analyzer {
	return &Analyzer{classifier: classifier, logger: logger.With("component", "analyzer")}
}

// Analyze produces a validated (intent, entities) tuple. recentProducts
// is the chat's current recent-listing, used both as prompt context and
// to bounds-check a resolved position.
func (a *Analyzer) Analyze(ctx context.Context, message string, history []llm.Turn, recentProducts []string) (domain.Analysis, error) {
	if analysis, ok := parseSlashCommand(message); ok {
		return analysis, nil
	}

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	prompt := PromptV1
	if len(recentProducts) > 0 {
		prompt += "\n\nRecent listing (1-based): " + strings.Join(recentProducts, ", ")
	}

	result, err := a.classifyWithRetry(ctx, prompt, history, message)
	var analysis domain.Analysis
	if err != nil {
		a.logger.Warn("llm classify failed, falling back to keyword fingerprinting", "error", err)
		analysis = keywordFallback(message)
	} else {
		normalized, ok := normalize(result)
		if !ok {
			a.logger.Warn("llm classify returned an unrecognized intent, falling back", "intent", result.IntentType)
			analysis = keywordFallback(message)
		} else {
			analysis = normalized
		}
	}

	analysis = resolveDemonstrative(analysis, message)
	if analysis.Entities.Position > 0 && analysis.Entities.Position > len(recentProducts) {
		return domain.Analysis{}, apperr.NotFoundf("I don't see item %d in the last list", analysis.Entities.Position)
	}
	return analysis, nil
}

// classifyWithRetry retries once with jitter on a transport error.
func (a *Analyzer) classifyWithRetry(ctx context.Context, prompt string, history []llm.Turn, message string) (llm.ClassifyResult, error) {
	result, err := a.classifier.Classify(ctx, prompt, history, message)
	if err == nil {
		return result, nil
	}

	jitter := time.Duration(rand.Intn(300)) * time.Millisecond
	select {
	case <-time.After(200*time.Millisecond + jitter):
	case <-ctx.Done():
		return llm.ClassifyResult{}, ctx.Err()
	}

	return a.classifier.Classify(ctx, prompt, history, message)
}

var validIntents = map[string]domain.Intent{
	string(domain.IntentProductSearch):     domain.IntentProductSearch,
	string(domain.IntentProductDetail):     domain.IntentProductDetail,
	string(domain.IntentAddToCart):         domain.IntentAddToCart,
	string(domain.IntentUpdateQuantity):    domain.IntentUpdateQuantity,
	string(domain.IntentRemoveFromCart):    domain.IntentRemoveFromCart,
	string(domain.IntentViewCart):          domain.IntentViewCart,
	string(domain.IntentClearCart):         domain.IntentClearCart,
	string(domain.IntentCheckoutStart):     domain.IntentCheckoutStart,
	string(domain.IntentCheckoutAnswer):    domain.IntentCheckoutAnswer,
	string(domain.IntentTechnicalQuestion): domain.IntentTechnicalQuestion,
	string(domain.IntentGreeting):          domain.IntentGreeting,
	string(domain.IntentHelp):              domain.IntentHelp,
	string(domain.IntentUnknown):           domain.IntentUnknown,
}

// normalize validates the intent against the closed set and coerces
// entity fields: clamp quantity >= 1, uppercase SKU, SKU wins over
// position when both are present.
func normalize(r llm.ClassifyResult) (domain.Analysis, bool) {
	intent, ok := validIntents[strings.ToLower(strings.TrimSpace(r.IntentType))]
	if !ok {
		return domain.Analysis{}, false
	}

	entities := domain.Entities{
		Keywords: strings.TrimSpace(r.Keywords),
		Value:    strings.TrimSpace(r.Value),
	}
	if r.SKU != "" {
		entities.SKU = strings.ToUpper(strings.TrimSpace(r.SKU))
	} else if r.Position > 0 {
		entities.Position = r.Position
	}
	if r.Quantity > 0 {
		entities.Quantity = r.Quantity
	} else if entities.SKU != "" || entities.Position > 0 {
		entities.Quantity = 1
	}

	return domain.Analysis{
		Intent:       intent,
		Entities:     entities,
		Confidence:   r.Confidence,
		IsRepetition: r.IsRepetition,
	}, true
}

// resolveDemonstrative handles a bare demonstrative with no explicit
// digit ("that one", "ese") by resolving it to position 1, the most
// recently shown item.
func resolveDemonstrative(a domain.Analysis, message string) domain.Analysis {
	if a.Entities.SKU != "" || a.Entities.Position > 0 {
		return a
	}
	switch a.Intent {
	case domain.IntentProductDetail, domain.IntentAddToCart, domain.IntentUpdateQuantity, domain.IntentRemoveFromCart:
	default:
		return a
	}
	for _, tok := range strings.Fields(strings.ToLower(message)) {
		if demonstratives[strings.Trim(tok, ".,!¡¿?")] {
			a.Entities.Position = 1
			return a
		}
	}
	return a
}
