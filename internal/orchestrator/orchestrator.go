// Package orchestrator implements Orchestrator: dedup, per-chat
// serialization, checkout-vs-analyzer routing, dispatch by intent, and
// reply composition.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/checkout"
	"macroferro-bot/internal/domain"
	"macroferro-bot/internal/llm"
	"macroferro-bot/internal/metrics"
	"macroferro-bot/internal/product"
)

// requestBudget is the per-request deadline.
const requestBudget = 30 * time.Second

// shortMessageThreshold and lowConfidence implement the confidence
// policy: short + unsure messages get a clarifying question instead of
// an action.
const (
	shortMessageThreshold = 12
	lowConfidence          = 0.5
)

// Update is the normalized inbound payload, already extracted from
// whatever wire shape the transport handler received.
type Update struct {
	UpdateID int64
	ChatID   int64
	Text     string
	Username string
}

// Button is one inline affordance on an outbound message; its
// CallbackData round-trips as a later Update.Text.
type Button struct {
	Label        string
	CallbackData string
}

// Transport is ChatTransport: the orchestrator's only way to talk back
// to the customer.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, buttons []Button) error
	SendPhoto(ctx context.Context, chatID int64, url, caption string) error
}

// Analyzer is AIAnalyzer's contract as the orchestrator consumes it.
type Analyzer interface {
	Analyze(ctx context.Context, message string, history []llm.Turn, recentProducts []string) (domain.Analysis, error)
}

// Sessions is the subset of SessionStore the orchestrator reads/writes
// directly (handlers own the rest).
type Sessions interface {
	MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error)
	GetRecentProducts(ctx context.Context, chatID int64) ([]string, error)
	GetCheckoutState(ctx context.Context, chatID int64) (domain.CheckoutState, domain.CustomerDraft, error)
}

// ProductHandler is the subset of ProductHandler the orchestrator
// dispatches to.
type ProductHandler interface {
	Search(ctx context.Context, chatID int64, keywords string) (product.ShownList, error)
	Detail(ctx context.Context, chatID int64, entities domain.Entities) (*domain.Product, error)
	AnswerTechnical(ctx context.Context, chatID int64, entities domain.Entities, question string) (string, error)
}

// CartHandler is the subset of CartHandler the orchestrator dispatches
// to.
type CartHandler interface {
	Add(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error)
	Update(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error)
	Remove(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error)
	Clear(ctx context.Context, chatID int64) error
	FormatCurrentView(ctx context.Context, chatID int64) (string, error)
}

// CheckoutHandler is the subset of CheckoutHandler the orchestrator
// dispatches to.
type CheckoutHandler interface {
	Start(ctx context.Context, chatID int64) (checkout.Result, error)
	HandleAnswer(ctx context.Context, chatID int64, value string) (checkout.Result, error)
}

// Orchestrator wires everything together and is the sole caller of
// Transport.
type Orchestrator struct {
	sessions Sessions
	analyzer Analyzer
	products ProductHandler
	carts    CartHandler
	checkout CheckoutHandler
	transport Transport
	logger   *slog.Logger
	metrics  *metrics.Metrics

	chatLocks   sync.Map // chatID -> *sync.Mutex
}

// New builds an Orchestrator over its collaborators.
func New(sessions Sessions, analyzer Analyzer, products ProductHandler, carts CartHandler, checkoutHandler CheckoutHandler, transport Transport, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		analyzer:  analyzer,
		products:  products,
		carts:     carts,
		checkout:  checkoutHandler,
		transport: transport,
		logger:    logger.With("component", "orchestrator"),
		metrics:   m,
	}
}

// HandleUpdate runs the full inbound pipeline: idempotency check,
// per-chat serialization, routing, dispatch, reply, send.
func (o *Orchestrator) HandleUpdate(ctx context.Context, update Update) error {
	ctx, cancel := context.WithTimeout(ctx, requestBudget)
	defer cancel()

	unseen, err := o.sessions.MarkUpdateSeen(ctx, update.UpdateID)
	if err != nil {
		o.metrics.InboundUpdates.WithLabelValues("rejected").Inc()
		o.logger.Error("idempotency check failed", "chat_id", update.ChatID, "update_id", update.UpdateID, "error", err)
		return err
	}
	if !unseen {
		o.metrics.InboundUpdates.WithLabelValues("duplicate").Inc()
		o.logger.Info("dropping duplicate update", "chat_id", update.ChatID, "update_id", update.UpdateID)
		return nil
	}
	o.metrics.InboundUpdates.WithLabelValues("processed").Inc()

	lock := o.lockFor(update.ChatID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	reply, err := o.dispatch(ctx, update)
	o.metrics.HandlerLatency.WithLabelValues("dispatch").Observe(time.Since(start).Seconds())
	if err != nil {
		o.logger.Error("handler error", "chat_id", update.ChatID, "update_id", update.UpdateID, "error", err)
		o.metrics.Errors.WithLabelValues("orchestrator", string(errorTag(err))).Inc()
		reply = userFacingError(err)
	}

	if reply == "" {
		return nil
	}
	if err := o.transport.SendText(ctx, update.ChatID, reply, nil); err != nil {
		o.logger.Error("send reply failed", "chat_id", update.ChatID, "error", err)
		return err
	}
	o.metrics.OutboundMessages.WithLabelValues("text").Inc()
	return nil
}

func (o *Orchestrator) lockFor(chatID int64) *sync.Mutex {
	actual, _ := o.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (o *Orchestrator) dispatch(ctx context.Context, update Update) (string, error) {
	state, draft, err := o.sessions.GetCheckoutState(ctx, update.ChatID)
	if err != nil {
		return "", err
	}
	if state == "" {
		state = domain.CheckoutNone
	}

	recent, err := o.sessions.GetRecentProducts(ctx, update.ChatID)
	if err != nil {
		return "", err
	}

	analysis, err := o.analyzer.Analyze(ctx, update.Text, nil, recent)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return err.(*apperr.Error).Message, nil
		}
		return "", err
	}

	if state != domain.CheckoutNone && state != domain.CheckoutAskConfirm && analysis.IsInterruption() && isInterruptingMessage(update.Text) {
		reply, err := o.dispatchIntent(ctx, update.ChatID, analysis, update.Text)
		if err != nil {
			return "", err
		}
		return reply + "\n\nWe'll continue with checkout — your pending question was: " + draft.PendingInterruptionPrompt, nil
	}

	if state != domain.CheckoutNone {
		result, err := o.checkout.HandleAnswer(ctx, update.ChatID, update.Text)
		if err != nil {
			return "", err
		}
		return result.Reply, nil
	}

	if analysis.Confidence < lowConfidence && len(update.Text) <= shortMessageThreshold {
		return "Sorry, could you say that differently? I want to make sure I help with the right thing.", nil
	}

	return o.dispatchIntent(ctx, update.ChatID, analysis, update.Text)
}

// interruptionQuestionWords are the first-word markers a question-shaped
// message tends to start with.
var interruptionQuestionWords = map[string]bool{
	"what": true, "which": true, "how": true, "where": true,
	"who": true, "when": true, "why": true,
}

// isInterruptingMessage decides whether rawText looks like a new
// question rather than an answer to the checkout prompt currently
// pending. The analyzer has no checkout context of its own and its
// keyword fallback routes unrecognized plain text to product_search,
// so Analysis.IsInterruption() alone would misroute a checkout answer
// like "no" or an email address; this text-shape check is required
// alongside it before treating a message as an interruption.
func isInterruptingMessage(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(t, "/") || strings.Contains(t, "?") {
		return true
	}
	fields := strings.Fields(t)
	if len(fields) == 0 {
		return false
	}
	return interruptionQuestionWords[fields[0]]
}

func (o *Orchestrator) dispatchIntent(ctx context.Context, chatID int64, analysis domain.Analysis, rawText string) (string, error) {
	switch analysis.Intent {
	case domain.IntentGreeting:
		return "Hi, welcome to Macroferro! Ask me about any product, or type /help for commands.", nil
	case domain.IntentHelp:
		return helpText, nil
	case domain.IntentProductSearch:
		list, err := o.products.Search(ctx, chatID, analysis.Entities.Keywords)
		if err != nil {
			return "", err
		}
		return formatShownList(list), nil
	case domain.IntentProductDetail:
		p, err := o.products.Detail(ctx, chatID, analysis.Entities)
		if err != nil {
			return "", err
		}
		return formatProductDetail(*p), nil
	case domain.IntentTechnicalQuestion:
		return o.products.AnswerTechnical(ctx, chatID, analysis.Entities, rawText)
	case domain.IntentAddToCart:
		c, err := o.carts.Add(ctx, chatID, analysis.Entities)
		if err != nil {
			return "", err
		}
		return "Added. " + cartSummary(c), nil
	case domain.IntentUpdateQuantity:
		c, err := o.carts.Update(ctx, chatID, analysis.Entities)
		if err != nil {
			return "", err
		}
		return "Updated. " + cartSummary(c), nil
	case domain.IntentRemoveFromCart:
		c, err := o.carts.Remove(ctx, chatID, analysis.Entities)
		if err != nil {
			return "", err
		}
		return "Removed. " + cartSummary(c), nil
	case domain.IntentViewCart:
		return o.carts.FormatCurrentView(ctx, chatID)
	case domain.IntentClearCart:
		if err := o.carts.Clear(ctx, chatID); err != nil {
			return "", err
		}
		return "Your cart is now empty.", nil
	case domain.IntentCheckoutStart:
		result, err := o.checkout.Start(ctx, chatID)
		if err != nil {
			return "", err
		}
		return result.Reply, nil
	case domain.IntentCheckoutAnswer:
		// Reached with no checkout in progress: there is nothing to answer.
		return "There's no checkout in progress. Type /finalizar_compra to start one.", nil
	default:
		return "I'm not sure how to help with that. Type /help to see what I can do.", nil
	}
}

const helpText = `Commands:
/agregar <SKU> [qty] — add to cart
/eliminar <SKU> — remove from cart
/ver_carrito — view cart
/vaciar_carrito — empty cart
/finalizar_compra — checkout

Or just ask in plain language, e.g. "do you have 10mm drill bits?"`

func formatShownList(list product.ShownList) string {
	if list.Message != "" {
		return list.Message
	}
	if len(list.Products) == 0 {
		return "No matches. Try rephrasing, or naming a category directly."
	}
	var out string
	for _, lp := range list.Products {
		out += fmt.Sprintf("%d. %s (%s) — %s %s\n", lp.Position, lp.Product.Name, lp.Product.Brand, lp.Product.Price.StringFixed(2), shortDescription(lp.Product.Description))
	}
	return out + "\nReply with a number or SKU for details."
}

func shortDescription(d string) string {
	const max = 80
	if len(d) <= max {
		return d
	}
	return d[:max] + "..."
}

func formatProductDetail(p domain.Product) string {
	out := fmt.Sprintf("*%s*\nSKU: %s\nBrand: %s\nPrice: %s\n\n%s", p.Name, p.SKU, p.Brand, p.Price.StringFixed(2), p.Description)
	for k, v := range p.Specs {
		out += fmt.Sprintf("\n- %s: %s", k, v)
	}
	return out
}

func cartSummary(c domain.Cart) string {
	return fmt.Sprintf("Cart total: %s (%d lines).", c.Total().StringFixed(2), len(c.Items))
}

func errorTag(err error) apperr.Tag {
	if tag, ok := apperr.TagOf(err); ok {
		return tag
	}
	return "unknown"
}

func userFacingError(err error) string {
	tag, ok := apperr.TagOf(err)
	if !ok {
		return "Something went wrong, please try again."
	}
	switch tag {
	case apperr.TransientUpstream:
		return "We hit a temporary hiccup, please try again in a moment."
	case apperr.NotFound:
		if e, ok := err.(*apperr.Error); ok {
			return e.Message
		}
		return "I couldn't find that."
	case apperr.SchemaViolation:
		return "Something went wrong, please try again."
	case apperr.Conflict:
		return "That's already being handled, please try again."
	default:
		return "Something went wrong, please try again."
	}
}
