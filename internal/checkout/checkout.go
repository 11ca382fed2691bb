// Package checkout implements CheckoutHandler: the 9-state checkout
// machine, its validation rules, and the atomic commit into
// CatalogStore.
package checkout

import (
	"context"
	"regexp"
	"strings"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/domain"
	"macroferro-bot/internal/repo"
)

// emailRegex is a permissive RFC 5321 approximation used to validate
// addresses collected during checkout.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// Catalog is the subset of CatalogStore this handler needs.
type Catalog interface {
	GetClientByEmail(ctx context.Context, email string) (*domain.Client, error)
	CommitCheckout(ctx context.Context, commit repo.CheckoutCommit) (*domain.Order, error)
}

// Sessions is the subset of SessionStore this handler needs.
type Sessions interface {
	GetCart(ctx context.Context, chatID int64) (domain.Cart, error)
	ClearCart(ctx context.Context, chatID int64) error
	GetCheckoutState(ctx context.Context, chatID int64) (domain.CheckoutState, domain.CustomerDraft, error)
	SetCheckoutState(ctx context.Context, chatID int64, state domain.CheckoutState, draft domain.CustomerDraft) error
	ClearCheckoutState(ctx context.Context, chatID int64) error
}

// InvoiceQueue is where a committed order's id goes for out-of-band
// delivery; the handler never waits on it.
type InvoiceQueue interface {
	Enqueue(orderID string)
}

// Handler is CheckoutHandler.
type Handler struct {
	catalog  Catalog
	sessions Sessions
	invoices InvoiceQueue
}

// New builds a Handler over its collaborators.
func New(catalog Catalog, sessions Sessions, invoices InvoiceQueue) *Handler {
	return &Handler{catalog: catalog, sessions: sessions, invoices: invoices}
}

// Result is what every transition returns: the reply text, and the
// committed order id when a commit just happened.
type Result struct {
	Reply   string
	OrderID string
}

// Start begins a checkout from state none. It requires a non-empty
// cart.
func (h *Handler) Start(ctx context.Context, chatID int64) (Result, error) {
	c, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return Result{}, err
	}
	if len(c.Items) == 0 {
		return Result{Reply: "Your cart is empty. Add something before checking out."}, nil
	}

	prompt := "Have you ordered with us before? (yes/no)"
	draft := domain.CustomerDraft{PendingInterruptionPrompt: prompt}
	if err := h.sessions.SetCheckoutState(ctx, chatID, domain.CheckoutAskReturning, draft); err != nil {
		return Result{}, err
	}
	return Result{Reply: prompt}, nil
}

// HandleAnswer advances the state machine by one step given the
// customer's free-form answer to the currently pending prompt.
func (h *Handler) HandleAnswer(ctx context.Context, chatID int64, value string) (Result, error) {
	state, draft, err := h.sessions.GetCheckoutState(ctx, chatID)
	if err != nil {
		return Result{}, err
	}
	value = strings.TrimSpace(value)

	switch state {
	case domain.CheckoutAskReturning:
		return h.handleAskReturning(ctx, chatID, draft, value)
	case domain.CheckoutAskEmailLookup:
		return h.handleAskEmailLookup(ctx, chatID, draft, value)
	case domain.CheckoutAskEmail:
		return h.handleAskEmail(ctx, chatID, draft, value)
	case domain.CheckoutAskName:
		return h.handleAskName(ctx, chatID, draft, value)
	case domain.CheckoutAskCompany:
		return h.handleAskCompany(ctx, chatID, draft, value)
	case domain.CheckoutAskAddress:
		return h.handleAskAddress(ctx, chatID, draft, value)
	case domain.CheckoutAskPhone:
		return h.handleAskPhone(ctx, chatID, draft, value)
	case domain.CheckoutAskConfirm:
		return h.handleAskConfirm(ctx, chatID, draft, value)
	default:
		return Result{}, apperr.Invariant("checkout answer received with no checkout in progress", nil)
	}
}

func (h *Handler) advance(ctx context.Context, chatID int64, state domain.CheckoutState, draft domain.CustomerDraft, prompt string) (Result, error) {
	draft.PendingInterruptionPrompt = prompt
	if err := h.sessions.SetCheckoutState(ctx, chatID, state, draft); err != nil {
		return Result{}, err
	}
	return Result{Reply: prompt}, nil
}

func (h *Handler) reprompt(ctx context.Context, chatID int64, state domain.CheckoutState, draft domain.CustomerDraft, errMsg, prompt string) (Result, error) {
	return h.advance(ctx, chatID, state, draft, errMsg+" "+prompt)
}

func (h *Handler) handleAskReturning(ctx context.Context, chatID int64, draft domain.CustomerDraft, value string) (Result, error) {
	const prompt = "Have you ordered with us before? (yes/no)"
	switch parseYesNo(value) {
	case yes:
		return h.advance(ctx, chatID, domain.CheckoutAskEmailLookup, draft, "What's the email on your account?")
	case no:
		return h.advance(ctx, chatID, domain.CheckoutAskEmail, draft, "What's your email?")
	default:
		return h.reprompt(ctx, chatID, domain.CheckoutAskReturning, draft, "Please answer yes or no.", prompt)
	}
}

func (h *Handler) handleAskEmailLookup(ctx context.Context, chatID int64, draft domain.CustomerDraft, value string) (Result, error) {
	if !emailRegex.MatchString(value) {
		return h.reprompt(ctx, chatID, domain.CheckoutAskEmailLookup, draft, "That doesn't look like a valid email.", "What's the email on your account?")
	}
	client, err := h.catalog.GetClientByEmail(ctx, value)
	if err != nil {
		return Result{}, err
	}
	if client == nil {
		draft.Email = value
		return h.advance(ctx, chatID, domain.CheckoutAskEmail, draft, "I couldn't find that account, so let's set you up as a new customer. What's your email?")
	}

	draft.ClientID = client.ID
	draft.Email = client.Email
	draft.Name = client.Name
	draft.Company = client.Company
	draft.Address = client.Address
	draft.Phone = client.Phone
	return h.advance(ctx, chatID, domain.CheckoutAskConfirm, draft, confirmPrompt(draft))
}

func (h *Handler) handleAskEmail(ctx context.Context, chatID int64, draft domain.CustomerDraft, value string) (Result, error) {
	if !emailRegex.MatchString(value) {
		return h.reprompt(ctx, chatID, domain.CheckoutAskEmail, draft, "That doesn't look like a valid email.", "What's your email?")
	}
	draft.Email = value
	return h.advance(ctx, chatID, domain.CheckoutAskName, draft, "What's your name?")
}

func (h *Handler) handleAskName(ctx context.Context, chatID int64, draft domain.CustomerDraft, value string) (Result, error) {
	if value == "" {
		return h.reprompt(ctx, chatID, domain.CheckoutAskName, draft, "A name is required.", "What's your name?")
	}
	draft.Name = value
	return h.advance(ctx, chatID, domain.CheckoutAskCompany, draft, "What company are you with? (or reply 'none')")
}

func (h *Handler) handleAskCompany(ctx context.Context, chatID int64, draft domain.CustomerDraft, value string) (Result, error) {
	if value == "" {
		return h.reprompt(ctx, chatID, domain.CheckoutAskCompany, draft, "Reply with a company name, or 'none'.", "What company are you with? (or reply 'none')")
	}
	if strings.EqualFold(value, "none") {
		draft.Company = ""
	} else {
		draft.Company = value
	}
	return h.advance(ctx, chatID, domain.CheckoutAskAddress, draft, "What's the shipping address?")
}

func (h *Handler) handleAskAddress(ctx context.Context, chatID int64, draft domain.CustomerDraft, value string) (Result, error) {
	if value == "" {
		return h.reprompt(ctx, chatID, domain.CheckoutAskAddress, draft, "An address is required.", "What's the shipping address?")
	}
	draft.Address = value
	return h.advance(ctx, chatID, domain.CheckoutAskPhone, draft, "What's a phone number we can reach you on?")
}

func (h *Handler) handleAskPhone(ctx context.Context, chatID int64, draft domain.CustomerDraft, value string) (Result, error) {
	if value == "" {
		return h.reprompt(ctx, chatID, domain.CheckoutAskPhone, draft, "A phone number is required.", "What's a phone number we can reach you on?")
	}
	draft.Phone = value
	return h.advance(ctx, chatID, domain.CheckoutAskConfirm, draft, confirmPrompt(draft))
}

func (h *Handler) handleAskConfirm(ctx context.Context, chatID int64, draft domain.CustomerDraft, value string) (Result, error) {
	switch parseConfirm(value) {
	case confirmYes:
		return h.commit(ctx, chatID, draft)
	case confirmEdit:
		return h.advance(ctx, chatID, domain.CheckoutAskEmail, draft, "Let's redo it. What's your email?")
	case confirmNo:
		if err := h.sessions.ClearCheckoutState(ctx, chatID); err != nil {
			return Result{}, err
		}
		return Result{Reply: "No problem, checkout cancelled. Your cart is still here when you're ready."}, nil
	default:
		return h.reprompt(ctx, chatID, domain.CheckoutAskConfirm, draft, "Please reply yes, edit, or no.", confirmPrompt(draft))
	}
}

// commit runs the atomic checkout-commit procedure. On failure the
// cart and checkout state are left untouched so the customer can retry.
func (h *Handler) commit(ctx context.Context, chatID int64, draft domain.CustomerDraft) (Result, error) {
	c, err := h.sessions.GetCart(ctx, chatID)
	if err != nil {
		return Result{}, err
	}
	if len(c.Items) == 0 {
		if err := h.sessions.ClearCheckoutState(ctx, chatID); err != nil {
			return Result{}, err
		}
		return Result{Reply: "Your cart emptied out before we could finish. Let's start again when you've added items."}, nil
	}

	items := make([]domain.CartItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, item)
	}

	order, err := h.catalog.CommitCheckout(ctx, repo.CheckoutCommit{
		ExistingClientID: draft.ClientID,
		ClientName:       draft.Name,
		ClientEmail:      draft.Email,
		ClientPhone:      draft.Phone,
		ClientAddress:    draft.Address,
		ClientCompany:    draft.Company,
		ChatID:           chatID,
		Items:            items,
	})
	if err != nil {
		return Result{}, err
	}

	if err := h.sessions.ClearCart(ctx, chatID); err != nil {
		return Result{}, err
	}
	if err := h.sessions.ClearCheckoutState(ctx, chatID); err != nil {
		return Result{}, err
	}
	h.invoices.Enqueue(order.ID)

	return Result{
		Reply:   "Order " + order.ID + " confirmed. Your invoice will follow by email shortly.",
		OrderID: order.ID,
	}, nil
}

func confirmPrompt(draft domain.CustomerDraft) string {
	var b strings.Builder
	b.WriteString("Please confirm your details:\n")
	b.WriteString("Name: " + draft.Name + "\n")
	b.WriteString("Email: " + draft.Email + "\n")
	if draft.Company != "" {
		b.WriteString("Company: " + draft.Company + "\n")
	}
	b.WriteString("Address: " + draft.Address + "\n")
	b.WriteString("Phone: " + draft.Phone + "\n")
	b.WriteString("Reply yes to confirm, edit to change something, or no to cancel.")
	return b.String()
}

type tribool int

const (
	unknown tribool = iota
	yes
	no
)

func parseYesNo(value string) tribool {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "yes", "y", "si", "sí", "yeah", "yep":
		return yes
	case "no", "n", "nope":
		return no
	default:
		return unknown
	}
}

type confirmAnswer int

const (
	confirmUnknown confirmAnswer = iota
	confirmYes
	confirmEdit
	confirmNo
)

func parseConfirm(value string) confirmAnswer {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "yes", "y", "si", "sí", "confirm", "confirmar":
		return confirmYes
	case "edit", "editar", "cambiar", "change":
		return confirmEdit
	case "no", "n", "cancel", "cancelar":
		return confirmNo
	default:
		return confirmUnknown
	}
}
