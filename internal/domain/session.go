package domain

import "github.com/shopspring/decimal"

// CartItem is one line of a session-bound cart. It lives only in the
// SessionStore; it is never persisted on its own.
type CartItem struct {
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Cart is the full set of lines bound to one chat id. Total is never
// stored; callers recompute it from Items.
type Cart struct {
	Items map[string]CartItem `json:"items"`
}

// Total sums quantity*unit_price across every line.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// CheckoutState is the tagged-variant conversation state for an
// in-progress checkout. It is never represented as a bare string
// outside of its wire/storage encoding.
type CheckoutState string

const (
	CheckoutNone         CheckoutState = "none"
	CheckoutAskReturning CheckoutState = "ask_returning"
	CheckoutAskEmailLookup CheckoutState = "ask_email_lookup"
	CheckoutAskEmail     CheckoutState = "ask_email"
	CheckoutAskName      CheckoutState = "ask_name"
	CheckoutAskCompany   CheckoutState = "ask_company"
	CheckoutAskAddress   CheckoutState = "ask_address"
	CheckoutAskPhone     CheckoutState = "ask_phone"
	CheckoutAskConfirm   CheckoutState = "ask_confirm"
)

// CustomerDraft accumulates checkout answers across turns. Zero-valued
// fields are simply "not collected yet"; the handler never advances a
// step that would leave a later-required field unset.
type CustomerDraft struct {
	ClientID string `json:"client_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Company  string `json:"company,omitempty"`
	Address  string `json:"address,omitempty"`
	Phone    string `json:"phone,omitempty"`
	// PendingInterruptionPrompt holds the last question asked before an
	// interruption routed elsewhere, so the resumed prompt can remind
	// the user what was pending.
	PendingInterruptionPrompt string `json:"pending_interruption_prompt,omitempty"`
}

// ConversationContext is the per-chat state kept in SessionStore beyond
// the cart: the last shown product listing and any in-progress checkout.
type ConversationContext struct {
	RecentProducts []string      `json:"recent_products"`
	CheckoutState  CheckoutState `json:"checkout_state"`
	Draft          CustomerDraft `json:"draft"`
}
