package domain

// Intent is the closed set of conversational goals the analyzer can
// produce. It is a tagged union in spirit: Dispatch switches on it
// exhaustively, there is no open-ended registry of handlers.
type Intent string

const (
	IntentProductSearch    Intent = "product_search"
	IntentProductDetail    Intent = "product_detail"
	IntentAddToCart        Intent = "add_to_cart"
	IntentUpdateQuantity   Intent = "update_quantity"
	IntentRemoveFromCart   Intent = "remove_from_cart"
	IntentViewCart         Intent = "view_cart"
	IntentClearCart        Intent = "clear_cart"
	IntentCheckoutStart    Intent = "checkout_start"
	IntentCheckoutAnswer   Intent = "checkout_answer"
	IntentTechnicalQuestion Intent = "technical_question"
	IntentGreeting         Intent = "greeting"
	IntentHelp             Intent = "help"
	IntentUnknown          Intent = "unknown"
)

// Entities is the union of fields any intent might carry. Only the
// subset relevant to Intent is populated.
type Entities struct {
	Keywords string `json:"keywords,omitempty"`
	SKU      string `json:"sku,omitempty"`
	// Position is 1-based, 0 meaning "not provided".
	Position int    `json:"position,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Analysis is the validated result AIAnalyzer hands the orchestrator.
type Analysis struct {
	Intent       Intent
	Entities     Entities
	Confidence   float64
	IsRepetition bool
}

// IsInterruption reports whether this analysis should be treated as an
// interruption of an in-progress checkout.
func (a Analysis) IsInterruption() bool {
	switch a.Intent {
	case IntentProductSearch, IntentProductDetail, IntentTechnicalQuestion, IntentViewCart:
		return true
	default:
		return false
	}
}
