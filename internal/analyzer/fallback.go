package analyzer

import (
	"regexp"
	"strings"

	"macroferro-bot/internal/domain"
)

// skuPattern recognizes a bare SKU string on its own; in the fallback,
// pure SKU strings route straight to product_detail.
var skuPattern = regexp.MustCompile(`^SKU\d{4,6}$`)

var greetingWords = []string{"hola", "hello", "hi", "buenas", "hey"}
var checkoutWords = []string{"comprar", "checkout", "finalizar compra", "finalizar la compra"}
var cartViewWords = []string{"ver mi carrito", "ver carrito", "mi carrito", "view cart"}
var clearCartWords = []string{"vaciar carrito", "vacia mi carrito", "clear cart"}

// keywordFallback does regex-based keyword fingerprinting, used when
// the model is unavailable or its output is malformed.
func keywordFallback(text string) domain.Analysis {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if skuPattern.MatchString(strings.ToUpper(trimmed)) {
		return domain.Analysis{
			Intent:     domain.IntentProductDetail,
			Entities:   domain.Entities{SKU: strings.ToUpper(trimmed)},
			Confidence: 0.6,
		}
	}

	for _, w := range greetingWords {
		if containsWord(lower, w) {
			return domain.Analysis{Intent: domain.IntentGreeting, Confidence: 0.5}
		}
	}
	for _, w := range checkoutWords {
		if strings.Contains(lower, w) {
			return domain.Analysis{Intent: domain.IntentCheckoutStart, Confidence: 0.5}
		}
	}
	for _, w := range clearCartWords {
		if strings.Contains(lower, w) {
			return domain.Analysis{Intent: domain.IntentClearCart, Confidence: 0.5}
		}
	}
	for _, w := range cartViewWords {
		if strings.Contains(lower, w) {
			return domain.Analysis{Intent: domain.IntentViewCart, Confidence: 0.5}
		}
	}

	// Everything else maps to product_search with the raw text as
	// keywords.
	return domain.Analysis{
		Intent:     domain.IntentProductSearch,
		Entities:   domain.Entities{Keywords: trimmed},
		Confidence: 0.4,
	}
}

func containsWord(haystack, word string) bool {
	for _, tok := range strings.Fields(haystack) {
		if strings.Trim(tok, ".,!¡¿?") == word {
			return true
		}
	}
	return false
}
