package analyzer

import (
	"strconv"
	"strings"

	"macroferro-bot/internal/domain"
)

// parseSlashCommand short-circuits classification entirely: a recognized slash
// command is parsed directly, with no LLM call.
func parseSlashCommand(text string) (domain.Analysis, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return domain.Analysis{}, false
	}

	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/start":
		return domain.Analysis{Intent: domain.IntentGreeting, Confidence: 1}, true
	case "/help":
		return domain.Analysis{Intent: domain.IntentHelp, Confidence: 1}, true
	case "/ver_carrito":
		return domain.Analysis{Intent: domain.IntentViewCart, Confidence: 1}, true
	case "/vaciar_carrito":
		return domain.Analysis{Intent: domain.IntentClearCart, Confidence: 1}, true
	case "/finalizar_compra":
		return domain.Analysis{Intent: domain.IntentCheckoutStart, Confidence: 1}, true
	case "/agregar":
		if len(args) == 0 {
			return domain.Analysis{}, false
		}
		entities := domain.Entities{SKU: strings.ToUpper(args[0]), Quantity: 1}
		if len(args) > 1 {
			if qty, err := strconv.Atoi(args[1]); err == nil && qty > 0 {
				entities.Quantity = qty
			}
		}
		return domain.Analysis{Intent: domain.IntentAddToCart, Entities: entities, Confidence: 1}, true
	case "/eliminar":
		if len(args) == 0 {
			return domain.Analysis{}, false
		}
		return domain.Analysis{
			Intent:     domain.IntentRemoveFromCart,
			Entities:   domain.Entities{SKU: strings.ToUpper(args[0])},
			Confidence: 1,
		}, true
	default:
		return domain.Analysis{}, false
	}
}
