// Package session implements the SessionStore contract: per-chat cart,
// conversation context, and idempotency markers, backed by Redis.
package session

import (
	"context"
	"fmt"
	"time"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/cache"
	"macroferro-bot/internal/domain"
)

// seenTTL is how long an update_id is remembered for idempotency.
const seenTTL = 24 * time.Hour

// Store is the Redis-backed SessionStore.
type Store struct {
	redis *cache.Redis
}

// New wraps an already-connected Redis client.
func New(redis *cache.Redis) *Store {
	return &Store{redis: redis}
}

func cartKey(chatID int64) string { return fmt.Sprintf("cart:%d", chatID) }
func ctxKey(chatID int64) string  { return fmt.Sprintf("ctx:%d", chatID) }
func seenKey(updateID int64) string { return fmt.Sprintf("seen:%d", updateID) }

// GetCart returns the chat's cart, or an empty cart if none exists yet.
func (s *Store) GetCart(ctx context.Context, chatID int64) (domain.Cart, error) {
	var cart domain.Cart
	found, err := s.redis.GetJSON(ctx, cartKey(chatID), &cart)
	if err != nil {
		return domain.Cart{}, apperr.Transient("get cart", err)
	}
	if !found || cart.Items == nil {
		cart.Items = make(map[string]domain.CartItem)
	}
	return cart, nil
}

// SetCart overwrites the chat's cart wholesale. Carts have no hard TTL
// guarantee, but we still bound them generously so abandoned chats
// don't accumulate forever.
func (s *Store) SetCart(ctx context.Context, chatID int64, cart domain.Cart) error {
	if err := s.redis.SetJSON(ctx, cartKey(chatID), cart, 30*24*time.Hour); err != nil {
		return apperr.Transient("set cart", err)
	}
	return nil
}

// ClearCart empties the chat's cart.
func (s *Store) ClearCart(ctx context.Context, chatID int64) error {
	return s.SetCart(ctx, chatID, domain.Cart{Items: map[string]domain.CartItem{}})
}

// GetContext returns the chat's conversation context, or a zero-value
// context (checkout_state = none) if none exists yet.
func (s *Store) GetContext(ctx context.Context, chatID int64) (domain.ConversationContext, error) {
	var cc domain.ConversationContext
	found, err := s.redis.GetJSON(ctx, ctxKey(chatID), &cc)
	if err != nil {
		return domain.ConversationContext{}, apperr.Transient("get context", err)
	}
	if !found {
		cc.CheckoutState = domain.CheckoutNone
	}
	return cc, nil
}

func (s *Store) setContext(ctx context.Context, chatID int64, cc domain.ConversationContext) error {
	if err := s.redis.SetJSON(ctx, ctxKey(chatID), cc, 30*24*time.Hour); err != nil {
		return apperr.Transient("set context", err)
	}
	return nil
}

// SetRecentProducts atomically replaces the ordered product listing
// most recently shown to this chat; it never merges with a prior list.
func (s *Store) SetRecentProducts(ctx context.Context, chatID int64, skus []string) error {
	cc, err := s.GetContext(ctx, chatID)
	if err != nil {
		return err
	}
	cc.RecentProducts = skus
	return s.setContext(ctx, chatID, cc)
}

// GetRecentProducts returns the last shown listing, or an empty slice.
func (s *Store) GetRecentProducts(ctx context.Context, chatID int64) ([]string, error) {
	cc, err := s.GetContext(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return cc.RecentProducts, nil
}

// GetCheckoutState returns the current checkout state and draft.
func (s *Store) GetCheckoutState(ctx context.Context, chatID int64) (domain.CheckoutState, domain.CustomerDraft, error) {
	cc, err := s.GetContext(ctx, chatID)
	if err != nil {
		return domain.CheckoutNone, domain.CustomerDraft{}, err
	}
	return cc.CheckoutState, cc.Draft, nil
}

// SetCheckoutState advances the checkout state machine, preserving
// RecentProducts untouched.
func (s *Store) SetCheckoutState(ctx context.Context, chatID int64, state domain.CheckoutState, draft domain.CustomerDraft) error {
	cc, err := s.GetContext(ctx, chatID)
	if err != nil {
		return err
	}
	cc.CheckoutState = state
	cc.Draft = draft
	return s.setContext(ctx, chatID, cc)
}

// ClearCheckoutState resets the checkout state machine to none and
// drops the draft, without touching RecentProducts.
func (s *Store) ClearCheckoutState(ctx context.Context, chatID int64) error {
	return s.SetCheckoutState(ctx, chatID, domain.CheckoutNone, domain.CustomerDraft{})
}

// MarkUpdateSeen returns true iff update_id was unseen before this
// call, implementing at-least-once-delivery idempotency with a >=24h
// window.
func (s *Store) MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error) {
	unseen, err := s.redis.SetNX(ctx, seenKey(updateID), "1", seenTTL)
	if err != nil {
		return false, apperr.Transient("mark update seen", err)
	}
	return unseen, nil
}
