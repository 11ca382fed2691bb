package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroferro-bot/internal/domain"
	"macroferro-bot/internal/repo"
)

type fakeCatalog struct {
	clients      map[string]domain.Client
	commitCalled bool
	lastCommit   repo.CheckoutCommit
	commitOrder  *domain.Order
	commitErr    error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{clients: map[string]domain.Client{}}
}

func (f *fakeCatalog) GetClientByEmail(ctx context.Context, email string) (*domain.Client, error) {
	c, ok := f.clients[email]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeCatalog) CommitCheckout(ctx context.Context, commit repo.CheckoutCommit) (*domain.Order, error) {
	f.commitCalled = true
	f.lastCommit = commit
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	if f.commitOrder != nil {
		return f.commitOrder, nil
	}
	return &domain.Order{ID: "ORD-1"}, nil
}

type fakeSessions struct {
	carts        map[int64]domain.Cart
	state        map[int64]domain.CheckoutState
	draft        map[int64]domain.CustomerDraft
	clearedCart  bool
	clearedState bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		carts: map[int64]domain.Cart{},
		state: map[int64]domain.CheckoutState{},
		draft: map[int64]domain.CustomerDraft{},
	}
}

func (f *fakeSessions) GetCart(ctx context.Context, chatID int64) (domain.Cart, error) {
	return f.carts[chatID], nil
}

func (f *fakeSessions) ClearCart(ctx context.Context, chatID int64) error {
	f.clearedCart = true
	delete(f.carts, chatID)
	return nil
}

func (f *fakeSessions) GetCheckoutState(ctx context.Context, chatID int64) (domain.CheckoutState, domain.CustomerDraft, error) {
	return f.state[chatID], f.draft[chatID], nil
}

func (f *fakeSessions) SetCheckoutState(ctx context.Context, chatID int64, state domain.CheckoutState, draft domain.CustomerDraft) error {
	f.state[chatID] = state
	f.draft[chatID] = draft
	return nil
}

func (f *fakeSessions) ClearCheckoutState(ctx context.Context, chatID int64) error {
	f.clearedState = true
	delete(f.state, chatID)
	delete(f.draft, chatID)
	return nil
}

type fakeInvoiceQueue struct {
	enqueued []string
}

func (f *fakeInvoiceQueue) Enqueue(orderID string) {
	f.enqueued = append(f.enqueued, orderID)
}

func nonEmptyCart() domain.Cart {
	return domain.Cart{Items: map[string]domain.CartItem{
		"SKU1": {SKU: "SKU1", Quantity: 2},
	}}
}

func TestStartRejectsAnEmptyCart(t *testing.T) {
	sessions := newFakeSessions()
	h := New(newFakeCatalog(), sessions, &fakeInvoiceQueue{})

	result, err := h.Start(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "empty")
	assert.Empty(t, sessions.state)
}

func TestStartPromptsForReturningStatus(t *testing.T) {
	sessions := newFakeSessions()
	sessions.carts[1] = nonEmptyCart()
	h := New(newFakeCatalog(), sessions, &fakeInvoiceQueue{})

	result, err := h.Start(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "ordered with us before")
	assert.Equal(t, domain.CheckoutAskReturning, sessions.state[1])
}

func TestHandleAnswerWithNoCheckoutInProgressIsAnInvariantError(t *testing.T) {
	h := New(newFakeCatalog(), newFakeSessions(), &fakeInvoiceQueue{})
	_, err := h.HandleAnswer(context.Background(), 1, "yes")
	require.Error(t, err)
}

func TestReturningCustomerLookupByKnownEmailSkipsToConfirm(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.clients["known@macroferro.test"] = domain.Client{ID: "C1", Name: "Jane", Email: "known@macroferro.test", Address: "1 Main St", Phone: "555"}
	sessions := newFakeSessions()
	sessions.carts[1] = nonEmptyCart()
	sessions.state[1] = domain.CheckoutAskEmailLookup
	h := New(catalog, sessions, &fakeInvoiceQueue{})

	result, err := h.HandleAnswer(context.Background(), 1, "known@macroferro.test")
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "confirm")
	assert.Equal(t, domain.CheckoutAskConfirm, sessions.state[1])
	assert.Equal(t, "C1", sessions.draft[1].ClientID)
}

func TestReturningCustomerLookupByUnknownEmailFallsBackToNewCustomerFlow(t *testing.T) {
	sessions := newFakeSessions()
	sessions.carts[1] = nonEmptyCart()
	sessions.state[1] = domain.CheckoutAskEmailLookup
	h := New(newFakeCatalog(), sessions, &fakeInvoiceQueue{})

	result, err := h.HandleAnswer(context.Background(), 1, "nobody@macroferro.test")
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "email")
	assert.Equal(t, domain.CheckoutAskEmail, sessions.state[1])
}

func TestInvalidEmailIsRepromptedRatherThanAdvanced(t *testing.T) {
	sessions := newFakeSessions()
	sessions.carts[1] = nonEmptyCart()
	sessions.state[1] = domain.CheckoutAskEmail
	h := New(newFakeCatalog(), sessions, &fakeInvoiceQueue{})

	result, err := h.HandleAnswer(context.Background(), 1, "not-an-email")
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "doesn't look like")
	assert.Equal(t, domain.CheckoutAskEmail, sessions.state[1])
}

func TestCompanyAnswerOfNoneClearsCompanyField(t *testing.T) {
	sessions := newFakeSessions()
	sessions.carts[1] = nonEmptyCart()
	sessions.state[1] = domain.CheckoutAskCompany
	h := New(newFakeCatalog(), sessions, &fakeInvoiceQueue{})

	_, err := h.HandleAnswer(context.Background(), 1, "none")
	require.NoError(t, err)
	assert.Equal(t, "", sessions.draft[1].Company)
	assert.Equal(t, domain.CheckoutAskAddress, sessions.state[1])
}

func TestConfirmYesCommitsAndEnqueuesInvoice(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.commitOrder = &domain.Order{ID: "ORD-77"}
	sessions := newFakeSessions()
	sessions.carts[1] = nonEmptyCart()
	sessions.state[1] = domain.CheckoutAskConfirm
	sessions.draft[1] = domain.CustomerDraft{Name: "Jane", Email: "jane@macroferro.test", Address: "1 Main St", Phone: "555"}
	invoices := &fakeInvoiceQueue{}
	h := New(catalog, sessions, invoices)

	result, err := h.HandleAnswer(context.Background(), 1, "yes")
	require.NoError(t, err)
	assert.Equal(t, "ORD-77", result.OrderID)
	assert.True(t, catalog.commitCalled)
	assert.Equal(t, []string{"ORD-77"}, invoices.enqueued)
	assert.True(t, sessions.clearedCart)
	assert.True(t, sessions.clearedState)
}

func TestConfirmNoCancelsWithoutTouchingTheCart(t *testing.T) {
	catalog := newFakeCatalog()
	sessions := newFakeSessions()
	sessions.carts[1] = nonEmptyCart()
	sessions.state[1] = domain.CheckoutAskConfirm
	h := New(catalog, sessions, &fakeInvoiceQueue{})

	result, err := h.HandleAnswer(context.Background(), 1, "no")
	require.NoError(t, err)
	assert.Contains(t, result.Reply, "cancelled")
	assert.False(t, catalog.commitCalled)
	assert.True(t, sessions.clearedState)
	assert.NotEmpty(t, sessions.carts[1].Items)
}

func TestConfirmEditRestartsAtEmail(t *testing.T) {
	sessions := newFakeSessions()
	sessions.carts[1] = nonEmptyCart()
	sessions.state[1] = domain.CheckoutAskConfirm
	sessions.draft[1] = domain.CustomerDraft{Name: "Jane"}
	h := New(newFakeCatalog(), sessions, &fakeInvoiceQueue{})

	result, err := h.HandleAnswer(context.Background(), 1, "edit")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutAskEmail, sessions.state[1])
	assert.Contains(t, result.Reply, "email")
}

func TestCommitWithEmptiedCartAbortsWithoutCallingCatalog(t *testing.T) {
	catalog := newFakeCatalog()
	sessions := newFakeSessions()
	sessions.state[1] = domain.CheckoutAskConfirm
	sessions.draft[1] = domain.CustomerDraft{Name: "Jane"}
	h := New(catalog, sessions, &fakeInvoiceQueue{})

	result, err := h.HandleAnswer(context.Background(), 1, "yes")
	require.NoError(t, err)
	assert.False(t, catalog.commitCalled)
	assert.Contains(t, result.Reply, "emptied out")
	assert.True(t, sessions.clearedState)
}
