package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroferro-bot/internal/apperr"
	"macroferro-bot/internal/checkout"
	"macroferro-bot/internal/domain"
	"macroferro-bot/internal/llm"
	"macroferro-bot/internal/logging"
	"macroferro-bot/internal/metrics"
	"macroferro-bot/internal/product"
)

type fakeTransport struct {
	sentText []string
}

func (f *fakeTransport) SendText(ctx context.Context, chatID int64, text string, buttons []Button) error {
	f.sentText = append(f.sentText, text)
	return nil
}

func (f *fakeTransport) SendPhoto(ctx context.Context, chatID int64, url, caption string) error {
	return nil
}

type fakeAnalyzer struct {
	result domain.Analysis
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, message string, history []llm.Turn, recentProducts []string) (domain.Analysis, error) {
	return f.result, f.err
}

type fakeSessions struct {
	seen          map[int64]bool
	recent        []string
	checkoutState domain.CheckoutState
	draft         domain.CustomerDraft
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{seen: map[int64]bool{}}
}

func (f *fakeSessions) MarkUpdateSeen(ctx context.Context, updateID int64) (bool, error) {
	if f.seen[updateID] {
		return false, nil
	}
	f.seen[updateID] = true
	return true, nil
}

func (f *fakeSessions) GetRecentProducts(ctx context.Context, chatID int64) ([]string, error) {
	return f.recent, nil
}

func (f *fakeSessions) GetCheckoutState(ctx context.Context, chatID int64) (domain.CheckoutState, domain.CustomerDraft, error) {
	return f.checkoutState, f.draft, nil
}

type fakeProducts struct {
	searchResult product.ShownList
	searchErr    error
	detail       *domain.Product
	detailErr    error
	answer       string
	answerErr    error
}

func (f *fakeProducts) Search(ctx context.Context, chatID int64, keywords string) (product.ShownList, error) {
	return f.searchResult, f.searchErr
}

func (f *fakeProducts) Detail(ctx context.Context, chatID int64, entities domain.Entities) (*domain.Product, error) {
	return f.detail, f.detailErr
}

func (f *fakeProducts) AnswerTechnical(ctx context.Context, chatID int64, entities domain.Entities, question string) (string, error) {
	return f.answer, f.answerErr
}

type fakeCarts struct {
	cart      domain.Cart
	err       error
	viewText  string
	clearErr  error
	clearCall bool
}

func (f *fakeCarts) Add(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error) {
	return f.cart, f.err
}

func (f *fakeCarts) Update(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error) {
	return f.cart, f.err
}

func (f *fakeCarts) Remove(ctx context.Context, chatID int64, entities domain.Entities) (domain.Cart, error) {
	return f.cart, f.err
}

func (f *fakeCarts) Clear(ctx context.Context, chatID int64) error {
	f.clearCall = true
	return f.clearErr
}

func (f *fakeCarts) FormatCurrentView(ctx context.Context, chatID int64) (string, error) {
	return f.viewText, nil
}

type fakeCheckout struct {
	startResult  checkout.Result
	startErr     error
	answerResult checkout.Result
	answerErr    error
}

func (f *fakeCheckout) Start(ctx context.Context, chatID int64) (checkout.Result, error) {
	return f.startResult, f.startErr
}

func (f *fakeCheckout) HandleAnswer(ctx context.Context, chatID int64, value string) (checkout.Result, error) {
	return f.answerResult, f.answerErr
}

func newTestOrchestrator(sessions Sessions, analyzer Analyzer, products ProductHandler, carts CartHandler, checkoutHandler CheckoutHandler, transport Transport) *Orchestrator {
	return New(sessions, analyzer, products, carts, checkoutHandler, transport, logging.NewLogger("error", "text"), metrics.Registry("orchestrator_test"))
}

func TestHandleUpdateDropsADuplicateUpdateID(t *testing.T) {
	sessions := newFakeSessions()
	sessions.seen[10] = true
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, &fakeAnalyzer{}, &fakeProducts{}, &fakeCarts{}, &fakeCheckout{}, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 10, ChatID: 1, Text: "hi"})
	require.NoError(t, err)
	assert.Empty(t, transport.sentText)
}

func TestHandleUpdateGreetingRoundTrip(t *testing.T) {
	sessions := newFakeSessions()
	analyzer := &fakeAnalyzer{result: domain.Analysis{Intent: domain.IntentGreeting, Confidence: 1}}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, analyzer, &fakeProducts{}, &fakeCarts{}, &fakeCheckout{}, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "hello"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Contains(t, transport.sentText[0], "Macroferro")
}

func TestHandleUpdateDuringCheckoutRoutesToCheckoutHandler(t *testing.T) {
	sessions := newFakeSessions()
	sessions.checkoutState = domain.CheckoutAskEmail
	checkoutHandler := &fakeCheckout{answerResult: checkout.Result{Reply: "What's your name?"}}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, &fakeAnalyzer{result: domain.Analysis{Intent: domain.IntentUnknown}}, &fakeProducts{}, &fakeCarts{}, checkoutHandler, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "jane@macroferro.test"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Equal(t, "What's your name?", transport.sentText[0])
}

func TestHandleUpdateInterruptionDuringCheckoutStillAnswersBeforeResumingThePrompt(t *testing.T) {
	sessions := newFakeSessions()
	sessions.checkoutState = domain.CheckoutAskEmail
	sessions.draft = domain.CustomerDraft{PendingInterruptionPrompt: "What's your email?"}
	analyzer := &fakeAnalyzer{result: domain.Analysis{Intent: domain.IntentViewCart}}
	carts := &fakeCarts{viewText: "Your cart is empty."}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, analyzer, &fakeProducts{}, carts, &fakeCheckout{}, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "what's in my cart?"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Contains(t, transport.sentText[0], "Your cart is empty.")
	assert.Contains(t, transport.sentText[0], "continue with checkout")
	assert.Contains(t, transport.sentText[0], "What's your email?")
}

func TestHandleUpdateMisclassifiedCheckoutAnswerIsNotTreatedAsAnInterruption(t *testing.T) {
	sessions := newFakeSessions()
	sessions.checkoutState = domain.CheckoutAskReturning
	sessions.draft = domain.CustomerDraft{PendingInterruptionPrompt: "Have you ordered with us before? (yes/no)"}
	// The fallback classifier routes unrecognized plain text to
	// product_search, which IsInterruption() treats as interrupting —
	// but "no" is a checkout answer, not a question.
	analyzer := &fakeAnalyzer{result: domain.Analysis{Intent: domain.IntentProductSearch, Entities: domain.Entities{Keywords: "no"}, Confidence: 0.4}}
	checkoutHandler := &fakeCheckout{answerResult: checkout.Result{Reply: "What's your email?"}}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, analyzer, &fakeProducts{}, &fakeCarts{}, checkoutHandler, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "no"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Equal(t, "What's your email?", transport.sentText[0])
}

func TestHandleUpdateMisclassifiedEmailDuringCheckoutIsNotTreatedAsAnInterruption(t *testing.T) {
	sessions := newFakeSessions()
	sessions.checkoutState = domain.CheckoutAskEmail
	sessions.draft = domain.CustomerDraft{PendingInterruptionPrompt: "What's your email?"}
	analyzer := &fakeAnalyzer{result: domain.Analysis{Intent: domain.IntentProductSearch, Entities: domain.Entities{Keywords: "jane@macroferro.test"}, Confidence: 0.4}}
	checkoutHandler := &fakeCheckout{answerResult: checkout.Result{Reply: "What's your name?"}}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, analyzer, &fakeProducts{}, &fakeCarts{}, checkoutHandler, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "jane@macroferro.test"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Equal(t, "What's your name?", transport.sentText[0])
}

func TestIsInterruptingMessageDetectsQuestionShapedText(t *testing.T) {
	assert.True(t, isInterruptingMessage("what's the price of SKU1?"))
	assert.True(t, isInterruptingMessage("/ver_carrito"))
	assert.True(t, isInterruptingMessage("how much does it cost"))
	assert.False(t, isInterruptingMessage("no"))
	assert.False(t, isInterruptingMessage("jane@macroferro.test"))
	assert.False(t, isInterruptingMessage("Acme Corp"))
}

func TestHandleUpdateLowConfidenceShortMessageAsksToClarify(t *testing.T) {
	sessions := newFakeSessions()
	analyzer := &fakeAnalyzer{result: domain.Analysis{Intent: domain.IntentProductSearch, Confidence: 0.2}}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, analyzer, &fakeProducts{}, &fakeCarts{}, &fakeCheckout{}, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "huh?"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Contains(t, transport.sentText[0], "say that differently")
}

func TestHandleUpdateNotFoundFromAnalyzerIsSentAsIsWithoutError(t *testing.T) {
	sessions := newFakeSessions()
	analyzer := &fakeAnalyzer{err: apperr.NotFoundf("I don't see item %d in the last list", 3)}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, analyzer, &fakeProducts{}, &fakeCarts{}, &fakeCheckout{}, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "the third one"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Contains(t, transport.sentText[0], "item 3")
}

func TestHandleUpdateInternalErrorBecomesGenericUserFacingMessage(t *testing.T) {
	sessions := newFakeSessions()
	analyzer := &fakeAnalyzer{result: domain.Analysis{Intent: domain.IntentProductSearch, Confidence: 0.9, Entities: domain.Entities{Keywords: "drill"}}}
	products := &fakeProducts{searchErr: apperr.Transient("vector index down", errors.New("timeout"))}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, analyzer, products, &fakeCarts{}, &fakeCheckout{}, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "drill bits please"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Contains(t, transport.sentText[0], "temporary hiccup")
}

func TestHandleUpdateAddToCartFormatsSummary(t *testing.T) {
	sessions := newFakeSessions()
	analyzer := &fakeAnalyzer{result: domain.Analysis{Intent: domain.IntentAddToCart, Confidence: 0.9, Entities: domain.Entities{SKU: "SKU1"}}}
	carts := &fakeCarts{cart: domain.Cart{Items: map[string]domain.CartItem{"SKU1": {SKU: "SKU1", Quantity: 1}}}}
	transport := &fakeTransport{}
	o := newTestOrchestrator(sessions, analyzer, &fakeProducts{}, carts, &fakeCheckout{}, transport)

	err := o.HandleUpdate(context.Background(), Update{UpdateID: 1, ChatID: 1, Text: "/agregar SKU1"})
	require.NoError(t, err)
	require.Len(t, transport.sentText, 1)
	assert.Contains(t, transport.sentText[0], "Added.")
	assert.Contains(t, transport.sentText[0], "Cart total")
}
