package handler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/conversation"
	"shopbot/internal/domain"
	"shopbot/internal/order"
	"shopbot/internal/queue"
	"shopbot/internal/tool"
)

// fakeStore is an in-memory domain.Store for pipeline tests.
type fakeStore struct {
	products []domain.Product
	orders   map[string]domain.Order
	latest   map[string]string

	listErr error
}

func newFakeStore(products ...domain.Product) *fakeStore {
	return &fakeStore{
		products: products,
		orders:   make(map[string]domain.Order),
		latest:   make(map[string]string),
	}
}

func (f *fakeStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	f.products = append(f.products, p)
	return nil
}

func (f *fakeStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	for i := range f.products {
		if f.products[i].ID == id {
			return &f.products[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.products, nil
}

func (f *fakeStore) UpsertCustomer(ctx context.Context, c domain.Customer) error { return nil }

func (f *fakeStore) GetCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeStore) CreateOrder(ctx context.Context, o domain.Order) error {
	f.orders[o.ID] = o
	f.latest[o.CustomerID] = o.ID
	return nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &o, nil
}

func (f *fakeStore) LatestOrderFor(ctx context.Context, customerID string) (*domain.Order, error) {
	id, ok := f.latest[customerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return f.GetOrder(ctx, id)
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, note string) error {
	o, ok := f.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	o.History = append(o.History, domain.StatusChange{Status: status, Note: note})
	f.orders[orderID] = o
	return nil
}

func (f *fakeStore) Close() error { return nil }

var _ domain.Store = (*fakeStore)(nil)

// stubProvider records the last request and returns a canned reply.
type stubProvider struct {
	reply   string
	err     error
	lastReq domain.GenerateRequest
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	p.lastReq = req
	return p.reply, p.err
}

func (p *stubProvider) Healthy(ctx context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type pipeline struct {
	handler  *Handler
	store    *fakeStore
	contexts *conversation.Store
	provider *stubProvider
}

func newPipeline(t *testing.T, cfg Config) *pipeline {
	t.Helper()
	store := newFakeStore(
		domain.Product{ID: "pp-001", Name: "Pulled Pork", Category: "Meats", CartonPrice: 259.99, UnitsPerCarton: 10, InStock: true},
		domain.Product{ID: "ss-002", Name: "Smoked Sausages", Category: "Meats", CartonPrice: 149.50, UnitsPerCarton: 20, InStock: true},
	)
	logger := testLogger()
	contexts := conversation.NewStore(conversation.StoreConfig{Logger: logger})
	flow := order.NewFlow(order.FlowConfig{Store: store, Logger: logger})

	cfg.Store = store
	cfg.Contexts = contexts
	cfg.Flow = flow
	cfg.Logger = logger

	p := &pipeline{
		store:    store,
		contexts: contexts,
	}
	if cfg.Provider != nil {
		p.provider = cfg.Provider.(*stubProvider)
	}
	p.handler = NewHandler(cfg)
	return p
}

func inbound(body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:       "m1",
		Channel:  "test",
		ChatID:   "chat1",
		SenderID: "61400000001",
		Body:     body,
		Kind:     domain.KindText,
	}
}

func TestHandle_BrowseProducts(t *testing.T) {
	p := newPipeline(t, Config{})

	reply := p.handler.Handle(context.Background(), inbound("show me your products"))
	if !strings.Contains(reply.Body, "Pulled Pork") || !strings.Contains(reply.Body, "Smoked Sausages") {
		t.Fatalf("expected catalog listing, got %q", reply.Body)
	}
	if reply.Channel != "test" || reply.ChatID != "chat1" {
		t.Fatalf("reply not stamped with origin: %+v", reply)
	}
}

func TestHandle_ProductInquiry(t *testing.T) {
	p := newPipeline(t, Config{})

	reply := p.handler.Handle(context.Background(), inbound("how much is pulled pork?"))
	if !strings.Contains(reply.Body, "259.99") {
		t.Fatalf("expected carton price in reply, got %q", reply.Body)
	}
}

func TestHandle_OrderIntentStartsFlow(t *testing.T) {
	p := newPipeline(t, Config{})

	p.handler.Handle(context.Background(), inbound("I want to buy pulled pork"))

	c := p.contexts.Get("61400000001")
	if c.Draft == nil {
		t.Fatal("order intent should open a draft")
	}
	if c.Draft.Stage != domain.StageQuantitySelection {
		t.Fatalf("product named in the entry message should advance to quantity, got %v", c.Draft.Stage)
	}
}

func TestHandle_DraftOwnsDialogue(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()

	// Open a draft, then send a message that classifies as a different
	// intent. The flow, not the intent switch, must consume it.
	p.handler.Handle(ctx, inbound("place an order"))
	p.handler.Handle(ctx, inbound("pulled pork"))
	reply := p.handler.Handle(ctx, inbound("2"))

	if !strings.Contains(reply.Body, "address") {
		t.Fatalf("expected address prompt from the flow, got %q", reply.Body)
	}
}

func TestHandle_FullOrderThroughPipeline(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()

	steps := []string{
		"place order",
		"pulled pork",
		"2 cartons",
		"123 Test St, Sydney, NSW, 2000",
		"confirm order",
	}
	var last domain.OutboundReply
	for _, s := range steps {
		last = p.handler.Handle(ctx, inbound(s))
	}

	if !strings.Contains(last.Body, "confirmed") {
		t.Fatalf("expected confirmation, got %q", last.Body)
	}
	if len(p.store.orders) != 1 {
		t.Fatalf("expected 1 persisted order, got %d", len(p.store.orders))
	}
}

func TestHandle_OrderStatusNoOrders(t *testing.T) {
	p := newPipeline(t, Config{})

	reply := p.handler.Handle(context.Background(), inbound("where is my order"))
	if !strings.Contains(reply.Body, "don't have any orders") {
		t.Fatalf("expected no-orders reply, got %q", reply.Body)
	}
}

func TestHandle_CancelOrder(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()
	p.store.CreateOrder(ctx, domain.Order{ID: "ord-1", CustomerID: "61400000001", Status: domain.StatusPending})

	reply := p.handler.Handle(ctx, inbound("cancel my order"))
	if !strings.Contains(reply.Body, "cancelled") {
		t.Fatalf("expected cancellation reply, got %q", reply.Body)
	}
	o, _ := p.store.GetOrder(ctx, "ord-1")
	if o.Status != domain.StatusCancelled {
		t.Fatalf("expected order cancelled, got %v", o.Status)
	}
}

func TestHandle_CancelShippedOrderRefused(t *testing.T) {
	p := newPipeline(t, Config{})
	ctx := context.Background()
	p.store.CreateOrder(ctx, domain.Order{ID: "ord-2", CustomerID: "61400000001", Status: domain.StatusShipped})

	reply := p.handler.Handle(ctx, inbound("cancel my order"))
	if !strings.Contains(reply.Body, "no longer be cancelled") {
		t.Fatalf("expected refusal, got %q", reply.Body)
	}
	o, _ := p.store.GetOrder(ctx, "ord-2")
	if o.Status != domain.StatusShipped {
		t.Fatalf("shipped order must keep its status, got %v", o.Status)
	}
}

func TestHandle_Throttled(t *testing.T) {
	p := newPipeline(t, Config{RateLimitMax: 2, RateLimitWindow: time.Minute})
	ctx := context.Background()

	p.handler.Handle(ctx, inbound("hi"))
	p.handler.Handle(ctx, inbound("hi again"))
	reply := p.handler.Handle(ctx, inbound("hi once more"))

	if reply.Body != throttledReply {
		t.Fatalf("expected throttle reply, got %q", reply.Body)
	}

	// The throttled message must not reach classification or the context.
	c := p.contexts.Get("61400000001")
	if len(c.History) != 4 {
		t.Fatalf("expected 4 turns (2 exchanges), got %d", len(c.History))
	}
}

func TestHandle_StoreErrorGetsApology(t *testing.T) {
	p := newPipeline(t, Config{})
	p.store.listErr = errors.New("db is down")

	reply := p.handler.Handle(context.Background(), inbound("show me your products"))
	if reply.Body != errorReply {
		t.Fatalf("expected apology, got %q", reply.Body)
	}
}

func TestHandle_NonTextMessage(t *testing.T) {
	p := newPipeline(t, Config{})

	msg := inbound("")
	msg.Kind = domain.KindImage
	reply := p.handler.Handle(context.Background(), msg)
	if !strings.Contains(reply.Body, "text") {
		t.Fatalf("expected text-only notice, got %q", reply.Body)
	}
}

func TestHandle_GeneralMenuWithoutProvider(t *testing.T) {
	p := newPipeline(t, Config{})

	reply := p.handler.Handle(context.Background(), inbound("hello there"))
	if len(reply.QuickReplies) == 0 {
		t.Fatalf("expected menu quick replies, got %+v", reply)
	}
}

func TestHandle_GeneralLLMPath(t *testing.T) {
	provider := &stubProvider{reply: "We open at 9am every day."}
	p := newPipeline(t, Config{Provider: provider, SystemPrompt: "You are a helpful shop assistant."})

	reply := p.handler.Handle(context.Background(), inbound("what are your opening hours?"))
	if reply.Body != "We open at 9am every day." {
		t.Fatalf("expected provider reply, got %q", reply.Body)
	}
	if p.provider.lastReq.System == "" {
		t.Fatal("provider should receive the system prompt")
	}
}

func TestHandle_LLMToolCall(t *testing.T) {
	store := newFakeStore()
	registry := tool.NewRegistry(testLogger())
	registry.Register(tool.NewProductSearchTool(store))

	provider := &stubProvider{reply: "Let me check.\nTOOL: product_search\nARGS: {\"query\": \"pork\"}\nREASON: customer asked about pork\n"}
	p := newPipeline(t, Config{Provider: provider, Tools: registry, SystemPrompt: "assistant"})
	p.store.products = nil
	// The registry's tool reads from its own store, seeded below.
	store.products = []domain.Product{{ID: "pp-001", Name: "Pulled Pork", CartonPrice: 259.99, UnitsPerCarton: 10, InStock: true}}

	reply := p.handler.Handle(context.Background(), inbound("got any pork?"))
	if strings.Contains(reply.Body, "TOOL:") {
		t.Fatalf("tool block must be replaced in the final reply, got %q", reply.Body)
	}
	if !strings.Contains(reply.Body, "Pulled Pork") {
		t.Fatalf("expected tool result in reply, got %q", reply.Body)
	}
	if !strings.Contains(p.provider.lastReq.System, "product_search") {
		t.Fatal("system prompt should advertise the registered tools")
	}
}

func TestHandle_ProviderErrorGetsApology(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream 500")}
	p := newPipeline(t, Config{Provider: provider})

	reply := p.handler.Handle(context.Background(), inbound("tell me a joke"))
	if reply.Body != errorReply {
		t.Fatalf("expected apology on provider failure, got %q", reply.Body)
	}
}

func TestHandle_HistoryTruncation(t *testing.T) {
	p := newPipeline(t, Config{RateLimitMax: 1000})
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		p.handler.Handle(ctx, inbound("hello"))
	}

	c := p.contexts.Get("61400000001")
	if len(c.History) != 20 {
		t.Fatalf("history must cap at 20 turns, got %d", len(c.History))
	}
}

func TestRun_PrunesExpiredLimiterWindows(t *testing.T) {
	p := newPipeline(t, Config{RateLimitMax: 5, RateLimitWindow: 20 * time.Millisecond})
	mb := bus.New(8, testLogger())
	q := queue.New(queue.Config{Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.handler.Run(ctx, mb, q)

	mb.Publish(inbound("hello"))

	windows := func() int {
		p.handler.limiter.mu.Lock()
		defer p.handler.limiter.mu.Unlock()
		return len(p.handler.limiter.windows)
	}

	deadline := time.Now().Add(time.Second)
	for windows() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("published message never reached the handler")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Once the sender's window elapses, the run loop drops its entry.
	deadline = time.Now().Add(time.Second)
	for windows() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired sender window was never pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
