package order

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"shopbot/internal/bus"
	"shopbot/internal/conversation"
	"shopbot/internal/domain"
	"shopbot/internal/metrics"
)

const defaultCountry = "Australia"

// Reply is a stage prompt or result. The handler stamps channel and chat id.
type Reply struct {
	Body         string
	QuickReplies []string
}

// Flow drives the order dialogue over a conversation's draft. Each Advance
// call is one parse-and-validate step; malformed input re-prompts without
// changing stage.
type Flow struct {
	store   domain.Store
	events  *bus.EventBus
	logger  *slog.Logger
	country string
}

// FlowConfig holds the Flow dependencies.
type FlowConfig struct {
	Store   domain.Store
	Events  *bus.EventBus // optional
	Logger  *slog.Logger
	Country string // address country default
}

func NewFlow(cfg FlowConfig) *Flow {
	if cfg.Country == "" {
		cfg.Country = defaultCountry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Flow{
		store:   cfg.Store,
		events:  cfg.Events,
		logger:  cfg.Logger,
		country: cfg.Country,
	}
}

// Active reports whether the conversation has an order in progress.
func (f *Flow) Active(c *conversation.Context) bool {
	return c.Draft != nil
}

// Advance feeds one message into the state machine and returns the reply for
// this turn. A missing draft is created first, and the same message is then
// applied to the product-selection stage, so "buy pulled pork" skips
// straight to quantity.
func (f *Flow) Advance(ctx context.Context, c *conversation.Context, text string) (Reply, error) {
	fresh := false
	if c.Draft == nil {
		c.Draft = &domain.OrderDraft{Stage: domain.StageProductSelection}
		fresh = true
	}

	switch c.Draft.Stage {
	case domain.StageProductSelection:
		return f.selectProduct(ctx, c, text, fresh)
	case domain.StageQuantitySelection:
		return f.selectQuantity(c, text), nil
	case domain.StageAddressCollection:
		return f.collectAddress(c, text), nil
	case domain.StageConfirmation:
		return f.confirm(ctx, c, text)
	default:
		// Unknown stage means corrupted state: reset rather than loop forever.
		f.logger.Error("unknown order stage, resetting draft", "stage", c.Draft.Stage, "sender", c.SenderID)
		c.Draft = nil
		return Reply{Body: "Something went wrong with your order. Let's start again — what would you like to buy?"}, nil
	}
}

func (f *Flow) selectProduct(ctx context.Context, c *conversation.Context, text string, fresh bool) (Reply, error) {
	products, err := f.store.ListProducts(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("list products: %w", err)
	}

	if p := MatchProduct(text, products); p != nil {
		c.Draft.CurrentProduct = p
		c.Draft.Stage = domain.StageQuantitySelection
		body := fmt.Sprintf("%s — $%.2f per carton (%d units). How many cartons would you like?",
			p.Name, p.CartonPrice, p.UnitsPerCarton)
		return Reply{Body: body, QuickReplies: []string{"1 carton", "2 cartons", "5 cartons"}}, nil
	}

	names := make([]string, 0, len(products))
	for _, p := range products {
		names = append(names, p.Name)
	}

	body := "Which product would you like to order?"
	if !fresh {
		body = "Sorry, I couldn't find that product. " + body
	}
	return Reply{Body: body, QuickReplies: names}, nil
}

func (f *Flow) selectQuantity(c *conversation.Context, text string) Reply {
	qty, err := ParseQuantity(text)
	if err != nil {
		return Reply{
			Body:         fmt.Sprintf("Please tell me how many cartons of %s you'd like, e.g. \"2 cartons\".", c.Draft.CurrentProduct.Name),
			QuickReplies: []string{"1 carton", "2 cartons", "5 cartons"},
		}
	}

	p := c.Draft.CurrentProduct
	c.Draft.Items = append(c.Draft.Items, domain.OrderItem{
		ProductID:   p.ID,
		ProductName: p.Name,
		Quantity:    qty,
		Subtotal:    float64(qty) * p.CartonPrice,
	})
	c.Draft.CurrentProduct = nil
	c.Draft.Stage = domain.StageAddressCollection

	return Reply{
		Body: fmt.Sprintf("Got it — %d × %s. Now I need your delivery address.\n\nPlease send it as: street, city, state, postcode\nFor example: 123 Main St, Sydney, NSW, 2000", qty, p.Name),
	}
}

func (f *Flow) collectAddress(c *conversation.Context, text string) Reply {
	addr, err := ParseAddress(text, f.country)
	if err != nil {
		return Reply{
			Body: "That doesn't look like a complete address. Please send exactly four parts separated by commas: street, city, state, postcode.",
		}
	}

	c.Draft.Address = &addr
	c.Draft.Stage = domain.StageConfirmation

	return Reply{
		Body:         f.renderSummary(c.Draft),
		QuickReplies: []string{"Confirm Order", "Modify Order", "Cancel Order"},
	}
}

func (f *Flow) confirm(ctx context.Context, c *conversation.Context, text string) (Reply, error) {
	switch ParseDecision(text) {
	case DecisionConfirm:
		return f.placeOrder(ctx, c)

	case DecisionModify:
		c.Draft.Items = nil
		c.Draft.Address = nil
		c.Draft.Stage = domain.StageProductSelection
		return f.selectProduct(ctx, c, "", true)

	case DecisionCancel:
		c.Draft = nil
		return Reply{Body: "No worries, I've cancelled that order. Let me know if there's anything else I can help with."}, nil

	default:
		return Reply{
			Body:         "Please reply with one of: Confirm Order, Modify Order, or Cancel Order.",
			QuickReplies: []string{"Confirm Order", "Modify Order", "Cancel Order"},
		}, nil
	}
}

func (f *Flow) placeOrder(ctx context.Context, c *conversation.Context) (Reply, error) {
	draft := c.Draft

	if err := f.store.UpsertCustomer(ctx, domain.Customer{
		ID:    c.SenderID,
		Phone: c.SenderID,
	}); err != nil {
		return Reply{}, fmt.Errorf("upsert customer: %w", err)
	}

	now := time.Now()
	order := domain.Order{
		ID:         uuid.NewString(),
		CustomerID: c.SenderID,
		Items:      draft.Items,
		Address:    *draft.Address,
		Total:      draftTotal(draft),
		Status:     domain.StatusPending,
		History: []domain.StatusChange{
			{Status: domain.StatusPending, Timestamp: now, Note: "order placed"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := f.store.CreateOrder(ctx, order); err != nil {
		return Reply{}, fmt.Errorf("create order: %w", err)
	}

	c.Draft = nil
	metrics.OrdersCreated.Inc()
	f.logger.Info("order placed", "order", order.ID, "customer", order.CustomerID, "total", order.Total)
	if f.events != nil {
		f.events.Emit(bus.Event{
			Type:    bus.EventOrderCreated,
			Source:  "order",
			Payload: map[string]any{"order": order.ID, "customer": order.CustomerID, "total": order.Total},
		})
	}

	return Reply{
		Body: fmt.Sprintf("Thank you! Your order is confirmed. 🎉\n\nOrder ID: %s\nTotal: $%.2f\n\nWe'll message you when it ships.", order.ID, order.Total),
	}, nil
}

func (f *Flow) renderSummary(draft *domain.OrderDraft) string {
	var b strings.Builder
	b.WriteString("Here's your order:\n\n")
	for _, it := range draft.Items {
		fmt.Fprintf(&b, "• %d × %s — $%.2f\n", it.Quantity, it.ProductName, it.Subtotal)
	}
	fmt.Fprintf(&b, "\nTotal: $%.2f\n", draftTotal(draft))
	a := draft.Address
	fmt.Fprintf(&b, "Deliver to: %s, %s, %s %s, %s\n", a.Street, a.City, a.State, a.Postcode, a.Country)
	b.WriteString("\nShall I place it?")
	return b.String()
}

func draftTotal(draft *domain.OrderDraft) float64 {
	var total float64
	for _, it := range draft.Items {
		total += it.Subtotal
	}
	return total
}

// ProductListing renders the catalog grouped by category. Used by the
// browse-products intent; lives here with the other catalog renderers.
func ProductListing(products []domain.Product) string {
	byCat := make(map[string][]domain.Product)
	for _, p := range products {
		byCat[p.Category] = append(byCat[p.Category], p)
	}

	cats := make([]string, 0, len(byCat))
	for c := range byCat {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var b strings.Builder
	b.WriteString("Here's what we have:\n")
	for _, cat := range cats {
		fmt.Fprintf(&b, "\n*%s*\n", cat)
		for _, p := range byCat[cat] {
			fmt.Fprintf(&b, "• %s — $%.2f/carton (%d units)\n", p.Name, p.CartonPrice, p.UnitsPerCarton)
		}
	}
	b.WriteString("\nJust tell me what you'd like to order!")
	return b.String()
}
