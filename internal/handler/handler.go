// Package handler orchestrates the message-processing pipeline: rate
// limiting, intent classification, the scripted order dialogue, and the
// LLM-with-tools path. Handle never returns an error — every failure becomes
// a plain-text apology so a logic bug can never stall the work queue.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shopbot/internal/bus"
	"shopbot/internal/conversation"
	"shopbot/internal/domain"
	"shopbot/internal/intent"
	"shopbot/internal/metrics"
	"shopbot/internal/order"
	"shopbot/internal/queue"
	"shopbot/internal/tool"
	"shopbot/internal/toolcall"
)

const (
	throttledReply = "You're sending messages too quickly. Please wait a moment and try again."
	errorReply     = "Sorry, something went wrong processing your message. Please try again."
)

// Handler ties the pipeline together. Construct with NewHandler; all
// collaborators are injected, none are globals.
type Handler struct {
	store    domain.Store
	contexts *conversation.Store
	flow     *order.Flow
	limiter  *FixedWindowLimiter
	logger   *slog.Logger
	events   *bus.EventBus

	// LLM path; all three may be nil, in which case general inquiries get
	// the static menu.
	provider     domain.Provider
	tools        *tool.Registry
	codec        *toolcall.Executor
	systemPrompt string
}

// Config holds the Handler dependencies and tuning parameters.
type Config struct {
	Store    domain.Store
	Contexts *conversation.Store
	Flow     *order.Flow
	Logger   *slog.Logger
	Events   *bus.EventBus // optional

	RateLimitMax    int           // default 30
	RateLimitWindow time.Duration // default 1m

	Provider     domain.Provider // optional
	Tools        *tool.Registry  // optional
	SystemPrompt string
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		store:        cfg.Store,
		contexts:     cfg.Contexts,
		flow:         cfg.Flow,
		limiter:      NewFixedWindowLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
		logger:       cfg.Logger,
		events:       cfg.Events,
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		systemPrompt: cfg.SystemPrompt,
	}
	if cfg.Tools != nil {
		h.codec = toolcall.NewExecutor(cfg.Tools, cfg.Logger)
	}
	return h
}

// Handle processes one inbound message and returns the reply, already
// stamped with the sender's channel and chat.
func (h *Handler) Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply {
	metrics.MessagesTotal.Inc()
	h.emit(bus.EventMessageReceived, map[string]any{"sender": msg.SenderID, "channel": msg.Channel})

	if !h.limiter.Allow(msg.SenderID) {
		h.logger.Warn("sender rate limited", "sender", msg.SenderID)
		metrics.ThrottledTotal.Inc()
		h.emit(bus.EventMessageThrottled, map[string]any{"sender": msg.SenderID})
		return h.stamp(msg, order.Reply{Body: throttledReply})
	}

	c := h.contexts.Get(msg.SenderID)
	c.Lock()
	defer c.Unlock()
	c.Touch()

	reply, err := h.process(ctx, c, msg)
	if err != nil {
		h.logger.Error("message processing failed", "sender", msg.SenderID, "error", err)
		reply = order.Reply{Body: errorReply}
	}

	c.AppendTurn("user", msg.Body)
	c.AppendTurn("assistant", reply.Body)

	h.emit(bus.EventMessageReplied, map[string]any{"sender": msg.SenderID})
	return h.stamp(msg, reply)
}

// process runs steps 2–5 of the pipeline. Panics are converted to errors so
// they surface as the generic apology instead of killing the queue's drain
// goroutine.
func (h *Handler) process(ctx context.Context, c *conversation.Context, msg domain.InboundMessage) (reply order.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	if msg.Kind != "" && msg.Kind != domain.KindText {
		return order.Reply{Body: "I can only read text messages for now — please type your request."}, nil
	}

	msgIntent := intent.Classify(msg.Body)
	metrics.IntentTotal(string(msgIntent)).Inc()

	// An in-progress order always wins: the draft owns the dialogue until it
	// is confirmed or cancelled.
	if h.flow.Active(c) || msgIntent == intent.PlaceOrder {
		return h.flow.Advance(ctx, c, msg.Body)
	}

	switch msgIntent {
	case intent.BrowseProducts:
		return h.browseProducts(ctx)
	case intent.ProductInquiry:
		return h.productInquiry(ctx, msg.Body)
	case intent.OrderStatus:
		return h.orderStatus(ctx, msg.SenderID)
	case intent.CancelOrder:
		return h.cancelOrder(ctx, msg.SenderID)
	case intent.DeliveryInquiry:
		return h.deliveryInquiry(ctx, msg.SenderID)
	case intent.Payment:
		return h.paymentInfo(), nil
	default:
		if h.provider != nil {
			return h.generalLLM(ctx, c, msg)
		}
		return h.generalMenu(), nil
	}
}

func (h *Handler) browseProducts(ctx context.Context) (order.Reply, error) {
	products, err := h.store.ListProducts(ctx)
	if err != nil {
		return order.Reply{}, fmt.Errorf("list products: %w", err)
	}
	if len(products) == 0 {
		return order.Reply{Body: "Our catalog is being restocked right now — please check back soon."}, nil
	}
	return order.Reply{Body: order.ProductListing(products)}, nil
}

func (h *Handler) productInquiry(ctx context.Context, text string) (order.Reply, error) {
	products, err := h.store.ListProducts(ctx)
	if err != nil {
		return order.Reply{}, fmt.Errorf("list products: %w", err)
	}

	p := order.MatchProduct(text, products)
	if p == nil {
		names := make([]string, 0, len(products))
		for _, prod := range products {
			names = append(names, prod.Name)
		}
		return order.Reply{
			Body:         "Which product would you like to know about?",
			QuickReplies: names,
		}, nil
	}

	stock := "In stock."
	if !p.InStock {
		stock = "Currently out of stock."
	}
	body := fmt.Sprintf("*%s*\n%s\n\n$%.2f per carton of %d units ($%.2f per unit). %s",
		p.Name, p.Description, p.CartonPrice, p.UnitsPerCarton, p.UnitPrice, stock)
	return order.Reply{Body: body, QuickReplies: []string{"Order " + p.Name, "Show all products"}}, nil
}

func (h *Handler) orderStatus(ctx context.Context, senderID string) (order.Reply, error) {
	o, err := h.store.LatestOrderFor(ctx, senderID)
	if err == domain.ErrNotFound {
		return order.Reply{Body: "You don't have any orders with us yet. Would you like to see our products?", QuickReplies: []string{"Show products"}}, nil
	}
	if err != nil {
		return order.Reply{}, fmt.Errorf("latest order: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your most recent order %s is *%s*.\n\n", o.ID, o.Status)
	for _, it := range o.Items {
		fmt.Fprintf(&b, "• %d × %s — $%.2f\n", it.Quantity, it.ProductName, it.Subtotal)
	}
	fmt.Fprintf(&b, "\nTotal: $%.2f", o.Total)
	return order.Reply{Body: b.String()}, nil
}

func (h *Handler) cancelOrder(ctx context.Context, senderID string) (order.Reply, error) {
	o, err := h.store.LatestOrderFor(ctx, senderID)
	if err == domain.ErrNotFound {
		return order.Reply{Body: "You don't have any orders to cancel."}, nil
	}
	if err != nil {
		return order.Reply{}, fmt.Errorf("latest order: %w", err)
	}

	if !o.Status.Cancellable() {
		return order.Reply{
			Body: fmt.Sprintf("Order %s is already %s and can no longer be cancelled. Contact support if you need help.", o.ID, o.Status),
		}, nil
	}

	if err := h.store.UpdateOrderStatus(ctx, o.ID, domain.StatusCancelled, "cancelled by customer"); err != nil {
		return order.Reply{}, fmt.Errorf("cancel order %s: %w", o.ID, err)
	}
	metrics.OrdersCancelled.Inc()
	h.emit(bus.EventOrderCancelled, map[string]any{"order": o.ID, "customer": senderID})
	return order.Reply{Body: fmt.Sprintf("Order %s has been cancelled. Anything else I can help with?", o.ID)}, nil
}

func (h *Handler) deliveryInquiry(ctx context.Context, senderID string) (order.Reply, error) {
	o, err := h.store.LatestOrderFor(ctx, senderID)
	if err == domain.ErrNotFound {
		return order.Reply{Body: "You don't have any deliveries on the way. Would you like to place an order?", QuickReplies: []string{"Place order"}}, nil
	}
	if err != nil {
		return order.Reply{}, fmt.Errorf("latest order: %w", err)
	}

	a := o.Address
	body := fmt.Sprintf("Order %s is *%s*, shipping to:\n%s, %s, %s %s, %s",
		o.ID, o.Status, a.Street, a.City, a.State, a.Postcode, a.Country)
	return order.Reply{Body: body}, nil
}

func (h *Handler) paymentInfo() order.Reply {
	return order.Reply{
		Body: "We accept bank transfer and card payment on delivery. An invoice is sent with every order confirmation. For payment issues, reply here and our team will follow up.",
	}
}

func (h *Handler) generalMenu() order.Reply {
	return order.Reply{
		Body: "Hi! Here's what I can help with:",
		QuickReplies: []string{
			"Show products",
			"Place order",
			"Order status",
			"Delivery info",
			"Payment info",
		},
	}
}

func (h *Handler) stamp(msg domain.InboundMessage, reply order.Reply) domain.OutboundReply {
	return domain.OutboundReply{
		Channel:      msg.Channel,
		ChatID:       msg.ChatID,
		Body:         reply.Body,
		QuickReplies: reply.QuickReplies,
	}
}

func (h *Handler) emit(eventType string, payload map[string]any) {
	if h.events != nil {
		h.events.Emit(bus.Event{Type: eventType, Source: "handler", Payload: payload})
	}
}

// Run consumes the bus's inbound stream, pushing each message through the
// work queue and sending the reply back out. Blocks until the context is
// cancelled or the bus closes.
func (h *Handler) Run(ctx context.Context, messageBus domain.MessageBus, q *queue.Queue) {
	h.logger.Info("message pipeline started")
	inbound := messageBus.Subscribe()

	// One prune per window keeps the limiter map bounded for idle senders.
	prune := time.NewTicker(h.limiter.window)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("message pipeline stopping")
			q.Clear()
			return
		case <-prune.C:
			h.limiter.Prune()
		case msg, ok := <-inbound:
			if !ok {
				h.logger.Info("inbound channel closed, pipeline stopping")
				return
			}
			q.Enqueue(ctx, msg, func(ctx context.Context, m domain.InboundMessage) error {
				reply := h.Handle(ctx, m)
				messageBus.SendOutbound(reply)
				return nil
			})
		}
	}
}
