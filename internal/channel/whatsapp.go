package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"time"

	"shopbot/internal/config"
	"shopbot/internal/domain"
)

const (
	whatsappAPIBase = "https://graph.facebook.com/v21.0"

	// The Cloud API caps interactive reply buttons at 3 and titles at 20
	// characters; anything beyond falls back to a numbered list.
	waMaxButtons     = 3
	waMaxButtonTitle = 20
)

// WhatsApp implements domain.Channel for the WhatsApp Business Cloud API.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	bus     domain.MessageBus
	logger  *slog.Logger
	client  *http.Client
	mux     *http.ServeMux
	apiBase string
	server  *http.Server
}

type WhatsAppChannelConfig struct {
	Config  config.WhatsAppConfig
	Logger  *slog.Logger
	APIBase string // override for tests
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = whatsappAPIBase
	}
	return &WhatsApp{
		cfg:     cfg.Config,
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		apiBase: apiBase,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	bus.OnOutbound("whatsapp", func(reply domain.OutboundReply) {
		if err := w.send(ctx, reply); err != nil {
			w.logger.Error("whatsapp send failed", "err", err, "chat", reply.ChatID)
		}
	})

	w.mux = http.NewServeMux()
	webhookPath := w.cfg.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/whatsapp"
	}

	w.mux.HandleFunc("GET "+webhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+webhookPath, w.handleIncoming)

	if w.cfg.ListenAddr != "" {
		w.server = &http.Server{Addr: w.cfg.ListenAddr, Handler: w.mux}
		go func() {
			w.logger.Info("whatsapp webhook listening", "addr", w.cfg.ListenAddr, "path", webhookPath)
			if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				w.logger.Error("whatsapp webhook server failed", "err", err)
			}
		}()
	}

	w.logger.Info("whatsapp channel ready", "webhook", webhookPath)
	return nil
}

func (w *WhatsApp) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(ctx)
	}
	return nil
}

func (w *WhatsApp) Send(ctx context.Context, chatID string, content string) error {
	return w.send(ctx, domain.OutboundReply{ChatID: chatID, Body: content})
}

// Handler returns the webhook handler, for mounting on an existing mux.
func (w *WhatsApp) Handler() http.Handler {
	if w.mux == nil {
		return http.NotFoundHandler()
	}
	return w.mux
}

// --- Webhook handlers ---

// handleVerification answers the webhook verification challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				w.bus.Publish(w.normalize(msg))
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// normalize maps a Cloud API message onto the internal message shape.
// Button taps arrive as interactive payloads and are folded into plain text
// so the handler never needs channel-specific cases.
func (w *WhatsApp) normalize(msg waMessage) domain.InboundMessage {
	in := domain.InboundMessage{
		ID:        msg.ID,
		Channel:   "whatsapp",
		ChatID:    msg.From,
		SenderID:  msg.From,
		Timestamp: time.Now(),
	}

	switch msg.Type {
	case "text":
		in.Kind = domain.KindText
		if msg.Text != nil {
			in.Body = msg.Text.Body
		}
	case "interactive":
		in.Kind = domain.KindText
		if msg.Interactive != nil && msg.Interactive.ButtonReply != nil {
			in.Body = msg.Interactive.ButtonReply.Title
		}
	case "image":
		in.Kind = domain.KindImage
		if msg.Image != nil {
			in.MediaURL = msg.Image.ID
			in.Caption = msg.Image.Caption
		}
	case "audio":
		in.Kind = domain.KindAudio
	case "video":
		in.Kind = domain.KindVideo
	case "document":
		in.Kind = domain.KindDocument
	case "location":
		in.Kind = domain.KindLocation
	case "contacts":
		in.Kind = domain.KindContact
	default:
		in.Kind = domain.MessageKind(msg.Type)
	}

	w.logger.Info("whatsapp message received", "from", msg.From, "kind", in.Kind)
	return in
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// send delivers a reply. Up to 3 short quick replies render as interactive
// buttons; otherwise they are appended as a numbered list.
func (w *WhatsApp) send(ctx context.Context, reply domain.OutboundReply) error {
	var payload map[string]any

	if buttonable(reply.QuickReplies) {
		buttons := make([]map[string]any, 0, len(reply.QuickReplies))
		for i, qr := range reply.QuickReplies {
			buttons = append(buttons, map[string]any{
				"type": "reply",
				"reply": map[string]string{
					"id":    fmt.Sprintf("qr_%d", i),
					"title": qr,
				},
			})
		}
		payload = map[string]any{
			"messaging_product": "whatsapp",
			"to":                reply.ChatID,
			"type":              "interactive",
			"interactive": map[string]any{
				"type":   "button",
				"body":   map[string]string{"text": reply.Body},
				"action": map[string]any{"buttons": buttons},
			},
		}
	} else {
		payload = map[string]any{
			"messaging_product": "whatsapp",
			"to":                reply.ChatID,
			"type":              "text",
			"text":              map[string]string{"body": appendNumbered(reply.Body, reply.QuickReplies)},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func buttonable(quickReplies []string) bool {
	if len(quickReplies) == 0 || len(quickReplies) > waMaxButtons {
		return false
	}
	for _, qr := range quickReplies {
		if len(qr) > waMaxButtonTitle {
			return false
		}
	}
	return true
}

func appendNumbered(body string, quickReplies []string) string {
	if len(quickReplies) == 0 {
		return body
	}
	out := body + "\n"
	for i, qr := range quickReplies {
		out += fmt.Sprintf("\n%d. %s", i+1, qr)
	}
	return out
}

// --- Cloud API webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From        string         `json:"from"`
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Text        *waText        `json:"text,omitempty"`
	Image       *waMedia       `json:"image,omitempty"`
	Interactive *waInteractive `json:"interactive,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID      string `json:"id"`
	Caption string `json:"caption,omitempty"`
}

type waInteractive struct {
	Type        string         `json:"type"`
	ButtonReply *waButtonReply `json:"button_reply,omitempty"`
}

type waButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
