package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"shopbot/internal/domain"
)

// CLI implements domain.Channel for terminal chat, used to exercise the
// dialogue without a messaging account.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	sender string
}

type CLIChannelConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	Sender string // sender ID for the session; defaults to "cli-user"
}

func NewCLI(cfg CLIChannelConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Sender == "" {
		cfg.Sender = "cli-user"
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		sender: cfg.Sender,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive loop and blocks until the context is cancelled
// or the user quits.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("cli", func(reply domain.OutboundReply) {
		_, _ = fmt.Fprintln(c.out)
		_, _ = fmt.Fprintln(c.out, reply.Body)
		for i, qr := range reply.QuickReplies {
			_, _ = fmt.Fprintf(c.out, "  %d. %s\n", i+1, qr)
		}
		_, _ = fmt.Fprint(c.out, "\nYou> ")
	})

	_, _ = fmt.Fprintln(c.out, "shopbot CLI. Type a message and press Enter. /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.bus.Publish(domain.InboundMessage{
			Channel:  "cli",
			ChatID:   "direct",
			SenderID: c.sender,
			Body:     line,
			Kind:     domain.KindText,
		})
	}
}

// Stop is a no-op: the loop exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	_, err := fmt.Fprintln(c.out, content)
	return err
}
