// Package toolcall bridges free-text LLM output and structured tool
// invocation. The target models only signal tool use in text, so the codec
// teaches the model a three-line block format via the system prompt, then
// scans replies for those blocks, runs the named tools, and splices the
// results back into the surrounding prose.
package toolcall

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"shopbot/internal/domain"
)

// blockPattern matches one three-line tool-call block. Each field is bound to
// its own line, so repeated blocks in one reply match independently and the
// scan never crosses into the next block.
var blockPattern = regexp.MustCompile(`(?m)^TOOL:[ \t]*(\S+)[ \t]*\nARGS:[ \t]*(.+)\nREASON:[ \t]*(.*)$`)

// resultPattern matches the inline result wrapper produced by Apply, for the
// final cleanup pass that unwraps it to bare content.
var resultPattern = regexp.MustCompile(`(?s)\[Tool \S+ result: (.*?)\]`)

// Invocation is one decoded tool call embedded in an LLM reply.
type Invocation struct {
	Tool    string
	Args    map[string]any
	RawArgs json.RawMessage // original ARGS text, kept for logging
	Reason  string

	raw string // full matched block, used for substitution
}

// Runner executes tools by name. Has distinguishes an unknown tool from an
// execution failure.
type Runner interface {
	Has(name string) bool
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// EncodeSystemPrompt appends the tool list and block-format instruction to a
// base system prompt. With no tools it returns the base unchanged.
func EncodeSystemPrompt(base string, tools []domain.ToolDefinition) string {
	if len(tools) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nYou have access to the following tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	b.WriteString(`
To use a tool, include a block of exactly three lines in your reply:
TOOL: <tool_name>
ARGS: <json_object>
REASON: <short explanation>

The ARGS line must be a single-line JSON object. You may write normal
conversational text before or after a tool block, and you may use more than
one block in a reply.`)
	return b.String()
}

// Decode scans reply text for tool-call blocks. A block whose ARGS line is
// not valid JSON is logged and skipped; decoding continues with the rest of
// the reply.
func Decode(text string, logger *slog.Logger) []Invocation {
	matches := blockPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	invocations := make([]Invocation, 0, len(matches))
	for _, m := range matches {
		raw, name, argsText, reason := m[0], m[1], m[2], m[3]

		var args map[string]any
		if err := json.Unmarshal([]byte(argsText), &args); err != nil {
			if logger != nil {
				logger.Warn("skipping tool call with malformed ARGS",
					"tool", name,
					"args", argsText,
					"error", err,
				)
			}
			continue
		}

		invocations = append(invocations, Invocation{
			Tool:    name,
			Args:    args,
			RawArgs: json.RawMessage(argsText),
			Reason:  strings.TrimSpace(reason),
			raw:     raw,
		})
	}
	return invocations
}

// Executor decodes tool calls in LLM replies and substitutes them with their
// results.
type Executor struct {
	runner Runner
	logger *slog.Logger
}

func NewExecutor(runner Runner, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{runner: runner, logger: logger}
}

// Apply decodes every tool-call block in text, executes them in the order
// they appear, and replaces each block in place:
//   - unknown tool  → inline "[Tool <name> not found]" notice
//   - success       → inline "[Tool <name> result: …]" notice
//   - tool error    → inline "[Tool <name> error: …]" notice
//
// A final cleanup pass unwraps the result notices so the user-facing reply
// reads naturally. Surrounding prose is preserved verbatim and in order, and
// applying Apply to already-substituted text is a no-op.
func (e *Executor) Apply(ctx context.Context, text string) string {
	invocations := Decode(text, e.logger)

	for _, inv := range invocations {
		var replacement string
		switch {
		case e.runner == nil || !e.runner.Has(inv.Tool):
			replacement = fmt.Sprintf("[Tool %s not found]", inv.Tool)
		default:
			result, err := e.runner.Execute(ctx, inv.Tool, inv.Args)
			if err != nil {
				e.logger.Warn("tool execution failed", "tool", inv.Tool, "error", err)
				replacement = fmt.Sprintf("[Tool %s error: %s]", inv.Tool, err.Error())
			} else {
				replacement = fmt.Sprintf("[Tool %s result: %s]", inv.Tool, result)
			}
		}
		text = strings.Replace(text, inv.raw, replacement, 1)
	}

	return cleanup(text)
}

// cleanup strips the "[Tool … result: …]" scaffolding, leaving just the
// result content inline. Not-found and error notices stay bracketed.
func cleanup(text string) string {
	return resultPattern.ReplaceAllString(text, "$1")
}
