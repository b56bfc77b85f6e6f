package activation

import (
	"context"
	"fmt"
	"strings"

	"github.com/owliabot/owliabot/pkg/protocol"
)

// ParseCommand extracts a command name from message text, stripping a
// Telegram-style "@botname" suffix and lowercasing. Returns ok=false if
// text doesn't start with "/".
func ParseCommand(text string) (cmd string, ok bool) {
	if len(text) == 0 || text[0] != '/' {
		return "", false
	}
	cmd = strings.SplitN(text, " ", 2)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]
	return strings.ToLower(cmd), true
}

// CommandContext carries what a command handler needs: identity of the
// session it's acting on and a way to ask its collaborators to act.
type CommandContext struct {
	SessionKey string
	Channel    string
	UserID     string

	// RealUserMessageCount counts non-tool-result user messages in the
	// current session's transcript, used by /new's summarize-before-reset
	// gate.
	RealUserMessageCount int
	SummarizeOnReset     bool

	// Collaborators invoked by handlers. Summarize returns the one-shot
	// LLM summary text; Rotate performs the session store's rotate(key).
	// StatusText renders the live provider/channel/infra status line.
	Summarize  func(ctx context.Context) (string, error)
	Rotate     func(ctx context.Context) error
	StatusText func(ctx context.Context) (string, error)
	HistoryText func(ctx context.Context) (string, error)
}

// CommandResult is a command's rendered reply plus whether the command
// handled the message (always true for the commands here: they are
// handled instead of the loop, per the executor pipeline's
// "slash commands are tried before the agentic loop" rule).
type CommandResult struct {
	Reply   string
	Handled bool
}

// Handler executes one slash command.
type Handler func(ctx context.Context, cc CommandContext) (CommandResult, error)

var handlers = map[string]Handler{
	protocol.CommandNew:     handleNew,
	protocol.CommandStatus:  handleStatus,
	protocol.CommandHistory: handleHistory,
	protocol.CommandHelp:    handleHelp,
}

// Dispatch runs the handler for cmd if one is registered. ok=false means
// cmd isn't a recognized slash command and should fall through to the
// agentic loop (e.g. "/start" is deliberately not intercepted).
func Dispatch(ctx context.Context, cmd string, cc CommandContext) (CommandResult, bool, error) {
	h, ok := handlers[cmd]
	if !ok {
		return CommandResult{}, false, nil
	}
	res, err := h(ctx, cc)
	return res, true, err
}

func handleNew(ctx context.Context, cc CommandContext) (CommandResult, error) {
	if cc.SummarizeOnReset && cc.RealUserMessageCount >= 2 && cc.Summarize != nil {
		if _, err := cc.Summarize(ctx); err != nil {
			return CommandResult{}, fmt.Errorf("activation: summarize before reset: %w", err)
		}
	}
	if cc.Rotate != nil {
		if err := cc.Rotate(ctx); err != nil {
			return CommandResult{}, fmt.Errorf("activation: rotate session: %w", err)
		}
	}
	return CommandResult{Reply: "Started a new session.", Handled: true}, nil
}

func handleStatus(ctx context.Context, cc CommandContext) (CommandResult, error) {
	if cc.StatusText == nil {
		return CommandResult{Reply: "Status unavailable.", Handled: true}, nil
	}
	text, err := cc.StatusText(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Reply: text, Handled: true}, nil
}

func handleHistory(ctx context.Context, cc CommandContext) (CommandResult, error) {
	if cc.HistoryText == nil {
		return CommandResult{Reply: "No history available.", Handled: true}, nil
	}
	text, err := cc.HistoryText(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Reply: text, Handled: true}, nil
}

func handleHelp(ctx context.Context, cc CommandContext) (CommandResult, error) {
	text := "Available commands:\n" +
		"/new — start a new session\n" +
		"/status — show provider/channel status\n" +
		"/history — show recent conversation turns\n" +
		"/help — show this message"
	return CommandResult{Reply: text, Handled: true}, nil
}
