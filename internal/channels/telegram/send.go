package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/owliabot/owliabot/internal/bus"
	"github.com/owliabot/owliabot/internal/channels/typing"
)

// telegramMaxMessageChars is Telegram's hard limit on a single message body.
const telegramMaxMessageChars = 4096

// Send delivers an outbound message to Telegram, resolving the placeholder
// message left by handleMessage (if any) and tearing down the typing
// indicator and thinking-cancel state for this chat/topic.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	localKey := msg.Metadata["local_key"]
	if localKey == "" {
		localKey = msg.ChatID
	}

	chatID, err := parseRawChatID(localKey)
	if err != nil {
		return fmt.Errorf("resolve telegram chat id: %w", err)
	}
	chatIDObj := tu.ID(chatID)

	threadID := 0
	if v, ok := c.threadIDs.Load(localKey); ok {
		threadID = v.(int)
	}
	sendThreadID := resolveThreadIDForSend(threadID)

	// Placeholder update (e.g. retry notice): edit in place, keep typing alive.
	if msg.Metadata["placeholder_update"] == "true" {
		if pID, ok := c.placeholders.Load(localKey); ok {
			edit := &telego.EditMessageTextParams{
				ChatID:    chatIDObj,
				MessageID: pID.(int),
				Text:      msg.Content,
			}
			_, _ = c.bot.EditMessageText(ctx, edit)
		}
		return nil
	}

	if ctrl, ok := c.typingCtrls.LoadAndDelete(localKey); ok {
		ctrl.(*typing.Controller).Stop()
	}
	if cancel, ok := c.stopThinking.LoadAndDelete(localKey); ok {
		cancel.(*thinkingCancel).Cancel()
	}

	content := msg.Content

	// NO_REPLY cleanup: agent suppressed the reply, drop the placeholder.
	if content == "" {
		if pID, ok := c.placeholders.LoadAndDelete(localKey); ok {
			_, _ = c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
				ChatID:    chatIDObj,
				MessageID: pID.(int),
			})
		}
		return nil
	}

	if pID, ok := c.placeholders.LoadAndDelete(localKey); ok {
		msgID := pID.(int)
		chunk, remaining := splitTelegramChunk(content)

		edit := &telego.EditMessageTextParams{
			ChatID:    chatIDObj,
			MessageID: msgID,
			Text:      chunk,
		}
		if _, editErr := c.bot.EditMessageText(ctx, edit); editErr == nil {
			if remaining != "" {
				return c.sendChunked(ctx, chatIDObj, sendThreadID, remaining)
			}
			return nil
		}
		// Fall through to sending a fresh message if the edit failed
		// (e.g. the placeholder was deleted or is too old to edit).
	}

	return c.sendChunked(ctx, chatIDObj, sendThreadID, content)
}

// sendChunked sends content as one or more messages, splitting on
// telegramMaxMessageChars, preferring to break at a newline.
func (c *Channel) sendChunked(ctx context.Context, chatID telego.ChatID, threadID int, content string) error {
	for len(content) > 0 {
		var chunk string
		chunk, content = splitTelegramChunk(content)

		m := tu.Message(chatID, chunk)
		if threadID > 0 {
			m.MessageThreadID = threadID
		}
		if _, err := c.bot.SendMessage(ctx, m); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// splitTelegramChunk splits off the first telegramMaxMessageChars-sized
// piece of content, preferring to cut at a newline, and returns it along
// with whatever remains.
func splitTelegramChunk(content string) (chunk, remaining string) {
	if len(content) <= telegramMaxMessageChars {
		return content, ""
	}
	cutAt := telegramMaxMessageChars
	if idx := lastNewline(content[:telegramMaxMessageChars]); idx > telegramMaxMessageChars/2 {
		cutAt = idx + 1
	}
	return content[:cutAt], content[cutAt:]
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
