// Package contextguard implements the two-level safety net applied to a
// chat context before it is sent to a provider: per-result truncation
// (L1) and whole-context token-budget trimming (L2).
package contextguard

import (
	"github.com/owliabot/owliabot/internal/messages"
)

// Limits configures both guard levels. Zero values fall back to the
// documented defaults via WithDefaults.
type Limits struct {
	MaxToolResultChars int // L1: per tool-result text cap
	TruncateHeadChars  int
	TruncateTailChars  int

	ReserveTokens int // L2: headroom reserved on top of maxTokens
	ContextWindow int
	MaxTokens     int
}

const (
	defaultMaxToolResultChars = 16 * 1024
	defaultTruncateHead       = 2 * 1024
	defaultTruncateTail       = 2 * 1024
	defaultReserveTokens      = 8 * 1024
)

// WithDefaults fills in any zero fields with the documented defaults.
func (l Limits) WithDefaults() Limits {
	if l.MaxToolResultChars <= 0 {
		l.MaxToolResultChars = defaultMaxToolResultChars
	}
	if l.TruncateHeadChars <= 0 {
		l.TruncateHeadChars = defaultTruncateHead
	}
	if l.TruncateTailChars <= 0 {
		l.TruncateTailChars = defaultTruncateTail
	}
	if l.ReserveTokens <= 0 {
		l.ReserveTokens = defaultReserveTokens
	}
	return l
}

// GuardResult is the output of Guard: the (possibly rewritten and
// shortened) message list, plus how many messages were dropped by L2.
type GuardResult struct {
	Messages []messages.Message
	Dropped  int
}

// Guard applies L1 then L2 and returns the adjusted message list.
func Guard(msgs []messages.Message, limits Limits) GuardResult {
	limits = limits.WithDefaults()
	truncated := applyL1(msgs, limits)
	return applyL2(truncated, limits)
}

// applyL1 truncates any individual tool-result text that exceeds
// MaxToolResultChars, keeping head/tail bytes and replacing the interior.
func applyL1(msgs []messages.Message, limits Limits) []messages.Message {
	out := make([]messages.Message, len(msgs))
	for i, m := range msgs {
		if !m.IsToolResultMessage() {
			out[i] = m
			continue
		}
		m2 := m
		m2.ToolResults = make([]messages.ToolResult, len(m.ToolResults))
		for j, tr := range m.ToolResults {
			tr2 := tr
			tr2.Data = truncateRaw(tr.Data, limits)
			tr2.Error = truncateString(tr.Error, limits)
			m2.ToolResults[j] = tr2
		}
		out[i] = m2
	}
	return out
}

func truncateRaw(data []byte, limits Limits) []byte {
	if len(data) <= limits.MaxToolResultChars {
		return data
	}
	return []byte(truncateString(string(data), limits))
}

func truncateString(s string, limits Limits) string {
	if len(s) <= limits.MaxToolResultChars {
		return s
	}
	head := limits.TruncateHeadChars
	tail := limits.TruncateTailChars
	if head+tail >= len(s) {
		return s
	}
	return s[:head] + "…truncated…" + s[len(s)-tail:]
}

// estimateTokens approximates token count as ceil(chars/4).
func estimateTokens(msgs []messages.Message, systemPromptChars int) int {
	chars := systemPromptChars
	for _, m := range msgs {
		chars += m.EstimatedChars()
	}
	return (chars + 3) / 4
}

// applyL2 drops the oldest non-system message (and any tool-result
// messages immediately bound to it) until the estimated prompt fits the
// budget. System messages are never dropped.
//
// When ContextWindow leaves no positive budget after MaxTokens and
// ReserveTokens (e.g. a small context window paired with the provider
// runner's own reserve), there is no token count this function can trim
// down to — but the caller still needs the smallest context it can send.
// In that case it drops down to a hard floor instead of doing nothing:
// system messages plus the single most recent turn.
func applyL2(msgs []messages.Message, limits Limits) GuardResult {
	budget := limits.ContextWindow - limits.MaxTokens - limits.ReserveTokens
	dropped := 0
	current := msgs

	if budget <= 0 {
		for countDroppableTurns(current) > 1 {
			idx := firstDroppableIndex(current)
			if idx < 0 {
				break
			}
			current = dropTurnAt(current, idx)
			dropped++
		}
		return GuardResult{Messages: current, Dropped: dropped}
	}

	for {
		if estimateTokens(current, 0) <= budget {
			break
		}
		idx := firstDroppableIndex(current)
		if idx < 0 {
			break // nothing left to drop (all system messages)
		}
		current = dropTurnAt(current, idx)
		dropped++
	}
	return GuardResult{Messages: current, Dropped: dropped}
}

// countDroppableTurns counts the number of non-system turns in msgs,
// where a turn is one non-system message plus any tool-result messages
// bound to it (the same grouping dropTurnAt removes as a unit).
func countDroppableTurns(msgs []messages.Message) int {
	count := 0
	i := 0
	for i < len(msgs) {
		if msgs[i].Role == messages.RoleSystem {
			i++
			continue
		}
		count++
		i++
		if msgs[i-1].Role == messages.RoleAssistant && len(msgs[i-1].ToolCalls) > 0 {
			for i < len(msgs) && msgs[i].IsToolResultMessage() {
				i++
			}
		}
	}
	return count
}

// firstDroppableIndex finds the oldest non-system message.
func firstDroppableIndex(msgs []messages.Message) int {
	for i, m := range msgs {
		if m.Role != messages.RoleSystem {
			return i
		}
	}
	return -1
}

// dropTurnAt removes msgs[idx] and, if it was an assistant message
// carrying tool calls, the immediately following tool-result message(s)
// bound to those calls; if msgs[idx] is itself a tool-result message its
// preceding assistant message is also considered already consumed by a
// prior drop in the same pass.
func dropTurnAt(msgs []messages.Message, idx int) []messages.Message {
	end := idx + 1
	if msgs[idx].Role == messages.RoleAssistant && len(msgs[idx].ToolCalls) > 0 {
		for end < len(msgs) && msgs[end].IsToolResultMessage() {
			end++
		}
	}
	out := make([]messages.Message, 0, len(msgs)-(end-idx))
	out = append(out, msgs[:idx]...)
	out = append(out, msgs[end:]...)
	return out
}
