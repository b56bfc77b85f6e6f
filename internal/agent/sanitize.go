package agent

import (
	"regexp"
	"strings"
)

// SanitizeAssistantContent cleans an assistant's final content before it
// is saved to the transcript and sent to the user: stripping
// model-emitted reasoning/tool-call artifacts that never belong in
// user-facing text.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return content
	}
	content = stripGarbledToolXML(content)
	if content == "" {
		return ""
	}
	content = stripThinkingTags(content)
	content = stripFinalTags(content)
	content = stripLeadingBlankLines(content)
	return strings.TrimSpace(content)
}

var garbledToolXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|functioninvoke|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

var garbledToolXMLIndicators = []string{
	"functioninvoke", "<parameter name=", "</parameter", "<function_call", "<tool_call", "<tool_use",
}

// stripGarbledToolXML removes tool-call artifacts that some models emit
// as plain text instead of a structured tool call. If the entire message
// is such an artifact, the whole thing is dropped.
func stripGarbledToolXML(content string) string {
	lower := strings.ToLower(content)
	hasIndicator := false
	for _, ind := range garbledToolXMLIndicators {
		if strings.Contains(lower, ind) {
			hasIndicator = true
			break
		}
	}
	if !hasIndicator {
		return content
	}
	cleaned := strings.TrimSpace(garbledToolXMLPattern.ReplaceAllString(content, ""))
	if cleaned == "" {
		return ""
	}
	return cleaned
}

var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	result := content
	for _, pat := range thinkingTagPatterns {
		result = pat.ReplaceAllString(result, "")
	}
	return strings.TrimSpace(result)
}

var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

// stripFinalTags removes <final>/</final> wrapper tags but keeps the
// content inside them.
func stripFinalTags(content string) string {
	if !strings.Contains(strings.ToLower(content), "final") {
		return content
	}
	return finalTagPattern.ReplaceAllString(content, "")
}

var leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)

func stripLeadingBlankLines(content string) string {
	return leadingBlankLinesPattern.ReplaceAllString(content, "")
}

const silentReplyToken = "NO_REPLY"

// IsSilentReply reports whether text is (or starts/ends with) the
// NO_REPLY sentinel a model uses to suppress a user-visible reply.
func IsSilentReply(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if trimmed == silentReplyToken {
		return true
	}
	if strings.HasPrefix(trimmed, silentReplyToken) {
		rest := trimmed[len(silentReplyToken):]
		if rest == "" || !isWordChar(rune(rest[0])) {
			return true
		}
	}
	if strings.HasSuffix(trimmed, silentReplyToken) {
		before := trimmed[:len(trimmed)-len(silentReplyToken)]
		if before == "" || !isWordChar(rune(before[len(before)-1])) {
			return true
		}
	}
	return false
}

func isWordChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
