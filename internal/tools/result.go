package tools

import (
	"encoding/json"
	"fmt"
)

// Result is what a tool's Execute returns. Recoverable failures are
// reported as Success=false with Error set; Execute must never panic for
// a recoverable condition, only return a Result.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`

	// ForUser optionally overrides what is shown on the origin channel;
	// when empty the channel renders Data/Error itself. Silent suppresses
	// any user-visible message for this result (e.g. background tools).
	ForUser string `json:"-"`
	Silent  bool   `json:"-"`
}

// Ok builds a successful result from an arbitrary JSON-marshalable value.
func Ok(data any) *Result {
	raw, err := json.Marshal(data)
	if err != nil {
		return &Result{Success: false, Error: "tools: failed to marshal result: " + err.Error()}
	}
	return &Result{Success: true, Data: raw}
}

// OkText builds a successful result carrying plain text as the data payload.
func OkText(text string) *Result {
	raw, _ := json.Marshal(text)
	return &Result{Success: true, Data: raw}
}

// Silenced marks a successful result as not user-visible.
func Silenced(r *Result) *Result {
	r.Silent = true
	return r
}

// Fail builds a failed result with a user/model-visible error message.
func Fail(message string) *Result {
	return &Result{Success: false, Error: message}
}

// Failf is the formatted variant of Fail.
func Failf(format string, args ...any) *Result {
	return Fail(fmt.Sprintf(format, args...))
}

// ErrorResult is the legacy-tool-interface spelling of Fail, used by the
// built-in tools that predate the Ok/Fail naming.
func ErrorResult(message string) *Result {
	return Fail(message)
}

// NewResult is the legacy-tool-interface spelling of OkText.
func NewResult(text string) *Result {
	return OkText(text)
}
