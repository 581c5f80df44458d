// internal/summary/summary.go
package summary

import (
	"context"
	"fmt"
	"strings"

	"rewind/internal/conversation"
)

// maxLength is the longest summary worth showing next to a checkpoint entry
const maxLength = 120

// Provider produces a short human-readable description of what changed in a
// window of recent messages. Implementations may call a language model; the
// checkpoint manager falls back to RuleBased output when a provider is
// missing, fails, or returns low-quality text.
type Provider interface {
	Summarize(ctx context.Context, window []*conversation.Message) (string, error)
}

// RuleBased is the deterministic fallback provider. It only counts activity
// visible in the message window, so its output is stable across runs.
type RuleBased struct{}

// Summarize describes the window by counting edited files and executed
// commands
func (RuleBased) Summarize(_ context.Context, window []*conversation.Message) (string, error) {
	files := make(map[string]struct{})
	commands := 0

	for _, msg := range window {
		switch msg.Kind {
		case conversation.KindFileEdit:
			if msg.Path != "" {
				files[msg.Path] = struct{}{}
			}
		case conversation.KindCommand:
			commands++
		}
	}

	var parts []string
	if n := len(files); n == 1 {
		for path := range files {
			parts = append(parts, fmt.Sprintf("Edited %s", path))
		}
	} else if n > 1 {
		parts = append(parts, fmt.Sprintf("Edited %d files", n))
	}
	if commands == 1 {
		parts = append(parts, "ran 1 command")
	} else if commands > 1 {
		parts = append(parts, fmt.Sprintf("ran %d commands", commands))
	}

	if len(parts) == 0 {
		return "No workspace changes recorded", nil
	}

	text := strings.Join(parts, ", ")
	if len(text) > maxLength {
		text = text[:maxLength-3] + "..."
	}
	return text, nil
}

// Acceptable reports whether provider output is good enough to attach to a
// checkpoint: non-empty, single line, and short
func Acceptable(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxLength {
		return false
	}
	return !strings.ContainsAny(text, "\r\n")
}

// Resolve runs the provider (if any) over the window and falls back to the
// rule-based summary when the provider fails or produces unusable text
func Resolve(ctx context.Context, provider Provider, window []*conversation.Message) string {
	if provider != nil {
		if text, err := provider.Summarize(ctx, window); err == nil && Acceptable(text) {
			return strings.TrimSpace(text)
		}
	}
	text, _ := RuleBased{}.Summarize(ctx, window)
	return text
}
