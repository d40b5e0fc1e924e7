package browser

import (
	"fmt"
	"math"

	"github.com/aristath/autopilot/internal/tools"
)

// Origin tags every descriptor of the local browser surface.
const Origin = "browser"

const (
	toolNavigate   = "navigate"
	toolClick      = "click"
	toolTypeText   = "type_text"
	toolReadPage   = "read_page"
	toolScreenshot = "screenshot"
	toolWait       = "wait"
)

func object(required []string, props map[string]any) map[string]any {
	req := make([]any, len(required))
	for i, r := range required {
		req[i] = r
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             req,
		"additionalProperties": false,
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// descriptors lists the tools this surface offers.
func descriptors() []tools.Descriptor {
	selector := str("CSS or Playwright selector of the element")
	return []tools.Descriptor{
		{
			Name:        toolNavigate,
			Description: "Open a URL in the current tab and wait for the network to settle.",
			Schema:      object([]string{"url"}, map[string]any{"url": str("Absolute URL to open")}),
			Origin:      Origin,
		},
		{
			Name:        toolClick,
			Description: "Click a visible element.",
			Schema:      object([]string{"selector"}, map[string]any{"selector": selector}),
			Origin:      Origin,
		},
		{
			Name:        toolTypeText,
			Description: "Replace the value of an input field, optionally pressing Enter afterwards.",
			Schema: object([]string{"selector", "text"}, map[string]any{
				"selector": selector,
				"text":     str("Text to enter"),
				"submit":   map[string]any{"type": "boolean", "description": "Press Enter after typing"},
			}),
			Origin: Origin,
		},
		{
			Name:        toolReadPage,
			Description: "Return the page title, URL and visible text, or the text of one element.",
			Schema: object(nil, map[string]any{
				"selector":  selector,
				"max_chars": map[string]any{"type": "integer", "description": "Truncate the text to this many characters"},
			}),
			Origin: Origin,
		},
		{
			Name:        toolScreenshot,
			Description: "Save a screenshot of the current page and return its path.",
			Schema:      object(nil, map[string]any{"name": str("File name without extension")}),
			Origin:      Origin,
		},
		{
			Name:        toolWait,
			Description: "Wait for an element to become visible, or for a number of seconds.",
			Schema: object(nil, map[string]any{
				"selector": selector,
				"seconds":  map[string]any{"type": "number", "description": "Seconds to wait (max 30)"},
			}),
			Origin: Origin,
		},
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func optionalBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func optionalNumber(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
