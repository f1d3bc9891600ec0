package worker

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultProcessor understands two message shapes:
// {type: "numeric", value: n} and {type: "text", value: s}.
type DefaultProcessor struct{}

func (DefaultProcessor) Process(_ context.Context, body map[string]any) (map[string]any, error) {
	switch body["type"] {
	case "numeric":
		v, ok := body["value"].(float64)
		if !ok {
			return nil, fmt.Errorf("numeric value %v: %w", body["value"], ErrUnsupportedType)
		}
		return map[string]any{"type": "numeric", "value": v, "square": v * v}, nil
	case "text":
		s, ok := body["value"].(string)
		if !ok {
			return nil, fmt.Errorf("text value %v: %w", body["value"], ErrUnsupportedType)
		}
		return map[string]any{"type": "text", "value": s, "upper": strings.ToUpper(s), "length": utf8.RuneCountInString(s)}, nil
	default:
		return nil, fmt.Errorf("type %v: %w", body["type"], ErrUnsupportedType)
	}
}
