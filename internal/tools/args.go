package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/paolomoz/nova/internal/helpers"
)

func stringArg(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return s, nil
}

func optString(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

func intArg(input map[string]any, key string, def, max int) int {
	var n int
	switch v := input[key].(type) {
	case float64:
		n = int(math.Round(v))
	case int:
		n = v
	case int64:
		n = int(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return def
		}
		n = int(i)
	default:
		return def
	}
	if n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

func pathArg(input map[string]any, key string) (string, error) {
	raw, err := stringArg(input, key)
	if err != nil {
		return "", err
	}
	p, err := helpers.NormalizePagePath(raw)
	if err != nil {
		return "", fmt.Errorf("%s %q: %w", key, raw, err)
	}
	return p, nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
