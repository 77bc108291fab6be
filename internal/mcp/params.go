package mcp

import (
	"fmt"

	lenserr "github.com/codelens-ai/codelens/internal/errors"
)

// Param accessors tolerate JSON decoding quirks (numbers arrive as
// float64).

func stringParam(params map[string]any, name string, required bool) (string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		if required {
			return "", lenserr.ValidationError(fmt.Sprintf("parameter %q is required", name), nil)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", lenserr.ValidationError(fmt.Sprintf("parameter %q must be a string", name), nil)
	}
	if required && s == "" {
		return "", lenserr.ValidationError(fmt.Sprintf("parameter %q is required", name), nil)
	}
	return s, nil
}

func intParam(params map[string]any, name string, fallback int) int {
	switch v := params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func boolParam(params map[string]any, name string, fallback bool) bool {
	if v, ok := params[name].(bool); ok {
		return v
	}
	return fallback
}

func stringSliceParam(params map[string]any, name string) []string {
	switch v := params[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
