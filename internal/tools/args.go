package tools

import (
	"github.com/google/uuid"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
)

// argument extraction helpers; schema validation has already run, so these
// only normalize JSON types.

func strArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]interface{}, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func floatArg(args map[string]interface{}, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func strSliceArg(args map[string]interface{}, key string) ([]string, bool) {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func uuidArg(args map[string]interface{}, key string) (uuid.UUID, error) {
	raw := strArg(args, key)
	if raw == "" {
		return uuid.Nil, jiveerr.New(jiveerr.CodeValidation, "%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, jiveerr.New(jiveerr.CodeValidation, "%s must be a UUID, got %q", key, raw)
	}
	return id, nil
}

func optionalUUIDArg(args map[string]interface{}, key string) (*uuid.UUID, error) {
	raw, present := args[key]
	if !present || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, jiveerr.New(jiveerr.CodeValidation, "%s must be a UUID, got %q", key, s)
	}
	return &id, nil
}
