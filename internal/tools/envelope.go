package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
)

// RequestContext carries the per-request values every handler needs.
type RequestContext struct {
	Namespace string
	RequestID string
}

// Envelope is the uniform tool response wrapper.
type Envelope struct {
	Success  bool           `json:"success"`
	Data     interface{}    `json:"data,omitempty"`
	Error    *EnvelopeError `json:"error,omitempty"`
	Metadata *Metadata      `json:"metadata,omitempty"`
}

// EnvelopeError mirrors jiveerr.Error on the wire.
type EnvelopeError struct {
	Code    jiveerr.Code           `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Metadata carries timing and non-fatal warnings.
type Metadata struct {
	ExecutionTimeMS int64    `json:"execution_time_ms"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Success builds a success envelope.
func Success(data interface{}, elapsedMS int64, warnings []string) Envelope {
	return Envelope{
		Success:  true,
		Data:     data,
		Metadata: &Metadata{ExecutionTimeMS: elapsedMS, Warnings: warnings},
	}
}

// Failure builds a failure envelope from any error, mapping untyped errors
// to INTERNAL.
func Failure(err error, elapsedMS int64) Envelope {
	env := Envelope{
		Success:  false,
		Metadata: &Metadata{ExecutionTimeMS: elapsedMS},
	}
	if je, ok := jiveerr.As(err); ok {
		env.Error = &EnvelopeError{Code: je.Code, Message: je.Message, Details: je.Details}
	} else {
		env.Error = &EnvelopeError{Code: jiveerr.CodeInternal, Message: err.Error()}
	}
	return env
}

// JSON serializes the envelope; marshal failures degrade to a minimal
// internal-error document rather than a broken frame.
func (e Envelope) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":{"code":"INTERNAL","message":%q}}`, err.Error())
	}
	return string(data)
}

// Tool is one entry of the closed catalog.
type Tool interface {
	Name() string
	Description() string
	Schema() string
	Handle(ctx context.Context, rc RequestContext, args map[string]interface{}) (interface{}, []string, error)
}
