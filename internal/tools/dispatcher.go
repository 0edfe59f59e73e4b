package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
)

const (
	maxRetries     = 3
	retryBaseDelay = 100 * time.Millisecond
)

// Dispatcher holds the closed tool catalog, validates arguments against
// each tool's schema and wraps handler results in the response envelope.
type Dispatcher struct {
	tools    map[string]Tool
	order    []string
	compiled map[string]*jsonschema.Schema
	logger   *logrus.Logger
}

// NewDispatcher compiles the schemas of the given tools; a malformed schema
// is a programming error and fails construction.
func NewDispatcher(log *logrus.Logger, tools ...Tool) (*Dispatcher, error) {
	d := &Dispatcher{
		tools:    make(map[string]Tool, len(tools)),
		compiled: make(map[string]*jsonschema.Schema, len(tools)),
		logger:   log,
	}
	for _, t := range tools {
		if _, dup := d.tools[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(t.Name()+".json", strings.NewReader(t.Schema())); err != nil {
			return nil, fmt.Errorf("failed to add schema for %s: %w", t.Name(), err)
		}
		schema, err := compiler.Compile(t.Name() + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", t.Name(), err)
		}
		d.tools[t.Name()] = t
		d.order = append(d.order, t.Name())
		d.compiled[t.Name()] = schema
	}
	return d, nil
}

// Tools returns the catalog in registration order.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.tools[name])
	}
	return out
}

// Names returns the tool names in registration order.
func (d *Dispatcher) Names() []string {
	return append([]string(nil), d.order...)
}

// Dispatch runs one tool call end to end and always returns an envelope;
// errors are never swallowed into partial successes.
func (d *Dispatcher) Dispatch(ctx context.Context, rc RequestContext, name string, args map[string]interface{}) Envelope {
	start := time.Now()
	elapsed := func() int64 { return time.Since(start).Milliseconds() }

	tool, ok := d.tools[name]
	if !ok {
		return Failure(jiveerr.New(jiveerr.CodeToolNotFound, "unknown tool %q", name), elapsed())
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := d.validateArgs(name, args); err != nil {
		return Failure(err, elapsed())
	}

	var (
		data     interface{}
		warnings []string
		err      error
	)
	for attempt := 0; ; attempt++ {
		data, warnings, err = tool.Handle(ctx, rc, args)
		if err == nil || !jiveerr.Retryable(err) || attempt >= maxRetries-1 {
			break
		}
		delay := retryBaseDelay<<attempt + time.Duration(rand.Int63n(int64(retryBaseDelay)))
		d.logger.WithFields(logrus.Fields{
			"tool":    name,
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("Retrying after transient store failure")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = jiveerr.Wrap(jiveerr.CodeTimeout, ctx.Err(), "request cancelled during retry")
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = jiveerr.Wrap(jiveerr.CodeTimeout, err, "request exceeded its deadline")
		}
		d.logger.WithFields(logrus.Fields{
			"tool":       name,
			"request_id": rc.RequestID,
			"namespace":  rc.Namespace,
			"code":       jiveerr.CodeOf(err),
		}).WithError(err).Warn("Tool call failed")
		return Failure(err, elapsed())
	}
	return Success(data, elapsed(), warnings)
}

// validateArgs checks args against the tool's compiled schema and reports
// the first offending field path.
func (d *Dispatcher) validateArgs(name string, args map[string]interface{}) error {
	// round-trip to plain JSON types so the validator sees what the wire saw
	raw, err := json.Marshal(args)
	if err != nil {
		return jiveerr.Wrap(jiveerr.CodeValidation, err, "arguments are not serializable")
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return jiveerr.Wrap(jiveerr.CodeValidation, err, "arguments are not valid JSON")
	}

	if err := d.compiled[name].Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			path := leaf.InstanceLocation
			if path == "" {
				path = "/"
			}
			return jiveerr.New(jiveerr.CodeValidation, "invalid arguments at %s: %s", path, leaf.Message).
				WithDetails(map[string]interface{}{"field": path})
		}
		return jiveerr.Wrap(jiveerr.CodeValidation, err, "invalid arguments")
	}
	return nil
}
