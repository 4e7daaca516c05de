// Package action executes a single playbook step's side-effect. An
// Executor never mutates caller state; it only returns an outputs map (or
// an error) for the Step Runner to fold into the run's variables.
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/lancejames221b/playbook-engine/core"
	"github.com/lancejames221b/playbook-engine/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

const (
	Noop        = "noop"
	Wait        = "wait"
	HTTPRequest = "http_request"
	Shell       = "shell"
)

// Executor performs the four built-in action kinds. It is safe for
// concurrent use across steps.
type Executor struct {
	httpClient   *http.Client
	shellEnabled bool
	logger       core.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPTimeout sets the default timeout used when a step's args omit one.
func WithHTTPTimeout(d time.Duration) Option {
	return func(e *Executor) { e.httpClient.Timeout = d }
}

// WithShellEnabled flips the shell hard gate. Disabled by default.
func WithShellEnabled(enabled bool) Option {
	return func(e *Executor) { e.shellEnabled = enabled }
}

// WithLogger attaches a component-tagged logger.
func WithLogger(logger core.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor builds an Executor with safe defaults: 20s HTTP timeout,
// shell disabled.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		shellEnabled: false,
		logger:       &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches to the action kind named by actionType and returns its
// outputs map. args is assumed already interpolated by the caller.
func (e *Executor) Execute(ctx context.Context, actionType string, args map[string]interface{}) (map[string]interface{}, error) {
	telemetry.AddSpanEvent(ctx, "action.execute_started", attribute.String("action.type", actionType))

	switch actionType {
	case Noop:
		return e.execNoop(ctx, args)
	case Wait:
		return e.execWait(ctx, args)
	case HTTPRequest:
		return e.execHTTPRequest(ctx, args)
	case Shell:
		return e.execShell(ctx, args)
	default:
		return nil, fmt.Errorf("unknown action type %q: %w", actionType, core.ErrPlaybookInvalid)
	}
}

func (e *Executor) execNoop(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	if delay, ok := asFloatSeconds(args["delay"]); ok && delay > 0 {
		if err := sleepCtx(ctx, time.Duration(delay*float64(time.Second))); err != nil {
			return nil, err
		}
	}
	message, _ := args["message"].(string)
	return map[string]interface{}{"message": message}, nil
}

func (e *Executor) execWait(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	seconds, _ := asFloatSeconds(args["seconds"])
	if err := sleepCtx(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
		return nil, err
	}
	return map[string]interface{}{"slept": seconds}, nil
}

func (e *Executor) execHTTPRequest(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_request args missing url: %w", core.ErrPlaybookInvalid)
	}

	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	client := e.httpClient
	if timeout, ok := asFloatSeconds(args["timeout"]); ok && timeout > 0 {
		c := *e.httpClient
		c.Timeout = time.Duration(timeout * float64(time.Second))
		client = &c
	}

	var body io.Reader
	if payload, ok := args["body"]; ok && payload != nil {
		if raw, isString := payload.(string); isString {
			body = bytes.NewBufferString(raw)
		} else {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode http_request body: %w", err)
			}
			body = bytes.NewBuffer(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build http_request: %w", err)
	}

	if headers, ok := args["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	telemetry.SetSpanAttributes(ctx,
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	)

	resp, err := client.Do(req)
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		return nil, fmt.Errorf("http_request to %s: %w", url, core.ErrConnectionFailed)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read http_request response: %w", err)
	}

	outputs := map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
	}

	var decoded interface{}
	if json.Unmarshal(respBody, &decoded) == nil {
		outputs["body_json"] = decoded
	} else {
		outputs["body"] = string(respBody)
	}

	// Never fail on non-2xx: validation is the caller's job via `validations`.
	return outputs, nil
}

func (e *Executor) execShell(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	if !e.shellEnabled {
		return nil, core.ErrShellDisabled
	}

	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("shell args missing command: %w", core.ErrPlaybookInvalid)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	returnCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			returnCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("shell command failed to start: %w", runErr)
		}
	}

	outputs := map[string]interface{}{
		"returncode": returnCode,
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
	}

	if returnCode != 0 {
		return outputs, fmt.Errorf("shell command exited %d: %s", returnCode, stderr.String())
	}
	return outputs, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func asFloatSeconds(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
