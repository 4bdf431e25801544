package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// maxActionResponse bounds how much of a server action's response is read.
const maxActionResponse = 4 << 20

// ErrUnknownAction is returned when a client action has no registered function.
var ErrUnknownAction = errors.New("no client function registered")

// ClientFunc is a locally registered action. callerConfig is the session's
// user configuration.
type ClientFunc func(ctx context.Context, callerConfig map[string]any, args map[string]any) (any, error)

// Dispatcher executes action invocations.
type Dispatcher struct {
	mu     sync.RWMutex
	funcs  map[string]ClientFunc
	client *http.Client
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. Server actions use client, or
// http.DefaultClient when it is nil.
func NewDispatcher(client *http.Client, logger *zap.Logger) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{
		funcs:  make(map[string]ClientFunc),
		client: client,
		logger: logger.Named("dispatcher"),
	}
}

// Register makes fn available as the client action name. A later
// registration replaces an earlier one.
func (d *Dispatcher) Register(name string, fn ClientFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.funcs[name] = fn
}

// Dispatch runs a single invocation and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, callerConfig map[string]any, inv schemas.ActionInvocation) (any, error) {
	switch inv.Kind {
	case schemas.ActionKindClient:
		return d.dispatchClient(ctx, callerConfig, inv)
	case schemas.ActionKindServer:
		return d.dispatchServer(ctx, inv)
	default:
		return nil, fmt.Errorf("unknown action kind %q for %s", inv.Kind, inv.ToolName)
	}
}

func (d *Dispatcher) dispatchClient(ctx context.Context, callerConfig map[string]any, inv schemas.ActionInvocation) (any, error) {
	d.mu.RLock()
	fn, ok := d.funcs[inv.Name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, inv.Name)
	}

	d.logger.Debug("Dispatching client action", zap.String("name", inv.Name))
	args := inv.Args
	if args == nil {
		args = map[string]any{}
	}
	return fn(ctx, callerConfig, args)
}

func (d *Dispatcher) dispatchServer(ctx context.Context, inv schemas.ActionInvocation) (any, error) {
	method := inv.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(inv.Body) > 0 {
		body = bytes.NewReader(requestBody(inv.Body))
	}
	req, err := http.NewRequestWithContext(ctx, method, inv.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", inv.Name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range inv.Headers {
		req.Header.Set(k, v)
	}

	d.logger.Debug("Dispatching server action",
		zap.String("name", inv.Name),
		zap.String("method", method),
		zap.String("url", inv.URL))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxActionResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", inv.Name, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return string(data), nil
	}
	return result, nil
}

// requestBody sends a JSON string body as its text and anything else verbatim.
func requestBody(raw []byte) []byte {
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

// ResultEnvelope renders an action result as the hidden turn fed back to
// the model.
func ResultEnvelope(result any) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode action result: %w", err)
	}
	return schemas.ActionResultPrefix + " " + string(data), nil
}
