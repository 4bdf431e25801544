package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pagepilot/api/schemas"
	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/network"
)

const (
	completionPath   = "/api/chat"
	conversationPath = "/api/conversations/"
	maxErrorBody     = 512
)

// Backend is the remote completion and conversation store.
type Backend interface {
	Complete(ctx context.Context, req *schemas.CompletionRequest) (*schemas.CompletionResponse, error)
	PersistMessage(ctx context.Context, conversationID string, msg schemas.PersistMessageRequest) error
	FetchConversation(ctx context.Context, conversationID string) (*schemas.Conversation, error)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	StatusText string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.StatusText)
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func newStatusError(resp *http.Response) *StatusError {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(bytes.TrimSpace(snippet)),
	}
}

// HTTPBackend talks JSON to the completion backend.
type HTTPBackend struct {
	baseURL string
	agentID string
	cfg     config.BackendConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a backend client. A nil client gets a
// compression-aware client built from cfg.
func NewHTTPBackend(cfg config.BackendConfig, client *http.Client, logger *zap.Logger) (*HTTPBackend, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.New("backend base URL is required")
	}
	if client == nil {
		clientCfg := network.NewDefaultClientConfig()
		if cfg.Timeout > 0 {
			clientCfg.RequestTimeout = cfg.Timeout
		}
		clientCfg.Logger = logger
		client = network.NewClient(clientCfg)
	}

	b := &HTTPBackend{
		baseURL: base,
		agentID: cfg.AgentID,
		cfg:     cfg,
		client:  client,
		logger:  logger.Named("backend"),
		now:     time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
	}
	return b, nil
}

// AgentID returns the configured agent identifier.
func (b *HTTPBackend) AgentID() string { return b.agentID }

// Complete calls the completion endpoint. Transient transport failures are
// retried with the same idempotency key.
func (b *HTTPBackend) Complete(ctx context.Context, req *schemas.CompletionRequest) (*schemas.CompletionResponse, error) {
	body := *req
	if body.AgentID == "" {
		body.AgentID = b.agentID
	}

	var resp schemas.CompletionResponse
	if err := b.do(ctx, http.MethodPost, completionPath, &body, &resp, true); err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	if resp.Error != "" {
		detail := resp.Error
		if resp.Message != "" {
			detail += ": " + resp.Message
		}
		return nil, fmt.Errorf("completion backend error: %s", detail)
	}
	return &resp, nil
}

// PersistMessage stores one visible message. It is never retried since the
// endpoint takes no idempotency key.
func (b *HTTPBackend) PersistMessage(ctx context.Context, conversationID string, msg schemas.PersistMessageRequest) error {
	if conversationID == "" {
		return errors.New("cannot persist a message without a conversation id")
	}
	path := conversationPath + url.PathEscape(conversationID) + "/messages"
	if err := b.do(ctx, http.MethodPost, path, &msg, nil, false); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	return nil
}

// FetchConversation loads a stored conversation.
func (b *HTTPBackend) FetchConversation(ctx context.Context, conversationID string) (*schemas.Conversation, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	var conv schemas.Conversation
	if err := b.do(ctx, http.MethodGet, conversationPath+url.PathEscape(conversationID), nil, &conv, true); err != nil {
		return nil, fmt.Errorf("failed to fetch conversation %s: %w", conversationID, err)
	}
	if conv.ID == "" {
		conv.ID = conversationID
	}
	return &conv, nil
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, payload, out any, retry bool) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	target := b.baseURL + path

	attempt := 0
	operation := func() error {
		attempt++
		err := b.roundTrip(ctx, method, target, body, out)
		if err == nil {
			return nil
		}
		if !retry || !isTransient(ctx, err) {
			return backoff.Permanent(err)
		}
		b.logger.Warn("Transient backend failure",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}
	return backoff.Retry(operation, b.newBackOff(ctx))
}

func (b *HTTPBackend) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if b.cfg.InitialInterval > 0 {
		eb.InitialInterval = b.cfg.InitialInterval
	}
	if b.cfg.MaxInterval > 0 {
		eb.MaxInterval = b.cfg.MaxInterval
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, b.cfg.MaxRetries), ctx)
}

func (b *HTTPBackend) roundTrip(ctx context.Context, method, target string, body []byte, out any) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := b.authorize(req); err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// authorize attaches a short-lived HS256 token when a secret is configured.
func (b *HTTPBackend) authorize(req *http.Request) error {
	if b.cfg.JWTSecret == "" {
		return nil
	}
	ttl := b.cfg.JWTTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := b.now()
	claims := jwt.RegisteredClaims{
		Subject:   b.agentID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(b.cfg.JWTSecret))
	if err != nil {
		return fmt.Errorf("failed to sign backend token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	return nil
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
