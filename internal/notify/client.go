// Package notify delivers best-effort operator notifications to the PaaS log
// API. Failures are logged and never propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Client struct {
	BaseURL string
	APIKey  string
	Agent   string
	Logger  *zap.Logger

	HTTP *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func New(baseURL, apiKey, agent string, logger *zap.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" || strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return &Client{BaseURL: baseURL, APIKey: apiKey, Agent: agent, Logger: logger}
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (c *Client) login(ctx context.Context) error {
	base := c.base()
	if base == "" {
		return errors.New("notify base url is empty")
	}
	apiKey := strings.TrimSpace(c.APIKey)
	if apiKey == "" {
		return errors.New("notify api key is empty")
	}

	body, _ := json.Marshal(map[string]any{"api_key": apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify login http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var lr loginResponse
	if err := json.Unmarshal(b, &lr); err != nil {
		return err
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(lr.ExpiresAt))

	c.mu.Lock()
	c.token = strings.TrimSpace(lr.Token)
	c.expiresAt = exp
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok, exp := c.token, c.expiresAt
	c.mu.RUnlock()
	if tok != "" && (exp.IsZero() || time.Until(exp) >= 2*time.Minute) {
		return tok, nil
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, nil
}

type logEntry struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Level      string         `json:"level"`
	Details    map[string]any `json:"details"`
	SessionKey string         `json:"session_key"`
	Metadata   map[string]any `json:"metadata"`
}

// Send posts one log entry. A 401 drops the cached token so the next call
// logs in again.
func (c *Client) Send(ctx context.Context, action, level string, details map[string]any) error {
	if c == nil {
		return nil
	}
	tok, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	if details == nil {
		details = map[string]any{}
	}
	b, err := json.Marshal(logEntry{
		Agent:    c.agent(),
		Action:   action,
		Level:    level,
		Details:  details,
		Metadata: map[string]any{},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/api/v1/logs", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("notify create log http %d: %s", resp.StatusCode, strings.TrimSpace(string(bb)))
	}
	return nil
}

// Notify is the fire-and-forget form used for DEGRADED workers and other
// operator-facing events.
func (c *Client) Notify(ctx context.Context, level, message string, fields map[string]any) {
	if c == nil {
		return
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}
	details := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		details[k] = v
	}
	details["message"] = message
	if err := c.Send(ctx, actionFor(message), level, details); err != nil && c.Logger != nil {
		c.Logger.Warn("operator notification failed", zap.String("message", message), zap.Error(err))
	}
}

func actionFor(message string) string {
	return "streak_" + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(message)), " ", "_")
}

func (c *Client) agent() string {
	if a := strings.TrimSpace(c.Agent); a != "" {
		return a
	}
	return "streak-automation"
}

func (c *Client) base() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
