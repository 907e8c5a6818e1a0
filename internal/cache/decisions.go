package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jamesmarlowww/tradingbot/internal/models"
)

// DecisionCache keeps the latest automation decision per scope so workers
// can consult the gate without a database connection.
type DecisionCache struct {
	Store  Store
	Prefix string
	TTL    time.Duration
}

func (c *DecisionCache) key(scope string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "streak:"
	}
	return prefix + "decision:" + strings.TrimSpace(scope)
}

// Publish overwrites the cached decision unless a newer one is already
// present.
func (c *DecisionCache) Publish(ctx context.Context, d *models.AutomationDecision) error {
	if c == nil || c.Store == nil || d == nil {
		return nil
	}
	current, err := c.LatestAutomationDecision(ctx, d.Scope)
	if err == nil && current != nil && current.DecidedAt.After(d.DecidedAt) {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.Store.Set(ctx, c.key(d.Scope), raw, c.TTL)
}

func (c *DecisionCache) LatestAutomationDecision(ctx context.Context, scope string) (*models.AutomationDecision, error) {
	if c == nil || c.Store == nil {
		return nil, fmt.Errorf("decision cache not configured")
	}
	raw, found, err := c.Store.Get(ctx, c.key(scope))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var d models.AutomationDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode cached decision: %w", err)
	}
	return &d, nil
}
