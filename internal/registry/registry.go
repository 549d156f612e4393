// Package registry fetches shared agent behavior patterns (safety-test
// selectors, high-risk keywords) from a central endpoint, so a fleet of
// agents can be retuned without shipping a new binary. Lookups are
// strictly bounded: an explicit timeout and context cancellation, with
// fallback to cached then built-in defaults. A registry outage never
// blocks work.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/laneway/internal/debug"
	"github.com/steveyegge/laneway/internal/risk"
	"github.com/steveyegge/laneway/internal/wstate"
)

// Source says where a pattern set came from.
type Source string

const (
	SourceRemote  Source = "remote"
	SourceCache   Source = "cache"
	SourceDefault Source = "default"
)

// Patterns is the payload the registry serves.
type Patterns struct {
	SafetyCriticalTests []string  `json:"safety_critical_tests"`
	HighRiskKeywords    []string  `json:"high_risk_keywords,omitempty"`
	FetchedAt           time.Time `json:"fetched_at,omitempty"`
	Source              Source    `json:"-"`
}

// Client looks up patterns with bounded waits.
type Client struct {
	endpoint  string
	timeout   time.Duration
	cachePath string
	http      *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a registry client. An empty endpoint disables remote
// lookups entirely; Patterns then serves cache or defaults. The cache
// lives under the repo's state directory.
func NewClient(endpoint string, timeout time.Duration, repoRoot string, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &Client{
		endpoint:  endpoint,
		timeout:   timeout,
		cachePath: filepath.Join(repoRoot, wstate.StateDirName, "cache", "patterns.json"),
		http:      &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Patterns returns the current pattern set. Never returns an error: the
// fallback chain is remote, then cache, then built-in defaults, and the
// Source field says which one answered.
func (c *Client) Patterns(ctx context.Context) Patterns {
	if c.endpoint != "" {
		if p, err := c.fetch(ctx); err == nil {
			c.writeCache(p)
			p.Source = SourceRemote
			return p
		} else {
			debug.Warnf("pattern registry lookup failed, falling back: %v\n", err)
		}
	}
	if p, err := c.readCache(); err == nil {
		p.Source = SourceCache
		return p
	}
	return defaultPatterns()
}

func (c *Client) fetch(ctx context.Context) (Patterns, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Patterns{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Patterns{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Patterns{}, fmt.Errorf("registry returned %s", resp.Status)
	}

	var p Patterns
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Patterns{}, fmt.Errorf("decoding registry response: %w", err)
	}
	if len(p.SafetyCriticalTests) == 0 {
		return Patterns{}, fmt.Errorf("registry served an empty safety-critical set")
	}
	p.FetchedAt = time.Now().UTC()
	return p, nil
}

func (c *Client) writeCache(p Patterns) {
	data, err := json.MarshalIndent(&p, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.cachePath), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(c.cachePath, data, 0o644); err != nil {
		debug.Logf("registry: cache write failed: %v\n", err)
	}
}

func (c *Client) readCache() (Patterns, error) {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return Patterns{}, err
	}
	var p Patterns
	if err := json.Unmarshal(data, &p); err != nil {
		return Patterns{}, err
	}
	if len(p.SafetyCriticalTests) == 0 {
		return Patterns{}, fmt.Errorf("cached pattern set is empty")
	}
	return p, nil
}

// defaultPatterns mirrors the risk classifier's built-in selectors.
func defaultPatterns() Patterns {
	return Patterns{
		SafetyCriticalTests: risk.SafetyCritical(),
		Source:              SourceDefault,
	}
}
