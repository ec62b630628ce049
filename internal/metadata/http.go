package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HTTPConfig tunes the remote metadata client.
type HTTPConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	Concurrency int           `mapstructure:"concurrency" json:"concurrency"`
}

func (c *HTTPConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// HTTPLookup fetches attribute metadata from a schema service, one request
// per attribute at GET {baseURL}/{schema}/{attribute}. A 404 means the
// attribute has no registered metadata.
type HTTPLookup struct {
	baseURL string
	config  HTTPConfig
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPLookup(baseURL string, config HTTPConfig, logger *zap.Logger) *HTTPLookup {
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPLookup{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  config,
		client:  &http.Client{},
		logger:  logger,
	}
}

func (l *HTTPLookup) Lookup(ctx context.Context, schema string, attributes []string) (map[string]Metadata, error) {
	var mu sync.Mutex
	out := make(map[string]Metadata, len(attributes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.config.Concurrency)
	for _, attr := range attributes {
		g.Go(func() error {
			m, found, err := l.fetchWithRetry(gctx, schema, attr)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrLookupFailed, attr, err)
			}
			if found {
				mu.Lock()
				out[attr] = m
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *HTTPLookup) fetchWithRetry(ctx context.Context, schema, attribute string) (Metadata, bool, error) {
	var (
		m     Metadata
		found bool
	)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.config.RetryDelay
	retries := backoff.WithMaxRetries(policy, uint64(l.config.MaxAttempts-1))

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		m, found, err = l.fetch(ctx, schema, attribute)
		if err != nil {
			l.logger.Debug("Metadata fetch failed",
				zap.String("attribute", attribute),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}, backoff.WithContext(retries, ctx))

	return m, found, err
}

func (l *HTTPLookup) fetch(ctx context.Context, schema, attribute string) (Metadata, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	apiURL := fmt.Sprintf("%s/%s/%s", l.baseURL, url.PathEscape(schema), url.PathEscape(attribute))
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, apiURL, nil)
	if err != nil {
		return Metadata{}, false, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return Metadata{}, false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Metadata{}, false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Metadata{}, false, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Metadata{}, false, backoff.Permanent(fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body)))
	}

	var m Metadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Metadata{}, false, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return m, true, nil
}
