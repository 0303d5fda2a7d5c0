package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/craftpage/wizard-back/internal/domain"
)

type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	AuthToken  string
	HTTPClient *http.Client
}

// WebhookNotifier POSTs site-update events to the publish pipeline's webhook
// endpoint. Transient failures are retried with linear backoff; exhaustion
// surfaces as UpstreamUnavailable, which callers treat as non-fatal.
type WebhookNotifier struct {
	url        string
	timeout    time.Duration
	maxRetries int
	authToken  string
	httpClient *http.Client
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &WebhookNotifier{
		url:        strings.TrimSpace(cfg.URL),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		authToken:  strings.TrimSpace(cfg.AuthToken),
		httpClient: cfg.HTTPClient,
	}
}

func (n *WebhookNotifier) NotifySiteUpdated(ctx context.Context, event SiteEvent) error {
	if n.url == "" {
		return fmt.Errorf("%w: webhook url not configured", domain.ErrUpstreamUnavailable)
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode site event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		callErr := n.post(ctx, encoded)
		if callErr == nil {
			return nil
		}
		lastErr = callErr

		if attempt == n.maxRetries {
			break
		}
		backoff := time.Duration(300*(attempt+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, lastErr)
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if n.authToken != "" {
		request.Header.Set("Authorization", "Bearer "+n.authToken)
	}

	response, err := n.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("call webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook returned status %d", response.StatusCode)
}
