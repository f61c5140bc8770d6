package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// FetchTokenFunc obtains a fresh service credential.
type FetchTokenFunc func(ctx context.Context) (string, error)

// TokenProvider keeps a service token warm by refreshing it in the
// background, so request paths never block on the credential endpoint.
type TokenProvider struct {
	fetch    FetchTokenFunc
	interval time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	token string

	cancel context.CancelFunc
	done   chan struct{}
}

func NewTokenProvider(fetch FetchTokenFunc, interval time.Duration, logger *slog.Logger) *TokenProvider {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenProvider{fetch: fetch, interval: interval, logger: logger}
}

// Start fetches the first token synchronously so a misconfigured credential
// source fails startup instead of the first document, then begins the
// refresh loop.
func (p *TokenProvider) Start(ctx context.Context) error {
	token, err := p.fetch(ctx)
	if err != nil {
		return fmt.Errorf("initial token fetch: %w", err)
	}
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.refreshLoop(loopCtx)
	return nil
}

// Stop halts the refresh loop and waits for it to exit.
func (p *TokenProvider) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// Token returns the most recently fetched credential. A failed refresh keeps
// the previous token, which stays valid until its own expiry.
func (p *TokenProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

func (p *TokenProvider) refreshLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			token, err := p.fetch(ctx)
			if err != nil {
				p.logger.Warn("token refresh failed, keeping previous token", "error", err)
				continue
			}
			p.mu.Lock()
			p.token = token
			p.mu.Unlock()
		}
	}
}

// StaticToken is a fixed credential for local development.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// FetchFromEndpoint exchanges an API key for a short-lived access token at
// the given credential endpoint.
func FetchFromEndpoint(tokenURL, apiKey string) FetchTokenFunc {
	client := &http.Client{Timeout: 15 * time.Second}
	return func(ctx context.Context) (string, error) {
		body, err := json.Marshal(map[string]string{"apiKey": apiKey})
		if err != nil {
			return "", fmt.Errorf("marshal token request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("build token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("token endpoint: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}

		var out struct {
			AccessToken string `json:"accessToken"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode token response: %w", err)
		}
		if out.AccessToken == "" {
			return "", fmt.Errorf("token endpoint returned empty token")
		}
		return out.AccessToken, nil
	}
}
