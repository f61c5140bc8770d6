package docintel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwhitmore/docuvault/internal/core/domain"
	"github.com/mwhitmore/docuvault/internal/core/ports"
	"github.com/mwhitmore/docuvault/internal/infrastructure/resilience"
)

// Client talks to the document-intelligence API that backs the docai
// processors. Responses are processor-specific; the transport and error
// classification are shared.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     ports.TokenSource
	executor   *resilience.Executor
}

func NewClient(baseURL string, tokens ports.TokenSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
	}
}

// WithExecutor routes calls through a circuit breaker. Retries stay with the
// message queue: redeliveries already back off, so the breaker only sheds
// load during an upstream outage instead of retrying within one delivery.
func (c *Client) WithExecutor(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

type analyzeRequest struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

func (c *Client) analyze(ctx context.Context, path string, content []byte, contentType string, out any) error {
	if c.executor == nil {
		return c.doAnalyze(ctx, path, content, contentType, out)
	}
	err := c.executor.Execute(ctx, "docintel"+path, func(callCtx context.Context) error {
		return c.doAnalyze(callCtx, path, content, contentType, out)
	}, classifyForBreaker)
	if resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, "docintel circuit open", err)
	}
	return err
}

func (c *Client) doAnalyze(ctx context.Context, path string, content []byte, contentType string, out any) error {
	body, err := json.Marshal(analyzeRequest{
		Content:  base64.StdEncoding.EncodeToString(content),
		MimeType: contentType,
	})
	if err != nil {
		return fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		req.Header.Set("Authorization", "Bearer "+c.tokens.Token())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "docintel request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return classifyHTTPError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode analyze response: %w", err)
	}
	return nil
}

// classifyForBreaker records only outage-class failures against the breaker.
// Nothing is retried in place; the queue's redelivery is the retry loop.
func classifyForBreaker(err error) resilience.ErrorClassification {
	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: domain.IsKind(err, domain.ErrTemporary),
	}
}

// classifyHTTPError sorts upstream failures into retryable outages and
// permanent rejections. Throttling and server errors resolve themselves;
// anything else will fail the same way on every redelivery.
func classifyHTTPError(path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	err := fmt.Errorf("docintel %s status %s", path, resp.Status)
	if msg != "" {
		err = fmt.Errorf("docintel %s status %s: %s", path, resp.Status, msg)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.WrapError(domain.ErrTemporary, "docintel", err)
	}
	return domain.WrapError(domain.ErrUnretryable, "docintel", err)
}
