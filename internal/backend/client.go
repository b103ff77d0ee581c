package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ProbePrompt is sent when checking a credential
const ProbePrompt = "Hello"

// Generator produces a reply for a prompt using the given credential.
type Generator interface {
	Generate(ctx context.Context, credential, prompt string) (string, error)
	// Verify reports whether a minimal request with the credential succeeds.
	Verify(ctx context.Context, credential string) bool
}

// APIError is a non-2xx reply from the backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
}

// Describe turns an error from a Generator into the text shown to the user.
func Describe(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		if apiErr.Message == "" {
			return "Unknown error"
		}
		return apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	default:
		return err.Error()
	}
}

// Fingerprint returns a short sha256 prefix of the credential, safe to log.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return fmt.Sprintf("%x", sum[:4])
}

// Options configures a Client
type Options struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Tracer     trace.Tracer
	Meter      metric.Meter
	Logger     *slog.Logger
}

// Client calls the generateContent REST endpoint directly.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	logger     *slog.Logger
}

// NewClient creates a REST client
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		tracer:     opts.Tracer,
		logger:     logger,
	}
	if opts.Meter != nil {
		h, err := opts.Meter.Float64Histogram(
			"http.client.request.duration",
			metric.WithDescription("HTTP request duration in milliseconds"),
		)
		if err == nil {
			c.duration = h
		}
	}
	return c
}

// Generate implements Generator. A reply with no text part returns "" and no error.
func (c *Client) Generate(ctx context.Context, credential, prompt string) (string, error) {
	ctx, span := c.startSpan(ctx, "gemini.generate")
	defer span.End()

	status, body, err := c.post(ctx, credential, NewPrompt(prompt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	if status < 200 || status > 299 {
		apiErr := &APIError{StatusCode: status}
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil {
			apiErr.Message = errResp.Error.Message
		}
		span.SetStatus(codes.Error, apiErr.Error())
		c.logger.Warn("generate rejected", "status", status, "key", Fingerprint(credential))
		return "", apiErr
	}

	var apiResp GenerateResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	span.SetAttributes(attribute.Int("gemini.tokens.total", apiResp.UsageMetadata.TotalTokenCount))

	return apiResp.FirstText(), nil
}

// Verify implements Generator. Only the status code is checked.
func (c *Client) Verify(ctx context.Context, credential string) bool {
	ctx, span := c.startSpan(ctx, "gemini.verify")
	defer span.End()

	status, _, err := c.post(ctx, credential, NewPrompt(ProbePrompt))
	if err != nil {
		c.logger.Warn("credential probe failed", "key", Fingerprint(credential), "error", err)
		return false
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	return status >= 200 && status <= 299
}

func (c *Client) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("gemini.model", c.model)))
}

func (c *Client) endpoint(credential string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(credential))
}

func (c *Client) post(ctx context.Context, credential string, reqBody GenerateRequest) (int, []byte, error) {
	start := time.Now()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(credential), bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error carries the request URL, which holds the key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.Int("http.status_code", resp.StatusCode)))
	}

	return resp.StatusCode, body, nil
}
