package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

// SDK generates replies through the google.golang.org/genai client. A client is built
// per call because the credential can change at any time.
type SDK struct {
	baseURL    string
	model      string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewSDK creates an SDK-backed generator
func NewSDK(opts Options) *SDK {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil && opts.Timeout > 0 {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &SDK{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		httpClient: httpClient,
		tracer:     opts.Tracer,
		logger:     logger,
	}
}

func (s *SDK) client(ctx context.Context, credential string) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:     credential,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: s.httpClient,
	}
	if s.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: s.baseURL + "/"}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

func (s *SDK) generate(ctx context.Context, credential, prompt string) (*genai.GenerateContentResponse, error) {
	client, err := s.client(ctx, credential)
	if err != nil {
		return nil, err
	}
	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return resp, nil
}

// Generate implements Generator.
func (s *SDK) Generate(ctx context.Context, credential, prompt string) (string, error) {
	ctx, span := s.startSpan(ctx, "gemini.generate")
	defer span.End()

	resp, err := s.generate(ctx, credential, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("sdk generate failed", "key", Fingerprint(credential), "error", err)
		return "", err
	}
	return firstSDKText(resp), nil
}

// Verify implements Generator.
func (s *SDK) Verify(ctx context.Context, credential string) bool {
	ctx, span := s.startSpan(ctx, "gemini.verify")
	defer span.End()

	if _, err := s.generate(ctx, credential, ProbePrompt); err != nil {
		s.logger.Warn("credential probe failed", "key", Fingerprint(credential), "error", err)
		return false
	}
	return true
}

func (s *SDK) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("gemini.model", s.model),
		attribute.String("gemini.transport", "sdk"),
	))
}

func firstSDKText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 || c.Content.Parts[0] == nil {
		return ""
	}
	return c.Content.Parts[0].Text
}
