package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiURL is the public Generative Language API root.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com/"

// ErrCompletionRateLimited marks a 429 from the completion backend.
var ErrCompletionRateLimited = errors.New("completion rate limited (429)")

// Completer turns a prompt into model text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GeminiCompleter calls generateContent through the genai client.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

// NewGeminiCompleter constructs a completer. An empty baseURL selects DefaultGeminiURL.
func NewGeminiCompleter(ctx context.Context, baseURL, model, apiKey string, timeout time.Duration) (*GeminiCompleter, error) {
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

// Complete sends prompt and returns the first candidate's text with code fences removed.
func (g *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(strings.TrimSpace(prompt)), nil)
	if err != nil {
		if isRateLimited(err) {
			return "", fmt.Errorf("%w: %v", ErrCompletionRateLimited, err)
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return stripFences(b.String()), nil
}

func isRateLimited(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Status == "RESOURCE_EXHAUSTED"
	}
	return false
}

// stripFences removes a surrounding ``` or ```json block the model sometimes adds despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
