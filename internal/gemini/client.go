package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"virtual-tryon/internal/tryon"
)

const DefaultModel = "gemini-2.5-flash-image-preview"

var responseModalities = []string{"IMAGE", "TEXT"}

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the generateContent REST endpoint. It implements tryon.Model.
type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		model:      model,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) GenerateContent(ctx context.Context, parts []tryon.Part) (tryon.Response, error) {
	req := generateContentRequest{
		Contents: []content{{Role: "user", Parts: toWireParts(parts)}},
		GenerationConfig: &generationConfig{
			ResponseModalities: responseModalities,
		},
	}

	decoded, err := c.generateContent(ctx, req)
	if err != nil {
		return tryon.Response{}, err
	}
	return fromWireResponse(decoded), nil
}

func (c *Client) generateContent(ctx context.Context, payload generateContentRequest) (generateContentResponse, error) {
	if c.httpClient == nil {
		return generateContentResponse{}, errors.New("http client is nil")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return generateContentResponse{}, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("gemini response", "model", c.model, "status", httpResp.StatusCode, "bytes", len(rawBody), "dur_ms", time.Since(start).Milliseconds())

	if httpResp.StatusCode >= 400 {
		return generateContentResponse{}, &APIError{
			StatusCode: httpResp.StatusCode,
			Status:     httpResp.Status,
			Message:    errorMessage(rawBody),
		}
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return generateContentResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
		c.logger.Warn("gemini prompt blocked", "reason", decoded.PromptFeedback.BlockReason)
	}
	return decoded, nil
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API %s: %s", e.Status, e.Message)
}

func errorMessage(raw []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func toWireParts(parts []tryon.Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		if p.InlineData != nil {
			out = append(out, part{InlineData: &blob{
				MimeType: p.InlineData.MimeType,
				Data:     stripDataURLPrefix(p.InlineData.Data),
			}})
			continue
		}
		out = append(out, part{Text: p.Text})
	}
	return out
}

func fromWireResponse(resp generateContentResponse) tryon.Response {
	out := tryon.Response{Candidates: make([]tryon.Candidate, 0, len(resp.Candidates))}
	for _, cand := range resp.Candidates {
		var parts []tryon.Part
		for _, p := range cand.Content.Parts {
			tp := tryon.Part{Text: p.Text}
			if p.InlineData != nil {
				tp.InlineData = &tryon.Blob{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data}
			}
			parts = append(parts, tp)
		}
		out.Candidates = append(out.Candidates, tryon.Candidate{Parts: parts})
	}
	return out
}

func stripDataURLPrefix(value string) string {
	if !strings.HasPrefix(value, "data:") {
		return value
	}
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		return value[idx+1:]
	}
	return value
}
