package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"virtual-tryon/internal/tryon"
)

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// SDKClient implements tryon.Model on top of the official genai SDK.
type SDKClient struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

// NewModel returns the SDK-backed client when useSDK is set and the REST
// client otherwise.
func NewModel(ctx context.Context, useSDK bool, opts Options) (tryon.Model, error) {
	if !useSDK {
		return New(opts), nil
	}
	client, err := NewSDK(ctx, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func NewSDK(ctx context.Context, opts Options) (*SDKClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("api key is empty")
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimSpace(opts.BaseURL),
			APIVersion: strings.TrimSpace(opts.APIVersion),
		},
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newSDKClient(client.Models, opts), nil
}

func newSDKClient(models contentGenerator, opts Options) *SDKClient {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &SDKClient{models: models, model: model, logger: logger}
}

func (c *SDKClient) Model() string {
	return c.model
}

func (c *SDKClient) GenerateContent(ctx context.Context, parts []tryon.Part) (tryon.Response, error) {
	sdkParts := make([]*genai.Part, 0, len(parts))
	for i, p := range parts {
		if p.InlineData == nil {
			sdkParts = append(sdkParts, genai.NewPartFromText(p.Text))
			continue
		}
		data, err := base64.StdEncoding.DecodeString(stripDataURLPrefix(p.InlineData.Data))
		if err != nil {
			return tryon.Response{}, fmt.Errorf("decode part %d: %w", i, err)
		}
		sdkParts = append(sdkParts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: p.InlineData.MimeType,
			Data:     data,
		}})
	}

	result, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromParts(sdkParts, genai.RoleUser)},
		&genai.GenerateContentConfig{ResponseModalities: responseModalities},
	)
	if err != nil {
		return tryon.Response{}, fmt.Errorf("generate content: %w", err)
	}
	if result == nil {
		return tryon.Response{}, nil
	}

	c.logger.Debug("genai response", "model", c.model, "candidates", len(result.Candidates))

	out := tryon.Response{Candidates: make([]tryon.Candidate, 0, len(result.Candidates))}
	for _, cand := range result.Candidates {
		var cparts []tryon.Part
		if cand != nil && cand.Content != nil {
			for _, p := range cand.Content.Parts {
				if p == nil {
					continue
				}
				tp := tryon.Part{Text: p.Text}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					tp.InlineData = &tryon.Blob{
						MimeType: p.InlineData.MIMEType,
						Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
					}
				}
				cparts = append(cparts, tp)
			}
		}
		out.Candidates = append(out.Candidates, tryon.Candidate{Parts: cparts})
	}
	return out, nil
}
