package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/infra/metrics"
)

var _ adapter.Extractor = (*GeminiExtractor)(nil)

// GeminiExtractor reads invoices with a Gemini multimodal model. The payload
// reference is passed as file data, so it must be a URI Gemini can fetch.
type GeminiExtractor struct {
	client *genai.Client
	model  string
	sink   Sink
}

func NewGeminiExtractor(ctx context.Context, apiKey, model string, sink Sink) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiExtractor{client: c, model: model, sink: sink}, nil
}

func (g *GeminiExtractor) Extract(ctx context.Context, payloadRef string) (*adapter.Extraction, error) {
	uri, err := imageURL(payloadRef, geminiSchemes)
	if err != nil {
		return nil, err
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: extractionPrompt},
			{FileData: &genai.FileData{FileURI: uri, MIMEType: mimeFor(payloadRef)}},
		},
	}}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	took := time.Since(start)
	if err != nil {
		metrics.ObserveExtraction("gemini", g.model, took.Milliseconds(), 0, false)
		return nil, fmt.Errorf("gemini: %w", err)
	}
	text := ""
	if resp != nil {
		text = resp.Text()
	}
	if text == "" {
		metrics.ObserveExtraction("gemini", g.model, took.Milliseconds(), 0, false)
		return nil, errors.New("gemini: empty response")
	}

	ex, err := parseReply(text)
	if err != nil {
		metrics.ObserveExtraction("gemini", g.model, took.Milliseconds(), 0, false)
		return nil, err
	}
	ex.Duration = took
	metrics.ObserveExtraction("gemini", g.model, took.Milliseconds(), ex.Confidence, true)

	ref, err := g.sink.Save(ctx, payloadRef, ex)
	if err != nil {
		return nil, fmt.Errorf("store extraction: %w", err)
	}
	ex.ResultRef = ref
	return ex, nil
}
