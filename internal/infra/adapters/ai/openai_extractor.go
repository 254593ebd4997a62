package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
	"invoice-ocr-pipeline/internal/infra/metrics"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.Extractor = (*OpenAIExtractor)(nil)

// OpenAIExtractor reads invoices with an OpenAI-compatible vision model.
type OpenAIExtractor struct {
	client openai.Client
	model  string
	sink   Sink
}

// NewOpenAIExtractor builds the extractor. baseURL may point at any
// OpenAI-compatible gateway; empty means the official endpoint.
func NewOpenAIExtractor(apiKey, baseURL, model string, sink Sink) (*OpenAIExtractor, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0), // retries belong to the job pipeline
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIExtractor{client: openai.NewClient(opts...), model: model, sink: sink}, nil
}

func (o *OpenAIExtractor) Extract(ctx context.Context, payloadRef string) (*adapter.Extraction, error) {
	img, err := imageURL(payloadRef, openAISchemes)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Extract the invoice fields."),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: img}),
			}),
		},
	})
	took := time.Since(start)
	if err != nil {
		metrics.ObserveExtraction("openai", o.model, took.Milliseconds(), 0, false)
		return nil, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		metrics.ObserveExtraction("openai", o.model, took.Milliseconds(), 0, false)
		return nil, errors.New("openai: empty completion")
	}

	ex, err := parseReply(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.ObserveExtraction("openai", o.model, took.Milliseconds(), 0, false)
		return nil, err
	}
	ex.Duration = took
	metrics.ObserveExtraction("openai", o.model, took.Milliseconds(), ex.Confidence, true)

	ref, err := o.sink.Save(ctx, payloadRef, ex)
	if err != nil {
		return nil, fmt.Errorf("store extraction: %w", err)
	}
	ex.ResultRef = ref
	return ex, nil
}

// classifyOpenAI marks client errors other than throttling as permanent.
func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode == http.StatusRequestTimeout:
			return domain.Transient(fmt.Errorf("openai: %w", err))
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return domain.Permanent(fmt.Errorf("openai: %w", err))
		}
	}
	return fmt.Errorf("openai: %w", err)
}
