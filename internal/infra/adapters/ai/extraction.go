package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"invoice-ocr-pipeline/internal/domain"
	"invoice-ocr-pipeline/internal/domain/ports/adapter"
)

// Sink persists an extraction and returns the reference stored on the job.
type Sink interface {
	Save(ctx context.Context, payloadRef string, ex *adapter.Extraction) (ref string, err error)
}

const extractionPrompt = `You are an invoice OCR engine. Read the attached invoice image and reply with a
single JSON object and nothing else:
{"fields": {"invoice_number": "", "invoice_date": "", "vendor_name": "", "total_amount": "",
"currency": "", "tax_amount": ""}, "raw_text": "", "confidence": 0.0}
confidence is your estimate in [0,1] that the fields are correct. Leave unknown fields empty.`

type extractionReply struct {
	Fields     map[string]string `json:"fields"`
	RawText    string            `json:"raw_text"`
	Confidence float64           `json:"confidence"`
}

// parseReply accepts the model reply with or without a markdown code fence.
func parseReply(raw string) (*adapter.Extraction, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		s = s[i : j+1]
	}

	var r extractionReply
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, fmt.Errorf("unparseable extraction reply: %w", err)
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	if r.Fields == nil {
		r.Fields = map[string]string{}
	}
	return &adapter.Extraction{Fields: r.Fields, RawText: r.RawText, Confidence: r.Confidence}, nil
}

// Reference schemes each provider fetches by itself. Only Gemini reads Cloud
// Storage objects.
var (
	openAISchemes = []string{"http", "https", "data"}
	geminiSchemes = []string{"http", "https", "data", "gs"}
)

// imageURL validates a payload reference against the schemes the provider can
// fetch.
func imageURL(payloadRef string, schemes []string) (string, error) {
	u, err := url.Parse(payloadRef)
	if err != nil {
		return "", domain.Permanentf("invalid payload reference %q: %v", payloadRef, err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return "", domain.Permanentf("unsupported payload reference scheme %q", u.Scheme)
	}
	return payloadRef, nil
}

// mimeFor guesses the document MIME type from the reference path.
func mimeFor(payloadRef string) string {
	p := payloadRef
	if u, err := url.Parse(payloadRef); err == nil && u.Path != "" {
		p = u.Path
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(p))); t != "" {
		return t
	}
	return "image/jpeg"
}

// MemorySink keeps extractions in process. Used in dev mode and tests.
type MemorySink struct {
	prefix string
	mu     sync.Mutex
	items  map[string]*adapter.Extraction
}

func NewMemorySink(prefix string) *MemorySink {
	return &MemorySink{prefix: prefix, items: make(map[string]*adapter.Extraction)}
}

func (s *MemorySink) Save(_ context.Context, _ string, ex *adapter.Extraction) (string, error) {
	ref := s.prefix + uuid.NewString()
	cp := *ex
	s.mu.Lock()
	s.items[ref] = &cp
	s.mu.Unlock()
	return ref, nil
}

func (s *MemorySink) Get(ref string) (*adapter.Extraction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.items[ref]
	return ex, ok
}
