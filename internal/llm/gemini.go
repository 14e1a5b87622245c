package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider classifies transactions and produces embeddings through the
// Gemini API. It satisfies both Classifier and Embedder.
type GeminiProvider struct {
	apiKey         string
	model          string
	embeddingModel string
	client         *genai.Client
}

func NewGeminiProvider(apiKey, model, embeddingModel string) *GeminiProvider {
	return &GeminiProvider{
		apiKey:         strings.TrimSpace(apiKey),
		model:          model,
		embeddingModel: embeddingModel,
	}
}

var ErrNoAPIKey = fmt.Errorf("gemini: api key not configured")

func (p *GeminiProvider) Available() bool {
	return p.apiKey != ""
}

func (p *GeminiProvider) ensureClient(ctx context.Context) error {
	if p.apiKey == "" {
		return ErrNoAPIKey
	}
	if p.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      p.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return fmt.Errorf("gemini: create client: %w", err)
	}
	p.client = client
	return nil
}

const classifySystem = "You are a bank transaction categorization assistant.\n" +
	"For each input transaction pick the single best category from the provided list.\n" +
	"Also normalize the merchant name: strip store numbers, payment processor prefixes,\n" +
	"reference codes and dates, keeping only the recognizable brand.\n" +
	"Return ONLY a valid raw JSON array, one object per input transaction, with keys:\n" +
	"transaction_id (string), category (string from the list), cleaned_merchant (string),\n" +
	"confidence (number 0-1). Do NOT wrap the response in code fences."

// ClassifyBatch sends one batched prompt for the whole request. Results
// referencing unknown transaction ids are dropped; confidence is clamped.
func (p *GeminiProvider) ClassifyBatch(ctx context.Context, req ClassifyRequest) ([]ClassifyResult, error) {
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: classifySystem},
				{Text: "Input JSON:\n" + string(payload)},
			},
		},
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("gemini: empty response")
	}

	var out []ClassifyResult
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &out); err != nil {
		return nil, fmt.Errorf("gemini: parse classify response: %w", err)
	}
	known := make(map[string]bool, len(req.Transactions))
	for _, tx := range req.Transactions {
		known[tx.ID] = true
	}
	kept := out[:0]
	for _, r := range out {
		if !known[r.TransactionID] {
			continue
		}
		r.Confidence = clamp01(r.Confidence)
		kept = append(kept, r)
	}
	return kept, nil
}

func (p *GeminiProvider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	contents := []*genai.Content{
		{Parts: []*genai.Part{{Text: text}}},
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.embeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}

// cleanModelJSON strips Markdown fences and surrounding junk when the model
// ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
