package ai

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiEmbedder struct {
	apiKey string
	model  string

	once    sync.Once
	client  *genai.Client
	initErr error
}

func init() {
	Register("gemini", createGeminiEmbedder)
}

func createGeminiEmbedder(model string, args interface{}) (IEmbedder, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiEmbedder{
		apiKey: resolveAPIKey(cfg.APIKey, "GEMINI_API_KEY"),
		model:  model,
	}, nil
}

func (p *geminiEmbedder) ModelVersion() string {
	return p.model
}

func (p *geminiEmbedder) getClient(ctx context.Context) (*genai.Client, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	p.once.Do(func() {
		p.client, p.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  p.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if p.initErr != nil {
		return nil, p.initErr
	}
	return p.client, nil
}

func (p *geminiEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return p.embedContent(ctx, &genai.Content{Parts: []*genai.Part{{Text: text}}})
}

func (p *geminiEmbedder) EmbedImage(ctx context.Context, data []byte, mimeType string) ([]float32, error) {
	return p.embedContent(ctx, &genai.Content{Parts: []*genai.Part{{
		InlineData: &genai.Blob{MIMEType: mimeType, Data: data},
	}}})
}

func (p *geminiEmbedder) embedContent(ctx context.Context, content *genai.Content) ([]float32, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.Models.EmbedContent(ctx, p.model, []*genai.Content{content}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}
