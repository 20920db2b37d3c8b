// Package embedding turns text into vectors through an OpenAI-compatible API.
package embedding

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/vecmem/internal/profile"
)

// Service is the vector embedding service interface.
type Service interface {
	// Embed generates vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension, 0 if the model decides.
	Dimensions() int
}

// Config describes an OpenAI-compatible embedding endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// ConfigFromProfile builds a Config whose dimension matches the store.
func ConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Model:      p.EmbeddingModel,
		Dimensions: p.VectorSize,
		Timeout:    time.Duration(p.EmbeddingTimeout) * time.Second,
	}
}

type service struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewService creates a new Service for any OpenAI-compatible provider
// (openai, siliconflow, ollama, dashscope, ...).
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model required")
	}
	if cfg.Dimensions < 0 {
		return nil, errors.Errorf("invalid embedding dimensions %d", cfg.Dimensions)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &service{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (s *service) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	}

	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create embeddings failed")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("embedding response has %d vectors for %d texts", len(resp.Data), len(texts))
	}

	// Providers are not required to keep input order.
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if s.dimensions > 0 && len(d.Embedding) != s.dimensions {
			return nil, errors.Errorf("embedding %d has dimension %d, want %d", i, len(d.Embedding), s.dimensions)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (s *service) Dimensions() int {
	return s.dimensions
}
