package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI embeds via the OpenAI embeddings API (or a compatible server
// behind a custom base URL).
type OpenAI struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAI creates the OpenAI backend.
func NewOpenAI(apiKey, model, baseURL string, dimensions int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	if dimensions == 0 {
		dimensions = GetModelDimensions(model)
		if dimensions == 0 {
			dimensions = 1536
			log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dimensions)
		}
	}

	return &OpenAI{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}, nil
}

// EmbedBatch embeds document texts.
func (s *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embedTexts(ctx, texts)
}

// EmbedQuery embeds a query. OpenAI models use no task prefixes, so this
// matches document embedding.
func (s *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.embedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrBackendUnavailable)
	}
	return embeddings[0], nil
}

// Dimensions returns the embedding dimensions.
func (s *OpenAI) Dimensions() int {
	return s.dimensions
}

// ModelName returns the model name.
func (s *OpenAI) ModelName() string {
	return s.model
}

// Kind returns the backend variant.
func (s *OpenAI) Kind() Kind {
	return KindOpenAI
}

// embedTexts performs the embedding request.
func (s *OpenAI) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	log.Debug("Requesting embeddings from OpenAI", "model", s.model, "count", len(texts))

	resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(s.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		var apierr *openai.Error
		if errors.As(err, &apierr) && apierr.StatusCode >= 400 && apierr.StatusCode < 500 &&
			apierr.StatusCode != 408 && apierr.StatusCode != 429 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx >= len(embeddings) {
			continue
		}
		vec := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vec[i] = float32(v)
		}
		embeddings[idx] = vec
	}

	return embeddings, nil
}
