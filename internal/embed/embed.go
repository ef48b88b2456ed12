// Package embed provides the embedding backends and the adaptive batch
// scheduler that drives them.
package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"docdex/internal/config"
)

// Backend failure taxonomy. Transient failures (timeout, unavailable) are
// retried and shrink the batch size; invalid input is permanent for the
// offending item; a dimension contract violation is fatal and never
// coerced.
var (
	ErrBackendUnavailable = errors.New("embedding backend unavailable")
	ErrBackendTimeout     = errors.New("embedding backend timed out")
	ErrInvalidInput       = errors.New("invalid embedding input")
	ErrDimensionContract  = errors.New("backend returned wrong vector dimension")
)

// IsTransient reports whether an error should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBackendTimeout) || errors.Is(err, ErrBackendUnavailable)
}

// Kind identifies an embedding backend variant. Backend selection happens
// once, at folder registration, never by string dispatch in hot paths.
type Kind string

const (
	KindOllama Kind = "ollama"
	KindOpenAI Kind = "openai"
	KindLocal  Kind = "local"
	KindAuto   Kind = "auto"
)

// ParseKind validates a backend selection string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOllama, KindOpenAI, KindLocal, KindAuto:
		return Kind(s), nil
	case "":
		return KindAuto, nil
	default:
		return "", fmt.Errorf("unsupported embedding backend: %q", s)
	}
}

// Backend converts batches of text into fixed-dimension vectors.
type Backend interface {
	// EmbedBatch embeds document texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a query (may apply a model task prefix).
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the backend's declared vector dimension.
	Dimensions() int

	// ModelName returns the model identifier stored with the vectors.
	ModelName() string

	// Kind returns the backend variant.
	Kind() Kind
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// Resolve picks the backend for a folder. kindOverride comes from the
// folder's config entry; empty falls back to the global selection. The
// auto kind resolves to ollama when a local server is reachable, else to
// the in-process local backend.
func Resolve(cfg *config.EmbeddingsConfig, kindOverride string) (Backend, error) {
	selection := kindOverride
	if selection == "" {
		selection = cfg.Backend
	}
	kind, err := ParseKind(selection)
	if err != nil {
		return nil, err
	}

	if kind == KindAuto {
		if ollamaReachable(cfg.Ollama.URL) {
			kind = KindOllama
		} else {
			kind = KindLocal
		}
		log.Debug("Resolved auto backend", "kind", kind)
	}

	switch kind {
	case KindOllama:
		return NewOllama(cfg.Ollama.URL, cfg.Ollama.Model)
	case KindOpenAI:
		return NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, cfg.OpenAI.Dimensions)
	case KindLocal:
		return NewLocal(cfg.Local.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding backend: %q", kind)
	}
}

// ollamaReachable probes the Ollama server with a short timeout.
func ollamaReachable(baseURL string) bool {
	if baseURL == "" {
		baseURL = config.DefaultOllamaURL
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api/tags")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
