package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Task prefixes for specific models
var taskPrefixes = map[string]struct {
	document string
	query    string
}{
	"nomic-embed-text": {
		document: "search_document: ",
		query:    "search_query: ",
	},
	"mxbai-embed-large": {
		document: "", // No prefix for documents
		query:    "Represent this sentence for searching relevant passages: ",
	},
}

// Ollama embeds via a local Ollama model server.
type Ollama struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

type ollamaEmbedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllama creates the Ollama backend.
func NewOllama(baseURL, model string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	dimensions := GetModelDimensions(model)
	if dimensions == 0 {
		dimensions = 768
		log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dimensions)
	}

	return &Ollama{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// EmbedBatch embeds document texts.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = o.applyPrefix(t, false)
	}

	return o.embedTexts(ctx, prefixed)
}

// EmbedQuery embeds a query, applying the model's query task prefix.
func (o *Ollama) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := o.embedTexts(ctx, []string{o.applyPrefix(text, true)})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrBackendUnavailable)
	}
	return embeddings[0], nil
}

// Dimensions returns the embedding dimensions.
func (o *Ollama) Dimensions() int {
	return o.dimensions
}

// ModelName returns the model name.
func (o *Ollama) ModelName() string {
	return o.model
}

// Kind returns the backend variant.
func (o *Ollama) Kind() Kind {
	return KindOllama
}

// applyPrefix applies the appropriate task prefix for the model.
func (o *Ollama) applyPrefix(text string, isQuery bool) string {
	prefixes, ok := taskPrefixes[o.model]
	if !ok {
		return text
	}
	if isQuery {
		return prefixes.query + text
	}
	return prefixes.document + text
}

// embedTexts performs the embedding request and maps failures onto the
// backend error taxonomy.
func (o *Ollama) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := ollamaEmbedRequest{
		Model:    o.model,
		Input:    texts,
		Truncate: true,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := o.baseURL + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug("Requesting embeddings from Ollama", "model", o.model, "count", len(texts))

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classifyNetError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyHTTPError(resp.StatusCode, string(body))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrBackendUnavailable, err)
	}

	return result.Embeddings, nil
}

// classifyNetError maps transport failures onto the taxonomy.
func classifyNetError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// classifyHTTPError maps HTTP status failures onto the taxonomy. Server
// memory pressure shows up as a 5xx and is treated as transient so the
// scheduler shrinks the batch rather than aborting the folder.
func classifyHTTPError(status int, body string) error {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrBackendTimeout, status, body)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable, status, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidInput, status, body)
	}
}
