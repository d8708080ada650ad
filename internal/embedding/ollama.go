package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Default Ollama configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 60 * time.Second
	DefaultDimensions = 768 // nomic-embed-text default
)

// OllamaConfig holds configuration for the Ollama embedding backend.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Timeout is the per-request timeout (default: 60s).
	Timeout time.Duration

	// Dimensions is the embedding vector size (model-dependent).
	Dimensions int
}

// Ollama generates embeddings through a local Ollama server.
type Ollama struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions int
	device     string
}

var _ Embedder = (*Ollama)(nil)

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type psResponse struct {
	Models []struct {
		Name     string `json:"name"`
		SizeVRAM int64  `json:"size_vram"`
	} `json:"models"`
}

// NewOllama creates an Ollama embedding backend. It verifies the model
// loads by embedding a probe string, then inspects the server once to
// decide whether inference runs on a GPU or the CPU. A model that cannot
// be loaded is a fatal condition for the pipeline, so the error is
// returned rather than deferred to the first batch.
func NewOllama(ctx context.Context, cfg OllamaConfig) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	o := &Ollama{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}

	// Warmup forces the model into memory and validates it exists.
	if _, err := o.embedOne(ctx, "warmup"); err != nil {
		return nil, fmt.Errorf("load embedding model %q: %w", cfg.Model, err)
	}

	o.device = o.probeDevice(ctx)
	log.Info().
		Str("model", o.model).
		Str("device", o.device).
		Int("dimensions", o.dimensions).
		Msg("Embedding backend ready")

	return o, nil
}

// Embed generates one vector per input text, sequentially.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := o.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (o *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(msg))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}

	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// probeDevice asks the server where the warmed-up model is resident.
// Any VRAM allocation means GPU inference; failures default to cpu.
func (o *Ollama) probeDevice(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/ps", nil)
	if err != nil {
		return "cpu"
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "cpu"
	}
	defer resp.Body.Close()

	var parsed psResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "cpu"
	}

	for _, m := range parsed.Models {
		if strings.HasPrefix(m.Name, o.model) && m.SizeVRAM > 0 {
			return "gpu"
		}
	}
	return "cpu"
}

// Dimensions returns the embedding vector size.
func (o *Ollama) Dimensions() int { return o.dimensions }

// ModelVersion identifies the backing model.
func (o *Ollama) ModelVersion() string { return "ollama/" + o.model }

// Device reports the device selected at construction.
func (o *Ollama) Device() string { return o.device }

// Close releases resources.
func (o *Ollama) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
