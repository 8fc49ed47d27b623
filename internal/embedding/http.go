package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultAPIKeyHeader carries the API key when no header name is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	Endpoint     string
	Model        string
	ModelVersion string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
}

// HTTPProvider calls a JSON embedding endpoint, one text per request.
type HTTPProvider struct {
	cfg    HTTPProviderConfig
	client *http.Client
}

// Compile-time interface check.
var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider for the configured endpoint.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint must be set")
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type embedRequest struct {
	Text         string `json:"text"`
	Model        string `json:"model,omitempty"`
	ModelVersion string `json:"modelVersion,omitempty"`
}

type embeddingObject struct {
	Embedding []float32 `json:"embedding"`
}

type embedResponse struct {
	Embedding []float32         `json:"embedding"`
	Data      []embeddingObject `json:"data"`
}

// Embed posts text to the endpoint. A 429 yields ErrRateLimited; any other
// failure yields ErrTransient.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Text: text, Model: p.cfg.Model, ModelVersion: p.cfg.ModelVersion})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set(p.cfg.APIKeyHeader, p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w (429)", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, snippet(respBody))
	}

	vec, err := parseEmbedding(respBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return vec, nil
}

// parseEmbedding accepts {"embedding":[...]}, {"data":[{"embedding":[...]}]},
// [{"embedding":[...]}] and a bare numeric array.
func parseEmbedding(body []byte) ([]float32, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	var vec []float32
	switch body[0] {
	case '{':
		var obj embedResponse
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		vec = obj.Embedding
		if len(vec) == 0 && len(obj.Data) > 0 {
			vec = obj.Data[0].Embedding
		}
	case '[':
		var list []embeddingObject
		if err := json.Unmarshal(body, &list); err == nil {
			if len(list) > 0 {
				vec = list[0].Embedding
			}
		} else if err := json.Unmarshal(body, &vec); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	default:
		return nil, fmt.Errorf("unexpected response body: %s", snippet(body))
	}

	if len(vec) == 0 {
		return nil, fmt.Errorf("response contains no embedding")
	}
	return vec, nil
}

func snippet(b []byte) string {
	const maxLen = 200
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}
