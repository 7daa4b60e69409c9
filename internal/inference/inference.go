// Package inference talks to the local model runtime. The engine never
// calls the model directly; it goes through Client so tests can stub the
// whole thing out and so sampling parameters are always derived from the
// child's age band rather than picked ad hoc.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brightnest/haven/internal/classifier"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/policy"
)

// Params are the sampling settings for one generation.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Request is one generation request.
type Request struct {
	Prompt string
	System string
	Params Params
}

// Client generates a model response. Implementations must honor the
// context deadline.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ParamsForTier derives sampling settings from the age band: younger tiers
// get colder sampling and shorter answers. The token budget leaves
// headroom over the word target since a word averages more than one token.
func ParamsForTier(tier policy.Tier) Params {
	spec := tier.Spec()
	temp := 0.9 - 0.15*float64(spec.Strictness-policy.StrictnessLight)
	return Params{
		Temperature: temp,
		TopP:        0.9,
		MaxTokens:   spec.MaxWords * 2,
	}
}

// SystemPrompt builds the per-tier instruction text sent with every
// request.
func SystemPrompt(tier policy.Tier, shape classifier.Shape) string {
	spec := tier.Spec()
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly, patient tutor for a child in the %s age band (ages %d-%d). ", spec.Name, spec.MinAge, spec.MaxAge)
	fmt.Fprintf(&b, "Answer in %d to %d words. ", shape.MinWords, shape.MaxWords)
	switch {
	case spec.Strictness >= policy.StrictnessMaximum:
		b.WriteString("Use very simple words a young child knows. Be warm and encouraging. Never discuss scary or grown-up topics.")
	case spec.Strictness >= policy.StrictnessHigh:
		b.WriteString("Use simple, clear language. Keep every topic school-appropriate.")
	case spec.Strictness >= policy.StrictnessModerate:
		b.WriteString("Explain things clearly and accurately at a middle-school level.")
	default:
		b.WriteString("Explain things accurately and completely, at a high-school level.")
	}
	return b.String()
}

// OllamaClient calls an Ollama-compatible /api/generate endpoint.
type OllamaClient struct {
	endpoint string
	model    string
	client   *http.Client
	log      logging.Logger
}

// NewOllamaClient builds a client for the runtime at endpoint (e.g.
// http://127.0.0.1:11434) using the named model.
func NewOllamaClient(endpoint, model string, log logging.Logger) *OllamaClient {
	return &OllamaClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: 2 * time.Minute},
		log:      log.With("component", "inference"),
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Params.Temperature,
			"top_p":       req.Params.TopP,
			"num_predict": req.Params.MaxTokens,
		},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("model request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("model response: %w", err)
	}

	o.log.Debug(ctx, "generation finished",
		"model", o.model,
		"elapsed", time.Since(start).Round(time.Millisecond).String())
	return strings.TrimSpace(gr.Response), nil
}
