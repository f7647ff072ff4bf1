package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"qcert/internal/config"
	"qcert/internal/domain"
	"qcert/internal/provider"
)

const (
	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"

	maxTokens   = 4096
	temperature = 0.0
)

// Extractor implements provider.FieldExtractor using the Anthropic Messages
// API.
type Extractor struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewExtractor creates a Claude-based field extractor from an extractor
// config.
func NewExtractor(cfg *config.ExtractorConfig) *Extractor {
	return newExtractor(cfg, apiURL)
}

// NewExtractorWithEndpoint creates an extractor pointing at a custom API
// endpoint (for testing).
func NewExtractorWithEndpoint(cfg *config.ExtractorConfig, endpoint string) *Extractor {
	return newExtractor(cfg, endpoint)
}

func newExtractor(cfg *config.ExtractorConfig, endpoint string) *Extractor {
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Extractor{
		apiKey:   cfg.APIKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func init() {
	provider.RegisterExtractor("claude", func(cfg *config.ExtractorConfig) (provider.FieldExtractor, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("claude extractor: api key not configured")
		}
		return NewExtractor(cfg), nil
	})
}

// ExtractFields sends the intake text through the Messages API and returns
// the extracted field values with the full call audit.
func (e *Extractor) ExtractFields(ctx context.Context, input provider.ExtractInput) (*provider.ExtractOutput, error) {
	vars := map[string]string{"text": input.Text}
	for k, v := range input.Variables {
		vars[k] = v
	}
	prompt := provider.RenderPrompt(input.FieldKeys, vars)

	reqBody := map[string]interface{}{
		"model":       e.model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": prompt,
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling anthropic API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := provider.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
			return nil, provider.NewRateLimitError("claude", baseErr, retryAfter)
		}
		return nil, baseErr
	}

	return parseResponse(respBody, e.model, prompt, input.Variables)
}

// apiResponse models the Anthropic Messages API response.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func parseResponse(body []byte, model, prompt string, userVars map[string]string) (*provider.ExtractOutput, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}

	if resp.StopReason == "max_tokens" {
		return nil, fmt.Errorf("output truncated (stop_reason: max_tokens): response exceeded output token limit")
	}

	text := resp.Content[0].Text

	var parsed struct {
		Fields     map[string]string  `json:"fields"`
		Confidence map[string]float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("parsing LLM JSON output: %w (raw: %s)", err, truncate(text, 500))
	}

	modelUsed := resp.Model
	if modelUsed == "" {
		modelUsed = model
	}

	return &provider.ExtractOutput{
		Fields:     parsed.Fields,
		Confidence: parsed.Confidence,
		Audit: domain.ExtractionAudit{
			Provider:       "claude",
			ModelRequested: model,
			ModelUsed:      modelUsed,
			Params: domain.CallParams{
				Temperature: temperature,
				MaxTokens:   maxTokens,
			},
			ProviderRequestID:     resp.ID,
			PromptTemplateID:      provider.PromptTemplateID,
			PromptTemplateVersion: provider.PromptTemplateVersion,
			UserVariables:         userVars,
			RenderedPrompt:        prompt,
			PromptHash:            provider.PromptHash(prompt),
			RawResponse:           text,
			RawResponseHash:       provider.ResponseHash(text),
		},
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
