package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"qcert/internal/config"
	"qcert/internal/domain"
	"qcert/internal/provider"
)

const (
	apiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
)

const ocrPrompt = `Read all visible text in this photo of a manufactured part or its label. The text may mix Korean and English.

Return ONLY valid JSON with no markdown formatting, no code fences, no explanation — just the raw JSON object.

Return two keys: "text" (every legible string, in reading order, joined by newlines) and "confidence" (your overall legibility estimate between 0 and 1).`

// Client implements provider.OCRClient using Google's Gemini API. When the
// primary model fails the fallback model serves the call and the output
// records the substitution.
type Client struct {
	apiKey        string
	model         string
	fallbackModel string
	endpoint      string
	client        *http.Client
}

// NewClient creates a Gemini-based OCR client.
func NewClient(cfg *config.OCRConfig) *Client {
	return newClient(cfg, "")
}

// NewClientWithEndpoint creates a client pointing at a custom API endpoint
// (for testing). The endpoint serves both the primary and fallback models.
func NewClientWithEndpoint(cfg *config.OCRConfig, endpoint string) *Client {
	return newClient(cfg, endpoint)
}

func newClient(cfg *config.OCRConfig, endpoint string) *Client {
	model := cfg.DefaultModel
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		apiKey:        cfg.APIKey,
		model:         model,
		fallbackModel: cfg.FallbackModel,
		endpoint:      endpoint,
		client:        &http.Client{Timeout: timeout},
	}
}

func init() {
	provider.RegisterOCR("gemini", func(cfg *config.OCRConfig) (provider.OCRClient, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini ocr: api key not configured")
		}
		return NewClient(cfg), nil
	})
}

// Recognize reads the text out of the image at imagePath, trying the primary
// model first and the fallback model on failure.
func (c *Client) Recognize(ctx context.Context, imagePath string) (*provider.OCROutput, error) {
	fileBytes, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	mimeType := domain.ContentTypeFor(filepath.Ext(imagePath))
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("unsupported content type for OCR: %s", mimeType)
	}

	out, err := c.recognizeWith(ctx, c.model, fileBytes, mimeType)
	if err == nil {
		out.ModelRequested = c.model
		out.ModelUsed = c.model
		return out, nil
	}
	if c.fallbackModel == "" || c.fallbackModel == c.model {
		return nil, err
	}

	log.Printf("gemini.Client: %s failed, retrying with %s: %v", c.model, c.fallbackModel, err)
	out, fbErr := c.recognizeWith(ctx, c.fallbackModel, fileBytes, mimeType)
	if fbErr != nil {
		return nil, fmt.Errorf("fallback %s also failed: %w (primary: %v)", c.fallbackModel, fbErr, err)
	}
	out.ModelRequested = c.model
	out.ModelUsed = c.fallbackModel
	out.FallbackTriggered = true
	return out, nil
}

// Probe implements the photo engine's label verification hook on top of
// Recognize.
func (c *Client) Probe(ctx context.Context, imagePath string) (string, error) {
	out, err := c.Recognize(ctx, imagePath)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

func (c *Client) recognizeWith(ctx context.Context, model string, fileBytes []byte, mimeType string) (*provider.OCROutput, error) {
	encoded := base64.StdEncoding.EncodeToString(fileBytes)

	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]interface{}{
					{
						"inline_data": map[string]interface{}{
							"mime_type": mimeType,
							"data":      encoded,
						},
					},
					{
						"text": ocrPrompt,
					},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"responseMimeType": "application/json",
			"maxOutputTokens":  4096,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("%s/%s:generateContent", apiBaseURL, model)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling gemini API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := provider.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
			return nil, provider.NewRateLimitError("gemini", baseErr, retryAfter)
		}
		return nil, baseErr
	}

	return parseResponse(respBody)
}

// geminiResponse models the Gemini API response.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func parseResponse(body []byte) (*provider.OCROutput, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from API: no candidates")
	}
	if len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from API: no parts")
	}

	text := resp.Candidates[0].Content.Parts[0].Text

	var parsed struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("parsing OCR JSON output: %w (raw: %s)", err, truncate(text, 500))
	}

	return &provider.OCROutput{
		Text:       parsed.Text,
		Confidence: parsed.Confidence,
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
