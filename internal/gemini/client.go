package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/timzhangherenow/product-contextualizer/internal/config"
	"github.com/timzhangherenow/product-contextualizer/internal/models"
)

var (
	// ErrNoImage means the remote call succeeded but the response carried no
	// inline image part. Reported, never retried.
	ErrNoImage = errors.New("no image data found in response")
	// ErrInvalidCredential means the remote service rejected the caller's
	// credential. Surfaced distinctly so the environment can prompt
	// re-authentication instead of showing a generic failure.
	ErrInvalidCredential = errors.New("generation credential rejected")
	// ErrUpstream wraps network failures and non-credential remote errors.
	ErrUpstream = errors.New("generation service error")
)

// invalidKeyMarker is the "entity not found"-class message the API returns
// for unknown or revoked keys.
const invalidKeyMarker = "Requested entity was not found"

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

// Request carries one product image and the configuration for a single
// generation attempt.
type Request struct {
	ImageData []byte
	MimeType  string
	Config    models.ProductConfig
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		apiKey:  cfg.GeminiAPIKey,
		baseURL: strings.TrimRight(cfg.GeminiBaseURL, "/"),
		model:   cfg.GeminiModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ImageConfig *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	ImageSize   string `json:"imageSize"`
	AspectRatio string `json:"aspectRatio"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate makes exactly one call against the remote image service and
// returns the composited image as a displayable data URI. Retry policy, if
// any, belongs to the caller.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	resolution := req.Config.Resolution
	if !resolution.Valid() {
		resolution = models.Resolution1K
	}

	payload := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: BuildPrompt(req.Config)},
				{InlineData: &inlineData{
					MimeType: req.MimeType,
					Data:     base64.StdEncoding.EncodeToString(req.ImageData),
				}},
			},
		}},
		GenerationConfig: &generationConfig{
			ImageConfig: &imageConfig{
				ImageSize:   string(resolution),
				AspectRatio: "1:1",
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if c.log != nil {
		c.log.Info("calling generation API", "model", c.model, "resolution", string(resolution))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: post generate: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(rawBody, &apiErr) == nil && strings.Contains(apiErr.Error.Message, invalidKeyMarker) {
			if c.log != nil {
				c.log.Error("generation credential rejected", "status", resp.StatusCode)
			}
			return "", ErrInvalidCredential
		}
		if c.log != nil {
			c.log.Error("generation API failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, truncateBody(rawBody))
	}

	var genResp generateResponse
	if err := json.Unmarshal(rawBody, &genResp); err != nil {
		return "", fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}

	for _, candidate := range genResp.Candidates {
		for _, p := range candidate.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				mime := p.InlineData.MimeType
				if mime == "" {
					mime = "image/png"
				}
				return fmt.Sprintf("data:%s;base64,%s", mime, p.InlineData.Data), nil
			}
		}
	}

	return "", ErrNoImage
}

// BuildPrompt renders the natural-language instruction fed to the model
// alongside the product image. A blank region targets the global market.
func BuildPrompt(cfg models.ProductConfig) string {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "Global"
	}

	var b strings.Builder
	b.WriteString("This is a product image.\n")
	b.WriteString("Task: Generate a high-quality, photorealistic lifestyle image featuring this product.\n\n")
	b.WriteString("Context Details:\n")
	fmt.Fprintf(&b, "- Target Market/Region Style: %s\n", region)
	fmt.Fprintf(&b, "- Usage Scenario: %s\n\n", strings.TrimSpace(cfg.Scenario))
	b.WriteString("Instructions:\n")
	b.WriteString("- Seamlessly integrate the product into the environment.\n")
	b.WriteString("- Ensure lighting, shadows, and perspective match the generated background.\n")
	b.WriteString("- Keep the product as the main focal point.\n")
	fmt.Fprintf(&b, "- The aesthetic should appeal to customers in %s.\n", region)
	return b.String()
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
