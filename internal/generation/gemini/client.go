// Package gemini talks to the generateContent REST API, either on Vertex AI
// or on the Generative Language (AI Studio) endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/trendrbot/trendrbot/internal/generation"
	"github.com/trendrbot/trendrbot/internal/model"
)

const (
	EndpointVertex = "vertex"
	EndpointStudio = "studio"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	studioBaseURL      = "https://generativelanguage.googleapis.com"
)

var _ generation.Generator = (*Client)(nil)

type Config struct {
	Endpoint  string
	BaseURL   string
	APIKey    string
	ProjectID string
	Location  string
	Timeout   time.Duration
	// TokenSource overrides Google default credentials on the vertex endpoint.
	TokenSource oauth2.TokenSource
}

type Client struct {
	endpoint  string
	baseURL   string
	apiKey    string
	projectID string
	location  string
	tokens    oauth2.TokenSource
	client    *http.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	endpoint := strings.ToLower(strings.TrimSpace(cfg.Endpoint))
	if endpoint == "" {
		endpoint = EndpointVertex
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	c := &Client{
		endpoint:  endpoint,
		baseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		projectID: strings.TrimSpace(cfg.ProjectID),
		location:  strings.TrimSpace(cfg.Location),
		tokens:    cfg.TokenSource,
		client:    &http.Client{Timeout: timeout},
	}

	switch endpoint {
	case EndpointVertex:
		if c.projectID == "" {
			return nil, fmt.Errorf("gcp project id is required for the vertex endpoint")
		}
		if c.location == "" {
			c.location = "us-central1"
		}
		if c.baseURL == "" {
			c.baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", c.location)
		}
		if c.tokens == nil {
			// The token source keeps its context for every refresh.
			tokens, err := google.DefaultTokenSource(context.WithoutCancel(ctx), cloudPlatformScope)
			if err != nil {
				return nil, fmt.Errorf("load google default credentials: %w", err)
			}
			c.tokens = tokens
		}
	case EndpointStudio:
		if c.apiKey == "" {
			return nil, fmt.Errorf("api key is required for the studio endpoint")
		}
		if c.baseURL == "" {
			c.baseURL = studioBaseURL
		}
	default:
		return nil, fmt.Errorf("unsupported gemini endpoint %q", cfg.Endpoint)
	}
	return c, nil
}

func (c *Client) Generate(ctx context.Context, descriptor model.Descriptor, prompt string) (generation.Result, error) {
	version := strings.TrimSpace(descriptor.Version())
	if version == "" {
		return generation.Result{}, fmt.Errorf("model version is required")
	}
	body, err := json.Marshal(buildRequest(descriptor, prompt))
	if err != nil {
		return generation.Result{}, fmt.Errorf("marshal generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL(version), bytes.NewReader(body))
	if err != nil {
		return generation.Result{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.authorize(httpReq); err != nil {
		return generation.Result{}, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return generation.Result{}, fmt.Errorf("request generate content: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return generation.Result{}, fmt.Errorf("read generate response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return generation.Result{}, fmt.Errorf("generate content failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed apiResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return generation.Result{}, fmt.Errorf("decode generate response: %w", err)
	}
	return parseResponse(version, parsed)
}

func (c *Client) generateURL(version string) string {
	escaped := url.PathEscape(version)
	if c.endpoint == EndpointStudio {
		return fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, escaped)
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		c.baseURL, url.PathEscape(c.projectID), url.PathEscape(c.location), escaped)
}

func (c *Client) authorize(req *http.Request) error {
	if c.endpoint == EndpointStudio {
		req.Header.Set("x-goog-api-key", c.apiKey)
		return nil
	}
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("fetch access token: %w", err)
	}
	token.SetAuthHeader(req)
	return nil
}

type apiRequest struct {
	Contents         []apiContent     `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type apiResponse struct {
	Candidates     []apiCandidate    `json:"candidates"`
	PromptFeedback apiPromptFeedback `json:"promptFeedback"`
	UsageMetadata  apiUsageMeta      `json:"usageMetadata"`
	ModelVersion   string            `json:"modelVersion"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type apiUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

var harmCategories = []string{
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_HARASSMENT",
}

func buildRequest(descriptor model.Descriptor, prompt string) apiRequest {
	req := apiRequest{
		Contents: []apiContent{{Role: "user", Parts: []apiPart{{Text: prompt}}}},
	}
	if v, ok := descriptor.MaxOutputTokens(); ok {
		req.GenerationConfig.MaxOutputTokens = &v
	}
	if v, ok := descriptor.Temperature(); ok {
		req.GenerationConfig.Temperature = &v
	}
	if v, ok := descriptor.TopK(); ok {
		req.GenerationConfig.TopK = &v
	}
	if v, ok := descriptor.TopP(); ok {
		req.GenerationConfig.TopP = &v
	}
	for _, category := range harmCategories {
		req.SafetySettings = append(req.SafetySettings, safetySetting{Category: category, Threshold: "BLOCK_NONE"})
	}
	return req
}

func parseResponse(version string, resp apiResponse) (generation.Result, error) {
	if resp.PromptFeedback.BlockReason != "" {
		return generation.Result{}, fmt.Errorf("gemini: %w: %s", generation.ErrBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return generation.Result{}, fmt.Errorf("gemini: %w: empty candidates", generation.ErrEmptyResponse)
	}
	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" || candidate.FinishReason == "PROHIBITED_CONTENT" {
			return generation.Result{}, fmt.Errorf("gemini: %w: finish reason %s", generation.ErrBlocked, candidate.FinishReason)
		}
		return generation.Result{}, fmt.Errorf("gemini: %w: finish reason %s", generation.ErrEmptyResponse, candidate.FinishReason)
	}

	modelName := resp.ModelVersion
	if modelName == "" {
		modelName = version
	}
	return generation.Result{
		Text:         text.String(),
		FinishReason: candidate.FinishReason,
		Model:        modelName,
		PromptTokens: resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, nil
}
