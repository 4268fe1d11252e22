package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bdobrica/glitchy/common/redact"
	"github.com/bdobrica/glitchy/common/version"
)

const (
	defaultBaseURL        = "https://api.x.ai/v1"
	defaultModel          = "grok-4-1-fast-reasoning"
	defaultTemperature    = 0.95
	defaultMaxTokens      = 900
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
	defaultSearchResults  = 5

	maxErrorBody = 300
)

// Config configures the OpenAI-compatible chat completions client.  The
// defaults target xAI, whose endpoint also offers live search.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint.  Defaults to https://api.x.ai/v1.
	BaseURL string

	// Model is the default chat model.
	Model string

	// Temperature and MaxTokens are request defaults (0.95, 900).
	Temperature float64
	MaxTokens   int

	// ConnectTimeout bounds dialing and the TLS handshake; ReadTimeout bounds
	// the wait for the response.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// MaxSearchResults caps the sources a search call may consult.
	MaxSearchResults int
}

// Client implements Inferencer over HTTP.  It is safe for concurrent use.
type Client struct {
	cfg    Config
	client *http.Client
}

// New returns a Client with defaults applied.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.MaxSearchResults == 0 {
		cfg.MaxSearchResults = defaultSearchResults
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
	}
}

// Model returns the default model name.
func (c *Client) Model() string { return c.cfg.Model }

// --- minimal chat completions wire types ---

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireSearch struct {
	Mode            string `json:"mode"`
	ReturnCitations bool   `json:"return_citations"`
	MaxResults      int    `json:"max_search_results,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Search      *wireSearch   `json:"search_parameters,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Citations []string `json:"citations,omitempty"`
	Error     *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// CompletePlain implements Inferencer.
func (c *Client) CompletePlain(ctx context.Context, req Request) (string, error) {
	text, _, err := c.complete(ctx, req, nil)
	return text, err
}

// CompleteWithSearch implements Inferencer.
func (c *Client) CompleteWithSearch(ctx context.Context, req Request) (string, []string, error) {
	return c.complete(ctx, req, &wireSearch{
		Mode:            "on",
		ReturnCitations: true,
		MaxResults:      c.cfg.MaxSearchResults,
	})
}

func (c *Client) complete(ctx context.Context, req Request, search *wireSearch) (string, []string, error) {
	body := wireRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Search:      search,
	}
	if req.Model != "" {
		body.Model = req.Model
	}
	if req.Temperature != 0 {
		body.Temperature = req.Temperature
	}
	if req.MaxTokens != 0 {
		body.MaxTokens = req.MaxTokens
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", nil, fmt.Errorf("llm: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("llm: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, &StatusError{Code: resp.StatusCode, Body: c.excerpt(respBody)}
	}

	var wr wireResponse
	if err := json.Unmarshal(respBody, &wr); err != nil {
		return "", nil, fmt.Errorf("llm: decode API response: %w", err)
	}
	if wr.Error != nil {
		return "", nil, fmt.Errorf("llm: API error (%s): %s", wr.Error.Type, redact.String(wr.Error.Message, c.cfg.APIKey))
	}
	if len(wr.Choices) == 0 {
		return "", nil, fmt.Errorf("%w: no choices returned (HTTP %d)", ErrEmptyReply, resp.StatusCode)
	}

	text := strings.TrimSpace(wr.Choices[0].Message.Content)
	if text == "" {
		return "", nil, fmt.Errorf("%w (finish_reason %q)", ErrEmptyReply, wr.Choices[0].FinishReason)
	}
	return text, wr.Citations, nil
}

// excerpt returns a redacted prefix of an error body suitable for logs.
func (c *Client) excerpt(body []byte) string {
	s := redact.Bearer(redact.String(strings.TrimSpace(string(body)), c.cfg.APIKey))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "…"
	}
	return s
}
