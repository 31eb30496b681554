package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"orbital-hq/callisto/pkg/config"
)

// Internal API paths under each endpoint base URL.
const (
	generatePath       = "/v1internal:generateContent"
	streamGeneratePath = "/v1internal:streamGenerateContent?alt=sse"
	countTokensPath    = "/v1internal:countTokens"
	fetchModelsPath    = "/v1internal:fetchAvailableModels"
	loadCodeAssistPath = "/v1internal:loadCodeAssist"
)

// Client talks to the Antigravity internal API. It holds the ordered
// endpoint list but no retry policy: each method targets the single
// endpoint the caller names, and endpoint rotation is the orchestrator's
// job. All methods return the typed errors from this package.
type Client struct {
	endpoints  []string
	httpClient *http.Client
	userAgent  string
	tokenURL   string
	now        func() time.Time
}

// NewClient creates an upstream client with a pooled transport.
func NewClient(cfg config.UpstreamConfig) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = config.DefaultEndpoints()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}

	return &Client{
		endpoints: endpoints,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		userAgent: userAgent,
		tokenURL:  oauthTokenURL,
		now:       time.Now,
	}
}

// Endpoints returns the ordered endpoint base URLs.
func (c *Client) Endpoints() []string {
	return c.endpoints
}

// Generate sends a non-streaming generation request to one endpoint.
// The body is the fully translated internal envelope. On success the raw
// response body is returned for reassembly by the caller.
func (c *Client) Generate(ctx context.Context, endpoint, accessToken string, body []byte) ([]byte, error) {
	resp, err := c.post(ctx, endpoint+generatePath, accessToken, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(endpoint, resp.StatusCode, resp.Header, raw)
	}
	return raw, nil
}

// StreamGenerate opens a streaming generation request to one endpoint and
// returns the response body for SSE consumption. The caller owns the
// returned ReadCloser. A non-2xx status is fully read, classified, and
// returned as a typed error.
func (c *Client) StreamGenerate(ctx context.Context, endpoint, accessToken string, body []byte) (io.ReadCloser, error) {
	resp, err := c.post(ctx, endpoint+streamGeneratePath, accessToken, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, &NetworkError{Endpoint: endpoint, Cause: readErr}
		}
		return nil, classifyResponse(endpoint, resp.StatusCode, resp.Header, raw)
	}
	return resp.Body, nil
}

// CountTokens asks one endpoint to count the tokens in a translated
// request envelope.
func (c *Client) CountTokens(ctx context.Context, endpoint, accessToken string, body []byte) (int64, error) {
	resp, err := c.post(ctx, endpoint+countTokensPath, accessToken, bytes.NewReader(body))
	if err != nil {
		return 0, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, classifyResponse(endpoint, resp.StatusCode, resp.Header, raw)
	}

	var parsed struct {
		TotalTokens int64 `json:"totalTokens"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("decode countTokens response: %w", err)
	}
	return parsed.TotalTokens, nil
}

// ModelQuota is the per-model quota state reported by the upstream.
type ModelQuota struct {
	// RemainingFraction is the unused share of the quota window, in
	// [0, 1]. Nil when the upstream did not report one.
	RemainingFraction *float64

	// ResetAt is when the quota window resets (zero if unreported)
	ResetAt time.Time
}

// ModelList is the result of a fetchAvailableModels call.
type ModelList struct {
	// IDs are the model identifiers the account can use, sorted
	IDs []string

	// Quota maps model ID to its quota state, for models that report one
	Quota map[string]ModelQuota
}

type modelsResponse struct {
	Models map[string]struct {
		DisplayName string `json:"displayName,omitempty"`
		QuotaInfo   *struct {
			RemainingFraction *float64 `json:"remainingFraction,omitempty"`
			ResetTime         string   `json:"resetTime,omitempty"`
		} `json:"quotaInfo,omitempty"`
	} `json:"models"`
}

// FetchModels retrieves the account's available models and their quota
// windows. The same call serves both model discovery and quota refresh.
func (c *Client) FetchModels(ctx context.Context, endpoint, accessToken string) (*ModelList, error) {
	resp, err := c.post(ctx, endpoint+fetchModelsPath, accessToken, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Endpoint: endpoint, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(endpoint, resp.StatusCode, resp.Header, raw)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode fetchAvailableModels response: %w", err)
	}

	list := &ModelList{
		IDs:   make([]string, 0, len(parsed.Models)),
		Quota: make(map[string]ModelQuota),
	}
	for id, info := range parsed.Models {
		list.IDs = append(list.IDs, id)
		if info.QuotaInfo == nil {
			continue
		}
		quota := ModelQuota{RemainingFraction: info.QuotaInfo.RemainingFraction}
		if info.QuotaInfo.ResetTime != "" {
			if t, err := time.Parse(time.RFC3339, info.QuotaInfo.ResetTime); err == nil {
				quota.ResetAt = t.UTC()
			}
		}
		list.Quota[id] = quota
	}
	sort.Strings(list.IDs)
	return list, nil
}

// LoadProject discovers the account's cloud project via loadCodeAssist.
// Accounts without an explicit project ID need this once before their
// first generation request.
func (c *Client) LoadProject(ctx context.Context, endpoint, accessToken string) (string, error) {
	body := []byte(`{"metadata":{"ideType":"ANTIGRAVITY","pluginType":"GEMINI"}}`)
	resp, err := c.post(ctx, endpoint+loadCodeAssistPath, accessToken, bytes.NewReader(body))
	if err != nil {
		return "", &NetworkError{Endpoint: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Endpoint: endpoint, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyResponse(endpoint, resp.StatusCode, resp.Header, raw)
	}

	var parsed struct {
		CloudAICompanionProject string `json:"cloudaicompanionProject"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode loadCodeAssist response: %w", err)
	}
	if parsed.CloudAICompanionProject == "" {
		return "", &UpstreamError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "loadCodeAssist returned no project",
		}
	}
	return parsed.CloudAICompanionProject, nil
}

func (c *Client) post(ctx context.Context, url, accessToken string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", c.userAgent)
	return c.httpClient.Do(req)
}
