// Package falai wraps the fal.ai image generation API.
//
// The client is stateless between calls and safe for concurrent use across
// different generation records.
package falai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"

	"github.com/pixmuse/pixmuse-api/library/config"
)

const (
	defaultAPIBase    = "https://fal.run"
	defaultModel      = "fal-ai/flux/dev"
	defaultI2IModel   = "fal-ai/flux/dev/image-to-image"
	defaultMaxRetries = 3
	defaultTimeout    = 2 * time.Minute
)

var (
	// ErrOverloaded the provider kept rate limiting past the retry budget.
	ErrOverloaded = errors.New("service temporarily overloaded")
	// ErrUnavailable the provider failed with a non-retryable error.
	ErrUnavailable = errors.New("service unavailable")
)

// sleepWithContext waits for d or until ctx is done. Patchable in tests.
var sleepWithContext = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client calls the fal.ai synchronous inference endpoint.
type Client struct {
	apiBase    string
	apiKey     string
	model      string
	i2iModel   string
	maxRetries int
	timeout    time.Duration
	httpClient *http.Client
}

// GenerateRequest describes one image generation request.
type GenerateRequest struct {
	Prompt            string
	ImageRef          string
	Width             int
	Height            int
	GuidanceScale     float64
	NumInferenceSteps int
	Seed              *int64
	NegativePrompt    string
	NumImages         int
}

type generateResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
	} `json:"images"`
	Seed int64 `json:"seed"`
}

// New creates a fal.ai client with safe defaults.
func New(cfg *config.ProviderConfig, httpClient *http.Client) *Client {
	c := &Client{
		apiBase:    strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		i2iModel:   cfg.I2IModel,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		httpClient: httpClient,
	}
	if c.apiBase == "" {
		c.apiBase = defaultAPIBase
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.i2iModel == "" {
		c.i2iModel = defaultI2IModel
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	return c
}

// Generate runs one generation request against the provider and returns the
// remote URLs of the produced images.
//
// Rate-limit failures are retried up to the retry budget with exponential
// backoff and jitter; any other failure surfaces immediately as ErrUnavailable
// carrying the upstream message. A rate limit that persists past the budget
// surfaces as ErrOverloaded.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("missing prompt")
	}

	for attempt := 0; ; attempt++ {
		refs, err := c.generateOnce(ctx, req)
		if err == nil {
			return refs, nil
		}

		if !isRateLimited(err) {
			return nil, errors.Wrap(ErrUnavailable, err.Error())
		}
		if attempt >= c.maxRetries {
			return nil, errors.WithStack(ErrOverloaded)
		}

		// attempt k waits 2^k seconds plus up to one second of jitter
		wait := time.Duration(1<<uint(attempt))*time.Second +
			time.Duration(rand.Int63n(1000))*time.Millisecond
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, errors.Wrap(err, "wait for retry")
		}
	}
}

// generateOnce performs a single bounded provider call.
func (c *Client) generateOnce(ctx context.Context, req GenerateRequest) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := map[string]any{
		"prompt": req.Prompt,
	}
	if req.Width > 0 && req.Height > 0 {
		payload["image_size"] = map[string]int{
			"width":  req.Width,
			"height": req.Height,
		}
	}
	if req.GuidanceScale > 0 {
		payload["guidance_scale"] = req.GuidanceScale
	}
	if req.NumInferenceSteps > 0 {
		payload["num_inference_steps"] = req.NumInferenceSteps
	}
	if req.Seed != nil {
		payload["seed"] = *req.Seed
	}
	if strings.TrimSpace(req.NegativePrompt) != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.NumImages > 0 {
		payload["num_images"] = req.NumImages
	}

	endpoint := c.apiBase + "/" + c.model
	if req.ImageRef != "" {
		payload["image_url"] = req.ImageRef
		endpoint = c.apiBase + "/" + c.i2iModel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal generate request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build generate request")
	}
	httpReq.Header.Set("Authorization", "Key "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "call generate endpoint")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read generate response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(
			&apiError{statusCode: resp.StatusCode, message: string(respBody)},
			"generate")
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(err, "unmarshal generate response")
	}

	refs := make([]string, 0, len(parsed.Images))
	for _, img := range parsed.Images {
		if img.URL != "" {
			refs = append(refs, img.URL)
		}
	}

	return refs, nil
}

// apiError is a non-2xx provider response.
type apiError struct {
	statusCode int
	message    string
}

func (e *apiError) Error() string {
	return "provider returned " + http.StatusText(e.statusCode) + ": " + e.message
}

// isRateLimited classifies a provider failure as a transient overload.
func isRateLimited(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		if apiErr.statusCode == http.StatusTooManyRequests {
			return true
		}

		msg := strings.ToLower(apiErr.message)
		return strings.Contains(msg, "rate limit") ||
			strings.Contains(msg, "too many requests")
	}

	return false
}
