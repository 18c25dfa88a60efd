// Package kie is an image generator backed by the KIE.ai asynchronous job API.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/InfographicAI/internal/models"
)

const serviceName = "kie"

var errTaskTimeout = errors.New("task did not finish in time")

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

type Client struct {
	apiKey       string
	baseURL      string
	model        string
	pollInterval time.Duration
	maxAttempts  int
	httpClient   *http.Client
	log          *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 90
	}
	if cfg.Model == "" {
		cfg.Model = "nano-banana-pro"
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Generate creates a job, polls it to completion and downloads the first
// result image.
func (c *Client) Generate(ctx context.Context, opts models.GenerateOptions) (*models.GeneratedImage, error) {
	payload := map[string]any{
		"model": c.model,
		"input": map[string]any{
			"prompt":        opts.Prompt,
			"aspect_ratio":  opts.AspectRatio,
			"resolution":    opts.ImageSize,
			"output_format": "png",
		},
	}

	taskID, err := c.createTask(ctx, payload)
	if err != nil {
		return nil, c.wrap(err)
	}
	resultURL, err := c.pollTaskStatus(ctx, taskID)
	if err != nil {
		return nil, c.wrap(err)
	}
	data, mimeType, err := c.download(ctx, resultURL)
	if err != nil {
		return nil, c.wrap(err)
	}
	return &models.GeneratedImage{Data: data, MimeType: mimeType}, nil
}

type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("kie status=%d body=%s", e.Status, e.Body)
}

type taskError struct {
	Code    string
	Message string
}

func (e *taskError) Error() string {
	return fmt.Sprintf("task failed: %s (code: %s)", e.Message, e.Code)
}

func (c *Client) wrap(err error) error {
	kind := models.FailureUnknown
	var stErr *statusError
	var tErr *taskError
	switch {
	case errors.As(err, &stErr):
		kind = kindFromStatus(stErr.Status)
	case errors.As(err, &tErr):
		msg := strings.ToLower(tErr.Message)
		if strings.Contains(msg, "sensitive") || strings.Contains(msg, "safety") || strings.Contains(msg, "nsfw") {
			kind = models.FailureSafety
		}
	case errors.Is(err, errTaskTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = models.FailureTransient
	}
	return &models.ExternalError{Service: serviceName, Kind: kind, Err: err}
}

func kindFromStatus(code int) models.FailureKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return models.FailureAuth
	case code == http.StatusTooManyRequests:
		return models.FailureRateLimit
	case code >= http.StatusInternalServerError:
		return models.FailureTransient
	}
	return models.FailureUnknown
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do sends the request and decodes the API envelope. Both the HTTP status and
// the envelope code must signal success.
func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("KIE request failed", "status", resp.StatusCode, "path", req.URL.Path, "body", truncateBody(rawBody))
		return nil, &statusError{Status: resp.StatusCode, Body: truncateBody(rawBody)}
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if env.Code != http.StatusOK {
		return nil, &statusError{Status: env.Code, Body: env.Msg}
	}
	return env.Data, nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	var created struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("decode create task response: %w", err)
	}
	if created.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}
	c.log.Info("KIE task created", "task_id", created.TaskID, "model", c.model)
	return created.TaskID, nil
}

func (c *Client) pollTaskStatus(ctx context.Context, taskID string) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", url.Values{"taskId": {taskID}})
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		data, err := c.do(req)
		if err != nil {
			return "", fmt.Errorf("get task status: %w", err)
		}

		var record struct {
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		}
		if err := json.Unmarshal(data, &record); err != nil {
			return "", fmt.Errorf("decode status response: %w", err)
		}

		switch record.State {
		case "success":
			var result struct {
				ResultURLs []string `json:"resultUrls"`
			}
			if err := json.Unmarshal([]byte(record.ResultJSON), &result); err != nil {
				return "", fmt.Errorf("parse resultJson: %w", err)
			}
			if len(result.ResultURLs) == 0 {
				return "", fmt.Errorf("no resultUrls in result")
			}
			c.log.Info("KIE task completed", "task_id", taskID, "attempt", attempt+1)
			return result.ResultURLs[0], nil

		case "fail":
			msg := record.FailMsg
			if msg == "" {
				msg = "unknown error"
			}
			c.log.Error("KIE task failed", "task_id", taskID, "fail_code", record.FailCode, "fail_msg", msg)
			return "", &taskError{Code: record.FailCode, Message: msg}

		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.maxAttempts)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}

		default:
			return "", fmt.Errorf("unknown task state: %s", record.State)
		}
	}
	return "", fmt.Errorf("task %s after %d attempts: %w", taskID, c.maxAttempts, errTaskTimeout)
}

func (c *Client) download(ctx context.Context, resultURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("new download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", &statusError{Status: resp.StatusCode, Body: truncateBody(body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read result: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
