// Package client calls a running shizhend server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shizhend/pkg/types"
)

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	var er types.ErrorResponse
	if json.Unmarshal([]byte(e.Body), &er) == nil && er.Detail != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, er.Detail)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// StatusCode lets callers map the error like a server-side HTTPError.
func (e *APIError) StatusCode() int { return e.Status }

// Client talks to one server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. A zero timeout means none; generations
// commonly take minutes.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// ChatOptions are optional generation parameters. Nil fields use server defaults.
type ChatOptions struct {
	MaxTokens   *int
	Temperature *float64
}

// Chat sends messages and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, msgs []types.ChatMessage, opts ChatOptions) (string, error) {
	body, err := json.Marshal(types.ChatCompletionRequest{Messages: msgs, MaxTokens: opts.MaxTokens, Temperature: opts.Temperature})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var resp types.ChatCompletionResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// AnalyzeImage uploads an image with an optional query. maxTokens <= 0 omits the field.
func (c *Client) AnalyzeImage(ctx context.Context, r io.Reader, filename, query string, maxTokens int) (types.VisionAnalysisResponse, error) {
	var out types.VisionAnalysisResponse
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return out, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return out, fmt.Errorf("read image: %w", err)
	}
	if query != "" {
		if err := mw.WriteField("query", query); err != nil {
			return out, err
		}
	}
	if maxTokens > 0 {
		if err := mw.WriteField("max_tokens", strconv.Itoa(maxTokens)); err != nil {
			return out, err
		}
	}
	if err := mw.Close(); err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/vision/analyze", &buf)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.do(req, &out)
	return out, err
}

// Health returns the /health payload.
func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	var out types.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return out, err
	}
	err = c.do(req, &out)
	return out, err
}

// WaitReady polls /readyz until the model is loaded or ctx ends.
func (c *Client) WaitReady(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-t.C:
		}
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(b)}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
