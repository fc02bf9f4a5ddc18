package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cmdflow/internal/domain"
)

// Command calls an HTTP endpoint.
type Command struct {
	domain.Base
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	// Timeout in seconds; 30 when unset.
	Timeout int `json:"timeout,omitempty"`
}

func (Command) CommandType() string { return "webhook" }

type Handler struct {
	Client *http.Client
}

func New() Handler { return Handler{Client: &http.Client{}} }

func (h Handler) Handle(ctx context.Context, cmd Command) error {
	if cmd.URL == "" {
		return fmt.Errorf("URL is required")
	}
	method := cmd.Method
	if method == "" {
		method = http.MethodPost
	}
	timeout := time.Duration(cmd.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(cmd.Body) > 0 {
		body = bytes.NewReader(cmd.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, cmd.URL, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, value := range cmd.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("X-Command-Id", cmd.ID)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d error: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
