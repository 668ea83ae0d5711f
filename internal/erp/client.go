// Package erp connects the assistant to the farm management application's
// HTTP API, which owns every record the assistant reads or writes.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

const defaultTimeout = 15 * time.Second

// RejectedError is a business-rule rejection the user should read, such as
// selling more animals than the location holds.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "erp: rejected: " + e.Message
}

// Client is a JSON client for the management API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		panic("erp: base url cannot be empty")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// post sends in as JSON on behalf of actor and decodes the response into
// out. A 422 becomes a *RejectedError.
func (c *Client) post(ctx context.Context, path string, actor *identity.Actor, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("erp: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("erp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if actor != nil {
		req.Header.Set("X-Tenant-Id", actor.TenantID)
		req.Header.Set("X-User-Id", actor.UserID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("erp: http request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("erp: read response: %w", err)
	}
	c.logger.Debug("erp call", "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil && strings.TrimSpace(eb.Error) != "" {
			return &RejectedError{Message: eb.Error}
		}
		return fmt.Errorf("erp: %s status 422", path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("erp: %s status %d: %s", path, resp.StatusCode, msg)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("erp: unmarshal response: %w", err)
	}
	return nil
}

func rejection(err error) (string, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Message, true
	}
	return "", false
}
