// Package codegen turns natural-language questions into analysis code.
//
// Client talks to a generation service over HTTP. Service is that generation
// service: it prompts an OpenAI-compatible chat completion API and is served
// by NewHandler.
package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leapstack-labs/csvchat/pkg/core"
)

// DefaultDetail is reported when a failed response carries no usable detail.
const DefaultDetail = "Failed to generate code"

// maxResponseSize bounds the body read from the generation service.
const maxResponseSize = 4 << 20

// GenerationError is a failed generation request.
type GenerationError struct {
	// Status is the HTTP status, or 0 when the service was unreachable.
	Status int
	Detail string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Columns  []string `json:"columns"`
	Question string   `json:"question"`
}

// GenerateResponse is the success body of POST /generate.
type GenerateResponse struct {
	Code string `json:"code"`
}

// ErrorResponse is the failure body of POST /generate.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the service base URL; /generate is appended.
	URL     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client calls a remote generation service.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a generation service client.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Generate asks the service for code answering question about a dataset with
// the given columns. Every failure is a *GenerationError.
func (c *Client) Generate(ctx context.Context, columns []string, question string) (string, error) {
	if columns == nil {
		columns = []string{}
	}
	payload, err := json.Marshal(GenerateRequest{Columns: columns, Question: question})
	if err != nil {
		return "", &GenerationError{Detail: DefaultDetail, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return "", &GenerationError{Detail: DefaultDetail, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &GenerationError{Detail: DefaultDetail, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &GenerationError{Status: resp.StatusCode, Detail: DefaultDetail, Err: err}
	}

	c.logger.Debug("generation response",
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GenerationError{Status: resp.StatusCode, Detail: errorDetail(body)}
	}

	var out GenerateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &GenerationError{Status: resp.StatusCode, Detail: DefaultDetail, Err: err}
	}
	return out.Code, nil
}

// errorDetail extracts the detail field of an error body. FastAPI-style
// validation errors carry a list in detail; those fall back to the default.
func errorDetail(body []byte) string {
	var out ErrorResponse
	if err := json.Unmarshal(body, &out); err != nil || strings.TrimSpace(out.Detail) == "" {
		return DefaultDetail
	}
	return out.Detail
}

// IsGenerationError reports whether err is a *GenerationError.
func IsGenerationError(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr)
}

var _ core.CodeGenerator = (*Client)(nil)
