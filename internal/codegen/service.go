package codegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/leapstack-labs/csvchat/pkg/core"
	"github.com/sashabaranov/go-openai"
)

// Defaults for the generation service.
const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "moonshotai/kimi-k2-instruct-0905"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Logger      *slog.Logger
}

// Service generates code with an OpenAI-compatible chat completion API.
type Service struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// NewService creates a generation service. An API key is required.
func NewService(cfg ServiceConfig) (*Service, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("codegen API key is not set")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	logger.Info("initializing code generation service", slog.String("model", model), slog.String("base_url", clientCfg.BaseURL))
	return &Service{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// Generate prompts the model and returns the cleaned code.
func (s *Service) Generate(ctx context.Context, columns []string, question string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(columns)},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
		Temperature: s.temperature,
	}
	if req.Temperature == 0 {
		// A zero temperature is omitted from the request body.
		req.Temperature = math.SmallestNonzeroFloat32
	}
	if s.maxTokens > 0 {
		req.MaxCompletionTokens = s.maxTokens
	}

	s.logger.Debug("generating code", slog.String("model", s.model), slog.Int("columns", len(columns)))
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}

	s.logger.Debug("received completion", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return CleanCode(resp.Choices[0].Message.Content), nil
}

var _ core.CodeGenerator = (*Service)(nil)
