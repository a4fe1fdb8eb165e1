package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/output"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrNoRootCause is returned when the reply carries no [ROOT_CAUSE] block
var ErrNoRootCause = errors.New("reasoning reply has no root cause block")

// ErrNoPatch is returned when the reply carries no usable [PATCH] block
var ErrNoPatch = errors.New("reasoning reply has no patch block")

// Config configures the reasoning client
type Config struct {
	APIKey        string
	Model         string
	BaseURL       string
	RatePerMinute int
	MaxTokens     int
}

// Client is the go-openai backed reasoning provider
type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
	limiter   *rate.Limiter
}

// NewClient creates a reasoning client
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
		log.Printf("LLM: OPENAI_MODEL not set, defaulting to %s", cfg.Model)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}

	log.Printf("LLM: initializing client (model=%s, rate=%d/min)", cfg.Model, cfg.RatePerMinute)
	return &Client{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		limiter:   rate.NewLimiter(limit, 1),
	}, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("reasoning rate limit wait: %w", err)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxCompletionTokens: c.maxTokens,
		Temperature:         0.2,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Analyze asks for a root cause analysis
func (c *Client) Analyze(ctx context.Context, ic IncidentContext) (*database.RootCause, error) {
	reply, err := c.complete(ctx, analyzeSystemPrompt, buildAnalyzePrompt(ic))
	if err != nil {
		return nil, err
	}
	parsed := output.Parse(reply)
	if parsed.RootCause == nil || parsed.RootCause.IsEmpty() {
		return nil, ErrNoRootCause
	}
	return parsed.RootCause, nil
}

// GeneratePatch asks for a patch, feeding back logs from a failed verification when present
func (c *Client) GeneratePatch(ctx context.Context, ic IncidentContext, priorFailureLogs []string) (*database.Patch, error) {
	reply, err := c.complete(ctx, patchSystemPrompt, buildPatchPrompt(ic, priorFailureLogs))
	if err != nil {
		return nil, err
	}
	parsed := output.Parse(reply)
	if parsed.PatchError != nil {
		return nil, parsed.PatchError
	}
	if parsed.Patch == nil || len(parsed.Patch.FileUpdates) == 0 {
		return nil, ErrNoPatch
	}
	return parsed.Patch, nil
}
