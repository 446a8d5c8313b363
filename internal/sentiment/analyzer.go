// Package sentiment asks a chat-completion model for a short BTC/ETH commentary.
package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-pulse/internal/domain"
	"market-pulse/internal/logger"
	"market-pulse/internal/retry"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrEmptyResponse is returned when the model answers without content.
var ErrEmptyResponse = errors.New("no choices in LLM response")

// LLMClient abstracts the OpenAI chat completions API for testability.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// MessageFormatter turns an analysis into the outbound post.
type MessageFormatter interface {
	Format(analysis string, btc, eth domain.AssetSnapshot) string
}

// Options configures an Analyzer.
type Options struct {
	Model       string
	MaxTokens   int
	Attempts    int
	BackoffStep time.Duration
	APILog      *logger.Log
	Sleep       retry.SleepFunc
}

// Analyzer produces the formatted post for a fetch result.
type Analyzer struct {
	tracer    trace.Tracer
	llm       LLMClient
	formatter MessageFormatter
	model     string
	maxTokens int
	apiLog    *logger.Log
	retry     retry.Linear
}

func NewAnalyzer(tracer trace.Tracer, llm LLMClient, formatter MessageFormatter, opts Options) *Analyzer {
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 250
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.BackoffStep <= 0 {
		opts.BackoffStep = 10 * time.Second
	}
	if opts.APILog == nil {
		opts.APILog = logger.Discard().LLM
	}

	a := &Analyzer{
		tracer:    tracer,
		llm:       llm,
		formatter: formatter,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		apiLog:    opts.APILog,
	}
	a.retry = retry.Linear{
		Attempts: opts.Attempts,
		Step:     opts.BackoffStep,
		Sleep:    opts.Sleep,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			a.apiLog.WithFields(logger.Fields{"attempt": attempt, "wait": wait.String()}).
				WithError(err).Warn("LLM API error, retrying")
		},
	}
	return a
}

// Analyze requests a commentary for the snapshots and returns it formatted
// as a post. Every failure is retried with linear backoff.
func (a *Analyzer) Analyze(ctx context.Context, snapshots map[string]domain.AssetSnapshot) (string, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment.analyze")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", a.model))

	var message string
	err := a.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		btc, eth, err := pair(snapshots)
		if err != nil {
			return err
		}
		analysis, err := a.callLLM(ctx, BuildPrompt(btc, eth))
		if err != nil {
			return err
		}

		a.apiLog.WithFields(logger.Fields{
			"btc_price":      btc.CurrentPrice,
			"eth_price":      eth.CurrentPrice,
			"insight_length": len(analysis),
		}).Info("Market sentiment analysis completed")

		message = a.formatter.Format(analysis, btc, eth)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.apiLog.WithError(err).Error("Market sentiment analysis failed")
		return "", fmt.Errorf("analyze market sentiment: %w", err)
	}

	span.SetAttributes(attribute.Int("tweet.length", len([]rune(message))))
	return message, nil
}

func (a *Analyzer) callLLM(ctx context.Context, prompt string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "sentiment.llm-call")
	defer span.End()

	completion, err := a.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model:     a.model,
		MaxTokens: openai.Int(int64(a.maxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	logger.LogAPIRequest(a.apiLog, "LLM", "chat/completions", err == nil)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyResponse
	}
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

// NewOpenAIClient builds a client for any OpenAI-compatible endpoint.
// An empty baseURL keeps the SDK default.
func NewOpenAIClient(apiKey, baseURL string) LLMClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
