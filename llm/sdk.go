// Package llm implements shiftlog's LLMProvider backends (§4.I): an SDK
// backend over github.com/anthropics/anthropic-sdk-go and a CLI backend that
// shells out to a Claude Code-style OAuth binary, plus the backend-selection
// algorithm and a process-global memoized provider with an explicit reset
// for tests, mirroring the teacher's "global singletons ... memoized
// constructor plus explicit reset()" design note.
package llm

import (
	"context"
	"errors"
	"strconv"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nevindra/shiftlog"
)

// sdkBackend implements shiftlog.LLMProvider over the Anthropic Messages
// API, grounded on intelligencedev-manifold's internal/llm/anthropic.Client
// (anthropic.NewClient(option.WithAPIKey(...)), MessageNewParams, the
// resp.Content[i].AsAny().(anthropic.TextBlock) extraction switch) — trimmed
// to the single-shot plain-text call shiftlog.LLMProvider needs, with no
// streaming, tools, or prompt caching.
type sdkBackend struct {
	client anthropic.Client
}

func newSDKBackend(apiKey string) *sdkBackend {
	return &sdkBackend{
		client: anthropic.NewClient(option.WithAPIKey(strings.TrimSpace(apiKey))),
	}
}

func (s *sdkBackend) Name() string { return "sdk" }

func (s *sdkBackend) CreateMessage(ctx context.Context, model string, maxTokens int, messages []shiftlog.LLMMessage) (shiftlog.LLMContent, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  adaptMessages(messages),
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return shiftlog.LLMContent{}, classifySDKError(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}

	return shiftlog.LLMContent{
		Text:         sb.String(),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func adaptMessages(messages []shiftlog.LLMMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if strings.EqualFold(m.Role, "assistant") {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// classifySDKError turns an Anthropic API error into a *shiftlog.ErrRPC the
// chatclient-style retry policy can classify, mirroring the teacher's
// isTransient(429/503 => transient) split but against the Anthropic status
// space (429 rate-limited, 500/502/503/529 transient, everything else
// fatal). Errors without an HTTP status (network failures, context
// cancellation) are treated as transient, matching a dropped connection.
func classifySDKError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		retryAfter := retryAfterSeconds(apiErr)
		switch {
		case status == 429:
			return &shiftlog.ErrRPC{Op: "llm.create_message", Status: shiftlog.RPCStatusRateLimited, HTTPStatus: status, RetryAfter: retryAfter, Err: err}
		case status == 500, status == 502, status == 503, status == 529:
			return &shiftlog.ErrRPC{Op: "llm.create_message", Status: shiftlog.RPCStatusTransient, HTTPStatus: status, Err: err}
		default:
			return &shiftlog.ErrRPC{Op: "llm.create_message", Status: shiftlog.RPCStatusFatal, HTTPStatus: status, Err: err}
		}
	}
	return &shiftlog.ErrRPC{Op: "llm.create_message", Status: shiftlog.RPCStatusTransient, Err: err}
}

func retryAfterSeconds(apiErr *anthropic.Error) float64 {
	if apiErr.Response == nil {
		return 0
	}
	raw := apiErr.Response.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return secs
}

var _ shiftlog.LLMProvider = (*sdkBackend)(nil)
