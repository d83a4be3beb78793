package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"StreamChat/internal/session"
)

// OpenAIConfig configures the OpenAI-compatible transport
type OpenAIConfig struct {
	Endpoint   string
	APIKey     string
	Azure      bool
	HTTPClient *http.Client
}

// OpenAI talks to any OpenAI-compatible chat completions endpoint
type OpenAI struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates the transport. Endpoint and key stay inside the client.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")

	var clientCfg openai.ClientConfig
	if cfg.Azure {
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, endpoint)
	} else {
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = endpoint
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}
}

func (o *OpenAI) buildRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		var role string
		switch msg.Role {
		case session.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case session.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
}

// Stream starts a streaming chat completion and asks the service to append a
// usage chunk before the end of the stream.
func (o *OpenAI) Stream(ctx context.Context, req Request) (FragmentStream, error) {
	oreq := o.buildRequest(req)
	oreq.Stream = true
	oreq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	o.logger.Debug("opening completion stream", "model", req.Model, "message_count", len(req.Messages))

	stream, err := o.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

// Complete performs a non-streaming chat completion.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	o.logger.Debug("sending completion request", "model", req.Model, "message_count", len(req.Messages))

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(req))
	if err != nil {
		return Completion{}, fmt.Errorf("failed to complete chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("empty response from %s", req.Model)
	}

	c := Completion{Content: resp.Choices[0].Message.Content}
	if resp.Usage.TotalTokens > 0 || resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		c.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}
	return c, nil
}

// openAIStream splits go-openai chunks into fragments. A chunk carrying both
// text and usage yields the delta first.
type openAIStream struct {
	stream  *openai.ChatCompletionStream
	pending []Fragment
	done    bool
	closed  bool
}

func (s *openAIStream) Recv() (Fragment, error) {
	for len(s.pending) == 0 {
		if s.done {
			return Fragment{}, io.EOF
		}
		chunk, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return End(), nil
		}
		if err != nil {
			return Fragment{}, err
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				s.pending = append(s.pending, Delta(choice.Delta.Content))
			}
		}
		if chunk.Usage != nil {
			s.pending = append(s.pending, UsageFragment(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens))
		}
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	return f, nil
}

func (s *openAIStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Close()
	return nil
}

// StatusCode extracts the HTTP status from a go-openai error, or 0 when the
// error did not come from an HTTP response.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
