package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// ClientOptions configures an OpenAI-compatible backend such as Ollama's /v1 API.
type ClientOptions struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	RetryMax int
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client  *openai.Client
	timeout time.Duration
}

// NewOpenAIClient builds a client whose transport retries connection failures.
// Streams are bounded by the caller's context, not by a client timeout.
func NewOpenAIClient(opts ClientOptions) *OpenAIClient {
	apiKey := opts.APIKey
	if apiKey == "" {
		// Ollama ignores the key but the client requires one.
		apiKey = "ollama"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL(opts.BaseURL)
	cfg.HTTPClient = newHTTPClient(opts.RetryMax)

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		timeout: opts.Timeout,
	}
}

func newHTTPClient(retryMax int) *http.Client {
	r := retryablehttp.NewClient()
	r.RetryMax = retryMax
	r.RetryWaitMin = 200 * time.Millisecond
	r.RetryWaitMax = 2 * time.Second
	r.Logger = leveledLogger{logrus.WithField("component", "llm-http")}
	return r.StandardClient()
}

// leveledLogger adapts logrus to retryablehttp.LeveledLogger.
type leveledLogger struct {
	entry *logrus.Entry
}

func (l leveledLogger) fields(kv []interface{}) *logrus.Entry {
	e := l.entry
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			e = e.WithField(k, kv[i+1])
		}
	}
	return e
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Error(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Trace(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Warn(msg) }

// baseURL accepts either the Ollama root or the /v1 path.
func baseURL(raw string) string {
	u := strings.TrimRight(raw, "/")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u
}

// ChatOnce implements Backend.
func (c *OpenAIClient) ChatOnce(ctx context.Context, model string, messages []Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(messages),
	})
	if err != nil {
		return "", translate(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{StatusCode: http.StatusBadGateway, Detail: "backend returned no choices"}
	}

	logrus.WithFields(logrus.Fields{
		"model":             model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("[LLM] chat completed")

	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements Backend.
func (c *OpenAIClient) ChatStream(ctx context.Context, model string, messages []Message) (Stream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, translate(err)
	}
	return &openAIStream{inner: stream}, nil
}

type openAIStream struct {
	inner *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (Delta, error) {
	resp, err := s.inner.Recv()
	if errors.Is(err, io.EOF) {
		return Delta{}, io.EOF
	}
	if err != nil {
		return Delta{}, translate(err)
	}
	if len(resp.Choices) == 0 {
		return Delta{}, nil
	}
	choice := resp.Choices[0]
	return Delta{
		Content: choice.Delta.Content,
		Done:    choice.FinishReason != "",
	}, nil
}

func (s *openAIStream) Close() error {
	return s.inner.Close()
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// translate maps client errors to *Error, keeping backend-reported detail.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{StatusCode: apiErr.HTTPStatusCode, Detail: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return &Error{StatusCode: reqErr.HTTPStatusCode, Detail: detail, Err: err}
	}
	return &Error{Detail: err.Error(), Unreachable: true, Err: err}
}
