// Package gateway is the only code that talks to the remote completion service.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"

	"researchbuddy/internal/config"
	"researchbuddy/internal/credentials"
	"researchbuddy/internal/models"
)

// Error is returned for every failed gateway call.
type Error struct {
	Kind   models.ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return e.Detail
}

func newError(kind models.ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Client issues one chat call, or one generate call plus one fetch for images.
// It never retries.
type Client struct {
	baseURL    string
	imagePath  string
	imageSize  string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(cfg config.ProviderConfig, opts ...Option) *Client {
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	c := &Client{
		baseURL:    base,
		imagePath:  strings.TrimPrefix(cfg.ImagePath, "/"),
		imageSize:  cfg.ImageSize,
		timeout:    cfg.Timeout.Duration,
		httpClient: http.DefaultClient,
		logger:     zerolog.Nop(),
	}
	if c.imagePath == "" {
		c.imagePath = "images/generate"
	}
	if c.imageSize == "" {
		c.imageSize = "512x512"
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) api(key string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithBaseURL(c.baseURL),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	}
	if c.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.timeout))
	}
	return openai.NewClient(opts...)
}

func resolveKey(creds credentials.Provider) (string, *Error) {
	if creds == nil {
		return "", &Error{Kind: models.ErrMissingCredential, Detail: credentials.ErrMissing.Error()}
	}
	key, _, err := creds.Resolve()
	if err != nil {
		return "", &Error{Kind: models.ErrMissingCredential, Detail: err.Error()}
	}
	return key, nil
}

// Complete sends the assembled messages and returns choices[0].message.content.
func (c *Client) Complete(ctx context.Context, creds credentials.Provider, messages []models.Message, modelID string, temperature float64, maxTokens int) (string, error) {
	key, gerr := resolveKey(creds)
	if gerr != nil {
		return "", gerr
	}

	client := c.api(key)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       modelID,
		Messages:    toParams(messages),
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	})
	if err != nil {
		if malformedBody(err) {
			return "", newError(models.ErrEmptyResponse, "malformed response from model: %v", err)
		}
		return "", classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", newError(models.ErrEmptyResponse, "empty response from model")
	}

	c.logger.Debug().
		Str("model_id", modelID).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Msg("chat completion")

	return resp.Choices[0].Message.Content, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// GenerateImage asks the provider for one image and downloads it.
func (c *Client) GenerateImage(ctx context.Context, creds credentials.Provider, prompt, modelID string) ([]byte, error) {
	key, gerr := resolveKey(creds)
	if gerr != nil {
		return nil, gerr
	}

	client := c.api(key)
	var raw []byte
	err := client.Post(ctx, c.imagePath, imageRequest{
		Model:  modelID,
		Prompt: prompt,
		N:      1,
		Size:   c.imageSize,
	}, &raw)
	if err != nil {
		return nil, classify(err)
	}

	var out imageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, newError(models.ErrEmptyResponse, "No image data in response")
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, newError(models.ErrEmptyResponse, "No image data in response")
	}

	return c.fetch(ctx, out.Data[0].URL)
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError(models.ErrTransport, "Error communicating with the API: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(models.ErrTransport, "Error communicating with the API: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(models.ErrHTTP, "image download failed with status code %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(models.ErrTransport, "Error communicating with the API: %v", err)
	}
	if len(body) == 0 {
		return nil, newError(models.ErrEmptyResponse, "No image data in response")
	}
	return body, nil
}

// malformedBody reports a 2xx reply whose body could not be decoded.
func malformedBody(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

func classify(err error) *Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return newError(models.ErrHTTP, "API request failed with status code %d: %s", apiErr.StatusCode, msg)
	}
	return newError(models.ErrTransport, "API request failed: %v", err)
}

func toParams(messages []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if m.IsMultimodal() {
				parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
				for _, p := range m.Parts {
					switch p.Type {
					case models.PartImage:
						parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
							URL: p.ImageURL,
						}))
					default:
						parts = append(parts, openai.TextContentPart(p.Text))
					}
				}
				out = append(out, openai.UserMessage(parts))
				continue
			}
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
