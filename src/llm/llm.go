// Package llm sends captured images to the Gemini generateContent API and
// returns the recognized text.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"gemini-ocr-capture/src/config"
	"gemini-ocr-capture/src/logutil"
)

// NoTextPlaceholder is returned when the model answered with an empty text
// part. It is a result, not an error.
const NoTextPlaceholder = "(no text was extracted from the image)"

const (
	instructionFormat = "Extract all text from this image. Ignore the layout and return only the text itself, with no commentary. Target language: %s."

	maxResponseBytes = 10 * 1024 * 1024
	maxErrorBytes    = 64 * 1024
)

// Generation parameters favour literal transcription over paraphrase.
const (
	temperature     = 0.0
	topP            = 0.1
	topK            = 16
	maxOutputTokens = 2048
)

// ConfigSource exposes the live settings. AnalyzeImage reads it on every
// call, so a key saved after the client was built is picked up.
// *config.Store implements it.
type ConfigSource interface {
	CurrentConfig() config.Configuration
}

// Client is the OCR client. It keeps no per-call state.
type Client struct {
	source    ConfigSource
	transport Transport
	baseURL   string
	model     string
	logger    logutil.Logger
}

type Option func(*Client)

func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithBaseURL sets the API root, e.g. https://generativelanguage.googleapis.com/v1beta.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

func WithModel(m string) Option {
	return func(c *Client) {
		if m = strings.TrimSpace(m); m != "" {
			c.model = m
		}
	}
}

func WithLogger(l logutil.Logger) Option {
	return func(c *Client) { c.logger = logutil.OrNop(l) }
}

// NewClient builds a client over source. It fails with ErrMissingAPIKey
// before touching the network when no key is configured.
func NewClient(source ConfigSource, opts ...Option) (*Client, error) {
	if source == nil || strings.TrimSpace(source.CurrentConfig().APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	return newClient(source, opts...), nil
}

func newClient(source ConfigSource, opts ...Option) *Client {
	c := &Client{
		source:  source,
		baseURL: config.DefaultAPIBaseURL,
		model:   config.DefaultModel,
		logger:  logutil.Nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = NewHTTPTransport(defaultHTTPTimeout)
	}
	return c
}

// Model returns the model id requests are sent to.
func (c *Client) Model() string { return c.model }

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content *struct {
		Parts []struct {
			Text *string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
	FinishReason string `json:"finishReason"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// AnalyzeImage encodes img as PNG, asks the model to transcribe it and
// returns the text of the first candidate.
func (c *Client) AnalyzeImage(ctx context.Context, img image.Image) (string, error) {
	if isNilImage(img) {
		return "", fmt.Errorf("%w: image is nil", ErrInvalidArgument)
	}

	cfg := c.source.CurrentConfig()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("%w: encode image as PNG: %v", ErrInvalidArgument, err)
	}

	payload, err := json.Marshal(buildRequest(cfg.Language, base64.StdEncoding.EncodeToString(buf.Bytes())))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	reqID := uuid.NewString()
	b := img.Bounds()
	c.logger.Printf("LLM[%s]: generateContent model=%s key=%s image=%dx%d (%d bytes png) language=%s",
		reqID, c.model, logutil.RedactKey(cfg.APIKey), b.Dx(), b.Dy(), buf.Len(), cfg.Language)

	resp, err := c.transport.Post(ctx, c.generateURL(cfg.APIKey), "application/json", bytes.NewReader(payload))
	if err == nil && noResponse(resp) {
		err = errNoResponse
	}
	if err != nil {
		c.logger.Printf("LLM[%s]: request failed: %v", reqID, withoutURL(err))
		return "", transportError(ctx, "generateContent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		apiErr := newAPIError(resp.StatusCode, body)
		c.logger.Printf("LLM[%s]: status %d: %s", reqID, resp.StatusCode, apiErr.ProviderMessage)
		return "", apiErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", transportError(ctx, "read generateContent response", err)
	}

	text, err := parseText(body)
	if err != nil {
		c.logger.Printf("LLM[%s]: %v", reqID, err)
		return "", err
	}
	if text == "" {
		c.logger.Printf("LLM[%s]: model returned an empty text part", reqID)
		return NoTextPlaceholder, nil
	}
	c.logger.Printf("LLM[%s]: extracted %d chars: %q", reqID, len(text), logutil.Sanitize(text))
	return text, nil
}

// ValidateAPIKey reports whether key can list models. It never returns an
// error: any failure counts as an invalid key.
func (c *Client) ValidateAPIKey(ctx context.Context, key string) bool {
	return c.validate(ctx, key)
}

// ValidateKey checks key without requiring a configured key first, for the
// "enter a key for the first time" flow.
func ValidateKey(ctx context.Context, key string, opts ...Option) bool {
	return newClient(staticSource{}, opts...).validate(ctx, key)
}

func (c *Client) validate(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	resp, err := c.transport.Get(ctx, c.modelsURL(key))
	if err == nil && noResponse(resp) {
		err = errNoResponse
	}
	if err != nil {
		c.logger.Printf("LLM: key validation for %s failed: %v", logutil.RedactKey(key), withoutURL(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBytes))

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	c.logger.Printf("LLM: key validation for %s: status %d", logutil.RedactKey(key), resp.StatusCode)
	return ok
}

func buildRequest(language, pngBase64 string) generateRequest {
	return generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: fmt.Sprintf(instructionFormat, language)},
				{InlineData: &inlineData{MimeType: "image/png", Data: pngBase64}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:     temperature,
			TopP:            topP,
			TopK:            topK,
			MaxOutputTokens: maxOutputTokens,
		},
	}
}

func parseText(body []byte) (string, error) {
	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ResponseParseError{Reason: "body is not valid JSON", Err: err}
	}
	if len(out.Candidates) == 0 {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			return "", &ResponseParseError{Reason: "no candidates, prompt blocked: " + out.PromptFeedback.BlockReason}
		}
		return "", &ResponseParseError{Reason: "no candidates"}
	}
	first := out.Candidates[0]
	if first.Content == nil || len(first.Content.Parts) == 0 {
		reason := "first candidate has no content parts"
		if first.FinishReason != "" {
			reason += " (finishReason " + first.FinishReason + ")"
		}
		return "", &ResponseParseError{Reason: reason}
	}
	if first.Content.Parts[0].Text == nil {
		return "", &ResponseParseError{Reason: "first part has no text field"}
	}
	return *first.Content.Parts[0].Text, nil
}

func (c *Client) generateURL(key string) string {
	return fmt.Sprintf("%s/models/%s:generateContent?%s", c.baseURL, url.PathEscape(c.model), url.Values{"key": {key}}.Encode())
}

func (c *Client) modelsURL(key string) string {
	return fmt.Sprintf("%s/models?%s", c.baseURL, url.Values{"key": {key}}.Encode())
}

// transportError separates the caller giving up from the network failing.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &CancelledError{Op: op, Err: ctxErr}
	}
	return &NetworkError{Op: op, Err: withoutURL(err)}
}

func noResponse(resp *http.Response) bool { return resp == nil || resp.Body == nil }

func isNilImage(img image.Image) bool {
	if img == nil {
		return true
	}
	v := reflect.ValueOf(img)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}

type staticSource struct{}

func (staticSource) CurrentConfig() config.Configuration { return config.Configuration{} }
