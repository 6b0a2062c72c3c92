package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"gemini-ocr-capture/src/config"
)

type stubSource struct {
	mu  sync.Mutex
	cfg config.Configuration
}

func (s *stubSource) CurrentConfig() config.Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *stubSource) set(cfg config.Configuration) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func newSource(key, language string) *stubSource {
	cfg := config.Defaults()
	cfg.APIKey = key
	cfg.Language = language
	return &stubSource{cfg: cfg}
}

type recordedRequest struct {
	method      string
	url         string
	contentType string
	body        []byte
}

type stubTransport struct {
	status int
	body   string
	err    error
	// empty makes the transport answer with neither a response nor an error.
	empty   bool
	calls   int
	lastReq recordedRequest
}

func (s *stubTransport) respond() (*http.Response, error) {
	if s.err != nil || s.empty {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Header:     make(http.Header),
	}, nil
}

func (s *stubTransport) Get(ctx context.Context, u string) (*http.Response, error) {
	s.calls++
	s.lastReq = recordedRequest{method: http.MethodGet, url: u}
	return s.respond()
}

func (s *stubTransport) Post(ctx context.Context, u, contentType string, body io.Reader) (*http.Response, error) {
	s.calls++
	data, _ := io.ReadAll(body)
	s.lastReq = recordedRequest{method: http.MethodPost, url: u, contentType: contentType, body: data}
	return s.respond()
}

func successBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
			"finishReason": "STOP",
		}},
	})
	return string(b)
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func TestNewClientMissingAPIKey(t *testing.T) {
	tr := &stubTransport{status: 200, body: successBody("x")}
	for _, key := range []string{"", "   "} {
		_, err := NewClient(newSource(key, "ja"), WithTransport(tr))
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("NewClient(key=%q) err = %v, want ErrMissingAPIKey", key, err)
		}
	}
	if tr.calls != 0 {
		t.Errorf("transport was called %d times before the key check", tr.calls)
	}
}

func TestAnalyzeImageHappyPath(t *testing.T) {
	tr := &stubTransport{status: 200, body: successBody("OCR結果")}
	c, err := NewClient(newSource("test-api-key", "ja"), WithTransport(tr))
	if err != nil {
		t.Fatal(err)
	}

	text, err := c.AnalyzeImage(context.Background(), testImage())
	if err != nil {
		t.Fatalf("AnalyzeImage failed: %v", err)
	}
	if text != "OCR結果" {
		t.Errorf("text = %q, want %q", text, "OCR結果")
	}

	if tr.lastReq.method != http.MethodPost || tr.lastReq.contentType != "application/json" {
		t.Errorf("unexpected request %s %s", tr.lastReq.method, tr.lastReq.contentType)
	}
	u, err := url.Parse(tr.lastReq.url)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("key") != "test-api-key" {
		t.Errorf("key query parameter = %q", u.Query().Get("key"))
	}
	if !strings.HasSuffix(u.Path, "/models/"+config.DefaultModel+":generateContent") {
		t.Errorf("unexpected path %q", u.Path)
	}
}

func TestAnalyzeImageRequestShape(t *testing.T) {
	tr := &stubTransport{status: 200, body: successBody("ok")}
	c, _ := NewClient(newSource("k-123456789", "ja"), WithTransport(tr))
	if _, err := c.AnalyzeImage(context.Background(), testImage()); err != nil {
		t.Fatal(err)
	}

	var req generateRequest
	if err := json.Unmarshal(tr.lastReq.body, &req); err != nil {
		t.Fatalf("request body is not JSON: %v", err)
	}
	if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 2 {
		t.Fatalf("expected one turn with two parts, got %+v", req.Contents)
	}
	turn := req.Contents[0]
	if turn.Role != "user" {
		t.Errorf("role = %q", turn.Role)
	}
	inline := turn.Parts[1].InlineData
	if inline == nil || inline.MimeType != "image/png" {
		t.Fatalf("second part is not inline PNG data: %+v", turn.Parts[1])
	}
	raw, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		t.Fatalf("inline data is not base64: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("inline data is not a PNG: %v", err)
	}
	if decoded.Bounds().Dx() != 4 || decoded.Bounds().Dy() != 3 {
		t.Errorf("decoded image bounds = %v", decoded.Bounds())
	}

	gc := req.GenerationConfig
	if gc.Temperature != 0 || gc.TopP != 0.1 || gc.TopK != 16 || gc.MaxOutputTokens != 2048 {
		t.Errorf("unexpected generation config %+v", gc)
	}
	if !strings.Contains(string(tr.lastReq.body), `"temperature":0`) {
		t.Error("temperature must be sent explicitly")
	}
}

func TestLanguagePropagation(t *testing.T) {
	tr := &stubTransport{status: 200, body: successBody("hello")}
	c, _ := NewClient(newSource("k-123456789", "en"), WithTransport(tr))
	if _, err := c.AnalyzeImage(context.Background(), testImage()); err != nil {
		t.Fatal(err)
	}

	var req generateRequest
	if err := json.Unmarshal(tr.lastReq.body, &req); err != nil {
		t.Fatal(err)
	}
	instruction := req.Contents[0].Parts[0].Text
	if !strings.Contains(instruction, "en") {
		t.Errorf("instruction %q does not mention en", instruction)
	}
	if strings.Contains(instruction, "ja") {
		t.Errorf("instruction %q still mentions ja", instruction)
	}
}

func TestAnalyzeImageReadsLiveConfig(t *testing.T) {
	tr := &stubTransport{status: 200, body: successBody("ok")}
	src := newSource("old-key-0000", "ja")
	c, _ := NewClient(src, WithTransport(tr))

	cfg := src.CurrentConfig()
	cfg.APIKey = "new-key-1111"
	cfg.Language = "en"
	src.set(cfg)

	if _, err := c.AnalyzeImage(context.Background(), testImage()); err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(tr.lastReq.url)
	if got := u.Query().Get("key"); got != "new-key-1111" {
		t.Errorf("request used key %q, want the updated one", got)
	}

	cfg.APIKey = ""
	src.set(cfg)
	calls := tr.calls
	if _, err := c.AnalyzeImage(context.Background(), testImage()); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
	if tr.calls != calls {
		t.Error("transport must not be called without a key")
	}
}

func TestAnalyzeImageNilImage(t *testing.T) {
	tr := &stubTransport{status: 200, body: successBody("x")}
	c, _ := NewClient(newSource("k-123456789", "ja"), WithTransport(tr))

	if _, err := c.AnalyzeImage(context.Background(), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("nil interface: err = %v, want ErrInvalidArgument", err)
	}
	var typedNil *image.RGBA
	if _, err := c.AnalyzeImage(context.Background(), typedNil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("typed nil: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := c.AnalyzeImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0))); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty image: err = %v, want ErrInvalidArgument", err)
	}
	if tr.calls != 0 {
		t.Errorf("transport called %d times", tr.calls)
	}
}

func TestAnalyzeImageEmptyText(t *testing.T) {
	tr := &stubTransport{status: 200, body: successBody("")}
	c, _ := NewClient(newSource("k-123456789", "ja"), WithTransport(tr))
	text, err := c.AnalyzeImage(context.Background(), testImage())
	if err != nil {
		t.Fatalf("empty text must not be an error: %v", err)
	}
	if text != NoTextPlaceholder {
		t.Errorf("text = %q, want placeholder", text)
	}
}

func TestAnalyzeImageErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"BadRequest", 400, `{"error":{"message":"Invalid request"}}`, MsgMalformedRequest},
		{"Quota", 400, `{"error":{"code":400,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`, MsgQuotaExceeded},
		{"ModelNotFound", 400, `{"error":{"message":"model not found: gemini-x"}}`, MsgModelUnavailable},
		{"InvalidKeyAs400", 400, `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`, MsgInvalidKey},
		{"Unauthorized", 401, `{"error":{"message":"Unauthorized"}}`, MsgInvalidKey},
		{"RateLimited", 429, `{"error":{"message":"slow down"}}`, MsgRateLimited},
		{"NotFound", 404, `not json at all`, MsgNotFound},
		{"Other", 503, `{"error":{"message":"overloaded"}}`, "status 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &stubTransport{status: tt.status, body: tt.body}
			c, _ := NewClient(newSource("k-123456789", "ja"), WithTransport(tr))
			_, err := c.AnalyzeImage(context.Background(), testImage())

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if !strings.Contains(apiErr.Message, tt.want) {
				t.Errorf("Message = %q, want it to contain %q", apiErr.Message, tt.want)
			}
		})
	}
}

func TestAPIErrorProviderMessageTruncated(t *testing.T) {
	long := strings.Repeat("x", 500)
	tr := &stubTransport{status: 500, body: `{"error":{"message":"` + long + `"}}`}
	c, _ := NewClient(newSource("k-123456789", "ja"), WithTransport(tr))
	_, err := c.AnalyzeImage(context.Background(), testImage())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal(err)
	}
	if len(apiErr.ProviderMessage) != maxProviderMessage || !strings.HasSuffix(apiErr.ProviderMessage, "...") {
		t.Errorf("ProviderMessage length = %d", len(apiErr.ProviderMessage))
	}
}

func TestAnalyzeImageUnexpectedShape(t *testing.T) {
	bodies := map[string]string{
		"InvalidJSON":   `{"candidates": [`,
		"NoCandidates":  `{"candidates": []}`,
		"Blocked":       `{"promptFeedback": {"blockReason": "SAFETY"}}`,
		"NoContent":     `{"candidates": [{"finishReason": "SAFETY"}]}`,
		"NoParts":       `{"candidates": [{"content": {"parts": []}}]}`,
		"NoTextField":   `{"candidates": [{"content": {"parts": [{"inline_data": {}}]}}]}`,
		"WrongTypeText": `{"candidates": [{"content": {"parts": [{"text": 42}]}}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			tr := &stubTransport{status: 200, body: body}
			c, _ := NewClient(newSource("k-123456789", "ja"), WithTransport(tr))
			_, err := c.AnalyzeImage(context.Background(), testImage())
			var parseErr *ResponseParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("err = %v, want *ResponseParseError", err)
			}
		})
	}
}

func TestAnalyzeImageNetworkError(t *testing.T) {
	secretKey := "k-should-not-leak"
	tr := &stubTransport{err: &url.Error{
		Op:  "Post",
		URL: "https://example.invalid/models/x:generateContent?key=" + secretKey,
		Err: errors.New("dial tcp: lookup example.invalid: no such host"),
	}}
	c, _ := NewClient(newSource(secretKey, "ja"), WithTransport(tr))
	_, err := c.AnalyzeImage(context.Background(), testImage())

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
	if strings.Contains(err.Error(), secretKey) {
		t.Errorf("error message leaks the API key: %v", err)
	}
}

func TestAnalyzeImageNoResponse(t *testing.T) {
	tr := &stubTransport{empty: true}
	c, _ := NewClient(newSource("k-123456789", "ja"), WithTransport(tr))
	_, err := c.AnalyzeImage(context.Background(), testImage())

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
	if tr.calls != 1 {
		t.Errorf("transport calls = %d, want 1", tr.calls)
	}
}

func TestAnalyzeImageCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &stubTransport{err: context.Canceled}
	c, _ := NewClient(newSource("k-123456789", "ja"), WithTransport(tr))

	_, err := c.AnalyzeImage(ctx, testImage())
	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("err = %v, want *CancelledError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("CancelledError should unwrap to context.Canceled")
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		t.Error("cancellation must not be reported as a network error")
	}
}

func TestAnalyzeImageDeadlineOverHTTP(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, _ := NewClient(newSource("k-123456789", "ja"), WithBaseURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.AnalyzeImage(ctx, testImage())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestHTTPTransportEndToEnd(t *testing.T) {
	var gotAccept, gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, successBody("served"))
	}))
	defer srv.Close()

	c, err := NewClient(newSource("k-123456789", "ja"), WithBaseURL(srv.URL+"/v1beta/"), WithModel("gemini-test"))
	if err != nil {
		t.Fatal(err)
	}
	text, err := c.AnalyzeImage(context.Background(), testImage())
	if err != nil {
		t.Fatal(err)
	}
	if text != "served" {
		t.Errorf("text = %q", text)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotPath != "/v1beta/models/gemini-test:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "k-123456789" {
		t.Errorf("key = %q", gotKey)
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name string
		tr   *stubTransport
		key  string
		want bool
	}{
		{"Valid", &stubTransport{status: 200, body: `{"models":[]}`}, "good-key", true},
		{"Invalid", &stubTransport{status: 400, body: `{"error":{}}`}, "bad-key", false},
		{"TransportError", &stubTransport{err: errors.New("connection refused")}, "any-key", false},
		{"NoResponse", &stubTransport{empty: true}, "any-key", false},
		{"Empty", &stubTransport{status: 200}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewClient(newSource("configured-key", "ja"), WithTransport(tt.tr))
			if got := c.ValidateAPIKey(context.Background(), tt.key); got != tt.want {
				t.Errorf("ValidateAPIKey = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateAPIKeyRequest(t *testing.T) {
	tr := &stubTransport{status: 200, body: `{}`}
	if !ValidateKey(context.Background(), "candidate-key", WithTransport(tr)) {
		t.Fatal("expected key to validate")
	}
	if tr.lastReq.method != http.MethodGet {
		t.Errorf("method = %s, want GET", tr.lastReq.method)
	}
	u, _ := url.Parse(tr.lastReq.url)
	if !strings.HasSuffix(u.Path, "/models") || u.Query().Get("key") != "candidate-key" {
		t.Errorf("unexpected validation URL %s", tr.lastReq.url)
	}
}
