package runtimeinit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gemini-ocr-capture/src/config"
	"gemini-ocr-capture/src/llm"
	"gemini-ocr-capture/src/notification"
	"gemini-ocr-capture/src/secret"
)

type statusTransport struct {
	status int
	gets   int
}

func (s *statusTransport) Get(ctx context.Context, url string) (*http.Response, error) {
	s.gets++
	return &http.Response{StatusCode: s.status, Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func (s *statusTransport) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return nil, errors.New("unexpected post")
}

func testKeys() secret.StaticKeyStore {
	return secret.StaticKeyStore(bytes.Repeat([]byte{7}, secret.KeySize))
}

func options(dir string, tr llm.Transport) Options {
	return Options{
		LoadOptions: config.LoadOptions{
			EnvPathOverride: filepath.Join(dir, "absent.env"),
			HomeOverride:    dir,
		},
		KeyStore:  testKeys(),
		Transport: tr,
	}
}

func saveKey(t *testing.T, dir, key string) {
	t.Helper()
	store := config.NewStore(dir, secret.NewSealer(testKeys()))
	cfg := config.Defaults()
	cfg.APIKey = key
	if err := store.Save(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestBootstrapFirstRun(t *testing.T) {
	dir := t.TempDir()
	var loggedTo string
	opts := options(dir, &statusTransport{status: 200})
	opts.SetupLogging = func(d string, enabled bool) { loggedTo = d }

	app, err := Bootstrap(opts)
	if err != nil {
		t.Fatal(err)
	}
	if app.Client != nil {
		t.Error("client built without an API key")
	}
	if loggedTo != dir {
		t.Errorf("logging set up in %q", loggedTo)
	}
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err != nil {
		t.Errorf("defaults not written: %v", err)
	}
	if app.Store.CurrentConfig() != config.Defaults() {
		t.Errorf("config = %+v", app.Store.CurrentConfig())
	}
}

func TestBootstrapRequireClient(t *testing.T) {
	opts := options(t.TempDir(), &statusTransport{status: 200})
	opts.RequireClient = true
	if _, err := Bootstrap(opts); !errors.Is(err, llm.ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestBootstrapWithKey(t *testing.T) {
	dir := t.TempDir()
	saveKey(t, dir, "stored-api-key")
	tr := &statusTransport{status: 200}
	opts := options(dir, tr)
	opts.CheckKey = true

	app, err := Bootstrap(opts)
	if err != nil {
		t.Fatal(err)
	}
	if app.Client == nil {
		t.Fatal("client missing")
	}
	if app.Store.CurrentConfig().APIKey != "stored-api-key" {
		t.Error("stored key was not decrypted")
	}
	if tr.gets != 1 {
		t.Errorf("key checked %d times", tr.gets)
	}
}

func TestBootstrapKeyCheckFails(t *testing.T) {
	dir := t.TempDir()
	saveKey(t, dir, "revoked-key")
	opts := options(dir, &statusTransport{status: 400})
	opts.CheckKey = true
	if _, err := Bootstrap(opts); err == nil {
		t.Error("expected startup check failure")
	}
}

func TestBootstrapCorruptConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	app, err := Bootstrap(options(dir, nil))
	var loadErr *config.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("err = %v, want *config.LoadError", err)
	}
	if app != nil {
		t.Error("no app should be returned for a corrupt config")
	}
	if _, err := os.Stat(filepath.Join(dir, notification.ErrorLogFile)); err != nil {
		t.Errorf("error.log missing: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "{broken" {
		t.Errorf("corrupt file was rewritten: %q", data)
	}
}

func TestEnsureClient(t *testing.T) {
	dir := t.TempDir()
	app, err := Bootstrap(options(dir, &statusTransport{status: 200}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := app.EnsureClient(); !errors.Is(err, llm.ErrMissingAPIKey) {
		t.Errorf("err = %v", err)
	}
	if _, err := app.Store.Update(func(c *config.Configuration) { c.APIKey = "new-key" }); err != nil {
		t.Fatal(err)
	}
	c, err := app.EnsureClient()
	if err != nil || c == nil {
		t.Fatalf("EnsureClient = %v, %v", c, err)
	}
	if app.Deadline() <= 0 {
		t.Error("deadline must be positive")
	}
}
