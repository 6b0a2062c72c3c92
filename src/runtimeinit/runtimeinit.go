package runtimeinit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gemini-ocr-capture/src/config"
	"gemini-ocr-capture/src/llm"
	"gemini-ocr-capture/src/logutil"
	"gemini-ocr-capture/src/notification"
	"gemini-ocr-capture/src/secret"
)

type Options struct {
	LoadOptions  config.LoadOptions
	SetupLogging func(dir string, enableFileLogging bool)
	// KeyStore overrides the backend named by KEY_STORE.
	KeyStore secret.KeyStore
	// Transport overrides the HTTP transport of the OCR client.
	Transport llm.Transport
	// RequireClient fails Bootstrap when no API key is configured.
	RequireClient bool
	// CheckKey validates the key against the API before returning.
	CheckKey bool
	// ShowBlockingErrors puts startup failures in a dialog as well as the log.
	ShowBlockingErrors bool
}

// App is the wired application.
type App struct {
	Runtime config.Runtime
	Store   *config.Store
	Sealer  *secret.Sealer
	Logger  logutil.Logger
	// Client is nil when no API key is configured and RequireClient is off.
	Client *llm.Client

	transport llm.Transport
}

func Bootstrap(opts Options) (*App, error) {
	rt := config.LoadRuntime(opts.LoadOptions)

	if opts.SetupLogging != nil {
		opts.SetupLogging(rt.Home, rt.EnableFileLogging)
	}
	logger := logutil.Std()
	logger.Printf("Runtime: home=%s model=%s key store=%s", rt.Home, rt.Model, rt.KeyStore)

	if err := os.MkdirAll(rt.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", rt.Home, err)
	}

	keys := opts.KeyStore
	if keys == nil {
		var err error
		keys, err = secret.NewKeyStore(rt.KeyStore, rt.Home)
		if err != nil {
			return nil, fmt.Errorf("failed to open key store: %w", err)
		}
	}
	sealer := secret.NewSealer(keys)
	store := config.NewStore(rt.Home, sealer, config.WithLogger(logger))

	if _, err := store.Load(); err != nil {
		var loadErr *config.LoadError
		if !errors.As(err, &loadErr) {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		// The broken file is left untouched for the user to fix or remove.
		logger.Printf("Config: %v", err)
		notification.LogError(rt.Home, err, "Loading settings failed")
		if opts.ShowBlockingErrors {
			notification.ShowBlockingError(notification.AppName, notification.UserMessage(err))
		}
		return nil, err
	}

	app := &App{
		Runtime:   rt,
		Store:     store,
		Sealer:    sealer,
		Logger:    logger,
		transport: opts.Transport,
	}

	client, err := llm.NewClient(store, app.ClientOptions()...)
	switch {
	case errors.Is(err, llm.ErrMissingAPIKey) && !opts.RequireClient:
		logger.Printf("LLM: no API key configured yet")
		return app, nil
	case err != nil:
		if opts.ShowBlockingErrors {
			notification.ShowBlockingError(notification.AppName, notification.UserMessage(err))
		}
		return nil, err
	}
	app.Client = client

	if opts.CheckKey {
		ctx, cancel := context.WithTimeout(context.Background(), app.Deadline())
		defer cancel()
		if !client.ValidateAPIKey(ctx, store.CurrentConfig().APIKey) {
			if opts.ShowBlockingErrors {
				notification.ShowBlockingError("Gemini API unavailable", "Startup check failed.\n\nPlease verify your API key and network connectivity.")
			}
			return nil, fmt.Errorf("startup check failed: %s", llm.MsgInvalidKey)
		}
		logger.Printf("LLM key check succeeded")
	}
	return app, nil
}

// ClientOptions configures an llm.Client for this runtime.
func (a *App) ClientOptions() []llm.Option {
	opts := []llm.Option{
		llm.WithBaseURL(a.Runtime.APIBaseURL),
		llm.WithModel(a.Runtime.Model),
		llm.WithLogger(a.Logger),
	}
	if a.transport != nil {
		opts = append(opts, llm.WithTransport(a.transport))
	}
	return opts
}

// Deadline is the per-call limit for OCR and key validation.
func (a *App) Deadline() time.Duration {
	return time.Duration(a.Runtime.OCRDeadlineSec) * time.Second
}

// EnsureClient builds the client after a key was configured.
func (a *App) EnsureClient() (*llm.Client, error) {
	if a.Client != nil {
		return a.Client, nil
	}
	c, err := llm.NewClient(a.Store, a.ClientOptions()...)
	if err != nil {
		return nil, err
	}
	a.Client = c
	return c, nil
}
