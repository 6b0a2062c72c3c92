package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gemini-ocr-capture/src/logutil"
	"gemini-ocr-capture/src/secret"
)

// FileName is the settings file kept in the application's base directory.
const FileName = "config.json"

const (
	DefaultLanguage           = "ja"
	DefaultFullscreenShortcut = "PrintScreen"
)

// Configuration is the persisted user settings record. APIKey is always
// plaintext in memory; only the file holds the sealed form.
type Configuration struct {
	APIKey                string `json:"apiKey,omitempty"`
	DisplayOCRResult      bool   `json:"displayOcrResult"`
	PlaySoundOnOCRSuccess bool   `json:"playSoundOnOcrSuccess"`
	CustomSoundFilePath   string `json:"customSoundFilePath,omitempty"`
	Language              string `json:"language"`
	FullscreenShortcut    string `json:"fullscreenShortcut"`
}

// Defaults returns the settings used on first run.
func Defaults() Configuration {
	return Configuration{
		DisplayOCRResult:      true,
		PlaySoundOnOCRSuccess: true,
		Language:              DefaultLanguage,
		FullscreenShortcut:    DefaultFullscreenShortcut,
	}
}

// LoadError means the settings file exists but could not be read or parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load config %s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// SaveError means the settings could not be encrypted or written. The file on
// disk is left as it was.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string { return fmt.Sprintf("save config %s: %v", e.Path, e.Err) }
func (e *SaveError) Unwrap() error { return e.Err }

// Cipher seals the API key for storage and opens it again on load.
// *secret.Sealer implements it.
type Cipher interface {
	Seal(plaintext string) (string, error)
	Open(stored string) secret.OpenResult
}

// Store owns config.json. It is the only component that reads or writes the
// file. Load and Save must not run concurrently on the same file; the cached
// CurrentConfig is safe to read from any goroutine.
type Store struct {
	path   string
	cipher Cipher
	logger logutil.Logger

	mu      sync.RWMutex
	current Configuration
}

type Option func(*Store)

func WithLogger(l logutil.Logger) Option {
	return func(s *Store) { s.logger = logutil.OrNop(l) }
}

// NewStore returns a Store for dir/config.json. Nothing is read until Load.
func NewStore(dir string, cipher Cipher, opts ...Option) *Store {
	s := &Store{
		path:    filepath.Join(dir, FileName),
		cipher:  cipher,
		logger:  logutil.Nop,
		current: Defaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// CurrentConfig returns the most recently loaded or saved settings.
func (s *Store) CurrentConfig() Configuration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load reads the settings file. A missing file is replaced with defaults,
// which are saved immediately. An API key that cannot be decrypted is kept
// as stored rather than failing the load.
func (s *Store) Load() (Configuration, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Printf("Config: %s not found, writing defaults", s.path)
		cfg := Defaults()
		if err := s.Save(cfg); err != nil {
			return Configuration{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return Configuration{}, &LoadError{Path: s.path, Err: err}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, &LoadError{Path: s.path, Err: err}
	}
	normalize(&cfg)

	if cfg.APIKey != "" {
		cfg.APIKey = s.openKey(cfg.APIKey)
	}

	s.setCurrent(cfg)
	return cfg, nil
}

func (s *Store) openKey(stored string) string {
	res := s.cipher.Open(stored)
	switch res.Status {
	case secret.Opened:
		return res.Plaintext
	case secret.NotSealed:
		s.logger.Printf("Config: API key is not sealed, using it as a plaintext key")
	default:
		s.logger.Printf("Config: API key could not be decrypted (%v), keeping stored value", res.Err)
	}
	return stored
}

// Save writes cfg to disk with the API key sealed. Blank language and
// shortcut fall back to their defaults. The file is replaced in
// one rename, so a failed save leaves the previous file intact.
func (s *Store) Save(cfg Configuration) error {
	normalize(&cfg)
	onDisk := cfg
	if cfg.APIKey != "" {
		sealed, err := s.cipher.Seal(cfg.APIKey)
		if err != nil {
			return &SaveError{Path: s.path, Err: fmt.Errorf("encrypt api key: %w", err)}
		}
		onDisk.APIKey = sealed
	}

	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return &SaveError{Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return &SaveError{Path: s.path, Err: err}
	}

	s.logger.Printf("Config: saved %s (api key %s)", s.path, logutil.RedactKey(cfg.APIKey))
	s.setCurrent(cfg)
	return nil
}

// Update applies fn to the current settings and saves the result.
func (s *Store) Update(fn func(*Configuration)) (Configuration, error) {
	cfg := s.CurrentConfig()
	fn(&cfg)
	normalize(&cfg)
	if err := s.Save(cfg); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

func (s *Store) setCurrent(cfg Configuration) {
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
}

// normalize fills fields that are present but blank.
func normalize(cfg *Configuration) {
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = DefaultLanguage
	}
	if strings.TrimSpace(cfg.FullscreenShortcut) == "" {
		cfg.FullscreenShortcut = DefaultFullscreenShortcut
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}
