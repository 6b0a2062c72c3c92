package secret

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// Backend names accepted by Open.
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendDPAPI   = "dpapi"
)

// DefaultService is the keyring service name the master key is stored under.
const DefaultService = "gemini-ocr-capture"

// DefaultBackend picks the key custody for the current platform: DPAPI on
// Windows, the desktop keyring everywhere else.
func DefaultBackend() string {
	if runtime.GOOS == "windows" {
		return BackendDPAPI
	}
	return BackendKeyring
}

// NewKeyStore builds the KeyStore named by backend. dir is where file-backed
// stores keep their key file.
func NewKeyStore(backend, dir string) (KeyStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "":
		return NewKeyStore(DefaultBackend(), dir)
	case BackendKeyring:
		return NewKeyringKeyStore(DefaultService), nil
	case BackendFile:
		return &FileKeyStore{Path: filepath.Join(dir, "master.key")}, nil
	case BackendDPAPI:
		return NewDPAPIKeyStore(filepath.Join(dir, "master.key.dpapi"))
	default:
		return nil, fmt.Errorf("unknown key store %q", backend)
	}
}

// KeyringKeyStore keeps the master key in the OS keychain (Secret Service,
// macOS Keychain or Windows Credential Manager) for the current user.
type KeyringKeyStore struct {
	Service string
	User    string

	mu  sync.Mutex
	key []byte
}

func NewKeyringKeyStore(service string) *KeyringKeyStore {
	return &KeyringKeyStore{Service: service, User: currentUser()}
}

func (k *KeyringKeyStore) MasterKey(create bool) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		return k.key, nil
	}

	enc, err := keyring.Get(k.Service, k.User)
	switch {
	case err == nil:
		key, err := decodeKey(enc)
		if err != nil {
			return nil, err
		}
		k.key = key
		return key, nil
	case errors.Is(err, keyring.ErrNotFound) && create:
		key, err := newKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		if err := keyring.Set(k.Service, k.User, encodeKey(key)); err != nil {
			return nil, fmt.Errorf("store master key in keyring: %w", err)
		}
		k.key = key
		return key, nil
	case errors.Is(err, keyring.ErrNotFound):
		return nil, ErrNoKey
	default:
		return nil, fmt.Errorf("read keyring: %w", err)
	}
}

// FileKeyStore keeps the master key in a file readable only by its owner.
// Meant for headless machines without a keyring daemon.
type FileKeyStore struct {
	Path string

	mu  sync.Mutex
	key []byte
}

func (f *FileKeyStore) MasterKey(create bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.key != nil {
		return f.key, nil
	}

	data, err := os.ReadFile(f.Path)
	switch {
	case err == nil:
		key, err := decodeKey(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, err
		}
		f.key = key
		return key, nil
	case errors.Is(err, os.ErrNotExist) && create:
		key, err := newKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		if err := writeKeyFile(f.Path, []byte(encodeKey(key))); err != nil {
			return nil, err
		}
		f.key = key
		return key, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNoKey
	default:
		return nil, fmt.Errorf("read key file: %w", err)
	}
}

// StaticKeyStore serves a fixed key. Useful for tests and for embedding the
// store where the caller already manages key material.
type StaticKeyStore []byte

func (s StaticKeyStore) MasterKey(bool) ([]byte, error) {
	if len(s) != KeySize {
		return nil, fmt.Errorf("static key has %d bytes, want %d", len(s), KeySize)
	}
	return []byte(s), nil
}

func writeKeyFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, env := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return "default"
}
