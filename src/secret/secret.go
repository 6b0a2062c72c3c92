// Package secret protects small secrets (the Gemini API key) at rest.
//
// Values are sealed with XChaCha20-Poly1305 under a per-user master key that
// lives in an OS-backed KeyStore. Every Seal draws a fresh random nonce, so
// saving the same key twice never produces the same stored text.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of the master key in bytes.
const KeySize = chacha20poly1305.KeySize

const (
	envelopeVersion byte = 0x01
	headerSize           = 1 + chacha20poly1305.NonceSizeX
	minEnvelopeSize      = headerSize + chacha20poly1305.Overhead + 1
)

// ErrNoKey is returned by a KeyStore asked for an existing key when none has
// been created yet.
var ErrNoKey = errors.New("secret: no master key")

// KeyStore hands out the master key. With create set, a missing key is
// generated and persisted before being returned.
type KeyStore interface {
	MasterKey(create bool) ([]byte, error)
}

// Status tags the outcome of Open.
type Status int

const (
	// Opened means the value was a valid envelope and decrypted cleanly.
	Opened Status = iota
	// NotSealed means the value does not have the envelope shape at all and
	// is most likely a plaintext key written by an older build.
	NotSealed
	// Unreadable means the value looks like an envelope but could not be
	// decrypted: another user, another machine, or a lost master key.
	Unreadable
)

func (s Status) String() string {
	switch s {
	case Opened:
		return "opened"
	case NotSealed:
		return "not-sealed"
	case Unreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// OpenResult is what Open produces. Plaintext is only set when Status is
// Opened; Err explains an Unreadable result.
type OpenResult struct {
	Status    Status
	Plaintext string
	Err       error
}

// Sealer encrypts and decrypts values with the master key from a KeyStore.
type Sealer struct {
	keys KeyStore
	rand io.Reader
}

// NewSealer returns a Sealer backed by keys.
func NewSealer(keys KeyStore) *Sealer {
	return &Sealer{keys: keys, rand: rand.Reader}
}

// Seal encrypts plaintext and returns base64(version || nonce || ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	key, err := s.keys.MasterKey(true)
	if err != nil {
		return "", fmt.Errorf("load master key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	buf := make([]byte, headerSize, headerSize+len(plaintext)+aead.Overhead())
	buf[0] = envelopeVersion
	if _, err := io.ReadFull(s.rand, buf[1:headerSize]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(buf, buf[1:headerSize], []byte(plaintext), buf[:1])
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. It never fails outright: the caller inspects Status and
// decides what to do with values that are not (or no longer) decryptable.
func (s *Sealer) Open(stored string) OpenResult {
	raw, ok := decodeEnvelope(stored)
	if !ok {
		return OpenResult{Status: NotSealed}
	}

	key, err := s.keys.MasterKey(false)
	if err != nil {
		return OpenResult{Status: Unreadable, Err: fmt.Errorf("load master key: %w", err)}
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return OpenResult{Status: Unreadable, Err: fmt.Errorf("init cipher: %w", err)}
	}
	plain, err := aead.Open(nil, raw[1:headerSize], raw[headerSize:], raw[:1])
	if err != nil {
		return OpenResult{Status: Unreadable, Err: fmt.Errorf("decrypt: %w", err)}
	}
	if !utf8.Valid(plain) {
		return OpenResult{Status: Unreadable, Err: errors.New("decrypted value is not valid UTF-8")}
	}
	return OpenResult{Status: Opened, Plaintext: string(plain)}
}

// LooksSealed reports whether stored passes the structural check for an
// envelope produced by Seal.
func LooksSealed(stored string) bool {
	_, ok := decodeEnvelope(stored)
	return ok
}

func decodeEnvelope(stored string) ([]byte, bool) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, false
	}
	if len(raw) < minEnvelopeSize || raw[0] != envelopeVersion {
		return nil, false
	}
	return raw, true
}

func newKey(r io.Reader) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}

func encodeKey(key []byte) string { return base64.StdEncoding.EncodeToString(key) }

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key has %d bytes, want %d", len(key), KeySize)
	}
	return key, nil
}
