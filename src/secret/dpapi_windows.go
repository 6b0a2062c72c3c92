//go:build windows

package secret

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

const entropySize = 16

// DPAPIKeyStore keeps the master key in a file protected with
// CryptProtectData, scoped to the current Windows user. The file holds
// 16 random entropy bytes followed by the DPAPI blob.
type DPAPIKeyStore struct {
	path string

	mu  sync.Mutex
	key []byte
}

func NewDPAPIKeyStore(path string) (KeyStore, error) {
	return &DPAPIKeyStore{path: path}, nil
}

func (d *DPAPIKeyStore) MasterKey(create bool) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.key != nil {
		return d.key, nil
	}

	data, err := os.ReadFile(d.path)
	switch {
	case err == nil:
		if len(data) <= entropySize {
			return nil, errors.New("dpapi key file is truncated")
		}
		key, err := unprotect(data[entropySize:], data[:entropySize])
		if err != nil {
			return nil, fmt.Errorf("unprotect master key: %w", err)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("master key has %d bytes, want %d", len(key), KeySize)
		}
		d.key = key
		return key, nil
	case errors.Is(err, os.ErrNotExist) && create:
		key, err := newKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		entropy := make([]byte, entropySize)
		if _, err := io.ReadFull(rand.Reader, entropy); err != nil {
			return nil, fmt.Errorf("generate entropy: %w", err)
		}
		blob, err := protect(key, entropy)
		if err != nil {
			return nil, fmt.Errorf("protect master key: %w", err)
		}
		if err := writeKeyFile(d.path, append(entropy, blob...)); err != nil {
			return nil, err
		}
		d.key = key
		return key, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, ErrNoKey
	default:
		return nil, fmt.Errorf("read key file: %w", err)
	}
}

func protect(data, entropy []byte) ([]byte, error) {
	in := newBlob(data)
	ent := newBlob(entropy)
	var out windows.DataBlob
	if err := windows.CryptProtectData(in, nil, ent, 0, nil, windows.CRYPTPROTECT_UI_FORBIDDEN, &out); err != nil {
		return nil, err
	}
	return takeBlob(&out), nil
}

func unprotect(data, entropy []byte) ([]byte, error) {
	in := newBlob(data)
	ent := newBlob(entropy)
	var out windows.DataBlob
	if err := windows.CryptUnprotectData(in, nil, ent, 0, nil, windows.CRYPTPROTECT_UI_FORBIDDEN, &out); err != nil {
		return nil, err
	}
	return takeBlob(&out), nil
}

func newBlob(b []byte) *windows.DataBlob {
	if len(b) == 0 {
		return &windows.DataBlob{}
	}
	return &windows.DataBlob{Size: uint32(len(b)), Data: &b[0]}
}

// takeBlob copies a DPAPI-allocated buffer into Go memory and frees it.
func takeBlob(b *windows.DataBlob) []byte {
	if b.Data == nil {
		return nil
	}
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(b.Data)))
	out := make([]byte, b.Size)
	copy(out, unsafe.Slice(b.Data, b.Size))
	return out
}
