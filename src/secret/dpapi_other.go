//go:build !windows

package secret

import "errors"

func NewDPAPIKeyStore(string) (KeyStore, error) {
	return nil, errors.New("dpapi key store is only available on windows")
}
