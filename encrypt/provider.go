// Package encrypt provides the cryptography used by encrypted components.
//
// A Provider turns plaintext into ciphertext for a named mode, predicts the
// ciphertext length before any bytes exist (layout needs it), and creates
// initialisation vectors. AESProvider covers the built-in AES modes,
// PluginProvider serves modes implemented by WebAssembly modules, and Mux
// routes each mode to the provider registered for it.
package encrypt

import (
	"context"

	"github.com/wippyai/fwlayout/errors"
)

// Key derivation functions applied to key material before use.
const (
	DerivationNone   = "none"
	DerivationPBKDF2 = "pbkdf2"
)

// Request is one encryption or decryption call.
type Request struct {
	Mode       string
	Derivation string
	Key        []byte
	IV         []byte
	Data       []byte
}

// Provider encrypts data for the modes it supports.
type Provider interface {
	Encrypt(ctx context.Context, req Request) ([]byte, error)
	// EncryptedSize returns the ciphertext length for n plaintext bytes.
	EncryptedSize(ctx context.Context, mode string, n int) (int, error)
	// CreateIV returns a fresh initialisation vector, or nil if the mode
	// takes none.
	CreateIV(ctx context.Context, mode string) ([]byte, error)
}

// Decrypter is implemented by providers that can reverse Encrypt.
type Decrypter interface {
	Decrypt(ctx context.Context, req Request) ([]byte, error)
}

// IVEmbedder is implemented by providers that know whether a mode stores
// its IV in the ciphertext. Decrypting a mode that does not needs the IV
// the image was built with.
type IVEmbedder interface {
	EmbedsIV(mode string) bool
}

func unsupportedMode(mode string) error {
	return errors.Unsupported(errors.PhaseEncrypt, "encryption mode "+mode)
}
