package encrypt

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/xts"

	"github.com/wippyai/fwlayout/errors"
)

// Built-in AES modes.
const (
	ModeCBC      = "AES-CBC"
	ModeCBCNoPad = "AES-CBC-NOPAD"
	ModeCTR      = "AES-CTR"
	ModeGCM      = "AES-GCM"
	ModeXTS      = "AES-XTS"
)

const (
	pbkdf2Iterations = 10_000
	gcmNonceSize     = 12
	gcmTagSize       = 16
	xtsSectorSize    = 8
)

var pbkdf2Salt = []byte("fwlayout key derivation")

// AESProvider implements the AES modes on top of crypto/aes and x/crypto.
//
// Output formats:
//
//	AES-CBC        ciphertext (PKCS#7 padded) || IV
//	AES-CBC-NOPAD  ciphertext, plaintext must be block aligned
//	AES-CTR        ciphertext || IV
//	AES-GCM        nonce || ciphertext || tag
//	AES-XTS        ciphertext, IV holds the big-endian sector number
type AESProvider struct {
	// Rand supplies IVs. Defaults to crypto/rand.
	Rand io.Reader
}

// NewAESProvider returns a provider reading IVs from crypto/rand.
func NewAESProvider() *AESProvider {
	return &AESProvider{Rand: rand.Reader}
}

// Modes lists the modes served by the provider.
func (p *AESProvider) Modes() []string {
	return []string{ModeCBC, ModeCBCNoPad, ModeCTR, ModeGCM, ModeXTS}
}

// EmbedsIV reports whether the output of mode carries its IV or nonce.
func (p *AESProvider) EmbedsIV(mode string) bool {
	switch mode {
	case ModeCBC, ModeCTR, ModeGCM:
		return true
	}
	return false
}

func (p *AESProvider) EncryptedSize(_ context.Context, mode string, n int) (int, error) {
	bs := aes.BlockSize
	switch mode {
	case ModeCBC:
		return (n/bs+1)*bs + bs, nil
	case ModeCBCNoPad, ModeXTS:
		if n%bs != 0 || n == 0 {
			return 0, errors.LayoutViolation(errors.PhaseEncrypt,
				"%s needs a non-empty multiple of %d bytes, got %d", mode, bs, n)
		}
		return n, nil
	case ModeCTR:
		return n + bs, nil
	case ModeGCM:
		return gcmNonceSize + n + gcmTagSize, nil
	}
	return 0, unsupportedMode(mode)
}

func (p *AESProvider) CreateIV(_ context.Context, mode string) ([]byte, error) {
	var n int
	switch mode {
	case ModeCBC, ModeCBCNoPad, ModeCTR:
		n = aes.BlockSize
	case ModeGCM:
		n = gcmNonceSize
	case ModeXTS:
		n = xtsSectorSize
	default:
		return nil, unsupportedMode(mode)
	}
	r := p.Rand
	if r == nil {
		r = rand.Reader
	}
	iv := make([]byte, n)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "read IV")
	}
	return iv, nil
}

func (p *AESProvider) Encrypt(_ context.Context, req Request) ([]byte, error) {
	key, err := deriveKey(req)
	if err != nil {
		return nil, err
	}

	switch req.Mode {
	case ModeCBC, ModeCBCNoPad:
		block, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		iv, err := fixedIV(req, aes.BlockSize)
		if err != nil {
			return nil, err
		}
		data := req.Data
		if req.Mode == ModeCBC {
			data = pkcs7Pad(data, aes.BlockSize)
		} else if len(data)%aes.BlockSize != 0 {
			return nil, errors.InvalidData(errors.PhaseEncrypt, "plaintext is not block aligned")
		}
		out := make([]byte, len(data))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
		if req.Mode == ModeCBC {
			out = append(out, iv...)
		}
		return out, nil

	case ModeCTR:
		block, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		iv, err := fixedIV(req, aes.BlockSize)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(req.Data))
		cipher.NewCTR(block, iv).XORKeyStream(out, req.Data)
		return append(out, iv...), nil

	case ModeGCM:
		block, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		nonce, err := fixedIV(req, gcmNonceSize)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "create GCM")
		}
		return aead.Seal(bytes.Clone(nonce), nonce, req.Data, nil), nil

	case ModeXTS:
		c, sector, err := newXTS(key, req)
		if err != nil {
			return nil, err
		}
		if len(req.Data)%aes.BlockSize != 0 || len(req.Data) == 0 {
			return nil, errors.InvalidData(errors.PhaseEncrypt, "plaintext is not block aligned")
		}
		out := make([]byte, len(req.Data))
		c.Encrypt(out, req.Data, sector)
		return out, nil
	}
	return nil, unsupportedMode(req.Mode)
}

// Decrypt reverses Encrypt. For CBC, CTR and GCM the IV travels with the
// ciphertext; the other modes take it from the request.
func (p *AESProvider) Decrypt(_ context.Context, req Request) ([]byte, error) {
	key, err := deriveKey(req)
	if err != nil {
		return nil, err
	}
	data := req.Data
	bs := aes.BlockSize

	switch req.Mode {
	case ModeCBC, ModeCBCNoPad:
		block, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		iv := req.IV
		if req.Mode == ModeCBC {
			if len(data) < 2*bs {
				return nil, errors.InvalidData(errors.PhaseEncrypt, "ciphertext too short")
			}
			iv, data = data[len(data)-bs:], data[:len(data)-bs]
		}
		if len(iv) != bs || len(data)%bs != 0 {
			return nil, errors.InvalidData(errors.PhaseEncrypt, "ciphertext is not block aligned")
		}
		out := make([]byte, len(data))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
		if req.Mode == ModeCBC {
			return pkcs7Unpad(out, bs)
		}
		return out, nil

	case ModeCTR:
		block, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		if len(data) < bs {
			return nil, errors.InvalidData(errors.PhaseEncrypt, "ciphertext too short")
		}
		iv, body := data[len(data)-bs:], data[:len(data)-bs]
		out := make([]byte, len(body))
		cipher.NewCTR(block, iv).XORKeyStream(out, body)
		return out, nil

	case ModeGCM:
		block, err := newBlock(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "create GCM")
		}
		if len(data) < gcmNonceSize+gcmTagSize {
			return nil, errors.InvalidData(errors.PhaseEncrypt, "ciphertext too short")
		}
		out, err := aead.Open(nil, data[:gcmNonceSize], data[gcmNonceSize:], nil)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindTamper, err, "GCM authentication failed")
		}
		return out, nil

	case ModeXTS:
		c, sector, err := newXTS(key, req)
		if err != nil {
			return nil, err
		}
		if len(data)%bs != 0 || len(data) == 0 {
			return nil, errors.InvalidData(errors.PhaseEncrypt, "ciphertext is not block aligned")
		}
		out := make([]byte, len(data))
		c.Decrypt(out, data, sector)
		return out, nil
	}
	return nil, unsupportedMode(req.Mode)
}

func deriveKey(req Request) ([]byte, error) {
	switch req.Derivation {
	case "", DerivationNone:
		return req.Key, nil
	case DerivationPBKDF2:
		n := 32
		if req.Mode == ModeXTS {
			n = 64
		}
		return pbkdf2.Key(req.Key, pbkdf2Salt, pbkdf2Iterations, n, sha512.New), nil
	}
	return nil, errors.Unsupported(errors.PhaseEncrypt, "key derivation "+req.Derivation)
}

func newBlock(key []byte) (cipher.Block, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "invalid AES key")
	}
	return block, nil
}

func newXTS(key []byte, req Request) (*xts.Cipher, uint64, error) {
	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, 0, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "invalid XTS key")
	}
	iv, err := fixedIV(req, xtsSectorSize)
	if err != nil {
		return nil, 0, err
	}
	return c, binary.BigEndian.Uint64(iv), nil
}

func fixedIV(req Request, n int) ([]byte, error) {
	if len(req.IV) != n {
		return nil, errors.InvalidData(errors.PhaseEncrypt,
			fmt.Sprintf("%s needs a %d byte IV, got %d", req.Mode, n, len(req.IV)))
	}
	return req.IV, nil
}

func pkcs7Pad(data []byte, bs int) []byte {
	n := bs - len(data)%bs
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, bs int) ([]byte, error) {
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, errors.InvalidData(errors.PhaseEncrypt, "invalid padding")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > bs || n > len(data) {
		return nil, errors.InvalidData(errors.PhaseEncrypt, "invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.InvalidData(errors.PhaseEncrypt, "invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
