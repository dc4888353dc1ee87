package component

import (
	"bytes"
	"context"
	"encoding/binary"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/encrypt"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

const (
	offlineSave = "save"
	offlineLoad = "load"
)

// encryptionActive reports whether the region of c is encrypted in this
// layout. Offline staging counts as encryption.
func (c *Component) encryptionActive(opts formula.Options) (bool, error) {
	if c.f.encrypt == "" {
		return c.f.offline != "", nil
	}
	v, err := c.eval(c.f.encrypt, opts)
	if err != nil {
		return false, err
	}
	if v.IsNone() {
		return false, errors.Unresolved(errors.PhaseLayout, c.f.encrypt)
	}
	return v.Truthy(), nil
}

// layoutEncryption returns the size the region takes once encrypted and
// captures the IV.
func (c *Component) layoutEncryption(ctx context.Context, plain int) (int, error) {
	p := c.env.Encrypter
	if c.f.mode == "" || p == nil {
		if c.f.offline == "" {
			return 0, errors.Unsupported(errors.PhaseEncrypt, "no encryption provider for mode "+c.f.mode)
		}
		return c.offlineSize(plain)
	}

	n, err := p.EncryptedSize(ctx, c.f.mode, plain)
	if err != nil {
		return 0, err
	}
	if n < plain {
		return 0, errors.New(errors.PhaseEncrypt, errors.KindStructural).
			Detail("mode %s shrinks %d byte(s) to %d", c.f.mode, plain, n).
			Build()
	}
	if err := c.captureIV(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// captureIV evaluates initial_vector, or creates an IV once. A created IV
// survives Reset so rebuilding yields the same bytes.
func (c *Component) captureIV(ctx context.Context) error {
	p := c.env.Encrypter
	if c.f.iv == "" {
		if c.iv != nil {
			return nil
		}
		iv, err := p.CreateIV(ctx, c.f.mode)
		if err != nil {
			return err
		}
		c.iv, c.ivCreated = iv, true
		return nil
	}

	v, err := c.eval(c.f.iv, layoutOpts)
	if err != nil {
		return err
	}
	switch v.Kind() {
	case formula.KindBytes:
		c.iv, _ = v.AsBytes()
	case formula.KindInt:
		proto, err := p.CreateIV(ctx, c.f.mode)
		if err != nil {
			return err
		}
		i, _ := v.AsInt()
		width := max(len(proto), convert.MinBytes(i))
		if c.iv, err = convert.IntToBytes(i, width, binary.BigEndian, false); err != nil {
			return errors.Wrap(errors.PhaseEncrypt, errors.KindOverflow, err, "initial_vector")
		}
	default:
		return errors.Unresolved(errors.PhaseEncrypt, c.f.iv)
	}
	return nil
}

// keyMaterial reads the key component named by encryption_key.
func (c *Component) keyMaterial(opts formula.Options) ([]byte, error) {
	if c.f.key == "" {
		return nil, errors.Structural(errors.PhaseEncrypt, "encrypted component without encryption_key")
	}
	k, err := c.Find(c.f.key)
	if err != nil {
		return nil, err
	}
	v, err := k.resolveValue(opts)
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case formula.KindBytes:
		b, _ := v.AsBytes()
		return b, nil
	case formula.KindString:
		s, _ := v.AsString()
		return []byte(s), nil
	case formula.KindInt:
		i, _ := v.AsInt()
		width := convert.MinBytes(i)
		if k.contentSize > 0 {
			width = k.contentSize
		}
		return convert.IntToBytes(i, width, k.order, k.signed)
	}
	return nil, errors.Unresolved(errors.PhaseEncrypt, c.f.key)
}

func (c *Component) request(opts formula.Options, data []byte) (encrypt.Request, error) {
	key, err := c.keyMaterial(opts)
	if err != nil {
		return encrypt.Request{}, err
	}
	return encrypt.Request{
		Mode:       c.f.mode,
		Derivation: c.f.derivation,
		Key:        key,
		IV:         c.iv,
		Data:       data,
	}, nil
}

// encryptRegion turns the plaintext region of c into what the image holds:
// inline ciphertext, staged plaintext or loaded offline ciphertext.
func (c *Component) encryptRegion(ctx context.Context, plain []byte) ([]byte, error) {
	var out []byte
	switch c.f.offline {
	case offlineSave:
		if err := c.saveOffline(plain); err != nil {
			return nil, err
		}
		out = plain
	case offlineLoad:
		enc, err := c.loadOffline(plain)
		if err != nil {
			return nil, err
		}
		out = enc
	default:
		req, err := c.request(layoutOpts, plain)
		if err != nil {
			return nil, err
		}
		if out, err = c.env.Encrypter.Encrypt(ctx, req); err != nil {
			return nil, err
		}
		c.ivCreated = false
	}

	if c.f.offline == offlineSave && len(out) < c.Size {
		padded := bytes.Repeat([]byte{c.alignByte}, c.Size)
		copy(padded, out)
		out = padded
	}
	if len(out) != c.Size {
		return nil, errors.New(errors.PhaseEncrypt, errors.KindStructural).
			Value(len(out)).
			Detail("encryption produced %d byte(s), layout reserved %d", len(out), c.Size).
			Build()
	}
	return out, nil
}

// decryptRegion returns the plaintext of an inline encrypted region when
// the provider can decrypt the mode and the IV is known.
func (c *Component) decryptRegion(ctx context.Context, ct []byte) ([]byte, bool, error) {
	if c.f.offline != "" || c.f.mode == "" {
		return nil, false, nil
	}
	if c.ivCreated && !c.embedsIV() {
		Logger().Debug("IV not stored in the image", zap.String("path", c.Path()), zap.String("mode", c.f.mode))
		return nil, false, nil
	}
	d, ok := c.env.Encrypter.(encrypt.Decrypter)
	if !ok {
		return nil, false, nil
	}
	if m, ok := c.env.Encrypter.(interface{ CanDecrypt(string) bool }); ok && !m.CanDecrypt(c.f.mode) {
		return nil, false, nil
	}
	req, err := c.request(layoutOpts, ct)
	if err != nil {
		return nil, false, err
	}
	plain, err := d.Decrypt(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

func (c *Component) embedsIV() bool {
	e, ok := c.env.Encrypter.(encrypt.IVEmbedder)
	return ok && e.EmbedsIV(c.f.mode)
}

func (c *Component) offlinePaths() (bin, enc string) {
	dir := c.env.OfflineDir
	if dir == "" {
		dir = "."
	}
	name := c.f.offlineName
	if name == "" {
		name = c.Name
	}
	base := filepath.Join(dir, name)
	return base + ".bin", base + ".enc"
}

// offlineSize is the region size of an offline component without an inline
// provider: the staged ciphertext when loading, the plaintext otherwise.
func (c *Component) offlineSize(plain int) (int, error) {
	if c.f.offline != offlineLoad {
		return plain, nil
	}
	_, enc := c.offlinePaths()
	st, err := os.Stat(enc)
	if stderrors.Is(err, fs.ErrNotExist) {
		return plain, nil
	}
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "stat "+enc)
	}
	return int(st.Size()), nil
}

func (c *Component) saveOffline(plain []byte) error {
	bin, _ := c.offlinePaths()
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		return errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "create offline directory")
	}
	if err := os.WriteFile(bin, plain, 0o644); err != nil {
		return errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "stage plaintext")
	}
	Logger().Info("staged plaintext for offline encryption", zap.String("path", c.Path()), zap.String("file", bin))
	return nil
}

// loadOffline swaps in externally prepared ciphertext. The staged
// plaintext must match the current region and differ from the ciphertext.
func (c *Component) loadOffline(plain []byte) ([]byte, error) {
	bin, enc := c.offlinePaths()
	encData, err := os.ReadFile(enc)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindNotFound, err, "read offline ciphertext")
	}
	binData, err := os.ReadFile(bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindNotFound, err, "read offline plaintext")
	}
	if bytes.Equal(encData, binData) {
		return nil, errors.New(errors.PhaseEncrypt, errors.KindTamper).
			Value(enc).
			Detail("%s is identical to %s, it was not encrypted", filepath.Base(enc), filepath.Base(bin)).
			Build()
	}
	if !bytes.Equal(binData, plain) {
		return nil, errors.New(errors.PhaseEncrypt, errors.KindTamper).
			Value(bin).
			Detail("%s does not match the current plaintext, stage it again", filepath.Base(bin)).
			Build()
	}
	Logger().Debug("loaded offline ciphertext", zap.String("path", c.Path()), zap.Int("size", len(encData)))
	return encData, nil
}
