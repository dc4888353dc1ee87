package encrypt

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Mux routes each mode to the provider registered for it.
type Mux struct {
	providers map[string]Provider
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{providers: make(map[string]Provider)}
}

// NewDefaultMux returns a Mux serving the built-in AES modes.
func NewDefaultMux() *Mux {
	m := NewMux()
	aes := NewAESProvider()
	for _, mode := range aes.Modes() {
		m.Register(mode, aes)
	}
	return m
}

// Register routes mode to p, replacing any earlier registration.
func (m *Mux) Register(mode string, p Provider) {
	if _, ok := m.providers[mode]; ok {
		Logger().Debug("replacing encryption provider", zap.String("mode", mode))
	}
	m.providers[mode] = p
}

// Modes lists the registered modes in sorted order.
func (m *Mux) Modes() []string {
	modes := make([]string, 0, len(m.providers))
	for mode := range m.providers {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	return modes
}

func (m *Mux) lookup(mode string) (Provider, error) {
	p, ok := m.providers[mode]
	if !ok {
		return nil, unsupportedMode(mode)
	}
	return p, nil
}

func (m *Mux) Encrypt(ctx context.Context, req Request) ([]byte, error) {
	p, err := m.lookup(req.Mode)
	if err != nil {
		return nil, err
	}
	return p.Encrypt(ctx, req)
}

func (m *Mux) EncryptedSize(ctx context.Context, mode string, n int) (int, error) {
	p, err := m.lookup(mode)
	if err != nil {
		return 0, err
	}
	return p.EncryptedSize(ctx, mode, n)
}

func (m *Mux) CreateIV(ctx context.Context, mode string) ([]byte, error) {
	p, err := m.lookup(mode)
	if err != nil {
		return nil, err
	}
	return p.CreateIV(ctx, mode)
}

// Decrypt succeeds only when the provider for the mode is a Decrypter.
func (m *Mux) Decrypt(ctx context.Context, req Request) ([]byte, error) {
	p, err := m.lookup(req.Mode)
	if err != nil {
		return nil, err
	}
	d, ok := p.(Decrypter)
	if !ok {
		return nil, unsupportedMode(req.Mode + " decryption")
	}
	return d.Decrypt(ctx, req)
}

// CanDecrypt reports whether Decrypt can serve mode.
func (m *Mux) CanDecrypt(mode string) bool {
	p, ok := m.providers[mode]
	if !ok {
		return false
	}
	_, ok = p.(Decrypter)
	return ok
}

// EmbedsIV asks the provider for mode. Providers that do not say are
// treated as not embedding the IV.
func (m *Mux) EmbedsIV(mode string) bool {
	e, ok := m.providers[mode].(IVEmbedder)
	return ok && e.EmbedsIV(mode)
}
