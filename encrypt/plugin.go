package encrypt

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/errors"
)

// PluginConfig holds configuration for loading an encryption plugin.
type PluginConfig struct {
	// Rand supplies IVs. Defaults to crypto/rand.
	Rand io.Reader

	// MemoryLimitPages caps the plugin's linear memory in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// PluginProvider serves one encryption mode from a WebAssembly module.
//
// The module exports its linear memory as "memory" and:
//
//	buffer() -> i32                          scratch area address
//	encrypt(key_len, iv_len, data_len) -> i32
//	encrypted_size(n) -> i32                 optional, defaults to n
//	iv_size() -> i32                         optional, defaults to 0
//
// Before encrypt the host writes key, IV and data back to back at buffer().
// The plugin leaves its output right after them and returns its length; a
// negative length reports failure.
type PluginProvider struct {
	runtime wazero.Runtime
	module  api.Module
	rand    io.Reader
	mode    string
	mu      sync.Mutex
}

// LoadPlugin reads and instantiates the module at path.
func LoadPlugin(ctx context.Context, mode, path string, cfg *PluginConfig) (*PluginProvider, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindNotFound, err, "read plugin "+path)
	}
	return NewPlugin(ctx, mode, wasm, cfg)
}

// NewPlugin instantiates an encryption plugin for mode.
func NewPlugin(ctx context.Context, mode string, wasm []byte, cfg *PluginConfig) (*PluginProvider, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	r := io.Reader(rand.Reader)
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.Rand != nil {
			r = cfg.Rand
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "compile plugin for "+mode)
	}
	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "instantiate plugin for "+mode)
	}

	p := &PluginProvider{runtime: runtime, module: module, rand: r, mode: mode}
	for _, name := range []string{"buffer", "encrypt"} {
		if module.ExportedFunction(name) == nil {
			_ = p.Close(ctx)
			return nil, errors.Structural(errors.PhaseEncrypt, "plugin for %s does not export %q", mode, name)
		}
	}
	if module.Memory() == nil {
		_ = p.Close(ctx)
		return nil, errors.Structural(errors.PhaseEncrypt, "plugin for %s does not export memory", mode)
	}

	Logger().Debug("encryption plugin loaded", zap.String("mode", mode), zap.Int("bytes", len(wasm)))
	return p, nil
}

// Mode returns the mode served by the plugin.
func (p *PluginProvider) Mode() string { return p.mode }

// Close releases the wazero runtime.
func (p *PluginProvider) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

func (p *PluginProvider) EncryptedSize(ctx context.Context, mode string, n int) (int, error) {
	if mode != p.mode {
		return 0, unsupportedMode(mode)
	}
	fn := p.module.ExportedFunction("encrypted_size")
	if fn == nil {
		return n, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := fn.Call(ctx, api.EncodeI32(int32(n)))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "plugin encrypted_size")
	}
	size := int(api.DecodeI32(res[0]))
	if size < 0 {
		return 0, errors.InvalidData(errors.PhaseEncrypt, fmt.Sprintf("plugin encrypted_size returned %d", size))
	}
	return size, nil
}

func (p *PluginProvider) CreateIV(ctx context.Context, mode string) ([]byte, error) {
	if mode != p.mode {
		return nil, unsupportedMode(mode)
	}
	fn := p.module.ExportedFunction("iv_size")
	if fn == nil {
		return nil, nil
	}
	p.mu.Lock()
	res, err := fn.Call(ctx)
	p.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "plugin iv_size")
	}
	n := int(api.DecodeI32(res[0]))
	if n <= 0 {
		return nil, nil
	}
	iv := make([]byte, n)
	if _, err := io.ReadFull(p.rand, iv); err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "read IV")
	}
	return iv, nil
}

func (p *PluginProvider) Encrypt(ctx context.Context, req Request) ([]byte, error) {
	if req.Mode != p.mode {
		return nil, unsupportedMode(req.Mode)
	}
	key, err := deriveKey(req)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res, err := p.module.ExportedFunction("buffer").Call(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "plugin buffer")
	}
	base := api.DecodeU32(res[0])

	mem := p.module.Memory()
	in := make([]byte, 0, len(key)+len(req.IV)+len(req.Data))
	in = append(in, key...)
	in = append(in, req.IV...)
	in = append(in, req.Data...)
	if !mem.Write(base, in) {
		return nil, errors.OutOfBounds(errors.PhaseEncrypt, int(base), len(in), int(mem.Size()))
	}

	res, err = p.module.ExportedFunction("encrypt").Call(ctx,
		api.EncodeI32(int32(len(key))), api.EncodeI32(int32(len(req.IV))), api.EncodeI32(int32(len(req.Data))))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncrypt, errors.KindInvalidData, err, "plugin encrypt")
	}
	n := api.DecodeI32(res[0])
	if n < 0 {
		return nil, errors.InvalidData(errors.PhaseEncrypt, fmt.Sprintf("plugin encrypt failed with %d", n))
	}

	out, ok := mem.Read(base+uint32(len(in)), uint32(n))
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseEncrypt, int(base)+len(in), int(n), int(mem.Size()))
	}
	return append([]byte(nil), out...), nil
}
