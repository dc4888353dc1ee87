// Package layout drives a component tree through a complete build or
// decomposition of a firmware image.
//
//	img, err := layout.LoadFile(ctx, "image.xml", layout.Options{})
//	if err != nil {
//	    return err
//	}
//	defer img.Close(ctx)
//
//	res, err := img.Build(ctx)
//	// res.Data holds the image, res.Digest its sha256 content digest.
//
// Build lays the tree out once, then builds it in passes: leaves whose value
// depends on something not built yet are deferred and retried until the
// tree is complete or a pass makes no progress.
package layout

import (
	"context"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	digest "github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/buffer"
	"github.com/wippyai/fwlayout/component"
	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/elfscan"
	"github.com/wippyai/fwlayout/encrypt"
	"github.com/wippyai/fwlayout/errors"
)

const (
	// DefaultMaxSize bounds images whose layout sets no max_size.
	DefaultMaxSize = 16 << 20
	defaultPasses  = 16
)

// Options configures an Image.
type Options struct {
	// Encrypter serves encrypted components. Defaults to the built-in AES
	// modes (encrypt.NewDefaultMux).
	Encrypter encrypt.Provider
	// Plugins maps encryption modes to WASM plugin files. They are
	// registered on the default mux, or on Encrypter when it is a *encrypt.Mux.
	Plugins map[string]string
	// ELF scans elf_file components.
	ELF elfscan.Scanner
	// OfflineDir holds offline encryption staging files.
	OfflineDir string
	// BaseDir resolves relative paths in the layout. LoadFile defaults it
	// to the layout's directory.
	BaseDir string
	// MaxSize overrides the layout's max_size attribute.
	MaxSize int
	// MaxPasses bounds the build passes. Defaults to 16.
	MaxPasses int
	// FullSize makes Build return the whole max_size buffer instead of the
	// bytes up to the end of the root component.
	FullSize bool
}

// Image is a parsed layout ready to build or decompose.
type Image struct {
	root    *component.Component
	env     *component.Env
	plugins []*encrypt.PluginProvider
	maxSize int
	passes  int
	full    bool
}

// Result is a built image.
type Result struct {
	Data   []byte
	Digest digest.Digest
	// Passes is the number of build passes the deferred values needed.
	Passes int
}

// Load parses a layout document.
func Load(ctx context.Context, r io.Reader, opts Options) (*Image, error) {
	enc, plugins, err := newEncrypter(ctx, opts)
	if err != nil {
		return nil, err
	}
	im := &Image{
		env: &component.Env{
			Encrypter:  enc,
			ELF:        opts.ELF,
			OfflineDir: opts.OfflineDir,
			BaseDir:    opts.BaseDir,
		},
		plugins: plugins,
		passes:  opts.MaxPasses,
		full:    opts.FullSize,
	}
	if im.passes <= 0 {
		im.passes = defaultPasses
	}

	if im.root, err = component.Parse(r, im.env); err != nil {
		_ = im.Close(ctx)
		return nil, err
	}
	if im.maxSize, err = maxSize(im.root, opts.MaxSize); err != nil {
		_ = im.Close(ctx)
		return nil, err
	}
	Logger().Debug("layout loaded",
		zap.String("root", im.root.Name),
		zap.Int("max_size", im.maxSize),
		zap.Int("plugins", len(plugins)))
	return im, nil
}

// LoadFile parses the layout document at path.
func LoadFile(ctx context.Context, path string, opts Options) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseParse, errors.KindNotFound, err, "open layout")
	}
	defer f.Close()
	if opts.BaseDir == "" {
		opts.BaseDir = filepath.Dir(path)
	}
	return Load(ctx, f, opts)
}

func newEncrypter(ctx context.Context, opts Options) (encrypt.Provider, []*encrypt.PluginProvider, error) {
	if opts.Encrypter != nil && len(opts.Plugins) == 0 {
		return opts.Encrypter, nil, nil
	}
	mux := encrypt.NewDefaultMux()
	if opts.Encrypter != nil {
		m, ok := opts.Encrypter.(*encrypt.Mux)
		if !ok {
			return nil, nil, errors.Unsupported(errors.PhaseConfig, "encryption plugins need an *encrypt.Mux")
		}
		mux = m
	}

	var plugins []*encrypt.PluginProvider
	for _, mode := range slices.Sorted(maps.Keys(opts.Plugins)) {
		path := opts.Plugins[mode]
		if !filepath.IsAbs(path) && opts.BaseDir != "" {
			path = filepath.Join(opts.BaseDir, path)
		}
		p, err := encrypt.LoadPlugin(ctx, mode, path, nil)
		if err != nil {
			for _, q := range plugins {
				_ = q.Close(ctx)
			}
			return nil, nil, err
		}
		mux.Register(mode, p)
		plugins = append(plugins, p)
	}
	return mux, plugins, nil
}

func maxSize(root *component.Component, override int) (int, error) {
	if override > 0 {
		return override, nil
	}
	s, ok := root.Attr("max_size")
	if !ok {
		return DefaultMaxSize, nil
	}
	v, err := convert.StringToInt(s)
	if err != nil || v.Sign() <= 0 || !v.IsInt64() {
		return 0, errors.Structural(errors.PhaseParse, "max_size %q is not a positive size", s)
	}
	return int(v.Int64()), nil
}

// Close releases the encryption plugins.
func (im *Image) Close(ctx context.Context) error {
	var first error
	for _, p := range im.plugins {
		if err := p.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	im.plugins = nil
	return first
}

// Root returns the component tree.
func (im *Image) Root() *component.Component { return im.root }

// MaxSize returns the size of the build buffer.
func (im *Image) MaxSize() int { return im.maxSize }

// Build lays out, builds and validates the image.
func (im *Image) Build(ctx context.Context) (*Result, error) {
	root := im.root
	buf := buffer.New(im.maxSize, root.AlignByte())
	root.Reset()
	if err := root.BuildLayout(ctx, buf); err != nil {
		return nil, err
	}
	passes, err := im.build(ctx, buf)
	if err != nil {
		return nil, err
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	if !im.full {
		data = data[:root.Offset+root.Size]
	}
	res := &Result{Data: data, Digest: digest.FromBytes(data), Passes: passes}
	Logger().Info("image built",
		zap.String("root", root.Name),
		zap.Int("size", len(data)),
		zap.String("digest", res.Digest.String()),
		zap.Int("passes", passes))
	return res, nil
}

// build runs build passes until the tree is complete. A pass that leaves
// the same values pending as the one before is fatal.
func (im *Image) build(ctx context.Context, buf *buffer.Buffer) (int, error) {
	root := im.root
	var last []string
	for pass := 1; ; pass++ {
		if err := root.Build(ctx, buf); err != nil {
			return pass, err
		}
		if root.Built() {
			return pass, nil
		}
		paths := pendingPaths(im.env.TakePending())
		if len(paths) == 0 {
			return pass, errors.Structural(errors.PhaseBuild, "build of %s stopped with nothing pending", root.Name)
		}
		if slices.Equal(paths, last) || pass >= im.passes {
			return pass, errors.New(errors.PhaseBuild, errors.KindUnresolved).
				Value(paths).
				Detail("%d value(s) never resolved: %s", len(paths), strings.Join(paths, ", ")).
				Build()
		}
		Logger().Debug("retrying deferred values", zap.Int("pass", pass), zap.Strings("paths", paths))
		last = paths
	}
}

func pendingPaths(pending []*component.Component) []string {
	paths := make([]string, 0, len(pending))
	for _, c := range pending {
		paths = append(paths, c.Path())
	}
	slices.Sort(paths)
	return slices.Compact(paths)
}

// Decompose reads data into the tree and returns the number of bytes the
// layout covers. Values read by an earlier Decompose are dropped first;
// user edits are kept and take precedence on the next Build.
func (im *Image) Decompose(ctx context.Context, data []byte) (int, error) {
	root := im.root
	root.ForgetDecoded()
	root.Reset()
	buf, err := buffer.FromBytes(data, 0, root.AlignByte())
	if err != nil {
		return 0, errors.Wrap(errors.PhaseDecompose, errors.KindOutOfBounds, err, "load image")
	}
	n, err := root.Decompose(ctx, buf, 0)
	if err != nil {
		return 0, err
	}
	Logger().Info("image decomposed", zap.String("root", root.Name), zap.Int("size", n), zap.Int("input", len(data)))
	return n, nil
}

// Map lays the image out if needed and returns its map.
func (im *Image) Map(ctx context.Context) ([]component.MapEntry, error) {
	if !im.root.Laid() {
		im.root.Reset()
		if err := im.root.BuildLayout(ctx, buffer.New(im.maxSize, im.root.AlignByte())); err != nil {
			return nil, err
		}
	}
	return im.root.Map(), nil
}

// Lookup returns the component at path. Segments are child names; "it[3]"
// addresses entry 3 of an iterable and creates it if needed. The root's
// own name may lead the path.
func (im *Image) Lookup(path string) (*component.Component, error) {
	rest := strings.Trim(path, "/")
	if first, tail, _ := strings.Cut(rest, "/"); first == im.root.Name {
		rest = tail
	}
	cur := im.root
	for _, seg := range strings.Split(rest, "/") {
		if seg == "" {
			continue
		}
		next, err := cur.GetChild(seg)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// SetValue parses s according to the type of the component at path and
// records it as a user edit.
func (im *Image) SetValue(path, s string) error {
	c, err := im.Lookup(path)
	if err != nil {
		return err
	}
	return c.SetValueString(s)
}

// SaveSettings writes the user edits as a settings document.
func (im *Image) SaveSettings(w io.Writer) error {
	return im.root.SaveSettings(w)
}

// LoadSettings applies a settings document.
func (im *Image) LoadSettings(r io.Reader) error {
	return im.root.LoadSettings(r)
}

// Verify checks data against a content digest.
func Verify(data []byte, want digest.Digest) error {
	if err := want.Validate(); err != nil {
		return errors.Wrap(errors.PhaseDecompose, errors.KindInvalidData, err, "digest "+want.String())
	}
	v := want.Verifier()
	_, _ = v.Write(data)
	if !v.Verified() {
		return errors.New(errors.PhaseDecompose, errors.KindTamper).
			Value(want.String()).
			Detail("image digest is %s, want %s", want.Algorithm().FromBytes(data), want).
			Build()
	}
	return nil
}
