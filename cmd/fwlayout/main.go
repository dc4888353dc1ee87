package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	digest "github.com/opencontainers/go-digest"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/fwlayout/component"
	"github.com/wippyai/fwlayout/config"
	"github.com/wippyai/fwlayout/encrypt"
	"github.com/wippyai/fwlayout/layout"
)

// setFlags collects repeated -set path=value flags.
type setFlags []string

func (s *setFlags) String() string { return strings.Join(*s, ",") }

func (s *setFlags) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("want path=value, got %q", v)
	}
	*s = append(*s, v)
	return nil
}

type options struct {
	cfg          *config.Config
	layoutFile   string
	output       string
	settings     string
	saveSettings string
	wantDigest   string
	sets         setFlags
	full         bool
	asYAML       bool
	color        bool
}

func main() {
	var (
		opts        options
		configFile  = flag.String("config", "", "Path to YAML configuration file")
		maxSize     = flag.Int("max-size", 0, "Override the image max_size")
		offlineDir  = flag.String("offline-dir", "", "Directory for offline encryption files")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive settings editor")
	)
	flag.StringVar(&opts.layoutFile, "layout", "", "Path to layout XML file")
	flag.StringVar(&opts.output, "o", "", "Output file (build: image, decompose: values)")
	flag.StringVar(&opts.settings, "settings", "", "Settings XML file to apply")
	flag.StringVar(&opts.saveSettings, "save-settings", "", "Write the resulting settings XML here")
	flag.StringVar(&opts.wantDigest, "digest", "", "Expected image digest (decompose)")
	flag.Var(&opts.sets, "set", "Set a value, path=value (repeatable)")
	flag.BoolVar(&opts.full, "full", false, "Write the whole max_size buffer")
	flag.BoolVar(&opts.asYAML, "yaml", false, "Print the map as YAML")
	flag.Parse()
	args := positional()

	if opts.layoutFile == "" || (len(args) == 0 && !*interactive) {
		fmt.Fprintln(os.Stderr, "Usage: fwlayout -layout <file.xml> build [-o image.bin] [-set path=value ...]")
		fmt.Fprintln(os.Stderr, "       fwlayout -layout <file.xml> decompose <image.bin> [-o values.yaml]")
		fmt.Fprintln(os.Stderr, "       fwlayout -layout <file.xml> map [-yaml]")
		fmt.Fprintln(os.Stderr, "       fwlayout -layout <file.xml> -i  (interactive editor)")
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *maxSize > 0 {
		cfg.MaxSize = *maxSize
	}
	if *offlineDir != "" {
		cfg.OfflineDir = *offlineDir
	}
	opts.cfg = cfg
	opts.color = useColor(cfg.Color)

	log, err := newLogger(cfg, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	component.SetLogger(log.Named("component"))
	layout.SetLogger(log.Named("layout"))
	encrypt.SetLogger(log.Named("encrypt"))

	if *interactive {
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(context.Background(), opts, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// positional collects the non-flag arguments, letting flags follow them.
func positional() []string {
	var pos []string
	for args := flag.Args(); len(args) > 0; args = flag.Args() {
		pos = append(pos, args[0])
		_ = flag.CommandLine.Parse(args[1:])
	}
	return pos
}

func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	return zc.Build()
}

func useColor(mode string) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// openImage loads the layout and applies the settings file and -set flags.
func openImage(ctx context.Context, opts options) (*layout.Image, error) {
	lo := opts.cfg.Options()
	lo.FullSize = opts.full
	im, err := layout.LoadFile(ctx, opts.layoutFile, lo)
	if err != nil {
		return nil, err
	}
	if opts.settings != "" {
		f, err := os.Open(opts.settings)
		if err != nil {
			_ = im.Close(ctx)
			return nil, fmt.Errorf("open settings: %w", err)
		}
		err = im.LoadSettings(f)
		f.Close()
		if err != nil {
			_ = im.Close(ctx)
			return nil, err
		}
	}
	for _, kv := range opts.sets {
		path, value, _ := strings.Cut(kv, "=")
		if err := im.SetValue(path, value); err != nil {
			_ = im.Close(ctx)
			return nil, err
		}
	}
	return im, nil
}

func run(ctx context.Context, opts options, args []string) error {
	im, err := openImage(ctx, opts)
	if err != nil {
		return err
	}
	defer im.Close(ctx)

	st := newStyles(opts.color)
	switch args[0] {
	case "build":
		err = runBuild(ctx, im, opts, st)
	case "decompose":
		if len(args) < 2 {
			return fmt.Errorf("decompose needs an image file")
		}
		err = runDecompose(ctx, im, opts, args[1], st)
	case "map":
		err = runMap(ctx, im, opts, st)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return err
	}
	if opts.saveSettings != "" {
		return writeFile(opts.saveSettings, im.SaveSettings)
	}
	return nil
}

func runBuild(ctx context.Context, im *layout.Image, opts options, st styles) error {
	res, err := im.Build(ctx)
	if err != nil {
		return err
	}
	out := opts.output
	if out == "" {
		out = strings.TrimSuffix(opts.layoutFile, ".xml") + ".bin"
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	fmt.Printf("%s %s\n", st.title.Render("Image"), out)
	fmt.Printf("Size:   %d bytes (0x%x)\n", len(res.Data), len(res.Data))
	fmt.Printf("Digest: %s\n", st.value.Render(res.Digest.String()))
	fmt.Printf("Passes: %d\n", res.Passes)
	return nil
}

func runDecompose(ctx context.Context, im *layout.Image, opts options, file string, st styles) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if opts.wantDigest != "" {
		if err := layout.Verify(data, digest.Digest(opts.wantDigest)); err != nil {
			return err
		}
	}
	n, err := im.Decompose(ctx, data)
	if err != nil {
		return err
	}
	if n < len(data) {
		fmt.Fprintf(os.Stderr, "%s %d trailing byte(s) not covered by the layout\n", st.warn.Render("warning:"), len(data)-n)
	}

	if opts.output == "" {
		return writeValues(os.Stdout, im.Root())
	}
	return writeFile(opts.output, func(w io.Writer) error { return writeValues(w, im.Root()) })
}

func runMap(ctx context.Context, im *layout.Image, opts options, st styles) error {
	entries, err := im.Map(ctx)
	if err != nil {
		return err
	}
	if opts.asYAML {
		return writeMap(os.Stdout, entries)
	}
	fmt.Println(st.title.Render("Map") + " " + opts.layoutFile)
	for _, e := range entries {
		fmt.Println(st.mapLine(e))
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
