package component

import (
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/elfscan"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

type elfInfo struct {
	info        *elfscan.Info
	err         error
	entrySymbol string
	path        string
	symbols     []string
	scanned     bool
}

func (c *Component) parseElf() error {
	e := &elfInfo{entrySymbol: c.node.Attrs["entry_symbol"]}
	for _, s := range strings.Split(c.node.Attrs["symbols"], ",") {
		if s = strings.TrimSpace(s); s != "" {
			e.symbols = append(e.symbols, s)
		}
	}
	c.elf = e
	if len(c.node.Children) > 0 {
		return errors.Structural(errors.PhaseParse, "elf_file cannot have children")
	}
	return nil
}

// scan parses the referenced image once. The result, including a failure,
// is kept until the path changes.
func (c *Component) scan() (*elfscan.Info, error) {
	v, err := c.resolveValue(formula.Options{AllowCalculate: true, AllowNone: true})
	if err != nil {
		return nil, err
	}
	path, ok := v.AsString()
	if !ok || path == "" {
		return nil, errors.Unresolved(errors.PhaseResolve, c.Path())
	}
	if !filepath.IsAbs(path) && c.env.BaseDir != "" {
		path = filepath.Join(c.env.BaseDir, path)
	}

	e := c.elf
	if e.scanned && e.path == path {
		return e.info, e.err
	}
	scanner := c.env.ELF
	if scanner == nil {
		scanner = elfscan.FileScanner{Logger: Logger()}
	}
	e.info, e.err = scanner.Scan(path, e.entrySymbol, e.symbols)
	e.scanned, e.path = true, path
	if e.err != nil {
		Logger().Warn("ELF scan failed", zap.String("path", path), zap.Error(e.err))
	}
	return e.info, e.err
}

func (c *Component) elfProperty(p formula.Property, arg string) (formula.Value, error) {
	if c.elf == nil {
		return formula.None(), errors.Unsupported(errors.PhaseResolve, p.String()+" of non-ELF component "+c.Path())
	}
	info, err := c.scan()
	if err != nil {
		return formula.None(), err
	}

	u := func(v uint64) (formula.Value, error) {
		return formula.Int64(int64(v)), nil
	}
	switch p {
	case formula.PropEntryAddress:
		return u(info.Entry)
	case formula.PropTextOffset:
		return u(info.Text.Offset)
	case formula.PropTextSize:
		return u(info.Text.Size)
	case formula.PropTextAddress:
		return u(info.Text.Address)
	case formula.PropDataOffset:
		return u(info.Data.Offset)
	case formula.PropDataSize:
		return u(info.Data.Size)
	case formula.PropDataAddress:
		return u(info.Data.Address)
	case formula.PropBssSize:
		return u(info.BssSize)
	case formula.PropText:
		return formula.Bytes(info.Text.Data), nil
	case formula.PropData:
		return formula.Bytes(info.Data.Data), nil
	case formula.PropSymbol:
		addr, ok := info.Symbols[arg]
		if !ok && !slices.Contains(c.elf.symbols, arg) {
			// Symbols read by formulas need not be listed up front.
			c.elf.symbols = append(c.elf.symbols, arg)
			c.elf.scanned = false
			if info, err = c.scan(); err != nil {
				c.elf.symbols = c.elf.symbols[:len(c.elf.symbols)-1]
				c.elf.scanned = false
				return formula.None(), err
			}
			addr, ok = info.Symbols[arg]
		}
		if !ok {
			return formula.None(), errors.NotFound(errors.PhaseResolve, "symbol "+arg+" in "+c.Path())
		}
		return u(addr)
	}
	return formula.None(), errors.Unsupported(errors.PhaseResolve, "property "+p.String())
}
