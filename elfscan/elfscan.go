// Package elfscan extracts the code and data regions of an ELF image so that
// layout formulas can place them into a firmware image.
//
// The text region is the first loadable executable segment and the data
// region the first loadable writable one. Files are never modified.
package elfscan

import (
	"debug/elf"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/errors"
)

// Segment is a loadable region of the image.
type Segment struct {
	Data    []byte
	Offset  uint64
	Address uint64
	Size    uint64
}

// Info holds the properties of a scanned image.
type Info struct {
	Symbols map[string]uint64
	Text    Segment
	Data    Segment
	Entry   uint64
	BssSize uint64
}

// Scanner scans ELF images.
type Scanner interface {
	Scan(path, entrySymbol string, symbols []string) (*Info, error)
}

// FileScanner reads images from the filesystem.
type FileScanner struct {
	Logger *zap.Logger
}

func (s FileScanner) Scan(path, entrySymbol string, symbols []string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindNotFound, err, "open ELF image")
	}
	defer f.Close()

	info, err := ScanReader(f, entrySymbol, symbols)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Debug("scanned ELF image",
			zap.String("path", path),
			zap.Uint64("entry", info.Entry),
			zap.Uint64("text_size", info.Text.Size),
			zap.Uint64("data_size", info.Data.Size))
	}
	return info, nil
}

// ScanReader scans an image held in r. With a non-empty entrySymbol the
// entry address is that symbol's value instead of the header's.
func ScanReader(r io.ReaderAt, entrySymbol string, symbols []string) (*Info, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "parse ELF image")
	}
	defer f.Close()

	info := &Info{Entry: f.Entry, Symbols: make(map[string]uint64)}

	var haveText, haveData bool
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		switch {
		case p.Flags&elf.PF_X != 0 && !haveText:
			seg, err := readSegment(i, p)
			if err != nil {
				return nil, err
			}
			info.Text, haveText = seg, true
		case p.Flags&elf.PF_W != 0 && !haveData:
			seg, err := readSegment(i, p)
			if err != nil {
				return nil, err
			}
			info.Data, haveData = seg, true
			if p.Memsz > p.Filesz {
				info.BssSize = p.Memsz - p.Filesz
			}
		}
	}
	if !haveText {
		return nil, errors.InvalidData(errors.PhaseResolve, "ELF image has no executable load segment")
	}

	want := symbols
	if entrySymbol != "" {
		want = append([]string{entrySymbol}, symbols...)
	}
	if len(want) > 0 {
		syms, err := f.Symbols()
		if err != nil && !stderrors.Is(err, elf.ErrNoSymbols) {
			return nil, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err, "read ELF symbols")
		}
		all := make(map[string]uint64, len(syms))
		for _, s := range syms {
			all[s.Name] = s.Value
		}
		for _, name := range want {
			v, ok := all[name]
			if !ok {
				return nil, errors.NotFound(errors.PhaseResolve, fmt.Sprintf("ELF symbol %q", name))
			}
			info.Symbols[name] = v
		}
		if entrySymbol != "" {
			info.Entry = info.Symbols[entrySymbol]
		}
	}
	return info, nil
}

func readSegment(i int, p *elf.Prog) (Segment, error) {
	data := make([]byte, p.Filesz)
	if _, err := p.ReadAt(data, 0); err != nil && !stderrors.Is(err, io.EOF) {
		return Segment{}, errors.Wrap(errors.PhaseResolve, errors.KindInvalidData, err,
			fmt.Sprintf("read segment %d", i))
	}
	return Segment{
		Data:    data,
		Offset:  p.Off,
		Address: p.Vaddr,
		Size:    p.Filesz,
	}, nil
}
