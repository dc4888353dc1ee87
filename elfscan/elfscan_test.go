package elfscan

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/fwlayout/errors"
)

// buildELF assembles a 64-bit little-endian image with a text and a data
// load segment and no section headers.
func buildELF(t *testing.T, text, data []byte, bss uint64) []byte {
	t.Helper()
	const (
		ehsize = 64
		phsize = 56
	)
	textOff := uint64(ehsize + 2*phsize)
	dataOff := textOff + uint64(len(text))

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	hdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     0x8000_0004,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     2,
	}
	progs := []elf.Prog64{
		{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_X),
			Off:    textOff,
			Vaddr:  0x8000_0000,
			Paddr:  0x8000_0000,
			Filesz: uint64(len(text)),
			Memsz:  uint64(len(text)),
			Align:  4,
		},
		{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_W),
			Off:    dataOff,
			Vaddr:  0x2000_0000,
			Paddr:  0x2000_0000,
			Filesz: uint64(len(data)),
			Memsz:  uint64(len(data)) + bss,
			Align:  4,
		},
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		t.Fatal(err)
	}
	for _, p := range progs {
		if err := binary.Write(&buf, binary.LittleEndian, p); err != nil {
			t.Fatal(err)
		}
	}
	buf.Write(text)
	buf.Write(data)
	return buf.Bytes()
}

func TestScanReader(t *testing.T) {
	text := []byte{0x13, 0x00, 0x00, 0x00, 0x6f, 0x00, 0x00, 0x00}
	data := []byte{1, 2, 3, 4}
	img := buildELF(t, text, data, 12)

	info, err := ScanReader(bytes.NewReader(img), "", nil)
	if err != nil {
		t.Fatalf("ScanReader: %v", err)
	}

	if info.Entry != 0x8000_0004 {
		t.Errorf("Entry: got %#x, want 0x80000004", info.Entry)
	}
	if info.Text.Offset != 176 || info.Text.Size != 8 || info.Text.Address != 0x8000_0000 {
		t.Errorf("Text: got %+v", info.Text)
	}
	if !bytes.Equal(info.Text.Data, text) {
		t.Errorf("Text.Data: got %x", info.Text.Data)
	}
	if info.Data.Offset != 184 || info.Data.Size != 4 || info.Data.Address != 0x2000_0000 {
		t.Errorf("Data: got %+v", info.Data)
	}
	if !bytes.Equal(info.Data.Data, data) {
		t.Errorf("Data.Data: got %x", info.Data.Data)
	}
	if info.BssSize != 12 {
		t.Errorf("BssSize: got %d, want 12", info.BssSize)
	}
}

func TestScanMissingSymbol(t *testing.T) {
	img := buildELF(t, []byte{0, 0, 0, 0}, nil, 0)
	_, err := ScanReader(bytes.NewReader(img), "_start", nil)
	if errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("got %v, want not_found", err)
	}
}

func TestScanInvalid(t *testing.T) {
	if _, err := ScanReader(bytes.NewReader([]byte("not an elf")), "", nil); errors.KindOf(err) != errors.KindInvalidData {
		t.Errorf("garbage: got %v", err)
	}
	if _, err := (FileScanner{}).Scan("/nonexistent/fw.elf", "", nil); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("missing file: got %v", err)
	}
}

func TestFileScanner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fw.elf")
	if err := os.WriteFile(path, buildELF(t, []byte{1, 2, 3, 4}, []byte{5}, 0), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := FileScanner{}.Scan(path, "", nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if info.Text.Size != 4 || info.Data.Size != 1 {
		t.Errorf("got text %d data %d", info.Text.Size, info.Data.Size)
	}
}
