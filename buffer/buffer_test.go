package buffer

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewFilled(t *testing.T) {
	b := New(8, 0xff)
	if b.MaxSize() != 8 {
		t.Errorf("MaxSize: got %d, want 8", b.MaxSize())
	}
	if !bytes.Equal(b.Bytes(), bytes.Repeat([]byte{0xff}, 8)) {
		t.Errorf("initial contents: got %x", b.Bytes())
	}
}

func TestCursor(t *testing.T) {
	b := New(8, 0)

	if err := b.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if b.Position() != 3 {
		t.Errorf("position after write: got %d, want 3", b.Position())
	}
	if err := b.Seek(1); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got, err := b.Read(2)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte{2, 3}) {
		t.Errorf("Read: got %v, want [2 3]", got)
	}
	if b.Position() != 3 {
		t.Errorf("position after read: got %d, want 3", b.Position())
	}

	got[0] = 0x55
	if again, _ := b.ReadAt(1, 1); again[0] != 2 {
		t.Error("Read must return a copy")
	}

	if err := b.Seek(8); err != nil {
		t.Errorf("Seek to end: %v", err)
	}
	if err := b.Seek(9); err == nil {
		t.Error("Seek past end should fail")
	}
}

func TestBounds(t *testing.T) {
	b := New(4, 0)
	tests := []struct {
		name string
		op   func() error
	}{
		{"write past end", func() error { return b.WriteAt(2, []byte{1, 2, 3}) }},
		{"negative offset", func() error { _, err := b.ReadAt(-1, 1); return err }},
		{"read past end", func() error { _, err := b.ReadAt(3, 2); return err }},
		{"fill past end", func() error { return b.Fill(0, 5, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			var re *RangeError
			if !errors.As(err, &re) {
				t.Fatalf("got %v, want *RangeError", err)
			}
			if re.Limit != 4 {
				t.Errorf("Limit: got %d, want 4", re.Limit)
			}
		})
	}
}

func TestFill(t *testing.T) {
	b := New(8, 0xee)
	if err := b.Fill(1, 5, []byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	want := []byte{0xee, 0xaa, 0xbb, 0xaa, 0xbb, 0xaa, 0xee, 0xee}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("got %x, want %x", b.Bytes(), want)
	}

	if err := b.Fill(1, 2, nil); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if got, _ := b.ReadAt(1, 2); !bytes.Equal(got, []byte{0xee, 0xee}) {
		t.Errorf("default pattern: got %x", got)
	}
}

func TestFromBytesAndReset(t *testing.T) {
	b, err := FromBytes([]byte{1, 2}, 4, 0xff)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !bytes.Equal(b.Bytes(), []byte{1, 2, 0xff, 0xff}) {
		t.Errorf("got %x", b.Bytes())
	}

	_ = b.Seek(3)
	b.Reset()
	if b.Position() != 0 || !bytes.Equal(b.Bytes(), bytes.Repeat([]byte{0xff}, 4)) {
		t.Errorf("Reset: pos %d, data %x", b.Position(), b.Bytes())
	}

	if _, err := FromBytes(make([]byte, 5), 4, 0); err == nil {
		t.Error("oversized input should fail")
	}
	if b, _ := FromBytes([]byte{1, 2, 3}, 0, 0); b.MaxSize() != 3 {
		t.Errorf("zero max size: got %d, want 3", b.MaxSize())
	}
}
