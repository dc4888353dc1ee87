package convert

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"testing"
)

func TestStringToInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"42", 42},
		{"0x1E98", 0x1e98},
		{"0X1e98", 0x1e98},
		{"0b101", 5},
		{"-16", -16},
		{"-0x10", -16},
		{" 7 ", 7},
	}
	for _, tt := range tests {
		got, err := StringToInt(tt.in)
		if err != nil {
			t.Errorf("StringToInt(%q): %v", tt.in, err)
			continue
		}
		if got.Int64() != tt.want {
			t.Errorf("StringToInt(%q): got %s, want %d", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "0x", "12ab", "1_000", "--1", "0xZZ", "true"} {
		if _, err := StringToInt(bad); err == nil {
			t.Errorf("StringToInt(%q): expected error", bad)
		}
	}
}

func TestStringToIntWide(t *testing.T) {
	v, err := StringToInt("0x00112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatalf("StringToInt: %v", err)
	}
	if v.BitLen() != 120 {
		t.Errorf("BitLen: got %d, want 120", v.BitLen())
	}
}

func TestStringToBool(t *testing.T) {
	for in, want := range map[string]bool{"true": true, "TRUE": true, "False": false, " false ": false} {
		got, err := StringToBool(in)
		if err != nil || got != want {
			t.Errorf("StringToBool(%q): got %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := StringToBool("1"); err == nil {
		t.Error("StringToBool(\"1\"): expected error")
	}
}

func TestStringToBytes(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"", []byte{}},
		{"0011ff", []byte{0x00, 0x11, 0xff}},
		{"0x0011FF", []byte{0x00, 0x11, 0xff}},
		{"00 11\nff", []byte{0x00, 0x11, 0xff}},
	}
	for _, tt := range tests {
		got, err := StringToBytes(tt.in)
		if err != nil {
			t.Errorf("StringToBytes(%q): %v", tt.in, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("StringToBytes(%q): got %x, want %x", tt.in, got, tt.want)
		}
	}
	if _, err := StringToBytes("abc"); err == nil {
		t.Error("odd length blob should fail")
	}
	if BytesToString([]byte{0xde, 0xad}) != "dead" {
		t.Error("BytesToString mismatch")
	}
}

func TestIntToBytes(t *testing.T) {
	tests := []struct {
		name   string
		v      int64
		size   int
		order  binary.ByteOrder
		signed bool
		want   []byte
	}{
		{"big endian scalar", 0x1e98, 4, binary.BigEndian, false, []byte{0x00, 0x00, 0x1e, 0x98}},
		{"little endian scalar", 0x1e98, 4, binary.LittleEndian, false, []byte{0x98, 0x1e, 0x00, 0x00}},
		{"max u8", 255, 1, binary.LittleEndian, false, []byte{0xff}},
		{"negative s16", -2, 2, binary.LittleEndian, true, []byte{0xfe, 0xff}},
		{"min s8", -128, 1, binary.BigEndian, true, []byte{0x80}},
		{"zero width zero", 0, 0, binary.BigEndian, false, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IntToBytes(big.NewInt(tt.v), tt.size, tt.order, tt.signed)
			if err != nil {
				t.Fatalf("IntToBytes: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got %x, want %x", got, tt.want)
			}
			back := BytesToInt(got, tt.order, tt.signed)
			if back.Int64() != tt.v {
				t.Errorf("BytesToInt: got %s, want %d", back, tt.v)
			}
		})
	}
}

func TestIntToBytesOverflow(t *testing.T) {
	cases := []struct {
		v      int64
		size   int
		signed bool
	}{
		{256, 1, false},
		{128, 1, true},
		{-129, 1, true},
		{-1, 4, false},
		{-1, 0, true},
	}
	for _, c := range cases {
		if _, err := IntToBytes(big.NewInt(c.v), c.size, binary.LittleEndian, c.signed); err == nil {
			t.Errorf("IntToBytes(%d, %d, signed=%v): expected overflow", c.v, c.size, c.signed)
		}
	}
}

func TestMinBytes(t *testing.T) {
	for v, want := range map[int64]int{0: 1, 1: 1, 255: 1, 256: 2, 0x1e98: 2, 0x10000: 3} {
		if got := MinBytes(big.NewInt(v)); got != want {
			t.Errorf("MinBytes(%#x): got %d, want %d", v, got, want)
		}
	}
}

func TestByteOrder(t *testing.T) {
	if o, err := ByteOrder("big"); err != nil || o != binary.BigEndian {
		t.Errorf("ByteOrder(big): %v %v", o, err)
	}
	if o, err := ByteOrder("Little"); err != nil || o != binary.LittleEndian {
		t.Errorf("ByteOrder(Little): %v %v", o, err)
	}
	if _, err := ByteOrder("middle"); err == nil {
		t.Error("ByteOrder(middle): expected error")
	}
}

func TestIntToString(t *testing.T) {
	if s := IntToString(big.NewInt(0x1e98)); s != "0x1e98" {
		t.Errorf("got %q", s)
	}
	if s := IntToString(big.NewInt(-16)); s != "-0x10" {
		t.Errorf("got %q", s)
	}
}
