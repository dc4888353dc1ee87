// Package convert converts between the textual forms used in layout XML and
// native integer, boolean and byte values.
//
// Integers are arbitrary precision (*big.Int): a scalar field may be wider
// than 64 bits, e.g. a 32-byte hash given as one hex literal.
package convert

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// StringToInt parses a decimal, 0x-prefixed hexadecimal or 0b-prefixed binary
// integer with an optional sign.
func StringToInt(s string) (*big.Int, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, fmt.Errorf("convert: empty integer")
	}
	neg := false
	switch t[0] {
	case '-':
		neg = true
		t = t[1:]
	case '+':
		t = t[1:]
	}
	base := 10
	switch {
	case strings.HasPrefix(t, "0x"), strings.HasPrefix(t, "0X"):
		base, t = 16, t[2:]
	case strings.HasPrefix(t, "0b"), strings.HasPrefix(t, "0B"):
		base, t = 2, t[2:]
	}
	if t == "" || strings.ContainsAny(t, "_+-") {
		return nil, fmt.Errorf("convert: invalid integer %q", s)
	}
	v, ok := new(big.Int).SetString(t, base)
	if !ok {
		return nil, fmt.Errorf("convert: invalid integer %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// StringToBool accepts "true" or "false" in any case.
func StringToBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("convert: invalid boolean %q", s)
}

// StringToBytes decodes a hex blob. An optional 0x prefix and whitespace
// between bytes are accepted.
func StringToBytes(s string) ([]byte, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(strings.TrimPrefix(t, "0x"), "0X")
	t = strings.Join(strings.Fields(t), "")
	b, err := hex.DecodeString(t)
	if err != nil {
		return nil, fmt.Errorf("convert: invalid hex blob %q: %w", s, err)
	}
	return b, nil
}

// BytesToString renders b as a lowercase hex blob without prefix.
func BytesToString(b []byte) string {
	return hex.EncodeToString(b)
}

// IntToString renders v in the canonical 0x form used by settings files.
func IntToString(v *big.Int) string {
	if v.Sign() < 0 {
		return "-0x" + new(big.Int).Neg(v).Text(16)
	}
	return "0x" + v.Text(16)
}

// IntToBytes renders v into exactly size bytes. Negative values require
// signed and are stored in two's complement. Values that do not fit are an
// error.
func IntToBytes(v *big.Int, size int, order binary.ByteOrder, signed bool) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("convert: negative size %d", size)
	}
	bits := uint(size) * 8
	u := new(big.Int).Set(v)
	if v.Sign() < 0 {
		if !signed {
			return nil, fmt.Errorf("convert: negative value %s for unsigned field", v)
		}
		if bits == 0 {
			return nil, fmt.Errorf("convert: value %s does not fit in %d byte(s)", v, size)
		}
		min := new(big.Int).Lsh(big.NewInt(1), bits-1)
		if v.Cmp(new(big.Int).Neg(min)) < 0 {
			return nil, fmt.Errorf("convert: value %s does not fit in %d byte(s)", v, size)
		}
		u.Add(u, new(big.Int).Lsh(big.NewInt(1), bits))
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), bits)
		if signed && bits > 0 {
			limit.Rsh(limit, 1)
		}
		if u.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("convert: value %s does not fit in %d byte(s)", v, size)
		}
	}
	out := make([]byte, size)
	u.FillBytes(out)
	if order == binary.LittleEndian {
		reverse(out)
	}
	return out, nil
}

// BytesToInt interprets b as an integer in the given byte order.
func BytesToInt(b []byte, order binary.ByteOrder, signed bool) *big.Int {
	be := make([]byte, len(b))
	copy(be, b)
	if order == binary.LittleEndian {
		reverse(be)
	}
	v := new(big.Int).SetBytes(be)
	if signed && len(be) > 0 && be[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(len(be))*8))
	}
	return v
}

// MinBytes returns the number of bytes needed to hold v unsigned (at least 1).
func MinBytes(v *big.Int) int {
	n := (v.BitLen() + 7) / 8
	if n == 0 {
		n = 1
	}
	return n
}

// ByteOrder parses "little" or "big".
func ByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("convert: invalid byte order %q", s)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
