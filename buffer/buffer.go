// Package buffer provides the fixed-size byte region that layout passes
// build into and decompose from.
//
// A Buffer has a cursor like a file: components Seek to their offset and
// Read or Write from there. Its length never changes; every byte starts out
// as the fill byte so gaps between components read back as padding.
package buffer

import (
	"bytes"
	"fmt"
)

// RangeError reports an access outside [0, MaxSize).
type RangeError struct {
	Offset int
	Length int
	Limit  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("buffer: range [%#x, %#x) outside [0, %#x)", e.Offset, e.Offset+e.Length, e.Limit)
}

// Buffer is a fixed-size mutable byte region with a cursor.
type Buffer struct {
	data []byte
	pos  int
	fill byte
}

// New creates a buffer of maxSize bytes, each set to fill.
func New(maxSize int, fill byte) *Buffer {
	b := &Buffer{data: make([]byte, maxSize), fill: fill}
	b.Reset()
	return b
}

// FromBytes creates a buffer of maxSize bytes holding a copy of data. Bytes
// past len(data) are set to fill. A maxSize of zero means len(data).
func FromBytes(data []byte, maxSize int, fill byte) (*Buffer, error) {
	if maxSize == 0 {
		maxSize = len(data)
	}
	if len(data) > maxSize {
		return nil, &RangeError{Offset: 0, Length: len(data), Limit: maxSize}
	}
	b := New(maxSize, fill)
	copy(b.data, data)
	return b, nil
}

// MaxSize returns the fixed length of the buffer.
func (b *Buffer) MaxSize() int {
	return len(b.data)
}

// FillByte returns the byte unwritten regions hold.
func (b *Buffer) FillByte() byte {
	return b.fill
}

// Position returns the cursor.
func (b *Buffer) Position() int {
	return b.pos
}

// Seek moves the cursor. Seeking to MaxSize is allowed; anything beyond is not.
func (b *Buffer) Seek(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return &RangeError{Offset: pos, Limit: len(b.data)}
	}
	b.pos = pos
	return nil
}

// Read returns a copy of the next n bytes and advances the cursor.
func (b *Buffer) Read(n int) ([]byte, error) {
	out, err := b.ReadAt(b.pos, n)
	if err != nil {
		return nil, err
	}
	b.pos += n
	return out, nil
}

// ReadAt returns a copy of n bytes at off without moving the cursor.
func (b *Buffer) ReadAt(off, n int) ([]byte, error) {
	if err := b.check(off, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[off:off+n])
	return out, nil
}

// Write copies p at the cursor and advances it.
func (b *Buffer) Write(p []byte) error {
	if err := b.WriteAt(b.pos, p); err != nil {
		return err
	}
	b.pos += len(p)
	return nil
}

// WriteAt copies p at off without moving the cursor.
func (b *Buffer) WriteAt(off int, p []byte) error {
	if err := b.check(off, len(p)); err != nil {
		return err
	}
	copy(b.data[off:], p)
	return nil
}

// Fill repeats pattern over [off, off+n). An empty pattern uses the fill byte.
func (b *Buffer) Fill(off, n int, pattern []byte) error {
	if err := b.check(off, n); err != nil {
		return err
	}
	if len(pattern) == 0 {
		pattern = []byte{b.fill}
	}
	region := b.data[off : off+n]
	for i := range region {
		region[i] = pattern[i%len(pattern)]
	}
	return nil
}

// Reset refills the whole buffer and rewinds the cursor.
func (b *Buffer) Reset() {
	for i := range b.data {
		b.data[i] = b.fill
	}
	b.pos = 0
}

// Bytes returns a copy of the full buffer.
func (b *Buffer) Bytes() []byte {
	return bytes.Clone(b.data)
}

func (b *Buffer) check(off, n int) error {
	if off < 0 || n < 0 || off+n > len(b.data) {
		return &RangeError{Offset: off, Length: n, Limit: len(b.data)}
	}
	return nil
}
