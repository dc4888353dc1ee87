// Package fwlayout builds and decomposes binary firmware images described by
// declarative XML layouts.
//
// A layout names every field of an image: its size, offset, alignment,
// byte order and value. Sizes, offsets and values may be formulas over other
// fields, so headers can carry lengths, offsets and checksums of regions that
// follow them. The same layout reads an existing image back into values.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	fwlayout/
//	├── layout/      Load a layout, build or decompose an image (start here)
//	├── component/   The typed component tree: parse, lay out, build, decompose
//	├── formula/     Expression language for sizes, offsets and values
//	├── buffer/      Fixed size byte region with a cursor
//	├── convert/     Integer, byte and string conversions
//	├── encrypt/     AES modes and WASM encryption plugins
//	├── elfscan/     Section and symbol extraction from ELF files
//	├── config/      YAML tool configuration
//	├── errors/      Structured error types carrying the component path
//	└── cmd/fwlayout Command line tool and interactive settings editor
//
// # Quick Start
//
// Build an image:
//
//	img, err := layout.LoadFile(ctx, "image.xml", layout.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer img.Close(ctx)
//
//	if err := img.SetValue("header/version", "3"); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := img.Build(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("image.bin", res.Data, 0o644)
//
// Read it back:
//
//	n, err := img.Decompose(ctx, data)
//	c, _ := img.Lookup("header/version")
//	v, _ := c.Value()
//
// # Layout Documents
//
//	<layout name="image" byte_order="big" max_size="0x10000">
//	  <field name="crc" size="4" calculate="crc32(body)"/>
//	  <field name="len" size="2" calculate="size(body)"/>
//	  <group name="body" align="16">
//	    <field name="version" size="1" value="1"/>
//	    <field name="name" type="string" size="16" value="boot"/>
//	  </group>
//	</layout>
//
// Values that depend on bytes not yet built, like the checksum above, are
// deferred and filled in on a later build pass.
//
// # Thread Safety
//
// A component tree is not safe for concurrent use. Load one Image per
// goroutine.
package fwlayout
