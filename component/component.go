// Package component implements the typed component tree that describes a
// binary image.
//
// A tree is parsed from a layout document (see Parse). Each element becomes
// a Component whose Kind selects its behaviour: plain fields and structs,
// transparent groups, bit registers, dense tables, sparse iterables and ELF
// backed leaves. The tree is then either laid out and built into a buffer:
//
//	root.Reset()
//	err := root.BuildLayout(ctx, buf)
//	err = root.Build(ctx, buf)
//
// or decomposed from one:
//
//	next, err := root.Decompose(ctx, buf, 0)
//
// Offsets, sizes, values and enable flags may be formulas over other
// components (see package formula). Values that cannot be resolved yet are
// deferred rather than failing; the layout package drives the retries.
package component

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/fwlayout/elfscan"
	"github.com/wippyai/fwlayout/encrypt"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

// Kind selects the behaviour of a component.
type Kind int

const (
	KindField Kind = iota
	KindGroup
	KindRegister
	KindBitfield
	KindTable
	KindIterable
	KindEntry
	KindElfFile
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindGroup:
		return "group"
	case KindRegister:
		return "register"
	case KindBitfield:
		return "bitfield"
	case KindTable:
		return "table"
	case KindIterable:
		return "iterable"
	case KindEntry:
		return "entry"
	case KindElfFile:
		return "elf_file"
	}
	return "unknown"
}

// ValueType is the declared type of a leaf value.
type ValueType int

const (
	TypeInt ValueType = iota
	TypeBytes
	TypeString
)

// Tristate is an enable flag that may not be known yet.
type Tristate int

const (
	Unknown Tristate = iota
	True
	False
)

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	}
	return "unknown"
}

// Env carries the collaborators shared by every component of a tree.
type Env struct {
	// Encrypter serves encrypted components. Nil disables inline encryption.
	Encrypter encrypt.Provider
	// ELF scans elf_file components. Defaults to elfscan.FileScanner.
	ELF elfscan.Scanner
	// OfflineDir holds the staging files of offline encryption.
	OfflineDir string
	// BaseDir resolves relative paths in the layout document.
	BaseDir string

	pending []*Component
}

// TakePending returns and clears the leaves whose value could not be
// resolved during the last Build.
func (e *Env) TakePending() []*Component {
	p := e.pending
	e.pending = nil
	return p
}

type formulas struct {
	size          string
	offset        string
	align         string
	calculate     string
	enabled       string
	padding       string
	fill          string
	validate      string
	validateError string
	dependency    string
	duplicates    string
	encrypt       string
	mode          string
	key           string
	derivation    string
	iv            string
	offline       string
	offlineName   string
	count         string
	sort          string
	indices       string
	bitOffset     string
}

// Component is one node of the layout tree.
type Component struct {
	DefaultValue formula.Value

	explicit formula.Value
	user     formula.Value
	decoded  formula.Value
	cached   formula.Value
	value    formula.Value

	order binary.ByteOrder
	env   *Env
	node  *Node

	Parent *Component

	byName map[string]*Component
	table  *tableInfo
	iter   *iterInfo
	elf    *elfInfo
	deps   []Dependency
	dups   []Dependency

	Name        string
	Label       string
	Description string
	Tag         string

	f formulas

	Children []*Component
	RawData  []byte
	iv       []byte
	// ivCreated marks an IV made up for layout that no build has used.
	ivCreated bool

	Kind   Kind
	vtype  ValueType
	Offset int
	Size   int

	contentSize int
	plainSize   int
	index       int
	bits        int
	bitPos      int

	alignByte byte

	Visible   bool
	ReadOnly  bool
	Removable bool
	Saveable  bool
	CalcOnly  bool

	signed     bool
	inert      bool
	userSet    bool
	decodedSet bool
	cachedOK   bool
	hasValue   bool
	resolving  bool
	sizeSet    bool
	laid       bool
	prepared   bool
	built      bool
	disabled   bool
	encrypted  bool
}

// Env returns the environment shared by the tree.
func (c *Component) Env() *Env { return c.env }

// Root returns the root of the tree.
func (c *Component) Root() *Component {
	r := c
	for r.Parent != nil {
		r = r.Parent
	}
	return r
}

// Path renders the component's location, e.g. "image/table[2]/crc".
func (c *Component) Path() string {
	return errors.JoinPath(c.pathNames())
}

func (c *Component) pathNames() []string {
	var names []string
	for x := c; x != nil; x = x.Parent {
		names = append(names, x.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// Attr returns an attribute of the element the component was parsed from.
func (c *Component) Attr(name string) (string, bool) {
	if c.node == nil {
		return "", false
	}
	return c.node.Attr(name)
}

// Index returns the entry index of a table or iterable entry.
func (c *Component) Index() int { return c.index }

// ByteOrder returns the effective byte order.
func (c *Component) ByteOrder() binary.ByteOrder { return c.order }

// AlignByte returns the effective padding byte.
func (c *Component) AlignByte() byte { return c.alignByte }

// Type returns the declared value type.
func (c *Component) Type() ValueType { return c.vtype }

// Laid reports whether offset and size are resolved.
func (c *Component) Laid() bool { return c.laid }

// Built reports whether the component's bytes are in the buffer.
func (c *Component) Built() bool { return c.built }

// Disabled reports whether the last layout or decomposition skipped the
// component.
func (c *Component) Disabled() bool { return c.disabled }

// Inert reports whether the component was disabled at parse time and has not
// been parsed further.
func (c *Component) Inert() bool { return c.inert }

// IV returns the captured initialisation vector of an encrypted component.
func (c *Component) IV() []byte { return c.iv }

// IsContainer reports whether the component's bytes come from children.
func (c *Component) IsContainer() bool {
	switch c.Kind {
	case KindGroup, KindTable, KindIterable, KindEntry:
		return true
	case KindField:
		return len(c.Children) > 0
	}
	return false
}

// transparent components share their children's names with their parent.
func (c *Component) transparent() bool {
	return c.Kind == KindGroup || c.Kind == KindRegister
}

// Child returns a direct or promoted child by name without synthesising
// iterable entries.
func (c *Component) Child(name string) (*Component, bool) {
	x, ok := c.byName[name]
	return x, ok
}

// Walk calls fn for c and every descendant in document order.
func (c *Component) Walk(fn func(*Component) bool) {
	if !fn(c) {
		return
	}
	for _, ch := range c.Children {
		ch.Walk(fn)
	}
}

// Reset clears layout and build state so the tree can be built again.
// User edits, decoded values and captured IVs survive.
func (c *Component) Reset() {
	c.Walk(func(x *Component) bool {
		x.laid, x.built, x.prepared, x.hasValue = false, false, false, false
		x.cached, x.cachedOK = formula.None(), false
		x.value = formula.None()
		x.disabled, x.encrypted = false, false
		x.Offset, x.Size, x.contentSize, x.plainSize = 0, 0, 0, 0
		x.sizeSet = false
		return true
	})
	if c.env != nil && c.Parent == nil {
		c.env.pending = nil
	}
}

// ForgetDecoded drops values read by an earlier Decompose.
func (c *Component) ForgetDecoded() {
	c.Walk(func(x *Component) bool {
		x.decoded, x.decodedSet = formula.None(), false
		x.RawData = nil
		return true
	})
}

func (c *Component) trace(err error, phase errors.Phase) error {
	return errors.Trace(err, phase, c.Name)
}

func (c *Component) String() string {
	return fmt.Sprintf("%s %s", c.Kind, c.Path())
}
