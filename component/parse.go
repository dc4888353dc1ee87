package component

import (
	"encoding/binary"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

const (
	maxLabelLen       = 64
	maxDescriptionLen = 1024
	defaultAlignByte  = 0xFF
)

var kindByTag = map[string]Kind{
	"layout":    KindField,
	"field":     KindField,
	"component": KindField,
	"group":     KindGroup,
	"register":  KindRegister,
	"bitfield":  KindBitfield,
	"table":     KindTable,
	"iterable":  KindIterable,
	"elf_file":  KindElfFile,
}

// Parse reads a layout document and builds its component tree.
func Parse(r io.Reader, env *Env) (*Component, error) {
	n, err := ReadNode(r)
	if err != nil {
		return nil, err
	}
	return ParseNode(n, env)
}

// ParseNode builds a component tree from an already decoded document.
func ParseNode(n *Node, env *Env) (*Component, error) {
	if env == nil {
		env = &Env{}
	}
	c, err := parse(n, nil, env)
	if err != nil {
		return nil, err
	}
	Logger().Debug("parsed layout", zap.String("root", c.Name), zap.Int("components", countComponents(c)))
	return c, nil
}

func countComponents(c *Component) int {
	n := 0
	c.Walk(func(*Component) bool { n++; return true })
	return n
}

func parse(n *Node, parent *Component, env *Env) (*Component, error) {
	c, err := newComponent(n, parent, env)
	if err != nil {
		return nil, err
	}
	if c.inert {
		return c, nil
	}
	if err := c.parseBody(); err != nil {
		return nil, c.trace(err, errors.PhaseParse)
	}
	return c, nil
}

// newComponent handles identity, inherited attributes, GUI hints and the
// parse-time enable check. The rest of the node is parsed by parseBody
// unless the component turns out inert.
func newComponent(n *Node, parent *Component, env *Env) (*Component, error) {
	kind, ok := kindByTag[n.Tag]
	if !ok {
		return nil, errors.Structural(errors.PhaseParse, "line %d: unknown element <%s>", n.Line, n.Tag)
	}
	if kind == KindBitfield && (parent == nil || parent.Kind != KindRegister) {
		return nil, errors.Structural(errors.PhaseParse, "line %d: <bitfield> outside <register>", n.Line)
	}
	if kind != KindBitfield && parent != nil && parent.Kind == KindRegister {
		return nil, errors.Structural(errors.PhaseParse, "line %d: <register> may only hold <bitfield>", n.Line)
	}

	c := &Component{
		Tag:       n.Tag,
		Kind:      kind,
		Parent:    parent,
		node:      n,
		env:       env,
		byName:    make(map[string]*Component),
		order:     binary.LittleEndian,
		alignByte: defaultAlignByte,
		Visible:   true,
		Saveable:  true,
	}
	if parent != nil {
		c.order, c.alignByte, c.signed = parent.order, parent.alignByte, parent.signed
	}

	c.Name = n.Attrs["name"]
	if c.Name == "" && parent == nil {
		c.Name = n.Tag
	}
	if err := c.parseIdentity(); err != nil {
		return nil, err
	}
	if err := c.parseInherited(); err != nil {
		return nil, c.trace(err, errors.PhaseParse)
	}
	if err := c.parseHints(); err != nil {
		return nil, c.trace(err, errors.PhaseParse)
	}

	// Parse-time evaluation is best effort: errors and unknowns leave the
	// component fully parsed and the decision to layout.
	c.f.enabled = n.Attrs["enabled"]
	if c.f.enabled != "" && !c.CalcOnly {
		v, err := formula.Evaluate(c.f.enabled, c, formula.Options{AllowNone: true})
		if err == nil && !v.IsNone() && !v.Truthy() {
			c.inert = true
		}
	}
	return c, nil
}

func (c *Component) parseIdentity() error {
	switch {
	case c.Name == "":
		return errors.Structural(errors.PhaseParse, "line %d: <%s> without name", c.node.Line, c.Tag)
	case strings.ContainsFunc(c.Name, unicode.IsSpace):
		return errors.Structural(errors.PhaseParse, "name %q contains whitespace", c.Name)
	case strings.ContainsAny(c.Name, "/[]()"):
		return errors.Structural(errors.PhaseParse, "name %q contains a reserved character", c.Name)
	}

	c.Label = c.Name
	if l, ok := c.node.Attr("label"); ok {
		c.Label = l
	}
	c.Description = c.node.Attrs["description"]
	if utf8.RuneCountInString(c.Label) > maxLabelLen {
		return errors.Structural(errors.PhaseParse, "%s: label longer than %d characters", c.Name, maxLabelLen)
	}
	if utf8.RuneCountInString(c.Description) > maxDescriptionLen {
		return errors.Structural(errors.PhaseParse, "%s: description longer than %d characters", c.Name, maxDescriptionLen)
	}
	return nil
}

func (c *Component) parseInherited() error {
	if s, ok := c.node.Attr("byte_order"); ok {
		o, err := convert.ByteOrder(s)
		if err != nil {
			return errors.Wrap(errors.PhaseParse, errors.KindStructural, err, "byte_order")
		}
		c.order = o
	}
	if s, ok := c.node.Attr("align_byte"); ok {
		v, err := convert.StringToInt(s)
		if err != nil || v.Sign() < 0 || v.BitLen() > 8 {
			return errors.Structural(errors.PhaseParse, "align_byte %q is not a byte", s)
		}
		c.alignByte = byte(v.Uint64())
	}
	if s, ok := c.node.Attr("signed"); ok {
		b, err := convert.StringToBool(s)
		if err != nil {
			return errors.Wrap(errors.PhaseParse, errors.KindStructural, err, "signed")
		}
		c.signed = b
	}
	return nil
}

func (c *Component) parseHints() error {
	flags := []struct {
		attr string
		dst  *bool
	}{
		{"visible", &c.Visible},
		{"read_only", &c.ReadOnly},
		{"removable", &c.Removable},
		{"save", &c.Saveable},
		{"calc_only", &c.CalcOnly},
	}
	for _, fl := range flags {
		s, ok := c.node.Attr(fl.attr)
		if !ok {
			continue
		}
		b, err := convert.StringToBool(s)
		if err != nil {
			return errors.Wrap(errors.PhaseParse, errors.KindStructural, err, fl.attr)
		}
		*fl.dst = b
	}
	return nil
}

// parseBody parses formulas, the declared value and children, then runs
// structural validation.
func (c *Component) parseBody() error {
	n := c.node
	a := n.Attrs
	c.inert = false

	for attr, dst := range c.f.fields() {
		*dst = a[attr]
	}

	if err := c.parseType(); err != nil {
		return err
	}
	if s, ok := a["value"]; ok {
		v, err := c.parseLiteral(s)
		if err != nil {
			return err
		}
		c.explicit = v
		c.DefaultValue = v
	}

	var err error
	if c.f.dependency != "" {
		if c.deps, err = parseDependencies(c.f.dependency); err != nil {
			return err
		}
	}
	if c.f.duplicates != "" {
		if c.dups, err = parseDependencies(c.f.duplicates); err != nil {
			return err
		}
	}

	switch c.Kind {
	case KindTable:
		err = c.parseTable()
	case KindIterable:
		err = c.parseIterable()
	case KindElfFile:
		err = c.parseElf()
	case KindBitfield:
		err = c.parseBitfield()
	default:
		err = c.parseChildren(n.Children)
	}
	if err != nil {
		return err
	}
	return c.validateStructure()
}

// fields maps attribute names to the formula slots they fill.
func (f *formulas) fields() map[string]*string {
	return map[string]*string{
		"size":               &f.size,
		"offset":             &f.offset,
		"align":              &f.align,
		"calculate":          &f.calculate,
		"enabled":            &f.enabled,
		"padding":            &f.padding,
		"fill":               &f.fill,
		"validate":           &f.validate,
		"validate_error":     &f.validateError,
		"dependency":         &f.dependency,
		"duplicates":         &f.duplicates,
		"encrypt":            &f.encrypt,
		"encryption_mode":    &f.mode,
		"encryption_key":     &f.key,
		"key_derivation":     &f.derivation,
		"initial_vector":     &f.iv,
		"offline_encryption": &f.offline,
		"offline_name":       &f.offlineName,
		"count":              &f.count,
		"sort":               &f.sort,
		"indices":            &f.indices,
		"bit_offset":         &f.bitOffset,
	}
}

func (c *Component) parseType() error {
	if c.Kind == KindElfFile {
		c.vtype = TypeString
		return nil
	}
	switch t := c.node.Attrs["type"]; t {
	case "", "int":
		c.vtype = TypeInt
	case "bytes":
		c.vtype = TypeBytes
	case "string":
		c.vtype = TypeString
	default:
		return errors.Structural(errors.PhaseParse, "unknown type %q", t)
	}
	return nil
}

// parseLiteral converts s according to the declared type.
func (c *Component) parseLiteral(s string) (formula.Value, error) {
	switch c.vtype {
	case TypeBytes:
		b, err := convert.StringToBytes(s)
		if err != nil {
			return formula.None(), errors.Wrap(errors.PhaseParse, errors.KindStructural, err, "value")
		}
		return formula.Bytes(b), nil
	case TypeString:
		return formula.String(s), nil
	}
	if b, err := convert.StringToBool(s); err == nil {
		return formula.Bool(b), nil
	}
	v, err := convert.StringToInt(s)
	if err != nil {
		return formula.None(), errors.Wrap(errors.PhaseParse, errors.KindStructural, err, "value")
	}
	return formula.Int(v), nil
}

func (c *Component) parseChildren(nodes []*Node) error {
	for _, cn := range nodes {
		child, err := parse(cn, c, c.env)
		if err != nil {
			return err
		}
		if err := c.addChild(child); err != nil {
			return err
		}
	}
	return nil
}

// addChild appends child and registers its name, plus the names a
// transparent child promotes.
func (c *Component) addChild(child *Component) error {
	if err := c.register(child.Name, child); err != nil {
		return err
	}
	c.Children = append(c.Children, child)
	if child.transparent() {
		return c.promote(child)
	}
	return nil
}

func (c *Component) promote(child *Component) error {
	for name, x := range child.byName {
		if strings.HasPrefix(name, "[") {
			continue
		}
		if err := c.register(name, x); err != nil {
			return err
		}
	}
	return nil
}

func (c *Component) register(name string, x *Component) error {
	if prev, ok := c.byName[name]; ok && prev != x {
		return errors.Structural(errors.PhaseParse, "duplicate name %q in %s", name, c.Name)
	}
	c.byName[name] = x
	// A transparent container's names are visible one level up as well.
	if c.transparent() && c.Parent != nil && c.Parent.byName[c.Name] == c && !strings.HasPrefix(name, "[") {
		return c.Parent.register(name, x)
	}
	return nil
}

// materialize parses an inert component once something needs its body.
func (c *Component) materialize() error {
	if !c.inert {
		return nil
	}
	Logger().Debug("parsing inert component", zap.String("path", c.Path()))
	if err := c.parseBody(); err != nil {
		return c.trace(err, errors.PhaseParse)
	}
	if c.transparent() && c.Parent != nil {
		return c.Parent.promote(c)
	}
	return nil
}

func (c *Component) validateStructure() error {
	if c.f.encrypt != "" && c.f.mode == "" && c.f.offline == "" {
		return errors.Structural(errors.PhaseParse, "encrypt requires encryption_mode")
	}
	switch c.f.offline {
	case "", "load", "save":
	default:
		return errors.Structural(errors.PhaseParse, "offline_encryption must be load or save, got %q", c.f.offline)
	}
	if c.f.offset != "" && c.f.align != "" {
		return errors.Structural(errors.PhaseParse, "offset and align are mutually exclusive")
	}
	if c.f.sort != "" && c.f.indices != "" {
		return errors.Structural(errors.PhaseParse, "sort and indices are mutually exclusive")
	}
	if c.f.count != "" && c.Kind != KindTable && c.Kind != KindIterable {
		return errors.Structural(errors.PhaseParse, "count is only valid on table and iterable")
	}
	if c.f.duplicates != "" && c.IsContainer() {
		return errors.Structural(errors.PhaseParse, "duplicates is only valid on leaf components")
	}
	if c.Kind == KindTable && c.f.count == "" {
		return errors.Structural(errors.PhaseParse, "table requires count")
	}

	sources := 0
	for _, s := range []bool{!c.explicit.IsNone(), c.f.calculate != "", c.IsContainer() || c.Kind == KindRegister && len(c.Children) > 0} {
		if s {
			sources++
		}
	}
	if sources > 1 {
		return errors.Structural(errors.PhaseParse, "value, calculate and children are mutually exclusive")
	}
	return nil
}
