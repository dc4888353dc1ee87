package component

import (
	"encoding/xml"
	"io"
	"slices"
	"strings"

	"github.com/wippyai/fwlayout/errors"
)

// Node is one element of a layout document.
type Node struct {
	Attrs    map[string]string
	Tag      string
	Children []*Node
	Line     int
}

// Attr returns the attribute value and whether it was present.
func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

// ReadNode decodes an XML document into a Node tree.
func ReadNode(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	var stack []*Node
	var root *Node

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.PhaseParse, errors.KindSyntax, err, "read layout XML")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := dec.InputPos()
			n := &Node{Tag: t.Name.Local, Attrs: make(map[string]string, len(t.Attr)), Line: line}
			for _, a := range t.Attr {
				n.Attrs[a.Name.Local] = strings.TrimSpace(a.Value)
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root != nil {
				return nil, errors.Structural(errors.PhaseParse, "document has more than one root element")
			} else {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}
	if root == nil {
		return nil, errors.Structural(errors.PhaseParse, "document has no root element")
	}
	return root, nil
}

// WriteNode encodes n as indented XML.
func WriteNode(w io.Writer, n *Node) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := writeNode(enc, n); err != nil {
		return err
	}
	return enc.Flush()
}

func writeNode(enc *xml.Encoder, n *Node) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Tag}}
	for _, k := range attrOrder(n.Attrs) {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: k}, Value: n.Attrs[k]})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := writeNode(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// attrOrder puts name and index first so settings files read naturally.
func attrOrder(attrs map[string]string) []string {
	var keys []string
	for _, k := range []string{"name", "index"} {
		if _, ok := attrs[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range attrs {
		if k != "name" && k != "index" {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}
