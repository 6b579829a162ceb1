package qsync

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Element is a parsed XML element. Only what the protocol needs is kept:
// the local name, attributes, child elements and character data.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Children []*Element
	// Text is the character data directly inside this element
	Text string
}

// Attr returns the value of the named attribute, or "" if it is absent.
func (e *Element) Attr(name string) string {
	v, _ := e.LookupAttr(name)
	return v
}

func (e *Element) LookupAttr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child element with the given name, or nil.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns the child elements with the given name in document
// order.
func (e *Element) ChildrenNamed(name string) []*Element {
	var children []*Element
	for _, c := range e.Children {
		if c.Name == name {
			children = append(children, c)
		}
	}
	return children
}

func isUTF8(encoding string) bool {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// ParseDocument parses an XML document and returns its root element. A
// non-UTF-8 encoding is applied to the input before parsing and overrides the
// document's own declaration.
func ParseDocument(r io.Reader, encoding string) (*Element, error) {
	dec := xml.NewDecoder(r)
	if isUTF8(encoding) {
		dec.CharsetReader = charset.NewReaderLabel
	} else {
		converted, err := charset.NewReaderLabel(encoding, r)
		if err != nil {
			return nil, fmt.Errorf("character encoding %q: %w", encoding, err)
		}
		dec = xml.NewDecoder(converted)
		// Already converted; ignore the declaration
		dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
			return input, nil
		}
	}

	var root *Element
	var stack []*Element
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				el.Attrs = make([]xml.Attr, len(t.Attr))
				copy(el.Attrs, t.Attr)
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else if root != nil {
				return nil, errors.New("document has more than one root element")
			} else {
				root = el
			}
			stack = append(stack, el)

		case xml.EndElement:
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("document has no root element")
	}
	return root, nil
}

// WriteIndent writes the element as indented XML.
func (e *Element) WriteIndent(w io.Writer) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := e.encode(enc); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (e *Element) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: e.Name}}
	for _, a := range e.Attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
			continue
		}
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name.Local}, Value: a.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if text := strings.TrimSpace(e.Text); text != "" {
		if err := enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	for _, c := range e.Children {
		if err := c.encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}
