package notice

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// textKey holds element text when an XML element also has attributes or children.
const textKey = "#text"

type xmlNode struct {
	name     string
	attrs    []xml.Attr
	children []*xmlNode
	text     strings.Builder
}

// value converts an element into its JSON mirror: attributes and children
// become object keys, repeated children become arrays, and text is stored
// under textKey. Bare text elements collapse to a string.
func (n *xmlNode) value() any {
	text := strings.TrimSpace(n.text.String())
	attrs := n.attrs[:0:0]
	for _, a := range n.attrs {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Space == "http://www.w3.org/2001/XMLSchema-instance" {
			continue
		}
		attrs = append(attrs, a)
	}
	if len(attrs) == 0 && len(n.children) == 0 {
		return text
	}

	m := make(map[string]any, len(attrs)+len(n.children)+1)
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	for _, c := range n.children {
		v := c.value()
		switch existing := m[c.name].(type) {
		case nil:
			m[c.name] = v
		case []any:
			m[c.name] = append(existing, v)
		default:
			m[c.name] = []any{existing, v}
		}
	}
	if text != "" {
		m[textKey] = text
	}
	return m
}

// xmlToJSON decodes an XML document and returns the root element name and
// the root element's JSON mirror.
func xmlToJSON(raw []byte) (string, []byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false

	var (
		root  *xmlNode
		stack []*xmlNode
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, perrWrap("", "malformed XML", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local, attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					return "", nil, perr("", "multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) == 0 {
				return "", nil, perr("", "unbalanced end element %q", t.Name.Local)
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return "", nil, perr("", "empty XML document")
	}
	if len(stack) != 0 {
		return "", nil, perr("", "unterminated element %q", stack[len(stack)-1].name)
	}

	b, err := json.Marshal(root.value())
	if err != nil {
		return "", nil, perrWrap("", "normalize XML", err)
	}
	return root.name, b, nil
}

// normalize detects the serialization and returns the notice document as
// a gjson value. VOEvent roots are unwrapped so both forms share paths.
func normalize(raw []byte) (gjson.Result, Format, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return gjson.Result{}, "", perr("", "empty payload")
	}

	switch trimmed[0] {
	case '<':
		rootName, b, err := xmlToJSON(trimmed)
		if err != nil {
			return gjson.Result{}, "", err
		}
		if rootName != "VOEvent" {
			return gjson.Result{}, "", perr(rootName, "unexpected root element")
		}
		return gjson.ParseBytes(b), FormatXML, nil
	case '{':
		if !gjson.ValidBytes(trimmed) {
			return gjson.Result{}, "", perr("", "malformed JSON")
		}
		doc := gjson.ParseBytes(trimmed)
		if inner := doc.Get("VOEvent"); inner.IsObject() {
			doc = inner
		}
		return doc, FormatJSON, nil
	default:
		return gjson.Result{}, "", perr("", "unrecognised serialization")
	}
}

// text returns the text content of a normalized element.
func text(r gjson.Result) string {
	if r.IsObject() {
		return strings.TrimSpace(r.Get(`\#text`).String())
	}
	return strings.TrimSpace(r.String())
}

// eachItem calls fn for a single element or for every element of an array.
func eachItem(r gjson.Result, fn func(gjson.Result)) {
	switch {
	case !r.Exists():
	case r.IsArray():
		r.ForEach(func(_, v gjson.Result) bool {
			fn(v)
			return true
		})
	default:
		fn(r)
	}
}

// coerce turns a parameter string into a float64, bool or string attribute.
// NaN and infinities stay strings.
func coerce(s string) any {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil && finite(f) {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// scalar converts a JSON scalar to an attribute value.
func scalar(r gjson.Result) (any, bool) {
	switch r.Type {
	case gjson.Number:
		if f := r.Float(); finite(f) {
			return f, true
		}
		return r.Raw, true
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	case gjson.String:
		return r.String(), true
	default:
		return nil, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTime accepts ISO-8601 timestamps with or without a zone; zoneless
// values are UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
