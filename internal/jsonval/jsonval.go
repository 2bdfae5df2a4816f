// Package jsonval implements a dynamic JSON value tree that preserves
// object key insertion order end to end. Timeline and queue files are
// pretty-printed and expected to be human-diffable, so a plain
// map[string]any (whose iteration order Go deliberately randomises, and
// whose encoding/json marshal sorts keys) is not good enough.
package jsonval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a tagged JSON variant: Null, Bool, Number, String, Array, or
// Object. The zero Value is KindNull.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []*Value
	obj  *Object
}

// Object is an insertion-ordered string-keyed map of *Value.
type Object struct {
	keys   []string
	values map[string]*Value
}

// NewObject returns an empty, insertion-ordered object.
func NewObject() *Object {
	return &Object{values: make(map[string]*Value)}
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (*Value, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Set overwrites key's value if present, preserving its position;
// otherwise appends key to the end, preserving insertion order.
func (o *Object) Set(key string, v *Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Delete removes key if present, shifting later keys left.
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the object's keys in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys in the object.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Clone returns a deep copy of the object.
func (o *Object) Clone() *Object {
	n := NewObject()
	for _, k := range o.keys {
		n.Set(k, o.values[k].Clone())
	}
	return n
}

// ─── Constructors ───────────────────────────────────────────────────────────

func Null() *Value                  { return &Value{kind: KindNull} }
func Bool(b bool) *Value            { return &Value{kind: KindBool, b: b} }
func Number(n float64) *Value       { return &Value{kind: KindNumber, n: n} }
func String(s string) *Value        { return &Value{kind: KindString, s: s} }
func Array(items ...*Value) *Value  { return &Value{kind: KindArray, arr: items} }
func ObjectValue(o *Object) *Value  { return &Value{kind: KindObject, obj: o} }

// NewObjectValue returns a Value wrapping a fresh, empty Object.
func NewObjectValue() *Value { return ObjectValue(NewObject()) }

// ─── Accessors ───────────────────────────────────────────────────────────────

func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

func (v *Value) IsNull() bool { return v == nil || v.kind == KindNull }

func (v *Value) AsBool() bool { return v != nil && v.kind == KindBool && v.b }

func (v *Value) AsNumber() float64 {
	if v == nil || v.kind != KindNumber {
		return 0
	}
	return v.n
}

func (v *Value) AsString() string {
	if v == nil || v.kind != KindString {
		return ""
	}
	return v.s
}

// AsArray returns the underlying slice; nil if v is not an array.
func (v *Value) AsArray() []*Value {
	if v == nil || v.kind != KindArray {
		return nil
	}
	return v.arr
}

// AsObject returns the underlying object; nil if v is not an object.
func (v *Value) AsObject() *Object {
	if v == nil || v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Append adds an element to an array value in place. No-op on non-arrays.
func (v *Value) Append(elem *Value) {
	if v == nil || v.kind != KindArray {
		return
	}
	v.arr = append(v.arr, elem)
}

// ContainsString reports whether an array of strings already holds s.
func (v *Value) ContainsString(s string) bool {
	for _, e := range v.AsArray() {
		if e.AsString() == s {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of v.
func (v *Value) Clone() *Value {
	if v == nil {
		return Null()
	}
	switch v.kind {
	case KindArray:
		items := make([]*Value, len(v.arr))
		for i, e := range v.arr {
			items[i] = e.Clone()
		}
		return &Value{kind: KindArray, arr: items}
	case KindObject:
		return ObjectValue(v.obj.Clone())
	default:
		cp := *v
		return &cp
	}
}

// ─── Marshaling (order-preserving) ──────────────────────────────────────────

// MarshalJSON implements json.Marshaler, writing compact JSON that
// preserves object key insertion order.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) encode(buf *bytes.Buffer) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
	case KindString:
		enc, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(enc)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.obj.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.obj.values[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return errors.Errorf("jsonval: unknown kind %d", v.kind)
	}
	return nil
}

// MarshalIndent renders v as pretty JSON with a 4-space indent, matching
// the on-disk format every store file uses.
func (v *Value) MarshalIndent() ([]byte, error) {
	compact, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "    "); err != nil {
		return nil, errors.Wrap(err, "indent json")
	}
	return buf.Bytes(), nil
}

// ─── Unmarshaling (order-preserving) ────────────────────────────────────────

// Parse decodes a single JSON value from r, preserving object key order.
func Parse(r io.Reader) (*Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ParseBytes decodes a single JSON value from b, preserving object key order.
func ParseBytes(b []byte) (*Value, error) {
	return Parse(bytes.NewReader(b))
}

func decodeValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, errors.Errorf("jsonval: expected object key, got %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return ObjectValue(obj), nil
		case '[':
			var items []*Value
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return &Value{kind: KindArray, arr: items}, nil
		default:
			return nil, errors.Errorf("jsonval: unexpected delimiter %v", t)
		}
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, errors.Wrap(err, "jsonval: parse number")
		}
		return Number(f), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	default:
		return nil, errors.Errorf("jsonval: unexpected token %v (%T)", tok, tok)
	}
}

// String renders v for debugging (compact form); a marshal error is
// rendered as "<jsonval error: ...>".
func (v *Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<jsonval error: %v>", err)
	}
	return string(b)
}
