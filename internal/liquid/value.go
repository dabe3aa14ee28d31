package liquid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a tagged tree of template data: nil, bool, number, string,
// array or object. The zero Value is nil.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string // string payload, or the literal text of a decoded number
	safe bool   // string is already HTML and must not be escaped again
	arr  []Value
	obj  *Object
}

// Object is a string-keyed map that remembers insertion order.
type Object struct {
	keys   []string
	fields map[string]Value
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Set stores v under key. A key keeps the position of its first insertion.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.fields[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.fields[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Nil returns the nil value.
func Nil() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int wraps an integer.
func Int(n int) Value { return Value{kind: KindNumber, n: float64(n)} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// SafeString wraps a string that is already valid HTML.
func SafeString(s string) Value { return Value{kind: KindString, s: s, safe: true} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// ObjectValue wraps an object.
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, obj: o}
}

// FromGo converts plain Go data (as produced by encoding/json or YAML
// decoding) into a Value. Map keys are sorted because Go maps are unordered.
func FromGo(in any) Value {
	switch x := in.(type) {
	case nil:
		return Nil()
	case Value:
		return x
	case *Object:
		return ObjectValue(x)
	case bool:
		return Bool(x)
	case string:
		return String(x)
	case int:
		return Int(x)
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case float32:
		return Number(float64(x))
	case float64:
		return Number(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String())
		}
		return Value{kind: KindNumber, n: f, s: x.String()}
	case time.Time:
		return String(x.Format(time.RFC3339))
	case []Value:
		return Array(x...)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = FromGo(item)
		}
		return Array(items...)
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return Array(items...)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			obj.Set(k, FromGo(x[k]))
		}
		return ObjectValue(obj)
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			obj.Set(k, String(x[k]))
		}
		return ObjectValue(obj)
	default:
		return String(fmt.Sprint(x))
	}
}

// Kind returns the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsSafe reports whether v is a string that must not be HTML-escaped.
func (v Value) IsSafe() bool { return v.kind == KindString && v.safe }

// Truthy follows Liquid rules: only nil and false are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.b
	default:
		return true
	}
}

// IsEmpty reports whether v is an empty string, array or object.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindString:
		return v.s == ""
	case KindArray:
		return len(v.arr) == 0
	case KindObject:
		return v.obj.Len() == 0
	default:
		return false
	}
}

// IsBlank reports whether v is nil, false, empty or whitespace only.
func (v Value) IsBlank() bool {
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return !v.b
	case KindString:
		return strings.TrimSpace(v.s) == ""
	default:
		return v.IsEmpty()
	}
}

// Float returns the numeric value. Strings holding a number convert.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// IsInteger reports whether v is a number without a fractional part.
func (v Value) IsInteger() bool {
	return v.kind == KindNumber && v.n == math.Trunc(v.n) && !math.IsInf(v.n, 0)
}

// Items returns the elements of an array, or nil.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Object returns the object payload, or nil.
func (v Value) Object() *Object {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Len returns the rune count of a string or the size of a collection.
func (v Value) Len() int {
	switch v.kind {
	case KindString:
		return utf8.RuneCountInString(v.s)
	case KindArray:
		return len(v.arr)
	case KindObject:
		return v.obj.Len()
	default:
		return 0
	}
}

// Index returns the i-th element of an array. Negative indexes count from
// the end. Out of range yields nil.
func (v Value) Index(i int) Value {
	if v.kind != KindArray {
		return Nil()
	}
	if i < 0 {
		i += len(v.arr)
	}
	if i < 0 || i >= len(v.arr) {
		return Nil()
	}
	return v.arr[i]
}

// Field returns a named property. Objects return their field; collections
// and strings also answer size, first and last.
func (v Value) Field(name string) Value {
	if v.kind == KindObject {
		if f, ok := v.obj.Get(name); ok {
			return f
		}
	}
	switch name {
	case "size":
		if v.kind == KindString || v.kind == KindArray || v.kind == KindObject {
			return Int(v.Len())
		}
	case "first":
		if v.kind == KindArray {
			return v.Index(0)
		}
	case "last":
		if v.kind == KindArray {
			return v.Index(-1)
		}
	}
	return Nil()
}

// Lookup indexes v with key: numbers index arrays, strings name fields.
func (v Value) Lookup(key Value) Value {
	switch key.kind {
	case KindNumber:
		if v.kind == KindArray {
			return v.Index(int(key.n))
		}
		return v.Field(key.String())
	case KindString:
		return v.Field(key.s)
	default:
		return Nil()
	}
}

// String renders v the way template output shows it.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		if v.s != "" {
			return v.s
		}
		return formatNumber(v.n)
	case KindString:
		return v.s
	case KindArray:
		var sb strings.Builder
		for _, item := range v.arr {
			sb.WriteString(item.String())
		}
		return sb.String()
	case KindObject:
		b, err := v.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Equal compares two values structurally. Numbers compare numerically.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if v.obj.Len() != o.obj.Len() {
			return false
		}
		for _, k := range v.obj.keys {
			other, ok := o.obj.Get(k)
			if !ok || !v.obj.fields[k].Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders numbers and strings. ok is false for other combinations.
func (v Value) Compare(o Value) (cmp int, ok bool) {
	switch {
	case v.kind == KindNumber && o.kind == KindNumber:
		switch {
		case v.n < o.n:
			return -1, true
		case v.n > o.n:
			return 1, true
		}
		return 0, true
	case v.kind == KindString && o.kind == KindString:
		return strings.Compare(v.s, o.s), true
	}
	return 0, false
}

// Contains implements the contains operator: substring for strings,
// membership for arrays, key presence for objects.
func (v Value) Contains(needle Value) bool {
	switch v.kind {
	case KindString:
		return strings.Contains(v.s, needle.String())
	case KindArray:
		for _, item := range v.arr {
			if item.Equal(needle) {
				return true
			}
		}
	case KindObject:
		_, ok := v.obj.Get(needle.String())
		return ok
	}
	return false
}

// MarshalJSON encodes v, keeping object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNil:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsInf(v.n, 0) || math.IsNaN(v.n) {
			return fmt.Errorf("liquid: cannot encode %v as JSON", v.n)
		}
		buf.WriteString(v.String())
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
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
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := v.obj.fields[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// UnmarshalJSON decodes any JSON document into v. Object key order and the
// literal text of numbers are preserved.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	parsed, err := decodeValue(dec)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("liquid: unexpected object key %v", keyTok)
				}
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ObjectValue(obj), nil
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Array(items...), nil
		}
		return Value{}, fmt.Errorf("liquid: unexpected delimiter %v", t)
	case json.Number:
		return FromGo(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Nil(), nil
	}
	return Value{}, fmt.Errorf("liquid: unexpected token %v", tok)
}
