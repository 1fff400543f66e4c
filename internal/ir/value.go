package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// IRValue is a sealed interface representing the constrained value types a
// prop, state field, or list element may hold. Only IRNull, IRString, IRInt,
// IRFloat, IRBool, IRArray, and *IRObject implement it, so generators can
// switch exhaustively.
type IRValue interface {
	irValue() // Sealed - only these types implement it
}

// IRNull represents a JSON null value in the IR.
// Using an explicit type ensures all IRValues satisfy the sealed interface.
type IRNull struct{}

func (IRNull) irValue() {}

// MarshalJSON implements json.Marshaler for IRNull.
func (IRNull) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// IRString represents a string value in the IR.
type IRString string

func (IRString) irValue() {}

// IRInt represents an integer value in the IR. Always int64 to avoid
// float64 precision loss for values beyond 2^53.
type IRInt int64

func (IRInt) irValue() {}

// IRFloat represents a non-integer numeric value in the IR. UI props carry
// fractional values (opacity, flex factors, padding), so floats are first
// class here. NaN and infinities are rejected at serialization time.
type IRFloat float64

func (IRFloat) irValue() {}

// IRBool represents a boolean value in the IR.
type IRBool bool

func (IRBool) irValue() {}

// IRArray represents an ordered list of IRValue elements.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject is a string-keyed map of IRValue elements that preserves
// insertion order. Generators iterate Keys() to reproduce authoring order;
// canonical serialization uses SortedKeys() so checksums are independent
// of that order.
type IRObject struct {
	keys  []string
	items map[string]IRValue
}

func (*IRObject) irValue() {}

// NewIRString creates an IRString value.
func NewIRString(s string) IRString {
	return IRString(s)
}

// NewIRInt creates an IRInt value.
func NewIRInt(n int64) IRInt {
	return IRInt(n)
}

// NewIRFloat creates an IRFloat value.
func NewIRFloat(f float64) IRFloat {
	return IRFloat(f)
}

// NewIRBool creates an IRBool value.
func NewIRBool(b bool) IRBool {
	return IRBool(b)
}

// NewIRArray creates an IRArray from values.
func NewIRArray(vals ...IRValue) IRArray {
	return IRArray(vals)
}

// NewIRObject creates an empty ordered object.
func NewIRObject() *IRObject {
	return &IRObject{items: make(map[string]IRValue)}
}

// IRPair represents a key-value pair for typed IRObject construction.
type IRPair struct {
	Key   string
	Value IRValue
}

// NewIRObjectFromPairs creates an ordered object from typed key-value pairs,
// preserving the argument order.
// Example: NewIRObjectFromPairs(O("label", NewIRString("Save")), O("width", NewIRInt(80)))
func NewIRObjectFromPairs(pairs ...IRPair) *IRObject {
	obj := NewIRObject()
	for _, p := range pairs {
		obj.Set(p.Key, p.Value)
	}
	return obj
}

// O is a shorthand for IRPair for ergonomic construction.
// Example: NewIRObjectFromPairs(O("label", NewIRString("Save")))
func O(key string, value IRValue) IRPair {
	return IRPair{Key: key, Value: value}
}

// Set inserts or replaces the value for key. A new key is appended to the
// insertion order; replacing an existing key keeps its position. Returns the
// object for chaining.
func (obj *IRObject) Set(key string, value IRValue) *IRObject {
	if obj.items == nil {
		obj.items = make(map[string]IRValue)
	}
	if _, exists := obj.items[key]; !exists {
		obj.keys = append(obj.keys, key)
	}
	obj.items[key] = value
	return obj
}

// Get returns the value for key and whether it was present.
func (obj *IRObject) Get(key string) (IRValue, bool) {
	if obj == nil || obj.items == nil {
		return nil, false
	}
	v, ok := obj.items[key]
	return v, ok
}

// Delete removes key, reporting whether it was present.
func (obj *IRObject) Delete(key string) bool {
	if obj == nil || obj.items == nil {
		return false
	}
	if _, ok := obj.items[key]; !ok {
		return false
	}
	delete(obj.items, key)
	obj.keys = slices.DeleteFunc(obj.keys, func(k string) bool { return k == key })
	return true
}

// Len returns the number of entries.
func (obj *IRObject) Len() int {
	if obj == nil {
		return 0
	}
	return len(obj.keys)
}

// Keys returns the keys in insertion order. The returned slice is a copy.
func (obj *IRObject) Keys() []string {
	if obj == nil {
		return nil
	}
	return slices.Clone(obj.keys)
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func (obj *IRObject) SortedKeys() []string {
	if obj == nil {
		return nil
	}
	keys := slices.Clone(obj.keys)
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
// CRITICAL: Must use unicode/utf16.Encode for correct surrogate handling.
// Go's default string comparison uses UTF-8 which produces DIFFERENT order.
func compareKeysRFC8785(a, b string) int {
	// Convert entire strings to UTF-16 code units
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	// Compare code unit by code unit
	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	// If all compared units are equal, shorter string comes first
	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// MarshalJSON implements json.Marshaler for IRObject in insertion order.
// NOTE: This is NOT canonical marshaling - keys keep authoring order and
// strings may be HTML escaped. Use MarshalCanonical for checksums.
func (obj *IRObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range obj.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalIRValue(obj.items[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler for IRObject, preserving the
// document's key order. Uses a token decoder because map-based decoding
// would lose ordering.
func (obj *IRObject) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}

	obj.keys = nil
	obj.items = make(map[string]IRValue)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("IRObject key %q: %w", key, err)
		}
		val, err := unmarshalIRValue(raw)
		if err != nil {
			return fmt.Errorf("IRObject key %q: %w", key, err)
		}
		obj.Set(key, val)
	}

	// Consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for IRArray.
func (arr *IRArray) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*arr = make(IRArray, len(raw))
	for i, v := range raw {
		val, err := unmarshalIRValue(v)
		if err != nil {
			return fmt.Errorf("IRArray index %d: %w", i, err)
		}
		(*arr)[i] = val
	}
	return nil
}

// unmarshalIRValue decodes a JSON value into the appropriate IRValue type.
// A number without '.', 'e', or 'E' that fits in int64 decodes as IRInt;
// every other number decodes as IRFloat. Generators must treat IRInt and an
// integral IRFloat alike, since canonical text does not distinguish them.
func unmarshalIRValue(data []byte) (IRValue, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return IRString(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return IRBool(b), nil

	case 'n':
		// null becomes IRNull (not nil) to satisfy the sealed interface
		return IRNull{}, nil

	case '[':
		var arr IRArray
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		obj := NewIRObject()
		if err := json.Unmarshal(data, obj); err != nil {
			return nil, err
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		s := string(n)
		if !strings.ContainsAny(s, ".eE") {
			if i, err := n.Int64(); err == nil {
				return IRInt(i), nil
			}
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", s)
		}
		return IRFloat(f), nil
	}
}

// UnmarshalIRValue deserializes JSON into an IRValue. This is the primary
// API for external JSON parsing; it accepts the full union including null.
func UnmarshalIRValue(data []byte) (IRValue, error) {
	return unmarshalIRValue(data)
}

// MarshalIRValue marshals an IRValue to JSON bytes.
// Uses type-switch dispatch to handle all IRValue types correctly.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for checksums.
func MarshalIRValue(v IRValue) ([]byte, error) {
	switch val := v.(type) {
	case IRNull:
		return []byte("null"), nil
	case IRString:
		return json.Marshal(string(val))
	case IRInt:
		return json.Marshal(int64(val))
	case IRFloat:
		return json.Marshal(float64(val))
	case IRBool:
		return json.Marshal(bool(val))
	case IRArray:
		return marshalIRArray(val)
	case *IRObject:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown IRValue type: %T", v)
	}
}

// marshalIRArray marshals an IRArray to JSON bytes.
func marshalIRArray(arr IRArray) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalIRValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// EqualValues reports whether two IRValues are structurally equal. Object
// comparison ignores insertion order, matching canonical identity.
func EqualValues(a, b IRValue) bool {
	switch av := a.(type) {
	case IRNull:
		_, ok := b.(IRNull)
		return ok
	case IRString:
		bv, ok := b.(IRString)
		return ok && av == bv
	case IRInt:
		bv, ok := b.(IRInt)
		return ok && av == bv
	case IRFloat:
		bv, ok := b.(IRFloat)
		return ok && av == bv
	case IRBool:
		bv, ok := b.(IRBool)
		return ok && av == bv
	case IRArray:
		bv, ok := b.(IRArray)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !EqualValues(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *IRObject:
		bv, ok := b.(*IRObject)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, k := range av.keys {
			bval, present := bv.Get(k)
			if !present || !EqualValues(av.items[k], bval) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
