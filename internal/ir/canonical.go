package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON.
// CRITICAL: This is the ONLY serialization that should be used for
// checksum computation.
//
// Key differences from standard json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. Numbers use ECMAScript shortest-form serialization
//  5. NaN and infinities are rejected
func MarshalCanonical(v any) ([]byte, error) {
	return marshalCanonical(v)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case IRNull:
		return []byte("null"), nil
	case IRString:
		return marshalCanonicalString(string(val))
	case IRInt:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case IRFloat:
		return marshalCanonicalNumber(float64(val))
	case IRBool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case IRArray:
		return marshalCanonicalArray(val)
	case *IRObject:
		return marshalCanonicalObject(val)
	case string:
		return marshalCanonicalString(val)
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case float64:
		return marshalCanonicalNumber(val)
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			irElem, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return marshalCanonicalArray(arr)
	case map[string]any:
		obj := NewIRObject()
		for k, elem := range val {
			irElem, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj.Set(k, irElem)
		}
		return marshalCanonicalObject(obj)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// toIRValue converts a plain Go value to an IRValue.
func toIRValue(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		return val, nil
	case string:
		return IRString(val), nil
	case int64:
		return IRInt(val), nil
	case int:
		return IRInt(int64(val)), nil
	case bool:
		return IRBool(val), nil
	case float64:
		return IRFloat(val), nil
	case json.Number:
		s := string(val)
		if !strings.ContainsAny(s, ".eE") {
			if i, err := val.Int64(); err == nil {
				return IRInt(i), nil
			}
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", s)
		}
		return IRFloat(f), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			irElem, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		obj := NewIRObject()
		for k, elem := range val {
			irElem, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj.Set(k, irElem)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// marshalCanonicalNumber serializes a float using the ECMAScript
// Number-to-String algorithm required by RFC 8785: shortest round-trip
// digits, plain notation for exponents in (-7, 21], exponent notation
// outside that range. Negative zero serializes as "0".
func marshalCanonicalNumber(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite numbers are forbidden in canonical JSON: %v", f)
	}
	if f == 0 {
		return []byte("0"), nil
	}

	neg := f < 0
	abs := math.Abs(f)

	// Shortest round-trip digits via 'e' form: "d.ddde±xx"
	mant := strconv.FormatFloat(abs, 'e', -1, 64)
	eIdx := strings.IndexByte(mant, 'e')
	digits := strings.Replace(mant[:eIdx], ".", "", 1)
	exp, err := strconv.Atoi(mant[eIdx+1:])
	if err != nil {
		return nil, fmt.Errorf("parse float exponent %q: %w", mant, err)
	}

	k := len(digits) // significant digit count
	n := exp + 1     // position of the decimal point relative to digits

	var s string
	switch {
	case k <= n && n <= 21:
		s = digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		s = digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		s = "0." + strings.Repeat("0", -n) + digits
	default:
		m := digits[:1]
		if k > 1 {
			m += "." + digits[1:]
		}
		if n-1 >= 0 {
			s = m + "e+" + strconv.Itoa(n-1)
		} else {
			s = m + "e-" + strconv.Itoa(1-n)
		}
	}

	if neg {
		s = "-" + s
	}
	return []byte(s), nil
}

// marshalCanonicalString produces canonical JSON string with NFC normalization.
// CRITICAL: RFC 8785 compliance:
// - No HTML escaping (<, >, & are NOT escaped)
// - U+2028 (LINE SEPARATOR) and U+2029 (PARAGRAPH SEPARATOR) are NOT escaped
// - Only control characters (U+0000-U+001F), backslash, and quote are escaped
func marshalCanonicalString(s string) ([]byte, error) {
	// NFC normalize at serialization boundary
	normalized := norm.NFC.String(s)

	// Use encoder with HTML escaping disabled
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // CRITICAL: <, >, & must NOT be escaped
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds trailing newline, remove it
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	// Go's json.Encoder escapes U+2028/U+2029 for JavaScript compatibility,
	// which violates RFC 8785. Unescape them, but leave \\u2028 (literal
	// backslash followed by the text "u2028") untouched.
	result = unescapeU2028U2029(result)

	return result, nil
}

// unescapeU2028U2029 converts   and   escape sequences to literal
// characters per RFC 8785. A sequence is a real escape only when preceded by
// an even number of backslashes; odd means the backslash itself is escaped
// and the "u2028" is literal text.
func unescapeU2028U2029(data []byte) []byte {
	// Fast path: no \u202 sequences at all
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		isEscape := i+6 <= len(data) &&
			data[i] == '\\' && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9')

		if isEscape {
			trailing := 0
			for j := len(result) - 1; j >= 0 && result[j] == '\\'; j-- {
				trailing++
			}
			if trailing%2 == 0 {
				if data[i+5] == '8' {
					result = append(result, " "...)
				} else {
					result = append(result, " "...)
				}
				i += 6
				continue
			}
		}

		result = append(result, data[i])
		i++
	}
	return result
}

// marshalCanonicalArray marshals an array to canonical JSON.
func marshalCanonicalArray(arr IRArray) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// marshalCanonicalObject marshals an object to canonical JSON with RFC 8785
// key ordering. Insertion order is deliberately ignored here.
func marshalCanonicalObject(obj *IRObject) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	// CRITICAL: RFC 8785 UTF-16 code unit ordering
	keys := obj.SortedKeys()

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		// Marshal key (NFC normalized, no HTML escape)
		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		val, _ := obj.Get(k)
		valBytes, err := marshalCanonical(val)
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
