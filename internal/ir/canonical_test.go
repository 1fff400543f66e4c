package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"negative int", IRInt(-100), "-100"},
		{"zero", IRInt(0), "0"},
		{"max int64", IRInt(9223372036854775807), "9223372036854775807"},
		{"min int64", IRInt(-9223372036854775808), "-9223372036854775808"},
		{"bool true", IRBool(true), "true"},
		{"bool false", IRBool(false), "false"},
		{"null", IRNull{}, "null"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", NewIRObject(), "{}"},
		{"array of ints", IRArray{IRInt(1), IRInt(2), IRInt(3)}, "[1,2,3]"},
		{"simple object", NewIRObjectFromPairs(O("a", IRInt(1))), `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNumbers(t *testing.T) {
	// ECMAScript shortest-form serialization per RFC 8785
	tests := []struct {
		name     string
		input    float64
		expected string
	}{
		{"integral float", 1.0, "1"},
		{"fraction", 0.5, "0.5"},
		{"negative fraction", -12.25, "-12.25"},
		{"negative zero collapses", math.Copysign(0, -1), "0"},
		{"small magnitude plain", 0.000001, "0.000001"},
		{"below plain threshold", 0.0000001, "1e-7"},
		{"large magnitude plain", 1e21, "1e+21"},
		{"just under exponent threshold", 1e20, "100000000000000000000"},
		{"shortest round trip", 0.1, "0.1"},
		{"repeating binary", 1.0 / 3.0, "0.3333333333333333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRFloat(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(IRFloat(math.Inf(1)))
	assert.Error(t, err, "infinity must be rejected")

	_, err = MarshalCanonical(IRFloat(math.NaN()))
	assert.Error(t, err, "NaN must be rejected")
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	// Insertion order is zebra, alpha, beta - canonical output must sort
	obj := NewIRObjectFromPairs(
		O("zebra", IRInt(1)),
		O("alpha", IRInt(2)),
		O("beta", IRInt(3)),
	)

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := NewIRObjectFromPairs(
		O("z", NewIRObjectFromPairs(
			O("b", IRInt(1)),
			O("a", IRInt(2)),
		)),
		O("a", IRInt(3)),
	)

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000 - UTF-16 order differs from UTF-8
	// This is THE critical test for RFC 8785 compliance
	obj := NewIRObjectFromPairs(
		O("", IRInt(1)), // UTF-16: 0xE000
		O("𐀀", IRInt(2)),      // UTF-16: 0xD800, 0xDC00 (surrogate pair)
	)

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	// UTF-16 order: 0xD800 < 0xE000, so 𐀀 comes first
	expected := `{"𐀀":2,"` + "" + `":1}`
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    IRValue
		expected string
	}{
		{"less than", IRString("<Button>"), `"<Button>"`},
		{"greater than", IRString("</Button>"), `"</Button>"`},
		{"ampersand", IRString("a & b"), `"a & b"`},
		{"jsx fragment", IRString("<View style={styles.row}>"), `"<View style={styles.row}>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))

			// Verify NO HTML escaping sequences present
			assert.NotContains(t, string(result), `\u003c`) // <
			assert.NotContains(t, string(result), `\u003e`) // >
			assert.NotContains(t, string(result), `\u0026`) // &
		})
	}
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	// U+2028 and U+2029 must appear literally, not escaped
	result, err := MarshalCanonical(IRString("a b c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a b c\"", string(result))
	assert.NotContains(t, string(result), `\u2028`)
	assert.NotContains(t, string(result), `\u2029`)
}

func TestMarshalCanonicalLiteralBackslashU2028(t *testing.T) {
	// A literal backslash followed by the text "u2028" must stay escaped:
	// the backslash serializes as \\ and "u2028" stays as text.
	result, err := MarshalCanonical(IRString(`\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(result))
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// "é" as e + combining acute (NFD) must normalize to the composed form
	decomposed := "é"
	composed := "é"

	resultDecomposed, err := MarshalCanonical(IRString(decomposed))
	require.NoError(t, err)
	resultComposed, err := MarshalCanonical(IRString(composed))
	require.NoError(t, err)

	assert.Equal(t, string(resultComposed), string(resultDecomposed),
		"NFD and NFC input must canonicalize identically")
}

func TestMarshalCanonicalControlChars(t *testing.T) {
	result, err := MarshalCanonical(IRString("line1\nline2\ttab"))
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\ttab"`, string(result))
}

func TestMarshalCanonicalGoValues(t *testing.T) {
	// Plain Go values (decoded JSON) must canonicalize like their IR twins
	raw := map[string]any{
		"b": []any{int64(1), "two", nil},
		"a": 2.5,
	}

	result, err := MarshalCanonical(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2.5,"b":[1,"two",null]}`, string(result))
}

func TestMarshalCanonicalDeterminism(t *testing.T) {
	obj := NewIRObjectFromPairs(
		O("style", NewIRObjectFromPairs(
			O("padding", IRFloat(12.5)),
			O("color", IRString("#fff")),
		)),
		O("label", IRString("Save")),
	)

	first, err := MarshalCanonical(obj)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again),
			"canonical output must be byte-stable across calls")
	}
}
