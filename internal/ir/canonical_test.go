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
		{"null", Null{}, "null"},
		{"nil", nil, "null"},
		{"text", Text("hello"), `"hello"`},
		{"empty text", Text(""), `""`},
		{"int", Int(42), "42"},
		{"min int64", Int(math.MinInt64), "-9223372036854775808"},
		{"real", Real(1.5), "1.5"},
		{"whole real", Real(2), "2.0"},
		{"tiny real", Real(1e-9), "1e-09"},
		{"blob", Blob{0x01, 0xab}, `{"blob":"01ab"}`},
		{"empty blob", Blob{}, `{"blob":""}`},
		{"bytes", []byte{0xff}, `"ff"`},
		{"nil bytes", []byte(nil), "null"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"nested", map[string]any{"a": []any{Int(1), Text("x")}}, `{"a":[1,"x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{"zebra": 1, "apple": 2, "Apple": 3, "banana": 4}
	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"Apple":3,"apple":2,"banana":4,"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+FF61 is a single UTF-16 unit (0xFF61); U+1F600 is a surrogate pair
	// starting 0xD83D. UTF-8 byte order would put the emoji last.
	obj := map[string]any{"｡": 1, "\U0001F600": 2}
	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"｡\":1}", string(result))
}

func TestMarshalCanonicalNFCKeys(t *testing.T) {
	// "e" + combining acute normalizes to U+00E9 in keys.
	obj := map[string]any{"cafe\u0301": 1}
	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"caf\u00e9\":1}", string(result))
}

func TestMarshalCanonicalTextValuesByteExact(t *testing.T) {
	result, err := MarshalCanonical(Text("cafe\u0301"))
	require.NoError(t, err)
	assert.Equal(t, "\"cafe\u0301\"", string(result))
}

func TestMarshalCanonicalEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"control", "a\x01b", `"a\u0001b"`},
		{"html literal", "<a>&", `"<a>&"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"paragraph separator literal", "a\u2029b", "\"a\u2029b\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	assert.Error(t, err, "bare floats must be wrapped")

	_, err = MarshalCanonical(Real(math.NaN()))
	assert.Error(t, err)

	_, err = MarshalCanonical(Real(math.Inf(1)))
	assert.Error(t, err)

	_, err = MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

func TestMarshalCanonicalChange(t *testing.T) {
	c := Change{
		Table:      "foo",
		PK:         MustPack(Int(1)),
		CID:        "b",
		Val:        Text("x"),
		ColVersion: 1,
		DBVersion:  2,
		SiteID:     []byte{0xaa},
		CL:         1,
	}
	result, err := MarshalCanonical(c)
	require.NoError(t, err)
	assert.Equal(t,
		`{"cid":"b","cl":1,"col_version":1,"db_version":2,"pk":"010901","site_id":"aa","table":"foo","val":"x"}`,
		string(result))

	viaJSON, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, result, viaJSON)
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	obj := map[string]any{"b": []any{Int(1), Blob{2}}, "a": map[string]any{"y": Null{}, "x": Real(0.5)}}
	first, err := MarshalCanonical(obj)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := MarshalCanonical(obj)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
