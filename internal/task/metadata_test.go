package task

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTrip(t *testing.T) {
	in := Metadata{"priority": 3, "tags": []string{"a", "b"}}

	enc, err := in.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"priority":3,"tags":["a","b"]}`, enc)

	out, err := DecodeMetadata(enc)
	require.NoError(t, err)
	assert.Equal(t, Metadata{"priority": int64(3), "tags": []any{"a", "b"}}, out)
	assert.True(t, in.Equal(out))
}

func TestMetadataNumbers(t *testing.T) {
	out, err := DecodeMetadata(`{"i":9007199254740993,"f":1.5,"e":1e3,"neg":-2}`)
	require.NoError(t, err)

	assert.Equal(t, int64(9007199254740993), out["i"])
	assert.Equal(t, 1.5, out["f"])
	assert.Equal(t, 1000.0, out["e"])
	assert.Equal(t, int64(-2), out["neg"])
}

func TestMetadataNested(t *testing.T) {
	in := Metadata{"outer": map[string]any{"inner": []any{1, "two", nil, true}}}

	norm, err := in.Normalized()
	require.NoError(t, err)
	assert.Equal(t, Metadata{
		"outer": map[string]any{"inner": []any{int64(1), "two", nil, true}},
	}, norm)
}

func TestMetadataEncodeNil(t *testing.T) {
	var m Metadata
	enc, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, "{}", enc)
	assert.True(t, m.Equal(Metadata{}))
}

func TestMetadataValidate(t *testing.T) {
	tests := []struct {
		name string
		m    Metadata
		ok   bool
	}{
		{"scalars", Metadata{"s": "x", "b": true, "n": nil, "i": 1, "u": uint8(2), "f": 2.5}, true},
		{"slices", Metadata{"a": []int{1, 2}, "b": []any{"x", map[string]any{"y": 1}}}, true},
		{"string map", Metadata{"m": map[string]string{"a": "b"}}, true},
		{"int keyed map", Metadata{"m": map[int]string{1: "b"}}, false},
		{"nan", Metadata{"f": math.NaN()}, false},
		{"inf", Metadata{"f": math.Inf(1)}, false},
		{"func", Metadata{"f": func() {}}, false},
		{"struct", Metadata{"s": struct{ A int }{1}}, false},
		{"nested bad", Metadata{"a": []any{map[string]any{"c": make(chan int)}}}, false},
		{"max int64 as uint64", Metadata{"u": uint64(math.MaxInt64)}, true},
		{"uint64 overflow", Metadata{"u": uint64(math.MaxUint64)}, false},
		{"nested uint overflow", Metadata{"a": []uint64{1, math.MaxInt64 + 1}}, false},
		{"json number", Metadata{"n": json.Number("12.5")}, true},
		{"json number overflow", Metadata{"n": json.Number("18446744073709551615")}, false},
		{"json number garbage", Metadata{"n": json.Number("abc")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMetadataIntegersSurviveRoundTrip(t *testing.T) {
	in := Metadata{"max": uint64(math.MaxInt64), "min": int64(math.MinInt64)}
	norm, err := in.Normalized()
	require.NoError(t, err)
	assert.Equal(t, Metadata{"max": int64(math.MaxInt64), "min": int64(math.MinInt64)}, norm)

	_, err = Metadata{"big": uint64(math.MaxUint64)}.Encode()
	assert.ErrorContains(t, err, "overflows int64")
}

func TestMetadataKeyOrderIsSorted(t *testing.T) {
	m := Metadata{"zeta": 1, "alpha": 2, "mid": map[string]any{"y": 1, "b": 2}}
	enc, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"b":2,"y":1},"zeta":1}`, enc)

	again, err := DecodeMetadata(enc)
	require.NoError(t, err)
	reenc, err := again.Encode()
	require.NoError(t, err)
	assert.Equal(t, enc, reenc)
}

func TestDecodeMetadataRejects(t *testing.T) {
	for _, in := range []string{`[]`, `"x"`, `null`, `{"a":1} {}`, `{`} {
		_, err := DecodeMetadata(in)
		assert.Error(t, err, in)
	}
}

func TestMetadataEqual(t *testing.T) {
	a := Metadata{"x": 1, "y": []string{"a"}}
	b := Metadata{"y": []any{"a"}, "x": int64(1)}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Metadata{"x": 2}))
}
