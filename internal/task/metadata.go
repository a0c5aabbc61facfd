package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Metadata is free-form structured data attached to a task or prompt.
//
// Values must be JSON-compatible: nil, bool, string, numbers, slices of those,
// and maps keyed by string. Integers must fit in int64. Serialization is
// encoding/json, whose key order is sorted; that order is the mapping's
// order on every read. Decoding yields int64 for integral numbers, float64
// otherwise, []any for arrays and map[string]any for objects.
type Metadata map[string]any

// Validate reports the first value that is not JSON-compatible.
func (m Metadata) Validate() error {
	for k, v := range m {
		if err := validateValue(reflect.ValueOf(v)); err != nil {
			return fmt.Errorf("metadata key %q: %w", k, err)
		}
	}
	return nil
}

func validateValue(v reflect.Value) error {
	if !v.IsValid() {
		return nil // nil interface
	}
	if v.Type() == reflect.TypeOf(json.Number("")) {
		return validateNumber(json.Number(v.String()))
	}
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v.Uint() > math.MaxInt64 {
			return fmt.Errorf("integer %d overflows int64", v.Uint())
		}
		return nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite number %v", f)
		}
		return nil
	case reflect.Interface:
		return validateValue(v.Elem())
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := validateValue(v.Index(i)); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("map key type %s is not string", v.Type().Key())
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := validateValue(iter.Value()); err != nil {
				return fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %s", v.Type())
	}
}

// validateNumber accepts numbers that decode back unchanged: integers within
// int64 and finite floats.
func validateNumber(n json.Number) error {
	if _, err := n.Int64(); err == nil {
		return nil
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) {
		return fmt.Errorf("invalid number %q", n.String())
	}
	if !strings.ContainsAny(n.String(), ".eE") {
		return fmt.Errorf("integer %s overflows int64", n)
	}
	return nil
}

// Encode returns the canonical JSON form. A nil map encodes as {}.
func (m Metadata) Encode() (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]any(m))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// DecodeMetadata parses a JSON object produced by Encode.
func DecodeMetadata(s string) (Metadata, error) {
	var raw map[string]any
	if err := decodeJSON(s, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("metadata is not an object")
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		out[k] = normalizeNumbers(v)
	}
	return out, nil
}

// Normalized returns the value Encode/DecodeMetadata would round-trip to.
func (m Metadata) Normalized() (Metadata, error) {
	enc, err := m.Encode()
	if err != nil {
		return nil, err
	}
	return DecodeMetadata(enc)
}

// Equal compares two metadata maps by canonical encoding.
func (m Metadata) Equal(other Metadata) bool {
	a, errA := m.Encode()
	b, errB := other.Encode()
	return errA == nil && errB == nil && a == b
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = cloneValue(vv)
		}
		return out
	case Metadata:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = cloneValue(vv)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}

func decodeJSON(s string, dst any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, vv := range x {
			x[k] = normalizeNumbers(vv)
		}
		return x
	case []any:
		for i, vv := range x {
			x[i] = normalizeNumbers(vv)
		}
		return x
	default:
		return v
	}
}
