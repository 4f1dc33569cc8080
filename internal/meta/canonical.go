package meta

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical serializes a value tree into a deterministic JSON
// encoding: object keys are sorted by UTF-16 code units, strings are
// NFC-normalized and encoded without HTML escaping, floats use the shortest
// round-trip form, times are RFC 3339 with nanoseconds, and bytes are
// standard base64. Two equal trees always produce identical output, which is
// what golden trace comparison relies on.
//
// Accepted inputs are Value types, map[string]any, []any, and plain Go
// scalars convertible by FromAny.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		return encodeCanonicalObject(buf, val)
	case []any:
		return encodeCanonicalArray(buf, val)
	default:
		mv, err := FromAny(v)
		if err != nil {
			return err
		}
		return encodeCanonicalValue(buf, mv)
	}
}

func encodeCanonicalValue(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
		return nil
	case String:
		return encodeCanonicalString(buf, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("cannot encode non-finite float %v", f)
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return nil
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case Time:
		return encodeCanonicalString(buf, time.Time(val).UTC().Format(time.RFC3339Nano))
	case Bytes:
		return encodeCanonicalString(buf, base64.StdEncoding.EncodeToString(val))
	default:
		return fmt.Errorf("unsupported canonical value type %T", v)
	}
}

// encodeCanonicalString writes a JSON string with NFC normalization applied
// first and HTML escaping disabled, so "<" stays "<" in the output.
func encodeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return fmt.Errorf("encode string: %w", err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

func encodeCanonicalArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeCanonical(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareKeysUTF16(keys[i], keys[j]) < 0
	})
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeCanonicalString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeCanonical(buf, obj[k]); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// compareKeysUTF16 orders keys by their UTF-16 code units, which differs
// from byte order for characters outside the BMP.
func compareKeysUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	default:
		return 0
	}
}
