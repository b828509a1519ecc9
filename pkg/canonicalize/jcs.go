// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing of HELM artifacts.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// Key features:
// 1. Map keys are sorted lexicographically by UTF-8 bytes.
// 2. HTML escaping is DISABLED (unlike standard json.Marshal).
// 3. Numbers with no fractional part are written as integers; others are rounded to 10 decimal places with trailing zeros trimmed (see marshalNumber).
func JCS(v interface{}) ([]byte, error) {
	// Optimization: If v is a struct, standard json.Marshal might be needed to handle tags,
	// but it escapes HTML.
	// Strategy: Marshal to intermediate JSON (standard), then Decode to interface{}, then Recursive Marshal.
	// This ensures we respect json tags but override formatting/order.

	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	var generic interface{}
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: intermediate decode failed: %w", err)
	}

	return marshalRecursive(generic)
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 hash of raw bytes and returns hex string
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JCSString returns the JCS canonical form as a string
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalRecursive(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // CRITICAL: RFC 8785 requires no HTML escaping

	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return marshalNumber(t)
	case string:
		if err := enc.Encode(t); err != nil {
			return nil, err
		}
		// json.Encoder adds a newline, we must trim it
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	case []interface{}:
		buf.Reset()
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalRecursive(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]interface{}:
		buf.Reset()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			// Encode Key (Strings must be quoted and escaped, but not HTML escaped)
			kb, err := marshalRecursive(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')

			// Encode Value
			vb, err := marshalRecursive(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		// Fallback for unexpected types (like float64 if json.Number wasn't used)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	}
}

// marshalNumber applies the gateway's numeric canonicalization rule: a
// number with no fractional part is written as an integer (no decimal
// point, no exponent); a number with a fractional part is rounded to 10
// decimal places and written without trailing zeros. This keeps
// record_hash/manifest_hash stable across encoders that might otherwise
// serialize 5 and 5.0 differently.
func marshalNumber(n json.Number) ([]byte, error) {
	if i, err := n.Int64(); err == nil {
		return []byte(strconv.FormatInt(i, 10)), nil
	}

	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("jcs: invalid number %q: %w", n.String(), err)
	}
	if math.Trunc(f) == f && !math.IsInf(f, 0) {
		return []byte(strconv.FormatInt(int64(f), 10)), nil
	}

	rounded := math.Round(f*1e10) / 1e10
	s := strconv.FormatFloat(rounded, 'f', 10, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return []byte(s), nil
}

// NormalizeTimestamp renders t as an ISO-8601 UTC timestamp with millisecond
// precision, the canonical form used for every hashed timestamp field
// (InteractionRecord.created_at, Manifest timestamps, token claims). Callers
// building a hashable subset must pass timestamps through this helper rather
// than relying on time.Time's default JSON encoding, which preserves the
// original location/offset and sub-millisecond precision.
func NormalizeTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
