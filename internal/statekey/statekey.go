// Package statekey discretizes an open state record into a canonical string key.
package statekey

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// #region types

// Record is an open key-value state record, typically decoded from a JSON body.
type Record map[string]any

// Key is the canonical, opaque encoding of a discretized Record.
type Key string

// Fields is the fixed, ordered field list serialized into a Key.
var Fields = []string{"difficulty", "enemies", "timeMult", "recentSR_bucket"}

// srCuts partitions recentSR into five buckets.
var srCuts = [...]float64{0.2, 0.4, 0.6, 0.8}

// UnknownBucket is used when recentSR is absent or not numeric.
const UnknownBucket = 2

// #endregion types

// #region bucket

// Bucket returns the index of the first cut strictly greater than sr, 4 if none,
// or UnknownBucket when sr is nil.
func Bucket(sr *float64) int {
	if sr == nil {
		return UnknownBucket
	}
	for i, c := range srCuts {
		if *sr < c {
			return i
		}
	}
	return len(srCuts)
}

// BucketOf buckets the record's recentSR field.
func BucketOf(r Record) int {
	v, ok := r["recentSR"]
	if !ok {
		return UnknownBucket
	}
	f, ok := toFloat(v)
	if !ok {
		return UnknownBucket
	}
	// NaN is greater than no cut and lands in the top bucket.
	return Bucket(&f)
}

// #endregion bucket

// #region encode

// Encode derives the Key for r. It never fails: missing or malformed fields become 0.
func Encode(r Record) Key {
	var b strings.Builder
	for i, field := range Fields {
		if i > 0 {
			b.WriteByte('|')
		}
		var n int64
		if field == "recentSR_bucket" {
			n = int64(BucketOf(r))
		} else {
			n = ToInt(r[field])
		}
		b.WriteString(field)
		b.WriteByte('=')
		b.WriteString(strconv.FormatInt(n, 10))
	}
	return Key(b.String())
}

// ToInt coerces v to an integer, truncating toward zero. Anything that is not a
// finite number, a boolean, or a numeric string yields 0.
func ToInt(v any) int64 {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int64(f)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return float64(i), true
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// #endregion encode
