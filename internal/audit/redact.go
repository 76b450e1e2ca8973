package audit

import (
	"sort"
	"strconv"
	"strings"
)

// Marker replaces the value of every sensitive field
const Marker = "[REDACTED]"

// sensitive field names, lower-cased with '_' and '-' removed
var sensitiveFields = map[string]struct{}{
	"password":      {},
	"secret":        {},
	"token":         {},
	"apikey":        {},
	"authorization": {},
	"description":   {},
	"notes":         {},
	"body":          {},
	"rawbody":       {},
}

func normalizeField(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "", "-", "").Replace(name)
}

func isSensitive(name string) bool {
	_, ok := sensitiveFields[normalizeField(name)]
	return ok
}

func isAmount(name string) bool {
	return strings.Contains(strings.ToLower(name), "amount")
}

// AmountBucket maps a monetary value onto a coarse range label
func AmountBucket(v float64) string {
	switch {
	case v < 10:
		return "<$10"
	case v < 100:
		return "$10-$100"
	case v < 1_000:
		return "$100-$1K"
	case v < 10_000:
		return "$1K-$10K"
	case v < 100_000:
		return "$10K-$100K"
	default:
		return ">$100K"
	}
}

// Redact returns a scrubbed deep copy of details together with the sorted,
// de-duplicated list of field paths that were redacted or bucketed.
// The input is not modified.
func Redact(details map[string]interface{}) (map[string]interface{}, []string) {
	if details == nil {
		return nil, []string{}
	}
	seen := make(map[string]struct{})
	out := redactMap(details, "", seen)

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return out, paths
}

func redactMap(in map[string]interface{}, prefix string, seen map[string]struct{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		switch {
		case isSensitive(k):
			out[k] = Marker
			seen[path] = struct{}{}
		case isAmount(k):
			out[k] = bucketValue(v)
			seen[path] = struct{}{}
		default:
			out[k] = redactValue(v, path, seen)
		}
	}
	return out
}

func redactValue(v interface{}, path string, seen map[string]struct{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return redactMap(val, path, seen)
	case map[string]string:
		m := make(map[string]interface{}, len(val))
		for k, s := range val {
			m[k] = s
		}
		return redactMap(m, path, seen)
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = redactValue(item, path, seen)
		}
		return items
	case []map[string]interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = redactMap(item, path, seen)
		}
		return items
	default:
		return v
	}
}

// bucketValue converts anything number-like to a bucket. Values that cannot
// be read as a number are redacted outright.
func bucketValue(v interface{}) string {
	switch n := v.(type) {
	case int:
		return AmountBucket(float64(n))
	case int32:
		return AmountBucket(float64(n))
	case int64:
		return AmountBucket(float64(n))
	case uint:
		return AmountBucket(float64(n))
	case uint64:
		return AmountBucket(float64(n))
	case float32:
		return AmountBucket(float64(n))
	case float64:
		return AmountBucket(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(n), "$"), 64)
		if err != nil {
			return Marker
		}
		return AmountBucket(f)
	default:
		return Marker
	}
}
