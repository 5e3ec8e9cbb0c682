// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package audit

import (
	"fmt"
	"reflect"
	"strings"
)

const (
	maxParamString = 1000
	maxParamItems  = 10
	redacted       = "[REDACTED]"
)

var sensitiveKeyParts = []string{
	"password", "secret", "key", "token", "credential",
	"api_key", "apikey", "auth", "bearer", "private",
}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, s := range sensitiveKeyParts {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of params that is safe to persist: values under
// secret-looking keys are replaced with "[REDACTED]", strings longer than
// 1000 characters become "[N chars]", lists longer than 10 become
// "[N items]", and nested maps are sanitised recursively.
func Sanitize(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	out := make(map[string]any, len(params))
	for k, v := range params {
		if isSensitiveKey(k) {
			out[k] = redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		if n := len([]rune(val)); n > maxParamString {
			return fmt.Sprintf("[%d chars]", n)
		}
		return val
	case map[string]any:
		return Sanitize(val)
	case []any:
		if len(val) > maxParamItems {
			return fmt.Sprintf("[%d items]", len(val))
		}
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = sanitizeValue(item)
		}
		return items
	case nil, bool, float64, float32, int, int64, int32, []byte:
		return val
	}

	// Typed slices and string-keyed maps ([]string, []map[string]any,
	// map[string]string, ...) get the same treatment as their untyped forms.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Len() > maxParamItems {
			return fmt.Sprintf("[%d items]", rv.Len())
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = sanitizeValue(rv.Index(i).Interface())
		}
		return items
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return Sanitize(m)
	}
	return v
}

// validUTF8 replaces invalid byte sequences before hashing; encoding/json
// would otherwise rewrite them on write and the stored text would no longer
// match its hash.
func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// summarize caps a result summary to MaxResultSummary bytes without
// splitting a rune.
func summarize(s string) string {
	if len(s) <= MaxResultSummary {
		return s
	}
	cut := MaxResultSummary
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut]
}
