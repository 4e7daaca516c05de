// Package interpolate substitutes ${name} placeholders inside arbitrary
// structured values against a flat variable map.
package interpolate

import (
	"fmt"
	"strings"
)

// Substitute walks value recursively, replacing ${name} placeholders found
// in strings with vars[name]. Lists and maps are walked element-by-element;
// any other scalar passes through unchanged. A missing name is left as the
// literal placeholder text — Substitute never raises on a missing variable.
//
// Substitute is pure and idempotent for a stable vars map: re-running it on
// its own output is a no-op once no placeholders remain resolvable.
func Substitute(value interface{}, vars map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return substituteString(v, vars)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Substitute(item, vars)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = Substitute(item, vars)
		}
		return out
	default:
		return value
	}
}

// SubstituteMap is a convenience wrapper for the common case of
// interpolating a whole args/params map.
func SubstituteMap(values map[string]interface{}, vars map[string]interface{}) map[string]interface{} {
	if values == nil {
		return nil
	}
	result, _ := Substitute(values, vars).(map[string]interface{})
	return result
}

// substituteString replaces every ${name} occurrence in s. A string that is
// itself exactly one placeholder (e.g. "${steps.a.output}") resolves to the
// referenced value's native type rather than its stringified form, so a
// placeholder for a number or map is preserved as such; placeholders mixed
// with surrounding text are always stringified.
func substituteString(s string, vars map[string]interface{}) interface{} {
	if name, ok := wholePlaceholder(s); ok {
		if val, exists := vars[name]; exists {
			return val
		}
		return s
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		name := rest[start+2 : end]
		if val, exists := vars[name]; exists {
			b.WriteString(stringify(val))
		} else {
			b.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	return b.String()
}

// wholePlaceholder reports whether s is exactly one ${name} placeholder
// with no surrounding text, returning the enclosed name.
func wholePlaceholder(s string) (string, bool) {
	if len(s) < 4 || !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	name := s[2 : len(s)-1]
	if strings.ContainsAny(name, "${}") {
		return "", false
	}
	return name, true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
