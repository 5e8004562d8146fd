package protocol

import "strings"

// Params is the untyped JSON object every request arrives as before any
// sanitizer has run. The helpers below whitelist the coercions handlers
// use to read typed fields from it.
type Params map[string]interface{}

// String returns a trimmed string field, or "" with ok=false if absent or
// not a string.
func (p Params) String(key string) (string, bool) {
	v, exists := p[key]
	if !exists {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// Bool returns a bool field, defaulting to def when absent or the wrong type.
func (p Params) Bool(key string, def bool) bool {
	v, exists := p[key]
	if !exists {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// Int returns a bounded integer field (JSON numbers decode as float64),
// clamped to [min, max] and defaulting to def when absent or the wrong type.
func (p Params) Int(key string, def, min, max int) int {
	v, exists := p[key]
	if !exists {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	n := int(f)
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// Object returns a nested object field as Params, or nil.
func (p Params) Object(key string) Params {
	v, exists := p[key]
	if !exists {
		return nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return Params(m)
}

// Array returns a nested array field, or nil.
func (p Params) Array(key string) []interface{} {
	v, exists := p[key]
	if !exists {
		return nil
	}
	a, ok := v.([]interface{})
	if !ok {
		return nil
	}
	return a
}

// FirstNonEmptyObject implements the "first non-empty object wins, else
// top-level keys" alias precedence used by tools.call (toolArgs, params,
// arguments). Left undecided by the spec beyond that rule (§9 Open
// Questions); this is the literal rule applied in declaration order.
func FirstNonEmptyObject(p Params, keys ...string) Params {
	for _, k := range keys {
		if obj := p.Object(k); len(obj) > 0 {
			return obj
		}
	}
	return p
}
