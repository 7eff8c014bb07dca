package telemetry

import "time"

// Metadata keys attached to every decoded record.
const (
	KeyParser     = "_parser"
	KeyRaw        = "_raw"
	KeyParsedAt   = "_parsed_at"
	KeySourcePort = "_source_port"
	KeyState      = "_state"
)

// Record is a decoded telemetry frame: field name to typed value
// (int64, float64, string or bool; JSON decoders may add nested values).
// A record is treated as immutable once it has been published.
type Record map[string]interface{}

// stamp adds the metadata every decoder attaches to a successful decode.
func (r Record) stamp(parser, raw string) {
	r[KeyParser] = parser
	r[KeyRaw] = raw
	r[KeyParsedAt] = time.Now().Format(time.RFC3339Nano)
}

// Float returns the named field as a float64, accepting the integer
// representations decoders produce.
func (r Record) Float(name string) (float64, bool) {
	switch v := r[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Int returns the named field as an int64.
func (r Record) Int(name string) (int64, bool) {
	switch v := r[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// String returns the named field as a string.
func (r Record) String(name string) (string, bool) {
	s, ok := r[name].(string)
	return s, ok
}

// Bool returns the named field as a bool.
func (r Record) Bool(name string) (bool, bool) {
	b, ok := r[name].(bool)
	return b, ok
}

// HasAll reports whether every named field is present.
func (r Record) HasAll(names ...string) bool {
	for _, n := range names {
		if _, ok := r[n]; !ok {
			return false
		}
	}
	return true
}
