package telemetry

import (
	"strconv"
	"strings"
)

// CustomDecoder splits lines on a user-supplied delimiter. Field i is named
// fieldNames[i] when provided, field_i otherwise; values stay strings.
// Instances are registered at runtime through the add_custom_parser command
// or from a parser profile file.
type CustomDecoder struct {
	name       string
	delimiter  string
	fieldNames []string
}

// NewCustomDecoder builds a delimited decoder. An empty name defaults to
// CUSTOM_DELIMITED_<delimiter>.
func NewCustomDecoder(delimiter string, fieldNames []string, name string) *CustomDecoder {
	if name == "" {
		name = "CUSTOM_DELIMITED_" + delimiter
	}
	return &CustomDecoder{
		name:       name,
		delimiter:  delimiter,
		fieldNames: append([]string(nil), fieldNames...),
	}
}

func (d *CustomDecoder) Name() string { return d.name }

func (d *CustomDecoder) Matches(line string) bool {
	return strings.Contains(line, d.delimiter)
}

func (d *CustomDecoder) Decode(line string) (Record, error) {
	if !d.Matches(line) {
		return nil, ErrNoMatch
	}

	parts := strings.Split(strings.TrimSpace(line), d.delimiter)
	rec := make(Record, len(parts)+3)
	for i, v := range parts {
		name := "field_" + strconv.Itoa(i)
		if i < len(d.fieldNames) {
			name = d.fieldNames[i]
		}
		rec[name] = strings.TrimSpace(v)
	}

	rec.stamp(d.name, line)
	return rec, nil
}
