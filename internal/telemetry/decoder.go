// Package telemetry recognizes and decodes the line formats arriving on the
// downlink: bracketed flight-computer frames, bare CSV telemetry, NMEA
// sentences, JSON objects and user-defined delimited formats.
package telemetry

import "errors"

// ErrNoMatch is returned by Decode when the line does not belong to the
// decoder's format.
var ErrNoMatch = errors.New("line does not match format")

// Decoder turns one raw line into a Record. Implementations are stateless
// with respect to prior lines; configuration (field mappings, delimiters)
// is the only state they hold.
type Decoder interface {
	// Name returns the format identifier, e.g. "ARMED_TELEMETRY".
	Name() string

	// Matches reports whether the line structurally belongs to this format.
	Matches(line string) bool

	// Decode parses the line. It returns ErrNoMatch when Matches would be
	// false, or another error when the line passes structural recognition
	// but a mandatory semantic check fails. Per-field conversion failures
	// degrade the record without failing the line.
	Decode(line string) (Record, error)
}
