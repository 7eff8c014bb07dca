package telemetry

import (
	"encoding/json"
	"strings"
)

// JSONDecoder passes JSON object lines through as records, preserving
// arrays and nested objects. It must be registered before any decoder whose
// Matches would also accept a JSON-shaped line.
type JSONDecoder struct{}

func NewJSONDecoder() *JSONDecoder { return &JSONDecoder{} }

func (d *JSONDecoder) Name() string { return "JSON" }

func (d *JSONDecoder) Matches(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return false
	}
	var obj map[string]interface{}
	return json.Unmarshal([]byte(line), &obj) == nil
}

func (d *JSONDecoder) Decode(line string) (Record, error) {
	line = strings.TrimSpace(line)
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return nil, ErrNoMatch
	}

	rec := Record(obj)
	rec.stamp(d.Name(), line)
	return rec, nil
}
