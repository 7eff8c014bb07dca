package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParserProfile declares one custom delimited decoder to register at
// startup, equivalent to an add_custom_parser command.
type ParserProfile struct {
	Name      string   `yaml:"name"`
	Delimiter string   `yaml:"delimiter"`
	Fields    []string `yaml:"fields"`
}

type profileFile struct {
	Parsers []ParserProfile `yaml:"parsers"`
}

// LoadParserProfiles reads custom decoder declarations from a YAML file.
// An empty path yields no profiles.
func LoadParserProfiles(path string) ([]ParserProfile, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parser profiles: %w", err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse parser profiles: %w", err)
	}

	for i, p := range file.Parsers {
		if p.Delimiter == "" {
			return nil, fmt.Errorf("parser profile %d: delimiter is required", i)
		}
	}
	return file.Parsers, nil
}
