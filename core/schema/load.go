package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a schema document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath infers the schema format from a file extension. Unknown
// extensions are treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes a schema definition and normalizes its field and relation names.
func Parse(data []byte, format Format) (*SchemaDefinition, error) {
	var sc SchemaDefinition
	switch format {
	case FormatJSON, "":
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("failed to decode JSON schema: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("failed to decode YAML schema: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
	sc.Normalize()
	return &sc, nil
}

// LoadFile reads and parses a schema file, picking the decoder from the extension.
func LoadFile(path string) (*SchemaDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	sc, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return sc, nil
}
