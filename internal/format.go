package internal

import (
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format and the config file.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var formats = []string{FormatText, FormatJSON, FormatYAML}

func checkFormat(format string) error {
	if !slices.Contains(formats, format) {
		return fmt.Errorf("unsupported output format %q (use text, json or yaml)", format)
	}
	return nil
}

// Render formats v as JSON or YAML, or calls text for the text format.
func Render(v any, format string, text func() string) (string, error) {
	switch format {
	case FormatText:
		return text(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling JSON: %w", err)
		}
		return string(data) + "\n", nil
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshaling YAML: %w", err)
		}
		return string(data), nil
	}
	return "", checkFormat(format)
}
