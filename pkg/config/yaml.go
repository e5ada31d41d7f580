package config

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// decodeStrict overlays YAML from r onto out and rejects keys that no field
// recognizes. An empty document leaves out untouched.
func decodeStrict(r io.Reader, out *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteYAML writes the effective configuration with secrets redacted.
func (c *Config) WriteYAML(w io.Writer) error {
	out := *c
	if out.Transport.APIKey != "" {
		out.Transport.APIKey = redacted
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
