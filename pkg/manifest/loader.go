package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a manifest from a YAML or JSON file, checks it against the
// embedded schema, decodes it and runs structural validation. YAML is the
// primary on-disk format; JSON documents parse through the same path since
// YAML is a superset.
func Load(path string) (*OrchestraManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes manifest bytes (YAML or JSON) with schema and structural
// validation applied.
func Parse(data []byte) (*OrchestraManifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	var m OrchestraManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}
