package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML document holding a signature set.
type File struct {
	Source     string  `yaml:"source,omitempty" json:"source,omitempty"`
	Version    string  `yaml:"version,omitempty" json:"version,omitempty"`
	Signatures []Entry `yaml:"signatures" json:"signatures"`
}

// Entry is one signature definition as written in a signature file.
type Entry struct {
	ID           string `yaml:"id" json:"id"`
	Pattern      string `yaml:"pattern" json:"pattern"`
	Product      string `yaml:"product" json:"product"`
	VersionGroup int    `yaml:"version_group,omitempty" json:"version_group,omitempty"`
}

// Validate checks the structural shape of the file before compilation.
func (f *File) Validate() error {
	if len(f.Signatures) == 0 {
		return fmt.Errorf("signature file has no signatures")
	}

	for i, sig := range f.Signatures {
		if sig.ID == "" {
			return fmt.Errorf("signature at index %d is missing id", i)
		}
		if sig.Pattern == "" {
			return fmt.Errorf("signature at index %d is missing pattern", i)
		}
		if sig.Product == "" {
			return fmt.Errorf("signature at index %d is missing product", i)
		}
	}

	return nil
}

// Rules converts the file entries into signature rules in declaration order.
func (f *File) Rules() []SignatureRule {
	rules := make([]SignatureRule, 0, len(f.Signatures))
	for _, sig := range f.Signatures {
		rules = append(rules, SignatureRule{
			ID:           sig.ID,
			Pattern:      sig.Pattern,
			Product:      sig.Product,
			VersionGroup: sig.VersionGroup,
		})
	}
	return rules
}

// Parse decodes YAML signature data, validates it, and compiles the catalog.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse signature file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return Compile(f.Rules())
}

// Load reads and compiles a signature file from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature file: %w", err)
	}
	return Parse(data)
}
