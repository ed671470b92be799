package feeders

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder feeds a struct from a YAML file using `yaml` tags.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a YamlFeeder for the given file path.
func NewYamlFeeder(path string) YamlFeeder {
	return YamlFeeder{Path: path}
}

// Feed reads the YAML file and unmarshals it into target, which must
// be a non-nil pointer.
func (f YamlFeeder) Feed(target any) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("failed to read yaml file %s: %w", f.Path, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse yaml file %s: %w", f.Path, err)
	}
	return nil
}
