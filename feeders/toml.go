package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TomlFeeder feeds a struct from a TOML file using `toml` tags.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a TomlFeeder for the given file path.
func NewTomlFeeder(path string) TomlFeeder {
	return TomlFeeder{Path: path}
}

// Feed decodes the TOML file into target, which must be a non-nil
// pointer.
func (f TomlFeeder) Feed(target any) error {
	if _, err := toml.DecodeFile(f.Path, target); err != nil {
		return fmt.Errorf("failed to parse toml file %s: %w", f.Path, err)
	}
	return nil
}
