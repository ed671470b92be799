// Package feeders provides configuration feeders that populate
// structs from YAML files, TOML files, and environment variables.
// Feeders are applied in order, so later sources override earlier
// ones.
package feeders

// A Feeder populates the given struct pointer from its source.
type Feeder interface {
	Feed(target any) error
}
