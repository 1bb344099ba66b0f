package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Universe is a named symbol list shared between runs. Vendor records the
// naming convention the symbols are written in so they can be normalised
// before use.
type Universe struct {
	Name    string   `yaml:"name"`
	Vendor  string   `yaml:"vendor"`
	Symbols []string `yaml:"symbols"`
}

// Universes represents a full universe file.
type Universes struct {
	Universes []Universe `yaml:"universes"`
}

// LoadUniverses loads universe definitions from the given path.
func LoadUniverses(path string) (*Universes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read universe file: %w", err)
	}
	var cfg Universes
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse universe file: %w", err)
	}
	return &cfg, nil
}

// Find returns the universe with the given name.
func (u *Universes) Find(name string) (Universe, bool) {
	for _, uni := range u.Universes {
		if uni.Name == name {
			return uni, true
		}
	}
	return Universe{}, false
}
