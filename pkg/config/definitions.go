// Package config provides configuration loading for definition seeding.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefinitionsFile represents the structure of a definitions seed file. The
// API server loads it at startup so fresh deployments come up with their
// workflow catalog in place.
type DefinitionsFile struct {
	Definitions []DefinitionSeed `yaml:"definitions"`
}

// DefinitionSeed is one definition entry in the seed file.
type DefinitionSeed struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Version     int            `yaml:"version"`
	Config      map[string]any `yaml:"config"`
	Tags        []string       `yaml:"tags"`
	Activate    bool           `yaml:"activate"`
}

// LoadDefinitions loads a definitions seed file from a YAML file.
func LoadDefinitions(filepath string) (*DefinitionsFile, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file %s: %w", filepath, err)
	}

	var file DefinitionsFile

	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definitions file %s: %w", filepath, err)
	}

	for i, seed := range file.Definitions {
		if seed.Name == "" {
			return nil, fmt.Errorf("definition %d in %s has no name", i, filepath)
		}

		if seed.Version == 0 {
			file.Definitions[i].Version = 1
		}
	}

	return &file, nil
}
