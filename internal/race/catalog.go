// Package race simulates weighted horse races and computes payouts.
package race

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Competitor struct {
	ID   int     `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	Odds float64 `json:"odds" yaml:"odds"`
}

// DefaultCatalog is the built-in competitor set, used when no catalog file
// is configured.
func DefaultCatalog() []Competitor {
	return []Competitor{
		{ID: 1, Name: "Lightning Bolt", Odds: 2.5},
		{ID: 2, Name: "Steady Steed", Odds: 3.0},
		{ID: 3, Name: "Gallop Gus", Odds: 4.5},
		{ID: 4, Name: "Dark Horse", Odds: 6.0},
		{ID: 5, Name: "Lucky Charm", Odds: 10.0},
	}
}

type catalogFile struct {
	Horses []Competitor `yaml:"horses"`
}

// LoadCatalog reads competitors from a YAML file, falling back to the
// default catalog when path is empty.
func LoadCatalog(path string) ([]Competitor, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	if err := validateCatalog(file.Horses); err != nil {
		return nil, err
	}
	return file.Horses, nil
}

func validateCatalog(competitors []Competitor) error {
	if len(competitors) == 0 {
		return fmt.Errorf("catalog has no competitors")
	}
	seen := make(map[int]bool, len(competitors))
	for _, c := range competitors {
		if c.ID <= 0 {
			return fmt.Errorf("competitor %q has invalid id %d", c.Name, c.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate competitor id %d", c.ID)
		}
		seen[c.ID] = true
		if c.Name == "" {
			return fmt.Errorf("competitor %d has no name", c.ID)
		}
		if c.Odds < 1 {
			return fmt.Errorf("competitor %d has odds %v, must be >= 1", c.ID, c.Odds)
		}
	}
	return nil
}

// FindCompetitor returns the catalog entry with the given id.
func FindCompetitor(competitors []Competitor, id int) (Competitor, bool) {
	for _, c := range competitors {
		if c.ID == id {
			return c, true
		}
	}
	return Competitor{}, false
}
