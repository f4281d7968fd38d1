package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// MonitoredDrug is one entry of the hospital's monitored-drug catalog.
// Rank 1 is the most critical drug.
type MonitoredDrug struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Rank int    `yaml:"rank"`
	// Substitutes is the clinically validated substitution list for this
	// drug, in preference order. Empty means no viable substitute exists
	// (e.g. Oxygen).
	Substitutes []SubstituteEntry `yaml:"substitutes"`
}

// SubstituteEntry pairs a substitute drug with its equivalence note.
type SubstituteEntry struct {
	Name  string `yaml:"name"`
	Notes string `yaml:"notes"`
}

// Catalog is the loaded monitored-drug catalog.
type Catalog struct {
	Drugs []MonitoredDrug `yaml:"drugs"`
}

// LoadCatalog parses the catalog YAML. Entries are sorted by rank so
// iteration order is deterministic.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drug catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse drug catalog: %w", err)
	}
	if len(c.Drugs) == 0 {
		return nil, fmt.Errorf("drug catalog %s contains no drugs", path)
	}
	sort.Slice(c.Drugs, func(i, j int) bool { return c.Drugs[i].Rank < c.Drugs[j].Rank })
	return &c, nil
}

// Names returns the monitored drug names in rank order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Drugs))
	for i, d := range c.Drugs {
		names[i] = d.Name
	}
	return names
}

// Ranks returns the name -> criticality rank map used by aggregation.
func (c *Catalog) Ranks() map[string]int {
	ranks := make(map[string]int, len(c.Drugs))
	for _, d := range c.Drugs {
		ranks[d.Name] = d.Rank
	}
	return ranks
}

// SubstitutesFor returns the substitution list for a drug, nil when the
// catalog knows no substitute for it.
func (c *Catalog) SubstitutesFor(drug string) []SubstituteEntry {
	for _, d := range c.Drugs {
		if d.Name == drug {
			return d.Substitutes
		}
	}
	return nil
}
