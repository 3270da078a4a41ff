package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is the register list seeded at startup.
//
//	evaluation_register: Avaliação
//	registers:
//	  - name: Caixa 1
//	  - name: Caixa 2
type Catalog struct {
	EvaluationRegister string            `yaml:"evaluation_register"`
	Registers          []CatalogRegister `yaml:"registers"`
}

type CatalogRegister struct {
	Name string `yaml:"name"`
}

// LoadCatalog reads a catalog file. An empty path is an empty catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return Catalog{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read register catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse register catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Registers))
	for i, r := range c.Registers {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return Catalog{}, fmt.Errorf("register catalog entry %d: name is required", i)
		}
		if seen[name] {
			return Catalog{}, fmt.Errorf("register catalog: duplicate name %q", name)
		}
		seen[name] = true
		c.Registers[i].Name = name
	}
	c.EvaluationRegister = strings.TrimSpace(c.EvaluationRegister)
	return c, nil
}

// Names lists every register to ensure, with the evaluation register last
// when it is not already in the list.
func (c Catalog) Names(evaluationRegister string) []string {
	names := make([]string, 0, len(c.Registers)+1)
	found := false
	for _, r := range c.Registers {
		names = append(names, r.Name)
		found = found || r.Name == evaluationRegister
	}
	if evaluationRegister != "" && !found {
		names = append(names, evaluationRegister)
	}
	return names
}
