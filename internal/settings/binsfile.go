package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// binsFile is the top-level YAML document for seeding the BIN list.
type binsFile struct {
	Bins []Bin `yaml:"bins"`
}

// LoadBinsFile reads and validates a YAML BIN seed file.
func LoadBinsFile(path string) ([]Bin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bins file: %w", err)
	}
	var doc binsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("bins file: %w", err)
	}
	for i, b := range doc.Bins {
		if b.ID == "" {
			return nil, fmt.Errorf("bins file: bin[%d] missing id", i)
		}
		if b.Value == "" {
			return nil, fmt.Errorf("bins file: bin[%d] (%s) missing value", i, b.ID)
		}
	}
	return doc.Bins, nil
}
