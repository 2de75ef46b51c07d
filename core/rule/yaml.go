package rule

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// snapshot is the on-disk shape of a declarative rule file.
type snapshot struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile reads a YAML rule snapshot from disk and validates every rule in
// it. A single invalid rule fails the whole load so a partially valid file
// never reaches the renderer.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule snapshot: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML rule snapshot.
func Parse(data []byte) ([]Rule, error) {
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode rule snapshot: %w", err)
	}

	for i := range snap.Rules {
		if snap.Rules[i].Protocol == "" {
			snap.Rules[i].Protocol = ProtocolHTTP
		}
		if err := snap.Rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	return snap.Rules, nil
}
