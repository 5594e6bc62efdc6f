package types

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseRuleSet decodes a rule set from YAML or JSON (JSON is valid YAML).
// Unknown fields are ignored so plugin-specific extensions pass through.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&rs); err != nil {
		if errors.Is(err, io.EOF) {
			return RuleSet{}, ErrEmptyInput
		}
		return RuleSet{}, fmt.Errorf("failed to decode rule set: %w", err)
	}
	return rs, nil
}

// LoadRuleSetFile reads and decodes a rule set file.
func LoadRuleSetFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}
	return ParseRuleSet(data)
}
