package rules

import (
	"bytes"
	"fmt"
	"os"

	"firestore-driver/internal/firestore/domain/repository"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a rule set. JSON is valid YAML, so one
// decoder reads both.
type File struct {
	Rules []*repository.SecurityRule `yaml:"rules"`
}

// LoadFile reads a rule set from a YAML or JSON file
func LoadFile(path string) ([]*repository.SecurityRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Parse decodes a rule set, rejecting unknown keys
func Parse(data []byte) ([]*repository.SecurityRule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rule set is empty")
	}
	return f.Rules, nil
}

// AuthenticatedOnly lets any signed-in caller read and write everything
func AuthenticatedOnly() []*repository.SecurityRule {
	return []*repository.SecurityRule{{
		Match:       "{document=**}",
		Allow:       map[repository.OperationType]string{repository.OperationRead: "auth != null", repository.OperationWrite: "auth != null"},
		Description: "signed-in callers only",
	}}
}
