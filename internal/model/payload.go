package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ConfigValidator checks the syntax of a record's config payload. It returns
// an error wrapping ErrInvalidConfig when the payload is malformed.
type ConfigValidator func(kind Kind, config string) error

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultConfigValidator dispatches on kind: environments hold shell
// assignments, clusters hold a JSON object.
func DefaultConfigValidator(kind Kind, config string) error {
	switch kind {
	case KindEnvironment:
		return ValidateEnvironmentConfig(config)
	case KindCluster:
		return ValidateClusterConfig(config)
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, kind)
}

// NoopConfigValidator accepts every payload.
func NoopConfigValidator(Kind, string) error { return nil }

// ValidateEnvironmentConfig accepts blank lines, "#" comments, "source"
// lines and NAME=VALUE assignments with an optional "export" prefix.
func ValidateEnvironmentConfig(config string) error {
	for i, line := range strings.Split(config, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "source ") || strings.HasPrefix(line, ". ") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		name, _, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("%w: line %d: expected NAME=VALUE", ErrInvalidConfig, i+1)
		}
		if !envNamePattern.MatchString(name) {
			return fmt.Errorf("%w: line %d: invalid variable name %q", ErrInvalidConfig, i+1, name)
		}
	}
	return nil
}

// ValidateClusterConfig requires a JSON object.
func ValidateClusterConfig(config string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(config), &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if obj == nil {
		return fmt.Errorf("%w: expected a JSON object", ErrInvalidConfig)
	}
	return nil
}

// ParseWorkerGroups decodes the worker-group list as sent by form-style
// transports: either a JSON array of strings or a comma-separated list.
// An empty string yields an empty set.
func ParseWorkerGroups(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}, nil
	}
	if strings.HasPrefix(s, "[") {
		var groups []string
		if err := json.Unmarshal([]byte(s), &groups); err != nil {
			return nil, fmt.Errorf("%w: worker groups: %v", ErrInvalidInput, err)
		}
		return NormalizeWorkerGroups(groups), nil
	}
	return NormalizeWorkerGroups(strings.Split(s, ",")), nil
}
