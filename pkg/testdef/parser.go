package testdef

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parser parses test definition YAML files, substituting ${VAR}/$VAR
// references from its own Variables map and then the environment.
type Parser struct {
	Variables map[string]string
}

// New creates a Parser with optional seed variables.
func New(variables map[string]string) *Parser {
	if variables == nil {
		variables = make(map[string]string)
	}
	return &Parser{Variables: variables}
}

// ParseFile reads and parses a test definition from path.
func (p *Parser) ParseFile(path string) (*TestDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test definition: %w", err)
	}
	return p.Parse(data)
}

// Parse parses a test definition from YAML bytes.
func (p *Parser) Parse(data []byte) (*TestDefinition, error) {
	substituted := p.substituteVariables(string(data))

	var td TestDefinition
	if err := yaml.Unmarshal([]byte(substituted), &td); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := p.validateRequiredFields(&td); err != nil {
		return nil, err
	}

	return &td, nil
}

// LoadDir parses every *.yaml/*.yml file directly under dir, returning the
// test definitions sorted by id for deterministic ordering downstream.
func (p *Parser) LoadDir(dir string) ([]TestDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list test definitions directory: %w", err)
	}

	var defs []TestDefinition
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		td, err := p.ParseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", e.Name(), err)
		}
		defs = append(defs, *td)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func (p *Parser) substituteVariables(content string) string {
	return varPattern.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if val, ok := p.Variables[name]; ok {
			return val
		}
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
}

// SetVariable sets a variable for substitution.
func (p *Parser) SetVariable(key, value string) {
	p.Variables[key] = value
}

// SetVariables sets multiple variables.
func (p *Parser) SetVariables(vars map[string]string) {
	for k, v := range vars {
		p.Variables[k] = v
	}
}

// ParseOverrides parses CLI `--set key=value` strings into a map.
func ParseOverrides(overrides []string) (map[string]string, error) {
	result := make(map[string]string)
	for _, override := range overrides {
		parts := strings.SplitN(override, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid override format: %s (expected key=value)", override)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			return nil, fmt.Errorf("empty key in override: %s", override)
		}
		result[key] = value
	}
	return result, nil
}

// ApplyOverrides applies CLI overrides to a parsed test definition.
func ApplyOverrides(td *TestDefinition, overrides map[string]string) error {
	for key, value := range overrides {
		switch key {
		case "budget.maxSteps":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid budget.maxSteps override: %w", err)
			}
			td.Budget.MaxSteps = n

		case "budget.maxTimeMs":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid budget.maxTimeMs override: %w", err)
			}
			td.Budget.MaxTimeMs = n

		case "category":
			td.Category = Category(value)

		case "url":
			td.URL = value

		default:
			return fmt.Errorf("unsupported override key: %s", key)
		}
	}
	return nil
}

func (p *Parser) validateRequiredFields(td *TestDefinition) error {
	if td.ID == "" {
		return fmt.Errorf("id is required")
	}
	if td.URL == "" {
		return fmt.Errorf("url is required")
	}
	if len(td.Milestones) == 0 {
		return fmt.Errorf("milestones is required and must have at least one entry")
	}
	for i, m := range td.Milestones {
		if m.ID == "" {
			return fmt.Errorf("milestones[%d].id is required", i)
		}
		if m.Weight < 0 || m.Weight > 1 {
			return fmt.Errorf("milestones[%d].weight must be in [0, 1]", i)
		}
	}
	return nil
}
