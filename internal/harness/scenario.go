package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is a named sequence of steps against one store.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Steps []Step `yaml:"steps"`
}

// Step is one operation of a scenario.
type Step struct {
	// Op is one of the Op constants.
	Op string `yaml:"op"`

	// Thread is the alias of the thread the step acts on.
	Thread string `yaml:"thread,omitempty"`

	// Content is the message text for create and reply.
	Content string `yaml:"content,omitempty"`

	// ExpectedVersion pins the version a reply is conditioned on. When
	// nil, the last version the harness observed for the alias is used.
	ExpectedVersion *uint32 `yaml:"expected_version,omitempty"`

	// Repeat replies this many times, each at the latest version.
	Repeat int `yaml:"repeat,omitempty"`

	// Expect is the outcome the step must produce. Defaults to ok.
	Expect string `yaml:"expect,omitempty"`
}

// Step operations.
const (
	OpCreate = "create"
	OpReply  = "reply"
	OpFind   = "find"
	OpGet    = "get"
	OpList   = "list"
)

// Step outcomes.
const (
	OutcomeOK              = "ok"
	OutcomeVersionMismatch = "version_mismatch"
	OutcomeNotFound        = "not_found"
	OutcomeMessageLimit    = "message_limit"
	OutcomeInvalidContent  = "invalid_content"
)

var outcomes = []string{
	OutcomeOK,
	OutcomeVersionMismatch,
	OutcomeNotFound,
	OutcomeMessageLimit,
	OutcomeInvalidContent,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "expected_verison:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml file in dir, in name order.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", path, s.Name, prev)
		}
		seen[s.Name] = path
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Op {
	case OpCreate, OpReply:
		if step.Thread == "" {
			return fmt.Errorf("thread is required for %s", step.Op)
		}
		if step.Expect != "" && !slices.Contains(outcomes, step.Expect) {
			return fmt.Errorf("unknown outcome %q", step.Expect)
		}
	case OpFind, OpGet:
		if step.Thread == "" {
			return fmt.Errorf("thread is required for %s", step.Op)
		}
	case OpList:
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	if step.Op != OpCreate && step.Op != OpReply {
		if step.Content != "" || step.Expect != "" {
			return fmt.Errorf("content and expect apply only to create and reply")
		}
	}
	if step.Op != OpReply && (step.ExpectedVersion != nil || step.Repeat != 0) {
		return fmt.Errorf("expected_version and repeat apply only to reply")
	}
	if step.Op == OpList && step.Thread != "" {
		return fmt.Errorf("list takes no thread")
	}
	if step.Repeat < 0 {
		return fmt.Errorf("repeat must be positive")
	}
	if step.Repeat > 1 && step.ExpectedVersion != nil {
		return fmt.Errorf("repeat replies at the latest version and cannot pin expected_version")
	}
	if step.ExpectedVersion != nil && *step.ExpectedVersion == 0 {
		return fmt.Errorf("expected_version must be at least 1")
	}
	return nil
}
