package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a convergence scenario: a set of replicas sharing one
// schema, a sequence of local writes and exchanges between them, and
// assertions on the resulting state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the path to the CUE table definitions, relative to the
	// scenario file.
	Schema string `yaml:"schema"`

	// Replicas names the replicas in site id order: the first gets the
	// lowest site id.
	Replicas []string `yaml:"replicas"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one of Write, Sync or Apply is set.
type Step struct {
	// Write names the replica running a local transaction of Ops.
	Write string    `yaml:"write,omitempty"`
	Ops   []WriteOp `yaml:"ops,omitempty"`

	// Sync ships changes from one replica to another.
	Sync *SyncStep `yaml:"sync,omitempty"`

	// Apply names the replica receiving hand-written Records.
	Apply   string   `yaml:"apply,omitempty"`
	Records []Record `yaml:"records,omitempty"`

	// ExpectError is the error class the step must fail with:
	// row_exists, row_not_found, integrity, or gap.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectUnchanged requires the target's change stream and db_version
	// to be identical before and after the step.
	ExpectUnchanged bool `yaml:"expect_unchanged,omitempty"`
}

// WriteOp is one local row operation.
type WriteOp struct {
	// Op is insert, update, or delete.
	Op     string         `yaml:"op"`
	Table  string         `yaml:"table"`
	PK     []any          `yaml:"pk"`
	Values map[string]any `yaml:"values,omitempty"` // insert
	Column string         `yaml:"column,omitempty"` // update
	Value  any            `yaml:"value,omitempty"`  // update
}

// SyncStep ships changes between replicas.
//
// Without Since the exchange goes through the receiver's stored watermark
// for the sender. With Since every record after that version is sent and
// merged directly, bypassing watermarks; this models out-of-band delivery.
type SyncStep struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Since    *int64 `yaml:"since,omitempty"`
	PageSize int    `yaml:"page_size,omitempty"`
}

// Record is a hand-written change record.
type Record struct {
	Table      string `yaml:"table"`
	PK         []any  `yaml:"pk"`
	CID        string `yaml:"cid"`
	Value      any    `yaml:"value"`
	ColVersion int64  `yaml:"col_version"`
	DBVersion  int64  `yaml:"db_version"`
	// Site names the originating replica. Empty means the receiver.
	Site string `yaml:"site,omitempty"`
	CL   int64  `yaml:"cl"`
}

// Assertion validates a replica's final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "converged": listed replicas (default: all) hold identical state
	// - "row": a row exists with the given cl and values (subset match)
	// - "row_absent": a row was never seen by the replica
	// - "clock": a column's clock has the given col_version and cl
	// - "db_version": the replica's db_version equals DBVersion
	Type string `yaml:"type"`

	Replica  string   `yaml:"replica,omitempty"`
	Replicas []string `yaml:"replicas,omitempty"`

	Table string `yaml:"table,omitempty"`
	PK    []any  `yaml:"pk,omitempty"`
	CID   string `yaml:"cid,omitempty"`

	CL         int64          `yaml:"cl,omitempty"`
	ColVersion int64          `yaml:"col_version,omitempty"`
	Site       string         `yaml:"site,omitempty"`
	Values     map[string]any `yaml:"values,omitempty"`
	DBVersion  *int64         `yaml:"db_version,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged = "converged"
	AssertRow       = "row"
	AssertRowAbsent = "row_absent"
	AssertClock     = "clock"
	AssertDBVersion = "db_version"
)

// Expected error classes.
const (
	ErrClassRowExists   = "row_exists"
	ErrClassRowNotFound = "row_not_found"
	ErrClassIntegrity   = "integrity"
	ErrClassGap         = "gap"
	ErrClassOther       = "error"
)

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the schema path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos)
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && basePath != "" {
		scenario.Schema = filepath.Join(basePath, scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if _, err := os.Stat(scenario.Schema); os.IsNotExist(err) {
		return nil, fmt.Errorf("invalid scenario: schema file not found: %s", scenario.Schema)
	}

	return &scenario, nil
}

// FindScenarios returns every .yaml/.yml file under dir, sorted. A
// non-empty filter is a glob matched against file names without extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	slices.Sort(files)
	return files, err
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Replicas) > 255 {
		return fmt.Errorf("at most 255 replicas are supported, got %d", len(s.Replicas))
	}

	known := make(map[string]bool, len(s.Replicas))
	for i, name := range s.Replicas {
		if name == "" {
			return fmt.Errorf("replicas[%d]: name is empty", i)
		}
		if known[name] {
			return fmt.Errorf("replicas[%d]: duplicate replica %q", i, name)
		}
		known[name] = true
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step, known); err != nil {
			return err
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, known); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step, known map[string]bool) error {
	set := 0
	if step.Write != "" {
		set++
	}
	if step.Sync != nil {
		set++
	}
	if step.Apply != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of write, sync, apply is required", index)
	}

	switch {
	case step.Write != "":
		if !known[step.Write] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, step.Write)
		}
		if len(step.Ops) == 0 {
			return fmt.Errorf("steps[%d]: write needs at least one op", index)
		}
		for j, op := range step.Ops {
			if err := validateOp(op); err != nil {
				return fmt.Errorf("steps[%d].ops[%d]: %w", index, j, err)
			}
		}

	case step.Sync != nil:
		if !known[step.Sync.From] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, step.Sync.From)
		}
		if !known[step.Sync.To] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, step.Sync.To)
		}
		if step.Sync.From == step.Sync.To {
			return fmt.Errorf("steps[%d]: sync from a replica to itself", index)
		}

	case step.Apply != "":
		if !known[step.Apply] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, step.Apply)
		}
		for j, r := range step.Records {
			if r.Site != "" && !known[r.Site] {
				return fmt.Errorf("steps[%d].records[%d]: unknown site %q", index, j, r.Site)
			}
		}
	}

	switch step.ExpectError {
	case "", ErrClassRowExists, ErrClassRowNotFound, ErrClassIntegrity, ErrClassGap, ErrClassOther:
	default:
		return fmt.Errorf("steps[%d]: unknown expect_error %q", index, step.ExpectError)
	}
	return nil
}

func validateOp(op WriteOp) error {
	if op.Table == "" {
		return fmt.Errorf("table is required")
	}
	if len(op.PK) == 0 {
		return fmt.Errorf("pk is required")
	}
	switch op.Op {
	case "insert", "delete":
	case "update":
		if op.Column == "" {
			return fmt.Errorf("column is required for update")
		}
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, known map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	for _, r := range a.Replicas {
		if !known[r] {
			return fmt.Errorf("assertions[%d]: unknown replica %q", index, r)
		}
	}
	if a.Type != AssertConverged && !known[a.Replica] {
		return fmt.Errorf("assertions[%d]: replica is required for %s", index, a.Type)
	}

	switch a.Type {
	case AssertConverged:
	case AssertRow, AssertRowAbsent:
		if a.Table == "" || len(a.PK) == 0 {
			return fmt.Errorf("assertions[%d]: table and pk are required for %s", index, a.Type)
		}
	case AssertClock:
		if a.Table == "" || len(a.PK) == 0 || a.CID == "" {
			return fmt.Errorf("assertions[%d]: table, pk and cid are required for clock", index)
		}
	case AssertDBVersion:
		if a.DBVersion == nil {
			return fmt.Errorf("assertions[%d]: db_version is required", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
