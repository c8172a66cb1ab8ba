package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
)

// Scenario is one import run described in YAML: the metadata it runs
// against, the records to import, what already exists remotely, and the
// assertions the run must satisfy.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// RunID is the fixed run ID, so traces are reproducible.
	RunID string `yaml:"run_id,omitempty"`

	// Schema is the CUE metadata directory. Relative paths are resolved
	// against the scenario file's directory by LoadScenario.
	Schema string `yaml:"schema"`

	// MaxSweeps bounds the run. Zero means the engine default.
	MaxSweeps int `yaml:"max_sweeps,omitempty"`

	// Language selects progress labels, as a BCP 47 tag.
	Language string `yaml:"language,omitempty"`

	// Records is the batch, in the on-disk record file format.
	Records []map[string]any `yaml:"records"`

	// Remote seeds the in-memory target.
	Remote RemoteSetup `yaml:"remote,omitempty"`

	// Deactivate drains the deactivation queue after the import.
	Deactivate bool `yaml:"deactivate,omitempty"`

	// Golden compares the trace against testdata/golden/<name>.golden.
	Golden bool `yaml:"golden,omitempty"`

	// Assertions validate the trace, the report and the final remote state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RemoteSetup is the state of the in-memory target before the run.
type RemoteSetup struct {
	Preload []map[string]any `yaml:"preload,omitempty"`
	Links   []Link           `yaml:"links,omitempty"`
	Faults  []Fault          `yaml:"faults,omitempty"`
}

// Link is an association that already exists remotely.
type Link struct {
	Relationship string          `yaml:"relationship"`
	From         record.Identity `yaml:"from"`
	To           record.Identity `yaml:"to"`
}

// Fault makes every call of one op on one record fail.
type Fault struct {
	Op      string `yaml:"op"`
	Entity  string `yaml:"entity"`
	ID      string `yaml:"id"`
	Code    string `yaml:"code"`
	Status  int    `yaml:"status,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_contains": an event of Kind on Entity/ID whose message
	//   contains Message
	// - "event_order": events ("kind entity") appear in order
	// - "event_count": events of Kind (on Entity, if set) appear Count times
	// - "call_order": remote calls ("op entity") appear in order
	// - "progress": the counters of Entity
	// - "unresolved": Entity/ID is unresolved with a reason containing Reason
	// - "final_record": the remote record Entity/ID has Expect and lacks Absent
	// - "linked": the association exists remotely
	// - "run_status": the journalled run has Status
	Type string `yaml:"type"`

	Kind    string `yaml:"kind,omitempty"`
	Entity  string `yaml:"entity,omitempty"`
	ID      string `yaml:"id,omitempty"`
	Message string `yaml:"message,omitempty"`
	Reason  string `yaml:"reason,omitempty"`

	// Events and Calls are "kind entity" / "op entity" pairs.
	Events []string `yaml:"events,omitempty"`
	Calls  []string `yaml:"calls,omitempty"`

	Count     int `yaml:"count,omitempty"`
	Succeeded int `yaml:"succeeded,omitempty"`
	Failed    int `yaml:"failed,omitempty"`

	// Expect uses the record file value format. Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
	Absent []string       `yaml:"absent,omitempty"`

	Relationship string          `yaml:"relationship,omitempty"`
	From         record.Identity `yaml:"from,omitempty"`
	To           record.Identity `yaml:"to,omitempty"`

	Status string `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertCallOrder     = "call_order"
	AssertProgress      = "progress"
	AssertUnresolved    = "unresolved"
	AssertFinalRecord   = "final_record"
	AssertLinked        = "linked"
	AssertRunStatus     = "run_status"
)

var assertionTypes = []string{
	AssertEventContains, AssertEventOrder, AssertEventCount, AssertCallOrder,
	AssertProgress, AssertUnresolved, AssertFinalRecord, AssertLinked, AssertRunStatus,
}

var faultOps = []remote.Op{remote.OpUpsert, remote.OpAssociate, remote.OpUpdate}

// LoadScenario reads and parses a scenario YAML file. A relative schema
// path is resolved against the file's directory. Unknown fields (typos)
// and missing required fields are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarioDir loads every *.yaml scenario in dir, ordered by file name.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := map[string]string{}
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("scenario name %q used by both %s and %s", s.Name, prev, p)
		}
		seen[s.Name] = p
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
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if len(s.Records) == 0 {
		return fmt.Errorf("records list is required and must be non-empty")
	}
	if s.MaxSweeps < 0 {
		return fmt.Errorf("max_sweeps must not be negative")
	}

	for i, f := range s.Remote.Faults {
		if !slices.Contains(faultOps, remote.Op(f.Op)) {
			return fmt.Errorf("remote.faults[%d]: unknown op %q", i, f.Op)
		}
		if f.Entity == "" || f.ID == "" {
			return fmt.Errorf("remote.faults[%d]: entity and id are required", i)
		}
		if _, ok := remote.ParseFaultCode(f.Code); !ok {
			return fmt.Errorf("remote.faults[%d]: invalid fault code %q", i, f.Code)
		}
	}
	for i, l := range s.Remote.Links {
		if l.Relationship == "" {
			return fmt.Errorf("remote.links[%d]: relationship is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	if !slices.Contains(assertionTypes, a.Type) {
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	switch a.Type {
	case AssertEventContains, AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("%s requires kind", a.Type)
		}
		if !knownEventKind(importer.EventKind(a.Kind)) {
			return fmt.Errorf("unknown event kind %q", a.Kind)
		}
	case AssertEventOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("event_order requires at least two events")
		}
	case AssertCallOrder:
		if len(a.Calls) < 2 {
			return fmt.Errorf("call_order requires at least two calls")
		}
	case AssertProgress:
		if a.Entity == "" {
			return fmt.Errorf("progress requires entity")
		}
	case AssertUnresolved, AssertFinalRecord:
		if a.Entity == "" || a.ID == "" {
			return fmt.Errorf("%s requires entity and id", a.Type)
		}
	case AssertLinked:
		if a.Relationship == "" || a.From.ID == "" || a.To.ID == "" {
			return fmt.Errorf("linked requires relationship, from and to")
		}
	case AssertRunStatus:
		if a.Status == "" {
			return fmt.Errorf("run_status requires status")
		}
	}
	return nil
}

func knownEventKind(k importer.EventKind) bool {
	switch k {
	case importer.EventSweep, importer.EventSplit, importer.EventMerge, importer.EventSkip,
		importer.EventCreate, importer.EventUpdate, importer.EventAssociate, importer.EventFail,
		importer.EventQueueDeactivation, importer.EventReconcile, importer.EventReconcileFail,
		importer.EventReconcileSkip, importer.EventUnresolved, importer.EventTally,
		importer.EventDeactivate, importer.EventDeactivateFail:
		return true
	}
	return false
}
