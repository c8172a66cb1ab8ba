package harness

import (
	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/remote"
	"github.com/markduk/portalmover/internal/store"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion holds.
	Pass bool `json:"pass"`

	// Events contains the import and drain events in seq order.
	Events []importer.Event `json:"events"`

	// Calls is the in-memory target's call log.
	Calls []remote.Call `json:"calls"`

	// Import is the engine's result.
	Import *importer.Result `json:"import"`

	// Drain is set when the scenario drained deactivations.
	Drain *importer.DrainResult `json:"drain,omitempty"`

	// Report is the journalled run as read back from the store.
	Report *store.Report `json:"report"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Events: []importer.Event{},
		Calls:  []remote.Call{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
