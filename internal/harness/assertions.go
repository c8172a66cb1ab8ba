package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/markduk/portalmover/internal/importer"
	"github.com/markduk/portalmover/internal/record"
	"github.com/markduk/portalmover/internal/remote"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string           // Assertion type for categorization
	Expected string           // Human-readable expected outcome
	Actual   string           // Human-readable actual outcome
	Events   []importer.Event // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Events {
			fmt.Fprintf(&buf, "  %s\n", formatEvent(ev))
		}
	}
	return buf.String()
}

// assertEventContains checks for an event of the given kind, optionally
// on one entity or identity, whose message contains the given text.
func assertEventContains(events []importer.Event, a Assertion) error {
	for _, ev := range events {
		if matchEvent(ev, a) && strings.Contains(ev.Message, a.Message) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: fmt.Sprintf("%s event%s with message containing %q", a.Kind, subject(a.Entity, a.ID), a.Message),
		Actual:   "not found in trace",
		Events:   events,
	}
}

// assertEventOrder checks that the first occurrences of "kind entity"
// pairs appear in order. Intervening events are allowed.
func assertEventOrder(events []importer.Event, a Assertion) error {
	keys := make([]string, len(events))
	for i, ev := range events {
		keys[i] = strings.TrimSpace(string(ev.Kind) + " " + ev.Entity)
	}
	if err := checkOrder(keys, a.Events); err != nil {
		err.Type = AssertEventOrder
		err.Events = events
		return err
	}
	return nil
}

// assertEventCount checks that events of a kind, optionally on one
// entity, appear exactly the specified number of times.
func assertEventCount(events []importer.Event, a Assertion) error {
	count := 0
	for _, ev := range events {
		if matchEvent(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s event(s)%s", a.Count, a.Kind, subject(a.Entity, a.ID)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Events:   events,
		}
	}
	return nil
}

// assertCallOrder checks that the first occurrences of "op entity" pairs
// in the remote call log appear in order.
func assertCallOrder(calls []remote.Call, a Assertion) error {
	keys := make([]string, len(calls))
	for i, c := range calls {
		keys[i] = string(c.Op) + " " + c.Target.Entity
	}
	if err := checkOrder(keys, a.Calls); err != nil {
		err.Type = AssertCallOrder
		return err
	}
	return nil
}

func checkOrder(actual, expected []string) *AssertionError {
	positions := make(map[string]int, len(expected))
	for i, key := range actual {
		for _, want := range expected {
			if key == want && positions[want] == 0 {
				positions[want] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, want := range expected {
		if positions[want] == 0 {
			return &AssertionError{
				Expected: fmt.Sprintf("all present: %v", expected),
				Actual:   fmt.Sprintf("missing: %s", want),
			}
		}
	}
	for i := 1; i < len(expected); i++ {
		prev, curr := expected[i-1], expected[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Expected: fmt.Sprintf("in order: %v", expected),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
			}
		}
	}
	return nil
}

// assertProgress checks one entity's counters. Processed must equal the
// sum of the other two.
func assertProgress(result *Result, a Assertion) error {
	if result.Import == nil {
		return fmt.Errorf("progress assertion requires an import result")
	}
	for _, p := range result.Import.Progress {
		if p.Entity != a.Entity {
			continue
		}
		if p.Succeeded != a.Succeeded || p.Failed != a.Failed || p.Processed != a.Succeeded+a.Failed {
			return &AssertionError{
				Type:     AssertProgress,
				Expected: fmt.Sprintf("%s: %d succeeded, %d failed", a.Entity, a.Succeeded, a.Failed),
				Actual:   fmt.Sprintf("%s: %d succeeded, %d failed (%d processed)", p.Entity, p.Succeeded, p.Failed, p.Processed),
			}
		}
		return nil
	}
	if a.Succeeded == 0 && a.Failed == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertProgress,
		Expected: fmt.Sprintf("progress for %s", a.Entity),
		Actual:   "entity never processed",
	}
}

// assertUnresolved checks the unresolved report, both in the engine
// result and in the journal.
func assertUnresolved(result *Result, a Assertion) error {
	id := normalizeIdentity(record.Identity{Entity: a.Entity, ID: a.ID})
	var lists [][]importer.Unresolved
	if result.Import != nil {
		lists = append(lists, result.Import.Unresolved)
	}
	if result.Report != nil {
		lists = append(lists, result.Report.Unresolved)
	}
	if len(lists) == 0 {
		return fmt.Errorf("unresolved assertion requires an import result")
	}

	for _, list := range lists {
		found := false
		for _, u := range list {
			if u.Entity == id.Entity && u.ID == id.ID {
				if !strings.Contains(u.Reason, a.Reason) {
					return &AssertionError{
						Type:     AssertUnresolved,
						Expected: fmt.Sprintf("%s unresolved with reason containing %q", id, a.Reason),
						Actual:   fmt.Sprintf("reason %q", u.Reason),
					}
				}
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertUnresolved,
				Expected: fmt.Sprintf("%s unresolved", id),
				Actual:   "not in the unresolved report",
			}
		}
	}
	return nil
}

// assertFinalRecord checks the remote record after the run. Expected
// values use the record file format and are matched as a subset.
func assertFinalRecord(mem *remote.MemoryStore, a Assertion) error {
	id := normalizeIdentity(record.Identity{Entity: a.Entity, ID: a.ID})
	rec, ok := mem.Get(id)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalRecord,
			Expected: fmt.Sprintf("record %s", id),
			Actual:   "record not found",
		}
	}

	for _, name := range sortedKeys(a.Expect) {
		want, err := record.DecodeValue(a.Expect[name])
		if err != nil {
			return fmt.Errorf("final_record %s: expect %q: %w", id, name, err)
		}
		got, exists := rec.Attributes[name]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalRecord,
				Expected: fmt.Sprintf("attribute %q to exist", name),
				Actual:   fmt.Sprintf("attribute %q not present in %v", name, rec.SortedKeys()),
			}
		}
		if !record.Equal(got, want) {
			return &AssertionError{
				Type:     AssertFinalRecord,
				Expected: fmt.Sprintf("attribute %q = %v (%s)", name, want, want.Kind()),
				Actual:   fmt.Sprintf("attribute %q = %v (%s)", name, got, got.Kind()),
			}
		}
	}
	for _, name := range a.Absent {
		if v, exists := rec.Attributes[name]; exists {
			return &AssertionError{
				Type:     AssertFinalRecord,
				Expected: fmt.Sprintf("attribute %q to be absent", name),
				Actual:   fmt.Sprintf("attribute %q = %v", name, v),
			}
		}
	}
	return nil
}

func assertLinked(mem *remote.MemoryStore, a Assertion) error {
	assoc := remote.Association{
		Relationship: a.Relationship,
		From:         normalizeIdentity(a.From),
		To:           normalizeIdentity(a.To),
	}
	if mem.Linked(assoc) {
		return nil
	}
	return &AssertionError{
		Type:     AssertLinked,
		Expected: assoc.String(),
		Actual:   "association not found",
	}
}

func assertRunStatus(result *Result, a Assertion) error {
	if result.Report == nil {
		return fmt.Errorf("run_status assertion requires a journalled run")
	}
	if got := result.Report.Run.Status; got != a.Status {
		return &AssertionError{
			Type:     AssertRunStatus,
			Expected: fmt.Sprintf("run status %q", a.Status),
			Actual:   fmt.Sprintf("run status %q", got),
		}
	}
	return nil
}

func matchEvent(ev importer.Event, a Assertion) bool {
	if string(ev.Kind) != a.Kind {
		return false
	}
	if a.Entity != "" && ev.Entity != a.Entity {
		return false
	}
	if a.ID != "" {
		return ev.ID == normalizeIdentity(record.Identity{ID: a.ID}).ID
	}
	return true
}

func subject(entity, id string) string {
	switch {
	case id != "":
		return fmt.Sprintf(" on %s(%s)", entity, id)
	case entity != "":
		return " on " + entity
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Remote *remote.MemoryStore
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides the in-memory target for final_record and
// linked assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventContains:
			err = assertEventContains(result.Events, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Events, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Events, assertion)
		case AssertCallOrder:
			err = assertCallOrder(result.Calls, assertion)
		case AssertProgress:
			err = assertProgress(result, assertion)
		case AssertUnresolved:
			err = assertUnresolved(result, assertion)
		case AssertFinalRecord, AssertLinked:
			if actx == nil || actx.Remote == nil {
				err = fmt.Errorf("assertion[%d]: %s requires the remote target", i, assertion.Type)
			} else if assertion.Type == AssertFinalRecord {
				err = assertFinalRecord(actx.Remote, assertion)
			} else {
				err = assertLinked(actx.Remote, assertion)
			}
		case AssertRunStatus:
			err = assertRunStatus(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
