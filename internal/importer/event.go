package importer

// EventKind names what happened to a record.
type EventKind string

const (
	EventSweep             EventKind = "sweep"
	EventSplit             EventKind = "split"
	EventMerge             EventKind = "merge"
	EventSkip              EventKind = "skip"
	EventCreate            EventKind = "create"
	EventUpdate            EventKind = "update"
	EventAssociate         EventKind = "associate"
	EventFail              EventKind = "fail"
	EventQueueDeactivation EventKind = "queue_deactivation"
	EventReconcile         EventKind = "reconcile"
	EventReconcileFail     EventKind = "reconcile_fail"
	EventReconcileSkip     EventKind = "reconcile_skip"
	EventUnresolved        EventKind = "unresolved"
	EventTally             EventKind = "tally"

	// Deactivation drains run after the import and continue its sequence.
	EventDeactivate     EventKind = "deactivate"
	EventDeactivateFail EventKind = "deactivate_fail"
)

// Event is one step of an import run. Seq is strictly increasing within a
// run. Sweep is 0 for steps taken after the sweeps.
type Event struct {
	Seq     int64     `json:"seq"`
	Sweep   int       `json:"sweep"`
	Kind    EventKind `json:"kind"`
	Entity  string    `json:"entity,omitempty"`
	ID      string    `json:"id,omitempty"`
	Label   string    `json:"label,omitempty"`
	Message string    `json:"message,omitempty"`
	Err     string    `json:"error,omitempty"`
}

// EventHandler receives events synchronously, in order, on the importing
// goroutine.
type EventHandler func(Event)
