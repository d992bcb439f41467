package reconcile

import "fmt"

// State is the relationship between a session and the runtime.
type State int

const (
	// NoDataset means the session has no file bound to it.
	NoDataset State = iota
	// Bound means the runtime holds the session's dataset.
	Bound
	// StaleRecoverableFromRuntimeFS means the dataset slot is stale but the
	// file is still in the runtime namespace.
	StaleRecoverableFromRuntimeFS
	// StaleRecoverableFromBlob means only the blob store has the file.
	StaleRecoverableFromBlob
	// Unrecoverable means the dataset cannot be restored.
	Unrecoverable
)

func (s State) String() string {
	switch s {
	case NoDataset:
		return "no_dataset"
	case Bound:
		return "bound"
	case StaleRecoverableFromRuntimeFS:
		return "stale_runtime_fs"
	case StaleRecoverableFromBlob:
		return "stale_blob"
	case Unrecoverable:
		return "unrecoverable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason qualifies an Unrecoverable outcome.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonMissing     Reason = "missing"
	ReasonCorrupt     Reason = "corrupt"
	ReasonWriteFailed Reason = "write_failed"
	ReasonUnavailable Reason = "unavailable"
)

// Outcome is the result of one reconciliation.
type Outcome struct {
	// State is the final state; either Bound, NoDataset or Unrecoverable.
	State State
	// Initial is the state found before any repair.
	Initial State
	Reason  Reason
	// WroteRuntime reports whether blob bytes were written to the runtime.
	WroteRuntime bool
	// Err is the load or write failure behind an Unrecoverable outcome.
	Err error
}

// Bound reports whether the session can be queried.
func (o Outcome) Bound() bool {
	return o.State == Bound
}

// Warning messages shown when a dataset cannot be restored.
const (
	WarningMissing = "⚠️ Error: The dataset is not currently loaded in memory. Please re-upload the CSV file to continue analysis."
	warningCorrupt = "⚠️ Error: The file %q could not be parsed as CSV. Please upload a valid CSV file to continue analysis."
)

// Warning returns the transcript message for an Unrecoverable outcome, or ""
// for any other state.
func (o Outcome) Warning(fileName string) string {
	if o.State != Unrecoverable {
		return ""
	}
	if o.Reason == ReasonCorrupt {
		return fmt.Sprintf(warningCorrupt, fileName)
	}
	return WarningMissing
}
