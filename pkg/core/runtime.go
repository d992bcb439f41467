package core

import "context"

// Runtime is the sandboxed analysis environment.
//
// It owns a virtual file namespace, a single global dataset slot and a
// volatile output buffer. Callers must never run two Execute calls at once;
// implementations serialize them anyway.
type Runtime interface {
	// HasFile reports whether name exists in the virtual namespace.
	// Internal errors are reported as false.
	HasFile(name string) bool
	WriteFile(name string, data []byte) error

	// LoadDataset parses the named file into the dataset slot.
	LoadDataset(ctx context.Context, name string) error
	IsDatasetLoaded(ctx context.Context) bool
	Columns(ctx context.Context) ([]string, error)

	Execute(ctx context.Context, code string) error
	Stdout() string
	HasPlot() bool
	PlotBase64() (string, error)
	ClearPlot()
	ResetOutputBuffers()

	// Reset drops the dataset slot, as if the runtime had been torn down.
	Reset(ctx context.Context) error
	Close() error
}
