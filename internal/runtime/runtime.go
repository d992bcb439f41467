// Package runtime is the sandboxed analysis environment.
//
// Files live in a private working directory that plays the role of the
// runtime's virtual file namespace. The dataset slot is a DuckDB table named
// df, and analysis code is Starlark evaluated against a pandas-like view of
// that table. Closing or resetting the runtime drops the dataset slot; the
// working directory survives a Reset, mirroring a runtime whose file system
// outlives its interpreter state.
package runtime

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/leapstack-labs/csvchat/pkg/core"
	_ "github.com/marcboeker/go-duckdb" // duckdb driver
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DatasetTable is the table holding the loaded dataset.
const DatasetTable = "df"

// DefaultMaxSteps bounds a single Execute call.
const DefaultMaxSteps = 10_000_000

// Config configures a DuckDBRuntime.
type Config struct {
	// WorkDir is the virtual file namespace. Empty creates a temporary
	// directory that is removed on Close.
	WorkDir  string
	MaxSteps uint64
	Logger   *slog.Logger
}

// DuckDBRuntime implements core.Runtime on an in-memory DuckDB database.
type DuckDBRuntime struct {
	mu       sync.Mutex
	db       *sql.DB
	dir      string
	ownsDir  bool
	maxSteps uint64
	logger   *slog.Logger

	// bound is the namespace file the dataset slot was loaded from.
	bound  string
	stdout bytes.Buffer
	figure *Figure
}

// New starts a runtime with an empty dataset slot.
func New(ctx context.Context, cfg Config) (*DuckDBRuntime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dir := cfg.WorkDir
	ownsDir := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "csvchat-runtime-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create runtime directory: %w", err)
		}
		dir = tmp
		ownsDir = true
	} else if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}

	db, err := openDuckDB(ctx)
	if err != nil {
		if ownsDir {
			_ = os.RemoveAll(dir)
		}
		return nil, err
	}

	maxSteps := cfg.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}

	logger.Debug("runtime started", slog.String("dir", dir), slog.Uint64("max_steps", maxSteps))
	return &DuckDBRuntime{
		db:       db,
		dir:      dir,
		ownsDir:  ownsDir,
		maxSteps: maxSteps,
		logger:   logger,
	}, nil
}

func openDuckDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	// An in-memory database lives per connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	return db, nil
}

// Dir returns the working directory backing the file namespace.
func (r *DuckDBRuntime) Dir() string {
	return r.dir
}

// path maps a file name to its location in the working directory. The
// mapping is one to one: separators and glob characters are escaped, so
// "q1/x.csv" and "x.csv" are distinct files.
func (r *DuckDBRuntime) path(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	encoded := url.PathEscape(name)
	if encoded == "." || encoded == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(r.dir, encoded), nil
}

// HasFile reports whether name exists in the namespace.
func (r *DuckDBRuntime) HasFile(name string) bool {
	p, err := r.path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to stat runtime file", slog.String("name", name), slog.String("error", err.Error()))
		}
		return false
	}
	return info.Mode().IsRegular()
}

// WriteFile stores data in the namespace, replacing any previous file.
func (r *DuckDBRuntime) WriteFile(name string, data []byte) error {
	p, err := r.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("failed to write runtime file %s: %w", name, err)
	}
	r.logger.Debug("wrote runtime file", slog.String("name", name), slog.Int("bytes", len(data)))
	return nil
}

// RemoveFile deletes name from the namespace. Missing files are ignored.
func (r *DuckDBRuntime) RemoveFile(name string) error {
	p, err := r.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove runtime file %s: %w", name, err)
	}
	return nil
}

// LoadDataset parses the named CSV file into the dataset slot. On failure the
// slot is left empty and a *LoadError is returned.
func (r *DuckDBRuntime) LoadDataset(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.path(name)
	if err != nil {
		return &LoadError{File: name, Err: err}
	}

	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+DatasetTable); err != nil {
		return fmt.Errorf("failed to clear dataset: %w", err)
	}
	r.bound = ""

	if err := sniffCSV(p); err != nil {
		return &LoadError{File: name, Err: err}
	}

	query := fmt.Sprintf(
		"CREATE TABLE %s AS SELECT * FROM read_csv_auto('%s', header=true)",
		DatasetTable,
		strings.ReplaceAll(p, "'", "''"),
	)
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return &LoadError{File: name, Err: err}
	}

	r.bound = name
	r.logger.Debug("loaded dataset", slog.String("file", name))
	return nil
}

// sniffSize is how much of a file sniffCSV inspects.
const sniffSize = 64 * 1024

// sniffCSV rejects files that cannot be a delimited text table before DuckDB
// gets a chance to coerce them into one.
func sniffCSV(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is confined to the runtime directory
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	head, err := bufio.NewReaderSize(f, sniffSize).Peek(sniffSize)
	if err != nil && len(head) == 0 {
		return errors.New("file is empty")
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return errors.New("file is not text")
	}
	if len(head) < sniffSize && !utf8.Valid(head) {
		return errors.New("file is not valid UTF-8")
	}
	if len(bytes.TrimSpace(head)) == 0 {
		return errors.New("file has no header row")
	}
	return nil
}

// IsDatasetLoaded reports whether the dataset slot holds a table.
func (r *DuckDBRuntime) IsDatasetLoaded(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.datasetExists(ctx)
}

func (r *DuckDBRuntime) datasetExists(ctx context.Context) bool {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'main' AND table_name = ?`,
		DatasetTable).Scan(&n)
	if err != nil {
		r.logger.Warn("failed to inspect dataset slot", slog.String("error", err.Error()))
		return false
	}
	return n > 0
}

// LoadedFile returns the namespace file the current dataset came from, or ""
// when the slot is empty.
func (r *DuckDBRuntime) LoadedFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bound
}

// Columns returns the dataset column names in table order.
func (r *DuckDBRuntime) Columns(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return tableColumns(ctx, r.db)
}

func tableColumns(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = 'main' AND table_name = ?
		 ORDER BY ordinal_position`, DatasetTable)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dataset columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, errors.New("no dataset loaded")
	}
	return columns, nil
}

// Execute runs analysis code against the dataset. Output from print goes to
// the stdout buffer; plt calls draw into the current figure. Failures are
// returned as *ExecError.
func (r *DuckDBRuntime) Execute(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	thread := &starlark.Thread{
		Name: "analysis",
		Print: func(_ *starlark.Thread, msg string) {
			r.stdout.WriteString(msg)
			r.stdout.WriteByte('\n')
		},
	}
	thread.SetMaxExecutionSteps(r.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	predeclared, err := r.predeclared(ctx)
	if err != nil {
		return &ExecError{Err: err}
	}

	opts := &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
	}
	if _, err := starlark.ExecFileOptions(opts, thread, "analysis.star", code, predeclared); err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			r.logger.Debug("analysis code failed", slog.String("backtrace", evalErr.Backtrace()))
		}
		return &ExecError{Err: err}
	}
	return nil
}

// Stdout returns everything printed since the last ResetOutputBuffers.
func (r *DuckDBRuntime) Stdout() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdout.String()
}

// HasPlot reports whether the current figure has been drawn on.
func (r *DuckDBRuntime) HasPlot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.figure != nil && !r.figure.Empty()
}

// PlotBase64 renders the current figure as a base64-encoded PNG.
func (r *DuckDBRuntime) PlotBase64() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.figure == nil || r.figure.Empty() {
		return "", errors.New("no plot to render")
	}
	data, err := r.figure.PNG()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// ClearPlot discards the current figure.
func (r *DuckDBRuntime) ClearPlot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.figure = nil
}

// ResetOutputBuffers clears captured stdout and the current figure.
func (r *DuckDBRuntime) ResetOutputBuffers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stdout.Reset()
	r.figure = nil
}

// Reset drops the dataset slot and output buffers. Files in the namespace
// are kept.
func (r *DuckDBRuntime) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+DatasetTable); err != nil {
		return fmt.Errorf("failed to reset dataset: %w", err)
	}
	r.bound = ""
	r.stdout.Reset()
	r.figure = nil
	r.logger.Debug("runtime reset")
	return nil
}

// Close shuts down the database and removes a temporary namespace.
func (r *DuckDBRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	if r.ownsDir {
		errs = append(errs, os.RemoveAll(r.dir))
	}
	return errors.Join(errs...)
}

var _ core.Runtime = (*DuckDBRuntime)(nil)
