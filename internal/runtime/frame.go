package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.starlark.net/starlark"
)

// frameRepr caps the rows shown when a frame is printed.
const frameRepr = 10

// aggregates maps column method names to SQL aggregate expressions.
var aggregates = map[string]func(col string) string{
	"sum":     func(c string) string { return "COALESCE(SUM(" + c + "), 0)" },
	"mean":    func(c string) string { return "AVG(" + c + ")" },
	"median":  func(c string) string { return "MEDIAN(" + c + ")" },
	"std":     func(c string) string { return "STDDEV_SAMP(" + c + ")" },
	"min":     func(c string) string { return "MIN(" + c + ")" },
	"max":     func(c string) string { return "MAX(" + c + ")" },
	"count":   func(c string) string { return "COUNT(" + c + ")" },
	"nunique": func(c string) string { return "COUNT(DISTINCT " + c + ")" },
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Frame is the Starlark view of the dataset table.
type Frame struct {
	ctx     context.Context
	db      *sql.DB
	columns []string
}

var (
	_ starlark.Mapping  = (*Frame)(nil)
	_ starlark.HasAttrs = (*Frame)(nil)
)

func newFrame(ctx context.Context, db *sql.DB) (*Frame, error) {
	columns, err := tableColumns(ctx, db)
	if err != nil {
		return nil, err
	}
	return &Frame{ctx: ctx, db: db, columns: columns}, nil
}

func (f *Frame) Type() string         { return "DataFrame" }
func (f *Frame) Freeze()              {}
func (f *Frame) Truth() starlark.Bool { return starlark.True }
func (f *Frame) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: DataFrame")
}

// String renders the first rows as a table.
func (f *Frame) String() string {
	cols, rows, err := f.query(fmt.Sprintf("SELECT * FROM %s LIMIT %d", DatasetTable, frameRepr))
	if err != nil {
		return fmt.Sprintf("<DataFrame: %v>", err)
	}

	tw := table.NewWriter()
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, v := range row {
			r[i] = label(sqlToStarlark(v))
		}
		tw.AppendRow(r)
	}
	tw.SetStyle(table.StyleLight)
	return tw.Render()
}

// Get implements df["column"].
func (f *Frame) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("DataFrame index must be a column name, got %s", k.Type())
	}
	if !slices.Contains(f.columns, name) {
		return nil, false, fmt.Errorf("KeyError: %q (columns: %s)", name, strings.Join(f.columns, ", "))
	}
	return &Column{frame: f, name: name}, true, nil
}

var frameAttrs = []string{"columns", "describe", "groupby", "head", "shape", "value_counts"}

func (f *Frame) AttrNames() []string { return frameAttrs }

func (f *Frame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		return stringList(f.columns), nil
	case "shape":
		n, err := f.rowCount()
		if err != nil {
			return nil, err
		}
		return starlark.Tuple{starlark.MakeInt64(n), starlark.MakeInt(len(f.columns))}, nil
	case "head":
		return starlark.NewBuiltin("head", f.head), nil
	case "describe":
		return starlark.NewBuiltin("describe", f.describe), nil
	case "value_counts":
		return starlark.NewBuiltin("value_counts", f.valueCounts), nil
	case "groupby":
		return starlark.NewBuiltin("groupby", f.groupBy), nil
	}
	return nil, nil
}

func (f *Frame) rowCount() (int64, error) {
	var n int64
	if err := f.db.QueryRowContext(f.ctx, "SELECT COUNT(*) FROM "+DatasetTable).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

func (f *Frame) head(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	return f.records(fmt.Sprintf("SELECT * FROM %s LIMIT %d", DatasetTable, n))
}

func (f *Frame) describe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}

	out := starlark.NewDict(len(f.columns))
	for _, name := range f.columns {
		c := quoteIdent(name)
		query := fmt.Sprintf(
			"SELECT COUNT(%[1]s), COUNT(DISTINCT %[1]s), AVG(TRY_CAST(%[1]s AS DOUBLE)), MIN(%[1]s), MAX(%[1]s) FROM %[2]s",
			c, DatasetTable)
		_, rows, err := f.query(query)
		if err != nil {
			return nil, err
		}
		stats := starlark.NewDict(5)
		for i, key := range []string{"count", "unique", "mean", "min", "max"} {
			_ = stats.SetKey(starlark.String(key), sqlToStarlark(rows[0][i]))
		}
		_ = out.SetKey(starlark.String(name), stats)
	}
	return out, nil
}

func (f *Frame) valueCounts(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var col string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "column", &col); err != nil {
		return nil, err
	}
	if !slices.Contains(f.columns, col) {
		return nil, fmt.Errorf("%s: unknown column %q", b.Name(), col)
	}
	c := quoteIdent(col)
	query := fmt.Sprintf("SELECT %[1]s, COUNT(*) AS n FROM %[2]s GROUP BY %[1]s ORDER BY n DESC, %[1]s", c, DatasetTable)
	return f.pairs(query)
}

func (f *Frame) groupBy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var by, col string
	fn := "sum"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "column", &col, "agg?", &fn); err != nil {
		return nil, err
	}
	for _, name := range []string{by, col} {
		if !slices.Contains(f.columns, name) {
			return nil, fmt.Errorf("%s: unknown column %q", b.Name(), name)
		}
	}
	agg, ok := aggregates[fn]
	if !ok {
		return nil, fmt.Errorf("%s: unknown aggregate %q", b.Name(), fn)
	}
	query := fmt.Sprintf("SELECT %[1]s, %[2]s FROM %[3]s GROUP BY %[1]s ORDER BY %[1]s",
		quoteIdent(by), agg(quoteIdent(col)), DatasetTable)
	return f.pairs(query)
}

// query runs a statement and materializes every row.
func (f *Frame) query(query string) ([]string, [][]any, error) {
	rows, err := f.db.QueryContext(f.ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return cols, out, nil
}

// records returns a query result as a list of dicts keyed by column.
func (f *Frame) records(query string) (starlark.Value, error) {
	cols, rows, err := f.query(query)
	if err != nil {
		return nil, err
	}
	list := make([]starlark.Value, len(rows))
	for i, row := range rows {
		d := starlark.NewDict(len(cols))
		for j, c := range cols {
			_ = d.SetKey(starlark.String(c), sqlToStarlark(row[j]))
		}
		list[i] = d
	}
	return starlark.NewList(list), nil
}

// pairs returns a two-column query result as a dict.
func (f *Frame) pairs(query string) (starlark.Value, error) {
	_, rows, err := f.query(query)
	if err != nil {
		return nil, err
	}
	d := starlark.NewDict(len(rows))
	for _, row := range rows {
		key := sqlToStarlark(row[0])
		if key == starlark.None {
			key = starlark.String("None")
		}
		if err := d.SetKey(key, sqlToStarlark(row[1])); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Column is a single dataset column, df["name"].
type Column struct {
	frame *Frame
	name  string
}

var _ starlark.HasAttrs = (*Column)(nil)

func (c *Column) String() string       { return fmt.Sprintf("<Column %s>", c.name) }
func (c *Column) Type() string         { return "Column" }
func (c *Column) Freeze()              {}
func (c *Column) Truth() starlark.Bool { return starlark.True }
func (c *Column) Hash() (uint32, error) {
	return starlark.String(c.name).Hash()
}

var columnAttrs = []string{
	"count", "max", "mean", "median", "min", "name", "nunique", "std", "sum", "unique", "values",
}

func (c *Column) AttrNames() []string { return columnAttrs }

func (c *Column) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(c.name), nil
	case "values":
		return starlark.NewBuiltin("values", c.listMethod(c.values)), nil
	case "unique":
		return starlark.NewBuiltin("unique", c.listMethod(c.unique)), nil
	}
	agg, ok := aggregates[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		_, rows, err := c.frame.query(fmt.Sprintf("SELECT %s FROM %s", agg(quoteIdent(c.name)), DatasetTable))
		if err != nil {
			return nil, err
		}
		return sqlToStarlark(rows[0][0]), nil
	}), nil
}

func (c *Column) listMethod(fn func() ([]starlark.Value, error)) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		vals, err := fn()
		if err != nil {
			return nil, err
		}
		return starlark.NewList(vals), nil
	}
}

func (c *Column) values() ([]starlark.Value, error) {
	return c.column(fmt.Sprintf("SELECT %s FROM %s", quoteIdent(c.name), DatasetTable))
}

func (c *Column) unique() ([]starlark.Value, error) {
	q := quoteIdent(c.name)
	return c.column(fmt.Sprintf(
		"SELECT %[1]s FROM (SELECT %[1]s, MIN(rowid) AS first FROM %[2]s GROUP BY %[1]s) ORDER BY first", q, DatasetTable))
}

func (c *Column) column(query string) ([]starlark.Value, error) {
	_, rows, err := c.frame.query(query)
	if err != nil {
		return nil, err
	}
	out := make([]starlark.Value, len(rows))
	for i, row := range rows {
		out[i] = sqlToStarlark(row[0])
	}
	return out, nil
}

func stringList(items []string) *starlark.List {
	list := make([]starlark.Value, len(items))
	for i, s := range items {
		list[i] = starlark.String(s)
	}
	return starlark.NewList(list)
}
