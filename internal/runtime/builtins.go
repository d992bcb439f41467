package runtime

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// predeclared builds the globals visible to analysis code: df, columns, sql
// and plt. Callers hold r.mu.
func (r *DuckDBRuntime) predeclared(ctx context.Context) (starlark.StringDict, error) {
	globals := starlark.StringDict{
		"sql": starlark.NewBuiltin("sql", r.sqlBuiltin(ctx)),
		"plt": r.pltModule(),
	}

	if r.datasetExists(ctx) {
		frame, err := newFrame(ctx, r.db)
		if err != nil {
			return nil, err
		}
		globals["df"] = frame
		globals["columns"] = stringList(frame.columns)
	}
	return globals, nil
}

func (r *DuckDBRuntime) sqlBuiltin(ctx context.Context) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var query string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "query", &query); err != nil {
			return nil, err
		}
		f := &Frame{ctx: ctx, db: r.db}
		return f.records(query)
	}
}

func (r *DuckDBRuntime) pltModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "plt",
		Members: starlark.StringDict{
			"bar":    starlark.NewBuiltin("bar", r.pltSeries(SeriesBar)),
			"plot":   starlark.NewBuiltin("plot", r.pltSeries(SeriesLine)),
			"title":  starlark.NewBuiltin("title", r.pltText(func(f *Figure, s string) { f.Title = s })),
			"xlabel": starlark.NewBuiltin("xlabel", r.pltText(func(f *Figure, s string) { f.XLabel = s })),
			"ylabel": starlark.NewBuiltin("ylabel", r.pltText(func(f *Figure, s string) { f.YLabel = s })),
			"show":   starlark.NewBuiltin("show", noop),
			"figure": starlark.NewBuiltin("figure", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
				r.figure = &Figure{}
				return starlark.None, nil
			}),
		},
	}
}

func (r *DuckDBRuntime) currentFigure() *Figure {
	if r.figure == nil {
		r.figure = &Figure{}
	}
	return r.figure
}

func (r *DuckDBRuntime) pltSeries(kind SeriesKind) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x, y starlark.Value
		var title string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "y?", &y, "title?", &title); err != nil {
			return nil, err
		}

		xs, err := iterValues(x)
		if err != nil {
			return nil, fmt.Errorf("%s: x: %w", b.Name(), err)
		}
		var ys []starlark.Value
		if y == nil || y == starlark.None {
			// plt.plot(values) plots against positions.
			ys = xs
			xs = make([]starlark.Value, len(ys))
			for i := range xs {
				xs[i] = starlark.MakeInt(i)
			}
		} else if ys, err = iterValues(y); err != nil {
			return nil, fmt.Errorf("%s: y: %w", b.Name(), err)
		}
		if len(xs) != len(ys) {
			return nil, fmt.Errorf("%s: x and y must have the same length, got %d and %d", b.Name(), len(xs), len(ys))
		}

		s := Series{Kind: kind, Labels: make([]string, len(xs)), Values: make([]float64, len(ys))}
		for i := range xs {
			s.Labels[i] = label(xs[i])
			v, ok := toFloat(ys[i])
			if !ok {
				return nil, fmt.Errorf("%s: y[%d] is %s, want number", b.Name(), i, ys[i].Type())
			}
			s.Values[i] = v
		}

		fig := r.currentFigure()
		fig.Series = append(fig.Series, s)
		if title != "" {
			fig.Title = title
		}
		return starlark.None, nil
	}
}

func (r *DuckDBRuntime) pltText(set func(*Figure, string)) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "text", &s); err != nil {
			return nil, err
		}
		set(r.currentFigure(), s)
		return starlark.None, nil
	}
}

func noop(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return starlark.None, nil
}
