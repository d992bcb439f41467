package runtime

import (
	"fmt"
	"math/big"
	"time"

	"go.starlark.net/starlark"
)

// sqlToStarlark converts a value scanned from DuckDB into a Starlark value.
func sqlToStarlark(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int8:
		return starlark.MakeInt64(int64(val))
	case int16:
		return starlark.MakeInt64(int64(val))
	case int32:
		return starlark.MakeInt64(int64(val))
	case int64:
		return starlark.MakeInt64(val)
	case int:
		return starlark.MakeInt(val)
	case uint8:
		return starlark.MakeUint64(uint64(val))
	case uint16:
		return starlark.MakeUint64(uint64(val))
	case uint32:
		return starlark.MakeUint64(uint64(val))
	case uint64:
		return starlark.MakeUint64(val)
	case float32:
		return starlark.Float(val)
	case float64:
		return starlark.Float(val)
	case *big.Int:
		return starlark.MakeBigInt(val)
	case string:
		return starlark.String(val)
	case []byte:
		return starlark.String(string(val))
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return starlark.String(val.Format(time.DateOnly))
		}
		return starlark.String(val.Format(time.DateTime))
	case interface{ Float64() float64 }:
		// DECIMAL columns
		return starlark.Float(val.Float64())
	default:
		return starlark.String(fmt.Sprint(val))
	}
}

// toFloat extracts a number from a Starlark value.
func toFloat(v starlark.Value) (float64, bool) {
	switch val := v.(type) {
	case starlark.Int:
		f, _ := starlark.AsFloat(val)
		return f, true
	case starlark.Float:
		return float64(val), true
	case starlark.Bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// label renders a value as an axis label, without quoting strings.
func label(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// iterValues flattens any Starlark iterable, or a dataset column, into a slice.
func iterValues(v starlark.Value) ([]starlark.Value, error) {
	if col, ok := v.(*Column); ok {
		return col.values()
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want iterable", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for iter.Next(&x) {
		out = append(out, x)
	}
	return out, nil
}
