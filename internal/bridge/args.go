package bridge

import (
	"encoding/json"
	"fmt"
	"math"
)

// Args are the positional arguments of one call as decoded by a transport:
// JSON numbers arrive as float64, msgpack integers as any sized int, script
// values as int64 or float64.
type Args []any

// String returns argument i. A missing or null argument reads as "".
func (a Args) String(i int) (string, error) {
	if i >= len(a) || a[i] == nil {
		return "", nil
	}
	switch v := a[i].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
		}
		return s, nil
	default:
		return "", fmt.Errorf("%w: argument %d is %T, want string", ErrInvalidArgument, i, a[i])
	}
}

// Int returns argument i as an integer. Missing arguments are an error.
func (a Args) Int(i int) (int, error) {
	if i >= len(a) || a[i] == nil {
		return 0, fmt.Errorf("%w: argument %d missing", ErrInvalidArgument, i)
	}
	var f float64
	switch v := a[i].(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("%w: argument %d out of range", ErrInvalidArgument, i)
		}
		return int(v), nil
	case float32:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: argument %d is %T, want number", ErrInvalidArgument, i, a[i])
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: argument %d is not an integer", ErrInvalidArgument, i)
	}
	return int(f), nil
}
