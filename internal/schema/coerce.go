package schema

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"
)

var (
	errNotString = errors.New("must be a string")
	errNotInt    = errors.New("must be an integer")
	errNotFloat  = errors.New("must be a finite number")
	errNotBool   = errors.New("must be a boolean")
	errNotTime   = errors.New("must be an RFC 3339 timestamp")
)

func coerce(t Type, raw any) (any, error) {
	switch t {
	case String:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return nil, errNotString
	case Int:
		return toInt(raw)
	case Float:
		f, err := toFloat(raw)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errNotFloat
		}
		return f, nil
	case Bool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch v {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, errNotBool
	case Time:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, errNotTime
			}
			return ts.UTC(), nil
		}
		return nil, errNotTime
	}
	return nil, errors.New("unsupported type")
}

func toInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return nil, errNotInt
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, errNotInt
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return nil, errNotInt
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, errNotInt
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errNotInt
		}
		return n, nil
	}
	return nil, errNotInt
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, errNotFloat
}

func hasType(t Type, v any) bool {
	switch t {
	case String:
		_, ok := v.(string)
		return ok
	case Int:
		_, ok := v.(int64)
		return ok
	case Float:
		_, ok := v.(float64)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Time:
		_, ok := v.(time.Time)
		return ok
	}
	return false
}
