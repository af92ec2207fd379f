package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05.000"
)

// ParseValue converts literal text to the Go value a column of type dt
// holds: bool, string, int32, int64, uint64, float32, float64 or a UTC
// time.Time.
func ParseValue(dt DataType, s string) (any, error) {
	switch dt {
	case Boolean:
		switch strings.ToLower(s) {
		case "true", "t", "1":
			return true, nil
		case "false", "f", "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", s)
	case Char:
		if len([]rune(s)) != 1 {
			return nil, fmt.Errorf("invalid char %q", s)
		}
		return s, nil
	case String, Bat:
		return s, nil
	case Int:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case Long:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case Oid:
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case Float:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, err
		}
		return float32(v), nil
	case Double:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case Date:
		v, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, err
		}
		return v.UTC(), nil
	case Timestamp:
		for _, layout := range []string{TimestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05", DateLayout} {
			if v, err := time.Parse(layout, s); err == nil {
				return v.UTC(), nil
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return nil, fmt.Errorf("invalid timestamp %q", s)
	default:
		return nil, fmt.Errorf("cannot parse values of type %s", dt)
	}
}
