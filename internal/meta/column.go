package meta

import (
	"fmt"
	"time"
)

// ColumnType identifies the mapped scalar type of a property column.
type ColumnType int

const (
	TypeString ColumnType = iota + 1
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeBytes
)

// String returns the mapping-language name of the column type.
func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// ParseColumnType parses a mapping-language type name.
func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "int":
		return TypeInt, nil
	case "float":
		return TypeFloat, nil
	case "bool":
		return TypeBool, nil
	case "time":
		return TypeTime, nil
	case "bytes":
		return TypeBytes, nil
	default:
		return 0, fmt.Errorf("unknown column type %q (valid: string, int, float, bool, time, bytes)", s)
	}
}

// SQLType returns the SQLite column declaration for the type. TIMESTAMP and
// BOOLEAN are declared so the driver converts on scan.
func (t ColumnType) SQLType() string {
	switch t {
	case TypeString:
		return "TEXT"
	case TypeInt:
		return "INTEGER"
	case TypeFloat:
		return "REAL"
	case TypeBool:
		return "BOOLEAN"
	case TypeTime:
		return "TIMESTAMP"
	case TypeBytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// ToParam converts a Value into a driver-compatible statement parameter.
func ToParam(v Value) (any, error) {
	switch val := v.(type) {
	case nil, Null:
		return nil, nil
	case String:
		return string(val), nil
	case Int:
		return int64(val), nil
	case Float:
		return float64(val), nil
	case Bool:
		return bool(val), nil
	case Time:
		return time.Time(val), nil
	case Bytes:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", v)
	}
}

// FromColumn converts a value scanned from a column of the given type into a
// Value. It accepts both driver-converted types (time.Time for TIMESTAMP,
// bool for BOOLEAN) and the raw storage classes SQLite falls back to.
func FromColumn(t ColumnType, src any) (Value, error) {
	if src == nil {
		return Null{}, nil
	}
	switch t {
	case TypeString:
		switch s := src.(type) {
		case string:
			return String(s), nil
		case []byte:
			return String(s), nil
		}
	case TypeInt:
		if n, ok := src.(int64); ok {
			return Int(n), nil
		}
	case TypeFloat:
		switch f := src.(type) {
		case float64:
			return Float(f), nil
		case int64:
			return Float(f), nil
		}
	case TypeBool:
		switch b := src.(type) {
		case bool:
			return Bool(b), nil
		case int64:
			return Bool(b != 0), nil
		}
	case TypeTime:
		switch ts := src.(type) {
		case time.Time:
			return Time(ts), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("parse time column: %w", err)
			}
			return Time(parsed), nil
		}
	case TypeBytes:
		switch b := src.(type) {
		case []byte:
			return NewBytes(b), nil
		case string:
			return Bytes(b), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s column value", src, t)
}
