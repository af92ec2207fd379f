package types

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// DataType is the semantic type of a column.
type DataType int

const (
	Invalid DataType = iota
	Boolean
	Char
	Date
	Double
	Float
	Int
	Long
	Oid // row-id
	String
	Bat // nested-table-reference
	Timestamp
)

var dataTypeNames = [...]string{
	Invalid:   "invalid",
	Boolean:   "boolean",
	Char:      "char",
	Date:      "date",
	Double:    "double",
	Float:     "float",
	Int:       "int",
	Long:      "long",
	Oid:       "oid",
	String:    "string",
	Bat:       "bat",
	Timestamp: "timestamp",
}

// dataTypeLookup is built once at init and never written again.
var dataTypeLookup = map[string]DataType{
	"boolean":   Boolean,
	"bool":      Boolean,
	"bit":       Boolean,
	"char":      Char,
	"chr":       Char,
	"date":      Date,
	"double":    Double,
	"dbl":       Double,
	"float":     Float,
	"flt":       Float,
	"int":       Int,
	"integer":   Int,
	"long":      Long,
	"lng":       Long,
	"oid":       Oid,
	"rowid":     Oid,
	"row-id":    Oid,
	"string":    String,
	"str":       String,
	"bat":       Bat,
	"table":     Bat,
	"timestamp": Timestamp,
}

func (d DataType) String() string {
	if d < 0 || int(d) >= len(dataTypeNames) {
		return dataTypeNames[Invalid]
	}
	return dataTypeNames[d]
}

// ParseDataType resolves a type name case-insensitively.
func ParseDataType(name string) (DataType, error) {
	if dt, ok := dataTypeLookup[Fold(strings.TrimSpace(name))]; ok {
		return dt, nil
	}
	return Invalid, ErrUnknownType(name)
}

// AllDataTypes lists every valid type in declaration order.
func AllDataTypes() []DataType {
	out := make([]DataType, 0, len(dataTypeNames)-1)
	for d := Boolean; d <= Timestamp; d++ {
		out = append(out, d)
	}
	return out
}

func (d DataType) IsNumeric() bool {
	switch d {
	case Int, Long, Float, Double:
		return true
	default:
		return false
	}
}

// numeric rank along the widening order int -> long -> float -> double
func (d DataType) rank() int {
	switch d {
	case Int:
		return 1
	case Long:
		return 2
	case Float:
		return 3
	case Double:
		return 4
	default:
		return 0
	}
}

// Widen returns the common type two numeric operands are promoted to before
// a column-to-column comparison. Non-numeric types only pair with themselves.
// A long mixed with float or double widens to double: float cannot hold every
// long exactly.
func Widen(a, b DataType) (DataType, error) {
	if a == b {
		return a, nil
	}
	if !a.IsNumeric() || !b.IsNumeric() {
		return Invalid, fmt.Errorf("%w: cannot compare %s with %s", ErrSchemaMismatch, a, b)
	}
	hi, lo := a, b
	if lo.rank() > hi.rank() {
		hi, lo = lo, hi
	}
	if lo == Long && (hi == Float || hi == Double) {
		return Double, nil
	}
	return hi, nil
}

// Fold normalizes identifiers for case-insensitive comparison.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// EqualFold compares two identifiers case-insensitively.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}
