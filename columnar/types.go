package columnar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Constants
const (
	MagicNumber  = 0x43524443 // "CRDC"
	MajorVersion = 1
	MinorVersion = 0

	// NullIndex marks a null row in a dictionary column's indices
	NullIndex int32 = -1

	// DefaultPartitionSize is the number of rows handled by one worker
	DefaultPartitionSize = 1 << 16
)

// Errors
var (
	ErrTypeError      = errors.New("unsupported element type")
	ErrCorruptColumn  = errors.New("corrupt column data")
	ErrInvalidVersion = errors.New("unsupported column version")
	ErrLengthMismatch = errors.New("length mismatch")
	ErrIndexRange     = errors.New("dictionary index out of range")
)

// TypeError reports an element type that cannot take part in an operation.
type TypeError struct {
	Op       string
	DataType DataType
	Reason   string
}

func (e *TypeError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: type %s not supported", e.Op, e.DataType)
	}
	return fmt.Sprintf("%s: type %s not supported: %s", e.Op, e.DataType, e.Reason)
}

// Is makes errors.Is(err, ErrTypeError) hold for every TypeError.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeError
}

// DataType represents the data type of a column
type DataType uint8

const (
	DataTypeInt8 DataType = iota // byte
	DataTypeInt16                // short
	DataTypeInt32
	DataTypeInt64
	DataTypeUint8  // unsigned byte
	DataTypeUint16 // unsigned short
	DataTypeUint32
	DataTypeUint64
	DataTypeFloat32
	DataTypeFloat64
	DataTypeBool
	DataTypeString
	DataTypeBinary
)

// Family groups data types whose values convert into each other without
// changing meaning, only width.
type Family uint8

const (
	FamilySigned Family = iota
	FamilyUnsigned
	FamilyFloat
	FamilyBool
	FamilyString
	FamilyBinary
)

// ByteOrder is the byte order used for encoding
var ByteOrder = binary.LittleEndian

var dataTypeNames = map[DataType]string{
	DataTypeInt8:    "INT8",
	DataTypeInt16:   "INT16",
	DataTypeInt32:   "INT32",
	DataTypeInt64:   "INT64",
	DataTypeUint8:   "UINT8",
	DataTypeUint16:  "UINT16",
	DataTypeUint32:  "UINT32",
	DataTypeUint64:  "UINT64",
	DataTypeFloat32: "FLOAT32",
	DataTypeFloat64: "FLOAT64",
	DataTypeBool:    "BOOL8",
	DataTypeString:  "STRING",
	DataTypeBinary:  "BINARY",
}

func (dt DataType) String() string {
	if name, ok := dataTypeNames[dt]; ok {
		return name
	}
	return fmt.Sprintf("DataType(%d)", uint8(dt))
}

// Valid reports whether dt is one of the declared data types.
func (dt DataType) Valid() bool {
	return dt <= DataTypeBinary
}

// Family returns the family dt belongs to
func (dt DataType) Family() Family {
	switch dt {
	case DataTypeInt8, DataTypeInt16, DataTypeInt32, DataTypeInt64:
		return FamilySigned
	case DataTypeUint8, DataTypeUint16, DataTypeUint32, DataTypeUint64:
		return FamilyUnsigned
	case DataTypeFloat32, DataTypeFloat64:
		return FamilyFloat
	case DataTypeBool:
		return FamilyBool
	case DataTypeString:
		return FamilyString
	default:
		return FamilyBinary
	}
}

// IsNumeric reports whether dt is an integer or floating point type
func (dt DataType) IsNumeric() bool {
	switch dt.Family() {
	case FamilySigned, FamilyUnsigned, FamilyFloat:
		return true
	}
	return false
}

// IsInteger reports whether dt is a signed or unsigned integer type
func (dt DataType) IsInteger() bool {
	f := dt.Family()
	return f == FamilySigned || f == FamilyUnsigned
}

// IsOrderable reports whether values of dt have a total order usable for
// deduplication and MIN/MAX.
func (dt DataType) IsOrderable() bool {
	return dt.Valid() && dt != DataTypeBinary
}

// ParseDataType parses a type name such as "int32", "FLOAT64" or "bool8".
func ParseDataType(name string) (DataType, error) {
	switch normalizeTypeName(name) {
	case "INT8", "TINYINT":
		return DataTypeInt8, nil
	case "INT16", "SMALLINT", "INT2":
		return DataTypeInt16, nil
	case "INT32", "INT", "INTEGER", "INT4":
		return DataTypeInt32, nil
	case "INT64", "BIGINT":
		return DataTypeInt64, nil
	case "UINT8":
		return DataTypeUint8, nil
	case "UINT16":
		return DataTypeUint16, nil
	case "UINT32":
		return DataTypeUint32, nil
	case "UINT64":
		return DataTypeUint64, nil
	case "FLOAT32", "FLOAT", "REAL", "FLOAT4":
		return DataTypeFloat32, nil
	case "FLOAT64", "DOUBLE", "FLOAT8":
		return DataTypeFloat64, nil
	case "BOOL8", "BOOL", "BOOLEAN":
		return DataTypeBool, nil
	case "STRING", "TEXT", "VARCHAR":
		return DataTypeString, nil
	case "BINARY", "BYTEA":
		return DataTypeBinary, nil
	}
	return 0, fmt.Errorf("unknown data type %q", name)
}

func normalizeTypeName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "", "_", "").Replace(name)
}

// GetDataTypeSize returns the size in bytes of a data type
func GetDataTypeSize(dt DataType) int {
	switch dt {
	case DataTypeBool, DataTypeInt8, DataTypeUint8:
		return 1
	case DataTypeInt16, DataTypeUint16:
		return 2
	case DataTypeInt32, DataTypeUint32, DataTypeFloat32:
		return 4
	case DataTypeInt64, DataTypeUint64, DataTypeFloat64:
		return 8
	default:
		return 0 // variable width
	}
}
