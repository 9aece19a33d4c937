package reduction

import (
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"colreduce/columnar"
)

// Scalar is the result of a reduction. The value is held normalized by
// family: int64, uint64, float64, bool or string, already narrowed to the
// width of the scalar's type.
type Scalar struct {
	dataType columnar.DataType
	valid    bool
	value    any
}

// NullScalar returns an invalid scalar of type dt
func NullScalar(dt columnar.DataType) Scalar {
	return Scalar{dataType: dt}
}

// BoolScalar returns a valid BOOL8 scalar
func BoolScalar(v bool) Scalar {
	return Scalar{dataType: columnar.DataTypeBool, valid: true, value: v}
}

// StringScalar returns a valid STRING scalar
func StringScalar(v string) Scalar {
	return Scalar{dataType: columnar.DataTypeString, valid: true, value: v}
}

// SignedScalar narrows v to the width of dt with two's complement wrap.
func SignedScalar(dt columnar.DataType, v int64) Scalar {
	switch dt {
	case columnar.DataTypeInt8:
		v = int64(int8(v))
	case columnar.DataTypeInt16:
		v = int64(int16(v))
	case columnar.DataTypeInt32:
		v = int64(int32(v))
	}
	return Scalar{dataType: dt, valid: true, value: v}
}

// UnsignedScalar narrows v to the width of dt with wraparound.
func UnsignedScalar(dt columnar.DataType, v uint64) Scalar {
	switch dt {
	case columnar.DataTypeUint8:
		v = uint64(uint8(v))
	case columnar.DataTypeUint16:
		v = uint64(uint16(v))
	case columnar.DataTypeUint32:
		v = uint64(uint32(v))
	}
	return Scalar{dataType: dt, valid: true, value: v}
}

// FloatScalar rounds v to float32 precision when dt is FLOAT32.
func FloatScalar(dt columnar.DataType, v float64) Scalar {
	if dt == columnar.DataTypeFloat32 {
		v = float64(float32(v))
	}
	return Scalar{dataType: dt, valid: true, value: v}
}

// integerScalar stores v in any integer type, signed or not
func integerScalar(dt columnar.DataType, v int64) Scalar {
	if dt.Family() == columnar.FamilyUnsigned {
		return UnsignedScalar(dt, uint64(v))
	}
	return SignedScalar(dt, v)
}

// scalarOf converts an element to a scalar of type dt in the same family
func scalarOf[T any](dt columnar.DataType, v T) Scalar {
	switch x := any(v).(type) {
	case int8:
		return SignedScalar(dt, int64(x))
	case int16:
		return SignedScalar(dt, int64(x))
	case int32:
		return SignedScalar(dt, int64(x))
	case int64:
		return SignedScalar(dt, x)
	case uint8:
		return UnsignedScalar(dt, uint64(x))
	case uint16:
		return UnsignedScalar(dt, uint64(x))
	case uint32:
		return UnsignedScalar(dt, uint64(x))
	case uint64:
		return UnsignedScalar(dt, x)
	case float32:
		return FloatScalar(dt, float64(x))
	case float64:
		return FloatScalar(dt, x)
	case bool:
		return BoolScalar(x)
	case string:
		return StringScalar(x)
	}
	return NullScalar(dt)
}

// Type returns the scalar's data type
func (s Scalar) Type() columnar.DataType { return s.dataType }

// Valid reports whether the scalar holds a value
func (s Scalar) Valid() bool { return s.valid }

// Int64 returns the value as int64. Floats are truncated; invalid scalars
// return 0.
func (s Scalar) Int64() int64 {
	switch v := s.value.(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Uint64 returns the value as uint64
func (s Scalar) Uint64() uint64 {
	switch v := s.value.(type) {
	case int64:
		return uint64(v)
	case uint64:
		return v
	case float64:
		return uint64(v)
	case bool:
		if v {
			return 1
		}
	}
	return 0
}

// Float64 returns the value as float64; invalid scalars return NaN.
func (s Scalar) Float64() float64 {
	switch v := s.value.(type) {
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	}
	return math.NaN()
}

// Bool returns the value as bool; numbers are true when non-zero.
func (s Scalar) Bool() bool {
	switch v := s.value.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case uint64:
		return v != 0
	case float64:
		return v != 0
	}
	return false
}

// Value returns the value as the Go type of the scalar's data type (int32
// for INT32 and so on), or nil when the scalar is invalid.
func (s Scalar) Value() any {
	if !s.valid {
		return nil
	}
	switch s.dataType {
	case columnar.DataTypeInt8:
		return int8(s.Int64())
	case columnar.DataTypeInt16:
		return int16(s.Int64())
	case columnar.DataTypeInt32:
		return int32(s.Int64())
	case columnar.DataTypeInt64:
		return s.Int64()
	case columnar.DataTypeUint8:
		return uint8(s.Uint64())
	case columnar.DataTypeUint16:
		return uint16(s.Uint64())
	case columnar.DataTypeUint32:
		return uint32(s.Uint64())
	case columnar.DataTypeUint64:
		return s.Uint64()
	case columnar.DataTypeFloat32:
		return float32(s.Float64())
	case columnar.DataTypeFloat64:
		return s.Float64()
	}
	return s.value
}

// Text formats the value; invalid scalars format as NULL.
func (s Scalar) Text() string {
	if !s.valid {
		return "NULL"
	}
	switch v := s.value.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		bits := 64
		if s.dataType == columnar.DataTypeFloat32 {
			bits = 32
		}
		return strconv.FormatFloat(v, 'g', -1, bits)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	}
	return fmt.Sprint(s.value)
}

func (s Scalar) String() string {
	return fmt.Sprintf("%s(%s)", s.dataType, s.Text())
}

// Equal compares type, validity and value. Floats compare by bit pattern.
func (s Scalar) Equal(other Scalar) bool {
	if s.dataType != other.dataType || s.valid != other.valid {
		return false
	}
	if !s.valid {
		return true
	}
	if a, ok := s.value.(float64); ok {
		b, ok := other.value.(float64)
		return ok && math.Float64bits(a) == math.Float64bits(b)
	}
	return s.value == other.value
}

// ParseScalar parses the Text of a valid scalar back into a scalar of type
// dt.
func ParseScalar(dt columnar.DataType, text string) (Scalar, error) {
	switch dt.Family() {
	case columnar.FamilySigned:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Scalar{}, err
		}
		return SignedScalar(dt, v), nil
	case columnar.FamilyUnsigned:
		v, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return Scalar{}, err
		}
		return UnsignedScalar(dt, v), nil
	case columnar.FamilyFloat:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Scalar{}, err
		}
		return FloatScalar(dt, v), nil
	case columnar.FamilyBool:
		v, err := strconv.ParseBool(text)
		if err != nil {
			return Scalar{}, err
		}
		return BoolScalar(v), nil
	case columnar.FamilyString:
		return StringScalar(text), nil
	}
	return Scalar{}, &columnar.TypeError{Op: "parse scalar", DataType: dt}
}

type scalarJSON struct {
	Type  string  `json:"type"`
	Value *string `json:"value"`
}

// MarshalJSON encodes the value as text so NaN and 64-bit integers survive.
func (s Scalar) MarshalJSON() ([]byte, error) {
	out := scalarJSON{Type: s.dataType.String()}
	if s.valid {
		text := s.Text()
		out.Value = &text
	}
	return json.Marshal(out)
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	var in scalarJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	dt, err := columnar.ParseDataType(in.Type)
	if err != nil {
		return err
	}
	if in.Value == nil {
		*s = NullScalar(dt)
		return nil
	}
	parsed, err := ParseScalar(dt, *in.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
