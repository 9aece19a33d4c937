package reduction

import (
	"fmt"
	"strings"

	"colreduce/columnar"
)

// Kind identifies an aggregation
type Kind uint8

const (
	KindMin Kind = iota
	KindMax
	KindMean
	KindAny
	KindAll
	KindSum
	KindCount
)

var kindNames = [...]string{
	KindMin:   "MIN",
	KindMax:   "MAX",
	KindMean:  "MEAN",
	KindAny:   "ANY",
	KindAll:   "ALL",
	KindSum:   "SUM",
	KindCount: "COUNT",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps an aggregate name, including the SQL spellings avg,
// bool_or, bool_and and every, to its Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "min":
		return KindMin, nil
	case "max":
		return KindMax, nil
	case "mean", "avg":
		return KindMean, nil
	case "any", "bool_or":
		return KindAny, nil
	case "all", "bool_and", "every":
		return KindAll, nil
	case "sum":
		return KindSum, nil
	case "count":
		return KindCount, nil
	}
	return 0, fmt.Errorf("unknown aggregation %q", name)
}

// NullPolicy selects whether COUNT counts null rows
type NullPolicy uint8

const (
	ExcludeNulls NullPolicy = iota
	IncludeNulls
)

func (p NullPolicy) String() string {
	if p == IncludeNulls {
		return "include"
	}
	return "exclude"
}

// Descriptor is a validated aggregation request: the kind, the element type
// it applies to and the output type used by ReduceDefault. Descriptors are
// values and never change after NewDescriptor returns.
type Descriptor struct {
	kind        Kind
	elementType columnar.DataType
	outputType  columnar.DataType
	nulls       NullPolicy
}

// DescriptorOption customizes a Descriptor
type DescriptorOption func(*descriptorConfig)

type descriptorConfig struct {
	output    columnar.DataType
	hasOutput bool
	nulls     NullPolicy
}

// WithOutputType overrides the default output type
func WithOutputType(dt columnar.DataType) DescriptorOption {
	return func(c *descriptorConfig) {
		c.output = dt
		c.hasOutput = true
	}
}

// WithNullPolicy sets the COUNT null policy
func WithNullPolicy(p NullPolicy) DescriptorOption {
	return func(c *descriptorConfig) {
		c.nulls = p
	}
}

// NewDescriptor validates kind against elementType. Unsupported pairs are
// reported as *columnar.TypeError, incompatible output types as
// *TypeMismatchError.
func NewDescriptor(kind Kind, elementType columnar.DataType, opts ...DescriptorOption) (Descriptor, error) {
	var cfg descriptorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if !SupportsInput(kind, elementType) {
		return Descriptor{}, &columnar.TypeError{
			Op:       strings.ToLower(kind.String()),
			DataType: elementType,
		}
	}
	if cfg.nulls == IncludeNulls && kind != KindCount {
		return Descriptor{}, fmt.Errorf("null policy %s only applies to COUNT, not %s", cfg.nulls, kind)
	}

	d := Descriptor{
		kind:        kind,
		elementType: elementType,
		outputType:  DefaultOutputType(kind, elementType),
		nulls:       cfg.nulls,
	}
	if cfg.hasOutput {
		if err := checkOutput(kind, elementType, cfg.output); err != nil {
			return Descriptor{}, err
		}
		d.outputType = cfg.output
	}
	return d, nil
}

// MustDescriptor is NewDescriptor for statically known arguments
func MustDescriptor(kind Kind, elementType columnar.DataType, opts ...DescriptorOption) Descriptor {
	d, err := NewDescriptor(kind, elementType, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Descriptor) Kind() Kind                     { return d.kind }
func (d Descriptor) ElementType() columnar.DataType { return d.elementType }
func (d Descriptor) OutputType() columnar.DataType  { return d.outputType }
func (d Descriptor) NullPolicy() NullPolicy         { return d.nulls }

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)::%s", d.kind, d.elementType, d.outputType)
}

// SupportsInput reports whether kind can reduce elements of type dt.
func SupportsInput(kind Kind, dt columnar.DataType) bool {
	if !dt.Valid() {
		return false
	}
	switch kind {
	case KindMin, KindMax:
		return dt.IsNumeric() || dt == columnar.DataTypeBool || dt == columnar.DataTypeString
	case KindSum, KindMean:
		return dt.IsNumeric()
	case KindAny, KindAll:
		return dt.IsNumeric() || dt == columnar.DataTypeBool
	case KindCount:
		return true
	}
	return false
}

// DefaultOutputType is BOOL8 for ANY and ALL, FLOAT64 for MEAN, INT64 for
// COUNT and the input type otherwise.
func DefaultOutputType(kind Kind, input columnar.DataType) columnar.DataType {
	switch kind {
	case KindAny, KindAll:
		return columnar.DataTypeBool
	case KindMean:
		return columnar.DataTypeFloat64
	case KindCount:
		return columnar.DataTypeInt64
	}
	return input
}

func checkOutput(kind Kind, input, output columnar.DataType) error {
	mismatch := func(reason string) error {
		return &TypeMismatchError{Kind: kind, Input: input, Output: output, Reason: reason}
	}
	if !output.Valid() {
		return mismatch("unknown output type")
	}

	switch kind {
	case KindMin, KindMax, KindSum:
		if output.Family() != input.Family() {
			return mismatch("output must be in the input's type family")
		}
	case KindMean:
		if output.Family() != columnar.FamilyFloat {
			return mismatch("output must be FLOAT32 or FLOAT64")
		}
	case KindAny, KindAll:
		if output != columnar.DataTypeBool {
			return mismatch("output must be BOOL8")
		}
	case KindCount:
		if !output.IsInteger() {
			return mismatch("output must be an integer type")
		}
	}
	return nil
}
