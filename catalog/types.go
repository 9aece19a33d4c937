package catalog

import (
	"fmt"
	"strings"
	"time"

	"colreduce/reduction"
)

// ColumnIdentifier names a column inside a table
type ColumnIdentifier struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

func (id ColumnIdentifier) String() string {
	return id.Table + "." + id.Column
}

// Validate rejects empty names and names containing the separators used in
// store keys.
func (id ColumnIdentifier) Validate() error {
	for _, name := range []string{id.Table, id.Column} {
		if name == "" {
			return fmt.Errorf("%w: empty name in %q", ErrInvalidName, id.String())
		}
		if strings.ContainsAny(name, "./") {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// ParseColumnIdentifier parses "table.column"
func ParseColumnIdentifier(s string) (ColumnIdentifier, error) {
	table, column, ok := strings.Cut(s, ".")
	if !ok {
		return ColumnIdentifier{}, fmt.Errorf("%w: expected table.column, got %q", ErrInvalidName, s)
	}
	id := ColumnIdentifier{Table: table, Column: column}
	return id, id.Validate()
}

// ColumnMetadata describes one registered dictionary column
type ColumnMetadata struct {
	ID          string           `json:"id"`
	Table       string           `json:"table"`
	Column      string           `json:"column"`
	Type        string           `json:"type"`
	Source      string           `json:"source,omitempty"` // file path or URI the column was loaded from
	Compression string           `json:"compression"`
	SizeBytes   int64            `json:"size_bytes"`
	Statistics  ColumnStatistics `json:"statistics"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Identifier returns the column's table and name
func (m *ColumnMetadata) Identifier() ColumnIdentifier {
	return ColumnIdentifier{Table: m.Table, Column: m.Column}
}

// ColumnStatistics are computed from the dictionary column at registration.
// Aggregates the column type does not support are nil.
type ColumnStatistics struct {
	Rows        int64             `json:"rows"`
	Nulls       int64             `json:"nulls"`
	Cardinality int               `json:"cardinality"`
	Min         *reduction.Scalar `json:"min,omitempty"`
	Max         *reduction.Scalar `json:"max,omitempty"`
	Sum         *reduction.Scalar `json:"sum,omitempty"`
	Mean        *reduction.Scalar `json:"mean,omitempty"`
}

// Errors
var (
	ErrNotFound    = fmt.Errorf("column not found")
	ErrInvalidName = fmt.Errorf("invalid column identifier")
)
