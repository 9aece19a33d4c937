package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"colreduce/catalog"
	"colreduce/columnar"
	"colreduce/reduction"
)

// TestSuite is a set of tables and the queries run against them
type TestSuite struct {
	Name        string                              `yaml:"name"`
	Description string                              `yaml:"description,omitempty"`
	Tables      map[string]map[string]FixtureColumn `yaml:"tables"`
	Cases       []TestCase                          `yaml:"cases"`
}

// FixtureColumn lists values as text, null entries are NULL rows
type FixtureColumn struct {
	Type   string    `yaml:"type"`
	Values []*string `yaml:"values"`
}

// TestCase is a single query and what it should produce
type TestCase struct {
	Name     string          `yaml:"name"`
	SQL      string          `yaml:"sql"`
	Expected TestExpectation `yaml:"expected"`
}

// TestExpectation holds either result values or an error class
type TestExpectation struct {
	Columns []string                 `yaml:"columns,omitempty"`
	Values  map[string]ExpectedValue `yaml:"values,omitempty"`
	Error   string                   `yaml:"error,omitempty"`
}

// ExpectedValue is a scalar in text form, a null value means NULL
type ExpectedValue struct {
	Type  string  `yaml:"type"`
	Value *string `yaml:"value"`
}

var errorClasses = map[string]error{
	"not_found":     catalog.ErrNotFound,
	"type_error":    columnar.ErrTypeError,
	"type_mismatch": reduction.ErrTypeMismatch,
	"unsupported":   ErrUnsupported,
}

func loadSuite(t *testing.T, path string) *TestSuite {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	suite := &TestSuite{}
	require.NoError(t, yaml.Unmarshal(data, suite))
	return suite
}

func buildColumn[T columnar.Element](dt columnar.DataType, texts []*string) (*columnar.Column, error) {
	values := make([]*T, len(texts))
	for i, text := range texts {
		if text == nil {
			continue
		}
		s, err := reduction.ParseScalar(dt, *text)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		v := s.Value().(T)
		values[i] = &v
	}
	return columnar.FromPointers(values), nil
}

func (fc FixtureColumn) build() (*columnar.Column, error) {
	dt, err := columnar.ParseDataType(fc.Type)
	if err != nil {
		return nil, err
	}
	switch dt {
	case columnar.DataTypeInt8:
		return buildColumn[int8](dt, fc.Values)
	case columnar.DataTypeInt16:
		return buildColumn[int16](dt, fc.Values)
	case columnar.DataTypeInt32:
		return buildColumn[int32](dt, fc.Values)
	case columnar.DataTypeInt64:
		return buildColumn[int64](dt, fc.Values)
	case columnar.DataTypeUint8:
		return buildColumn[uint8](dt, fc.Values)
	case columnar.DataTypeUint16:
		return buildColumn[uint16](dt, fc.Values)
	case columnar.DataTypeUint32:
		return buildColumn[uint32](dt, fc.Values)
	case columnar.DataTypeUint64:
		return buildColumn[uint64](dt, fc.Values)
	case columnar.DataTypeFloat32:
		return buildColumn[float32](dt, fc.Values)
	case columnar.DataTypeFloat64:
		return buildColumn[float64](dt, fc.Values)
	case columnar.DataTypeBool:
		return buildColumn[bool](dt, fc.Values)
	case columnar.DataTypeString:
		return buildColumn[string](dt, fc.Values)
	}
	return nil, &columnar.TypeError{Op: "fixture", DataType: dt}
}

func (s *TestSuite) catalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	ctx := context.Background()

	cat, err := catalog.New(catalog.NewMemoryStore())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	for table, columns := range s.Tables {
		for name, fc := range columns {
			col, err := fc.build()
			require.NoError(t, err, "%s.%s", table, name)
			_, err = cat.Register(ctx, table, name, col)
			require.NoError(t, err, "%s.%s", table, name)
		}
	}
	return cat
}

func (tc TestCase) check(t *testing.T, res *Result, err error) {
	if tc.Expected.Error != "" {
		target, ok := errorClasses[tc.Expected.Error]
		require.True(t, ok, "unknown error class %q", tc.Expected.Error)
		require.Error(t, err)
		assert.True(t, errors.Is(err, target), "got %v, want %s", err, tc.Expected.Error)
		return
	}
	require.NoError(t, err)

	if tc.Expected.Columns != nil {
		assert.Equal(t, tc.Expected.Columns, res.Columns)
	}
	for name, want := range tc.Expected.Values {
		got, ok := res.Get(name)
		require.True(t, ok, "missing column %s in %v", name, res.Columns)
		assert.Equal(t, want.Type, got.Type().String(), name)
		if want.Value == nil {
			assert.False(t, got.Valid(), "%s should be NULL, got %s", name, got)
			continue
		}
		require.True(t, got.Valid(), "%s is NULL", name)
		assert.Equal(t, *want.Value, got.Text(), name)
	}
}

func TestQuerySuites(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		suite := loadSuite(t, path)
		t.Run(suite.Name, func(t *testing.T) {
			exec := NewExecutor(suite.catalog(t))
			for _, tc := range suite.Cases {
				t.Run(tc.Name, func(t *testing.T) {
					res, err := exec.Execute(context.Background(), tc.SQL)
					tc.check(t, res, err)
				})
			}
		})
	}
}
