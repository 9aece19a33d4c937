package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"colreduce/columnar"
	"colreduce/logger"
)

// TableMapping maps a logical table to the parquet files holding its rows.
// Files are read in order and their columns appended.
type TableMapping struct {
	TableName  string   `json:"table_name"`
	Partitions []string `json:"partitions"`
	// Columns limits loading to these columns; empty loads every
	// non-binary column of the first partition.
	Columns []string `json:"columns,omitempty"`
}

// TableRegistry manages table name to file mappings
type TableRegistry struct {
	mappings map[string]*TableMapping
	basePath string
	mu       sync.RWMutex
}

// NewTableRegistry creates a registry resolving relative paths against
// basePath
func NewTableRegistry(basePath string) *TableRegistry {
	return &TableRegistry{
		mappings: make(map[string]*TableMapping),
		basePath: basePath,
	}
}

func (tr *TableRegistry) resolve(path string) string {
	if IsHTTPURL(path) || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(tr.basePath, path)
}

// RegisterTable registers a table stored in one or more files
func (tr *TableRegistry) RegisterTable(tableName string, paths ...string) error {
	return tr.RegisterMapping(&TableMapping{TableName: tableName, Partitions: paths})
}

// RegisterMapping registers a table mapping, replacing any previous one
func (tr *TableRegistry) RegisterMapping(mapping *TableMapping) error {
	if mapping.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if len(mapping.Partitions) == 0 {
		return fmt.Errorf("table %s has no files", mapping.TableName)
	}

	resolved := &TableMapping{
		TableName:  mapping.TableName,
		Partitions: make([]string, len(mapping.Partitions)),
		Columns:    append([]string(nil), mapping.Columns...),
	}
	for i, path := range mapping.Partitions {
		path = tr.resolve(path)
		if !IsHTTPURL(path) {
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("file not found: %s", path)
			}
		}
		resolved.Partitions[i] = path
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.mappings[mapping.TableName] = resolved
	return nil
}

// GetTableMapping returns a copy of a table's mapping
func (tr *TableRegistry) GetTableMapping(tableName string) (*TableMapping, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	mapping, exists := tr.mappings[tableName]
	if !exists {
		return nil, fmt.Errorf("table not found: %s", tableName)
	}
	out := *mapping
	out.Partitions = append([]string(nil), mapping.Partitions...)
	out.Columns = append([]string(nil), mapping.Columns...)
	return &out, nil
}

// ListTables returns the registered table names in order
func (tr *TableRegistry) ListTables() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	tables := make([]string, 0, len(tr.mappings))
	for name := range tr.mappings {
		tables = append(tables, name)
	}
	sort.Strings(tables)
	return tables
}

type registryFile struct {
	Tables []TableMapping `json:"tables"`
}

// LoadFromFile registers every table in a JSON manifest of the form
// {"tables": [{"table_name": ..., "partitions": [...]}]}
func (tr *TableRegistry) LoadFromFile(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config registryFile
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for i := range config.Tables {
		if err := tr.RegisterMapping(&config.Tables[i]); err != nil {
			return fmt.Errorf("failed to register table %s: %w", config.Tables[i].TableName, err)
		}
	}
	return nil
}

// SaveToFile writes the registered tables as a JSON manifest
func (tr *TableRegistry) SaveToFile(configPath string) error {
	config := registryFile{}
	for _, name := range tr.ListTables() {
		mapping, err := tr.GetTableMapping(name)
		if err != nil {
			return err
		}
		config.Tables = append(config.Tables, *mapping)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ReadTable reads the table's columns from every partition and appends
// them. The returned names keep the manifest or file order.
func (tr *TableRegistry) ReadTable(tableName string) ([]string, map[string]*columnar.Column, error) {
	mapping, err := tr.GetTableMapping(tableName)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Named(logger.ComponentParquet)

	names := mapping.Columns
	parts := make(map[string][]*columnar.Column)
	for i, path := range mapping.Partitions {
		reader, err := OpenParquet(path)
		if err != nil {
			return nil, nil, err
		}

		if i == 0 && len(names) == 0 {
			for _, name := range reader.ColumnNames() {
				if dt, err := reader.ColumnType(name); err == nil && dt != columnar.DataTypeBinary {
					names = append(names, name)
				}
			}
		}

		for _, name := range names {
			col, err := reader.ReadColumn(name)
			if err != nil {
				reader.Close()
				return nil, nil, fmt.Errorf("%s: %w", path, err)
			}
			parts[name] = append(parts[name], col)
		}
		reader.Close()
	}

	columns := make(map[string]*columnar.Column, len(names))
	for _, name := range names {
		col, err := columnar.Concat(parts[name]...)
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", name, err)
		}
		columns[name] = col
	}

	log.Debug("table read",
		zap.String("table", tableName),
		zap.Int("partitions", len(mapping.Partitions)),
		zap.Int("columns", len(names)))
	return names, columns, nil
}
