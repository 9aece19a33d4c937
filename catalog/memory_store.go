package catalog

import (
	"context"
	"sync"
)

type memoryEntry struct {
	meta ColumnMetadata
	data []byte
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu      sync.RWMutex
	columns map[string]map[string]*memoryEntry // table -> column -> entry
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		columns: make(map[string]map[string]*memoryEntry),
	}
}

func (m *MemoryStore) Put(ctx context.Context, meta *ColumnMetadata, data []byte) error {
	if err := meta.Identifier().Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	table, exists := m.columns[meta.Table]
	if !exists {
		table = make(map[string]*memoryEntry)
		m.columns[meta.Table] = table
	}

	// Deep copy
	entry := &memoryEntry{meta: *meta, data: make([]byte, len(data))}
	copy(entry.data, data)
	table[meta.Column] = entry
	return nil
}

func (m *MemoryStore) lookup(id ColumnIdentifier) (*memoryEntry, error) {
	entry, exists := m.columns[id.Table][id.Column]
	if !exists {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (m *MemoryStore) Get(ctx context.Context, id ColumnIdentifier) (*ColumnMetadata, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, err := m.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	meta := entry.meta
	data := make([]byte, len(entry.data))
	copy(data, entry.data)
	return &meta, data, nil
}

func (m *MemoryStore) GetMetadata(ctx context.Context, id ColumnIdentifier) (*ColumnMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	meta := entry.meta
	return &meta, nil
}

func (m *MemoryStore) List(ctx context.Context, table string) ([]*ColumnMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*ColumnMetadata
	for name, columns := range m.columns {
		if table != "" && name != table {
			continue
		}
		for _, entry := range columns {
			meta := entry.meta
			results = append(results, &meta)
		}
	}
	sortMetadata(results)
	return results, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id ColumnIdentifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lookup(id); err != nil {
		return err
	}
	delete(m.columns[id.Table], id.Column)
	if len(m.columns[id.Table]) == 0 {
		delete(m.columns, id.Table)
	}
	return nil
}

// Close clears all data
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns = make(map[string]map[string]*memoryEntry)
	return nil
}

// Factory implementation

type MemoryStoreFactory struct{}

func (f *MemoryStoreFactory) CreateStore(config map[string]interface{}) (Store, error) {
	return NewMemoryStore(), nil
}

func init() {
	RegisterStore("memory", &MemoryStoreFactory{})
}
