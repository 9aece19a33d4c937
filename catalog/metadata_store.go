package catalog

import (
	"context"
	"fmt"
	"sort"
)

// Store persists column metadata together with the serialized dictionary
// column. Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces a column
	Put(ctx context.Context, meta *ColumnMetadata, data []byte) error
	Get(ctx context.Context, id ColumnIdentifier) (*ColumnMetadata, []byte, error)
	GetMetadata(ctx context.Context, id ColumnIdentifier) (*ColumnMetadata, error)
	// List returns the columns of table, or of every table when table is empty
	List(ctx context.Context, table string) ([]*ColumnMetadata, error)
	Delete(ctx context.Context, id ColumnIdentifier) error

	Close() error
}

// StoreFactory creates store instances
type StoreFactory interface {
	CreateStore(config map[string]interface{}) (Store, error)
}

// Registry of available store implementations
var storeFactories = make(map[string]StoreFactory)

// RegisterStore registers a new store implementation
func RegisterStore(name string, factory StoreFactory) {
	storeFactories[name] = factory
}

// CreateStore creates a store instance
func CreateStore(storeType string, config map[string]interface{}) (Store, error) {
	factory, exists := storeFactories[storeType]
	if !exists {
		return nil, fmt.Errorf("unknown catalog store type: %s", storeType)
	}
	return factory.CreateStore(config)
}

func sortMetadata(metas []*ColumnMetadata) {
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].Table != metas[j].Table {
			return metas[i].Table < metas[j].Table
		}
		return metas[i].Column < metas[j].Column
	})
}
