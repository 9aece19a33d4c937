package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"
)

// Key layout:
//
//	meta/<table>/<column> -> JSON ColumnMetadata
//	data/<table>/<column> -> codec bytes
const (
	metaKeyPrefix = "meta/"
	dataKeyPrefix = "data/"
)

// PebbleStore persists columns in a pebble database
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens or creates a store in dir
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{
				// payloads arrive compressed by the codec
				Compression: pebble.NoCompression,
			},
		},
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func metaKey(id ColumnIdentifier) []byte {
	return []byte(metaKeyPrefix + id.Table + "/" + id.Column)
}

func dataKey(id ColumnIdentifier) []byte {
	return []byte(dataKeyPrefix + id.Table + "/" + id.Column)
}

func (p *PebbleStore) Put(ctx context.Context, meta *ColumnMetadata, data []byte) error {
	id := meta.Identifier()
	if err := id.Validate(); err != nil {
		return err
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(metaKey(id), encoded, nil); err != nil {
		return err
	}
	if err := batch.Set(dataKey(id), data, nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to write column %s: %w", id, err)
	}
	return nil
}

// get copies the value stored under key
func (p *PebbleStore) get(key []byte) ([]byte, error) {
	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (p *PebbleStore) GetMetadata(ctx context.Context, id ColumnIdentifier) (*ColumnMetadata, error) {
	raw, err := p.get(metaKey(id))
	if err != nil {
		return nil, err
	}
	meta := &ColumnMetadata{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}
	return meta, nil
}

func (p *PebbleStore) Get(ctx context.Context, id ColumnIdentifier) (*ColumnMetadata, []byte, error) {
	meta, err := p.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := p.get(dataKey(id))
	if err != nil {
		return nil, nil, err
	}
	return meta, data, nil
}

func (p *PebbleStore) List(ctx context.Context, table string) ([]*ColumnMetadata, error) {
	prefix := metaKeyPrefix
	if table != "" {
		prefix += table + "/"
	}

	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var results []*ColumnMetadata
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		meta := &ColumnMetadata{}
		if err := json.Unmarshal(iter.Value(), meta); err != nil {
			return nil, fmt.Errorf("failed to decode metadata at %s: %w", iter.Key(), err)
		}
		results = append(results, meta)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortMetadata(results)
	return results, nil
}

func (p *PebbleStore) Delete(ctx context.Context, id ColumnIdentifier) error {
	if _, err := p.get(metaKey(id)); err != nil {
		return err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(metaKey(id), nil); err != nil {
		return err
	}
	if err := batch.Delete(dataKey(id), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// Factory implementation

type PebbleStoreFactory struct{}

// CreateStore expects config["path"] to name the data directory
func (f *PebbleStoreFactory) CreateStore(config map[string]interface{}) (Store, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("pebble store requires a path")
	}
	return OpenPebbleStore(path)
}

func init() {
	RegisterStore("pebble", &PebbleStoreFactory{})
}
