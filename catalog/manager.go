package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"colreduce/columnar"
	"colreduce/reduction"
)

// Observer receives encode and catalog size events
type Observer interface {
	ObserveEncode(input columnar.DataType, rows int, elapsed time.Duration, err error)
	SetColumn(table, column string, cardinality int)
	DropColumn(table, column string)
	SetCatalogSize(n int)
}

// Catalog registers plain columns under table.column names, storing them
// dictionary encoded together with statistics computed at registration.
type Catalog struct {
	store    Store
	codec    *columnar.Codec
	encode   columnar.EncodeOptions
	reducer  *reduction.Reducer
	observer Observer
	cache    *ColumnCache
	logger   *zap.Logger
}

// Option configures a Catalog
type Option func(*catalogConfig)

type catalogConfig struct {
	compression columnar.CompressionType
	level       columnar.CompressionLevel
	encode      columnar.EncodeOptions
	reducer     *reduction.Reducer
	observer    Observer
	cache       *ColumnCache
	logger      *zap.Logger
}

// WithCompression sets the codec compression for stored columns
func WithCompression(ct columnar.CompressionType, level columnar.CompressionLevel) Option {
	return func(c *catalogConfig) {
		c.compression = ct
		c.level = level
	}
}

func WithEncodeOptions(opts columnar.EncodeOptions) Option {
	return func(c *catalogConfig) { c.encode = opts }
}

// WithReducer sets the reducer used for statistics
func WithReducer(r *reduction.Reducer) Option {
	return func(c *catalogConfig) { c.reducer = r }
}

func WithObserver(o Observer) Option {
	return func(c *catalogConfig) { c.observer = o }
}

// WithCache keeps loaded columns in cache
func WithCache(cache *ColumnCache) Option {
	return func(c *catalogConfig) { c.cache = cache }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *catalogConfig) { c.logger = l }
}

// New creates a catalog over store. The catalog owns the store and closes it
// on Close.
func New(store Store, opts ...Option) (*Catalog, error) {
	cfg := catalogConfig{
		compression: columnar.CompressionSnappy,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.reducer == nil {
		cfg.reducer = reduction.New(reduction.WithLogger(cfg.logger))
	}

	codec, err := columnar.NewCodec(cfg.compression, cfg.level)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		store:    store,
		codec:    codec,
		encode:   cfg.encode,
		reducer:  cfg.reducer,
		observer: cfg.observer,
		cache:    cfg.cache,
		logger:   cfg.logger,
	}
	if c.observer != nil {
		if err := c.refreshSize(context.Background()); err != nil {
			codec.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close closes the store
func (c *Catalog) Close() error {
	c.codec.Close()
	return c.store.Close()
}

// Register encodes col and stores it as table.column, replacing any column
// already registered under that name.
func (c *Catalog) Register(ctx context.Context, table, column string, col *columnar.Column) (*ColumnMetadata, error) {
	return c.RegisterFrom(ctx, table, column, col, "")
}

// RegisterFrom is Register recording the column's source path or URI
func (c *Catalog) RegisterFrom(ctx context.Context, table, column string, col *columnar.Column, source string) (*ColumnMetadata, error) {
	id := ColumnIdentifier{Table: table, Column: column}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	dict, err := columnar.EncodeWithOptions(col, c.encode)
	if c.observer != nil {
		c.observer.ObserveEncode(col.DataType(), col.Len(), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", id, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats, err := c.statistics(dict)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics for %s: %w", id, err)
	}

	data, err := c.codec.Marshal(dict)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", id, err)
	}

	now := time.Now().UTC()
	meta := &ColumnMetadata{
		ID:          uuid.NewString(),
		Table:       table,
		Column:      column,
		Type:        col.DataType().String(),
		Source:      source,
		Compression: c.codec.Compression().String(),
		SizeBytes:   int64(len(data)),
		Statistics:  stats,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing, err := c.store.GetMetadata(ctx, id); err == nil {
		meta.ID = existing.ID
		meta.CreatedAt = existing.CreatedAt
	}

	if err := c.store.Put(ctx, meta, data); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Invalidate(id)
	}

	c.logger.Info("column registered",
		zap.String("column", id.String()),
		zap.String("type", meta.Type),
		zap.Int64("rows", stats.Rows),
		zap.Int("cardinality", stats.Cardinality),
		zap.Int64("size_bytes", meta.SizeBytes),
		zap.Duration("elapsed", time.Since(start)))

	if c.observer != nil {
		c.observer.SetColumn(table, column, stats.Cardinality)
		if err := c.refreshSize(ctx); err != nil {
			return nil, err
		}
	}
	return meta, nil
}

// statistics reduces the dictionary column without decoding it. Integer
// sums are taken at 64 bits.
func (c *Catalog) statistics(d *columnar.DictionaryColumn) (ColumnStatistics, error) {
	stats := ColumnStatistics{
		Rows:        int64(d.Len()),
		Nulls:       int64(d.NullCount()),
		Cardinality: d.Cardinality(),
	}

	dt := d.DataType()
	wide := dt
	switch dt.Family() {
	case columnar.FamilySigned:
		wide = columnar.DataTypeInt64
	case columnar.FamilyUnsigned:
		wide = columnar.DataTypeUint64
	case columnar.FamilyFloat:
		wide = columnar.DataTypeFloat64
	}

	targets := []struct {
		kind   reduction.Kind
		output columnar.DataType
		dst    **reduction.Scalar
	}{
		{reduction.KindMin, dt, &stats.Min},
		{reduction.KindMax, dt, &stats.Max},
		{reduction.KindSum, wide, &stats.Sum},
		{reduction.KindMean, columnar.DataTypeFloat64, &stats.Mean},
	}
	for _, target := range targets {
		if !reduction.SupportsInput(target.kind, dt) {
			continue
		}
		desc, err := reduction.NewDescriptor(target.kind, dt, reduction.WithOutputType(target.output))
		if err != nil {
			return stats, err
		}
		result, err := c.reducer.ReduceDefault(d, desc)
		if err != nil {
			return stats, err
		}
		*target.dst = &result
	}
	return stats, nil
}

// Get loads a registered column
func (c *Catalog) Get(ctx context.Context, table, column string) (*columnar.DictionaryColumn, error) {
	id := ColumnIdentifier{Table: table, Column: column}
	var gen uint64
	if c.cache != nil {
		if dict, ok := c.cache.Get(id); ok {
			return dict, nil
		}
		gen = c.cache.Generation(id)
	}

	_, data, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	dict, err := c.codec.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	if c.cache != nil {
		c.cache.PutIfCurrent(id, dict, gen)
	}
	return dict, nil
}

// Metadata returns a column's metadata
func (c *Catalog) Metadata(ctx context.Context, table, column string) (*ColumnMetadata, error) {
	id := ColumnIdentifier{Table: table, Column: column}
	meta, err := c.store.GetMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return meta, nil
}

// Stats returns the statistics computed when the column was registered
func (c *Catalog) Stats(ctx context.Context, table, column string) (*ColumnStatistics, error) {
	meta, err := c.Metadata(ctx, table, column)
	if err != nil {
		return nil, err
	}
	return &meta.Statistics, nil
}

// List returns the columns of table, or all columns when table is empty
func (c *Catalog) List(ctx context.Context, table string) ([]*ColumnMetadata, error) {
	return c.store.List(ctx, table)
}

// Drop removes a column
func (c *Catalog) Drop(ctx context.Context, table, column string) error {
	id := ColumnIdentifier{Table: table, Column: column}
	if err := c.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if c.cache != nil {
		c.cache.Invalidate(id)
	}
	c.logger.Info("column dropped", zap.String("column", id.String()))

	if c.observer != nil {
		c.observer.DropColumn(table, column)
		return c.refreshSize(ctx)
	}
	return nil
}

// CacheStats reports the column cache statistics, false when the catalog
// has no cache.
func (c *Catalog) CacheStats() (CacheStats, bool) {
	if c.cache == nil {
		return CacheStats{}, false
	}
	return c.cache.Stats(), true
}

func (c *Catalog) refreshSize(ctx context.Context) error {
	metas, err := c.store.List(ctx, "")
	if err != nil {
		return err
	}
	c.observer.SetCatalogSize(len(metas))
	return nil
}
