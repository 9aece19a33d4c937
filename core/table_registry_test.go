package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colreduce/columnar"
)

func TestTableRegistry(t *testing.T) {
	t.Run("UnregisteredTable", func(t *testing.T) {
		registry := NewTableRegistry(t.TempDir())
		_, err := registry.GetTableMapping("trips")
		assert.EqualError(t, err, "table not found: trips")
	})

	t.Run("MissingFile", func(t *testing.T) {
		registry := NewTableRegistry(t.TempDir())
		assert.Error(t, registry.RegisterTable("trips", "missing.parquet"))
		assert.Error(t, registry.RegisterTable("trips"))
		assert.Error(t, registry.RegisterTable("", "x.parquet"))
	})

	t.Run("RelativePaths", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.parquet"), []byte("x"), 0644))

		registry := NewTableRegistry(dir)
		require.NoError(t, registry.RegisterTable("a", "a.parquet"))
		mapping, err := registry.GetTableMapping("a")
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "a.parquet")}, mapping.Partitions)
	})

	t.Run("ReadPartitionedTable", func(t *testing.T) {
		first, trips := writeTrips(t)
		second, _ := writeTrips(t)

		registry := NewTableRegistry("")
		require.NoError(t, registry.RegisterTable("trips", first, second))

		names, columns, err := registry.ReadTable("trips")
		require.NoError(t, err)
		assert.NotContains(t, names, "raw")
		assert.Contains(t, names, "fare")

		fare := columns["fare"]
		assert.Equal(t, 2*len(trips), fare.Len())
		assert.Equal(t, 2, fare.NullCount())
		assert.True(t, fare.IsNull(1))
		assert.True(t, fare.IsNull(4))

		ids, err := columnar.Values[int64](columns["id"])
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 1, 2, 3}, ids)
	})

	t.Run("SelectedColumns", func(t *testing.T) {
		path, _ := writeTrips(t)
		registry := NewTableRegistry("")
		require.NoError(t, registry.RegisterMapping(&TableMapping{
			TableName:  "trips",
			Partitions: []string{path},
			Columns:    []string{"city", "paid"},
		}))

		names, columns, err := registry.ReadTable("trips")
		require.NoError(t, err)
		assert.Equal(t, []string{"city", "paid"}, names)
		assert.Len(t, columns, 2)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		path, _ := writeTrips(t)
		registry := NewTableRegistry("")
		require.NoError(t, registry.RegisterTable("trips", path))
		require.NoError(t, registry.RegisterTable("again", path, path))

		manifest := filepath.Join(t.TempDir(), "tables.json")
		require.NoError(t, registry.SaveToFile(manifest))

		loaded := NewTableRegistry("")
		require.NoError(t, loaded.LoadFromFile(manifest))
		assert.Equal(t, []string{"again", "trips"}, loaded.ListTables())

		mapping, err := loaded.GetTableMapping("again")
		require.NoError(t, err)
		assert.Equal(t, []string{path, path}, mapping.Partitions)
	})
}
