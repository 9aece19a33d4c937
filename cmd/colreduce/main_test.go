package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colreduce/catalog"
)

type ride struct {
	Fare *int32 `parquet:"fare,optional"`
	Zone string `parquet:"zone"`
	Paid bool   `parquet:"paid"`
	Raw  []byte `parquet:"raw"`
}

func writeRides(t *testing.T, dir string) string {
	t.Helper()
	fare := func(v int32) *int32 { return &v }
	rides := []ride{
		{Fare: fare(1), Zone: "b", Paid: true, Raw: []byte{1}},
		{Fare: fare(2), Zone: "a", Paid: true},
		{Fare: fare(2), Zone: "c", Paid: false},
		{Fare: fare(3), Zone: "a", Paid: true},
		{Zone: "b", Paid: true},
		{Fare: fare(3), Zone: "b", Paid: true},
		{Fare: fare(3), Zone: "c", Paid: true},
	}

	path := filepath.Join(dir, "rides.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[ride](f)
	_, err = w.Write(rides)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI(t *testing.T) {
	dir := t.TempDir()
	file := writeRides(t, dir)

	configPath := filepath.Join(dir, "colreduce.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
log:
  level: error
  output: stderr
engine:
  partition_size: 2
catalog:
  backend: pebble
  path: `+filepath.Join(dir, "catalog")+`
  compression: zstd
`), 0644))

	t.Run("Reduce", func(t *testing.T) {
		out, err := run(t, "reduce", "-c", configPath, "--file", file, "--column", "fare", "--agg", "max")
		require.NoError(t, err)
		assert.Equal(t, "MAX(INT32)::INT32 = 3\n", out)

		out, err = run(t, "reduce", "-c", configPath, "--file", file, "--column", "fare", "--agg", "mean", "--plain")
		require.NoError(t, err)
		assert.Contains(t, out, "MEAN(INT32)::FLOAT64 = 2.333")

		_, err = run(t, "reduce", "-c", configPath, "--file", file, "--column", "zone", "--agg", "sum")
		assert.Error(t, err)
	})

	t.Run("Load", func(t *testing.T) {
		out, err := run(t, "load", "-c", configPath, "--file", file)
		require.NoError(t, err)
		assert.Contains(t, out, "rides.fare")
		assert.Contains(t, out, "rides.zone")
		assert.NotContains(t, out, "rides.raw")
	})

	t.Run("Manifest", func(t *testing.T) {
		manifest := filepath.Join(dir, "tables.json")
		require.NoError(t, os.WriteFile(manifest, []byte(`{"tables": [
  {"table_name": "doubled", "partitions": ["rides.parquet", "rides.parquet"], "columns": ["fare"]}
]}`), 0644))

		_, err := run(t, "load", "-c", configPath, "--manifest", manifest)
		require.NoError(t, err)

		out, err := run(t, "query", "-c", configPath, "SELECT count(*), sum(fare)::bigint AS total FROM doubled")
		require.NoError(t, err)
		assert.Contains(t, out, "14")
		assert.Contains(t, out, "28")
	})

	t.Run("Query", func(t *testing.T) {
		out, err := run(t, "query", "-c", configPath, "--json",
			"SELECT max(fare), count(fare) AS n, count(*), bool_and(paid) FROM rides")
		require.NoError(t, err)

		var row map[string]map[string]*string
		require.NoError(t, json.Unmarshal([]byte(out), &row))
		assert.Equal(t, "3", *row["max_fare"]["value"])
		assert.Equal(t, "6", *row["n"]["value"])
		assert.Equal(t, "7", *row["count"]["value"])
		assert.Equal(t, "false", *row["bool_and_paid"]["value"])
	})

	t.Run("Stats", func(t *testing.T) {
		out, err := run(t, "stats", "-c", configPath, "--table", "rides", "--column", "zone")
		require.NoError(t, err)

		var meta catalog.ColumnMetadata
		require.NoError(t, json.Unmarshal([]byte(out), &meta))
		assert.Equal(t, "STRING", meta.Type)
		assert.Equal(t, "zstd", meta.Compression)
		assert.Equal(t, file, meta.Source)
		assert.Equal(t, 3, meta.Statistics.Cardinality)
		assert.Equal(t, "a", meta.Statistics.Min.Text())
	})

	t.Run("Drop", func(t *testing.T) {
		_, err := run(t, "drop", "-c", configPath, "rides.zone")
		require.NoError(t, err)

		out, err := run(t, "list", "-c", configPath, "--table", "rides")
		require.NoError(t, err)
		assert.Contains(t, out, "rides.fare")
		assert.NotContains(t, out, "doubled.fare")
		assert.NotContains(t, out, "rides.zone")
	})

	t.Run("ConfigDump", func(t *testing.T) {
		out, err := run(t, "config", "dump", "-c", configPath, "--log-level", "warn")
		require.NoError(t, err)
		assert.Contains(t, out, "level: warn")
		assert.Contains(t, out, "backend: pebble")
		assert.Contains(t, out, "partition_size: 2")
	})
}

func TestTeardownClosesLogFile(t *testing.T) {
	dir := t.TempDir()
	file := writeRides(t, dir)
	logPath := filepath.Join(dir, "colreduce.log")

	configPath := filepath.Join(dir, "colreduce.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
log:
  level: info
  output: file
  file: `+logPath+`
catalog:
  backend: memory
`), 0644))

	for range 2 {
		_, err := run(t, "load", "-c", configPath, "--metrics-addr", "127.0.0.1:0", "--file", file)
		require.NoError(t, err)
	}
	assert.Nil(t, metricsServer)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte(`"serving metrics"`)))
	assert.Contains(t, string(data), "column registered")
}
