package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"colreduce/catalog"
	"colreduce/columnar"
	"colreduce/config"
	"colreduce/core"
	"colreduce/logger"
	"colreduce/query"
	"colreduce/reduction"
)

func newLoadCmd() *cobra.Command {
	var (
		file     string
		manifest string
		table    string
		columns  []string
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load parquet columns into the catalog",
		Long: `Read columns from a local or http(s) parquet file, dictionary encode
them and register them in the catalog as table.column. --manifest loads every
table of a JSON table manifest, appending the files of partitioned tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := core.NewTableRegistry("")
			if manifest != "" {
				registry = core.NewTableRegistry(filepath.Dir(manifest))
				if err := registry.LoadFromFile(manifest); err != nil {
					return err
				}
			} else {
				if table == "" {
					base := filepath.Base(file)
					table = strings.TrimSuffix(base, filepath.Ext(base))
				}
				if err := registry.RegisterMapping(&core.TableMapping{
					TableName:  table,
					Partitions: []string{file},
					Columns:    columns,
				}); err != nil {
					return err
				}
			}

			cat, err := openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			if cfg.Catalog.Backend == "memory" {
				logger.Named(logger.ComponentCLI).Warn("memory catalog is discarded on exit")
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "COLUMN\tTYPE\tROWS\tNULLS\tCARDINALITY\tBYTES")
			for _, name := range registry.ListTables() {
				mapping, err := registry.GetTableMapping(name)
				if err != nil {
					return err
				}
				names, cols, err := registry.ReadTable(name)
				if err != nil {
					return err
				}
				source := strings.Join(mapping.Partitions, ",")
				for _, column := range names {
					meta, err := cat.RegisterFrom(cmd.Context(), name, column, cols[column], source)
					if err != nil {
						return err
					}
					st := meta.Statistics
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
						meta.Identifier(), meta.Type, st.Rows, st.Nulls, st.Cardinality, meta.SizeBytes)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "parquet file path or http(s) URL")
	cmd.Flags().StringVarP(&manifest, "manifest", "m", "", "JSON table manifest")
	cmd.Flags().StringVarP(&table, "table", "t", "", "table name (default: file name)")
	cmd.Flags().StringSliceVar(&columns, "column", nil, "columns to load (default: all non-binary)")
	cmd.MarkFlagsOneRequired("file", "manifest")
	cmd.MarkFlagsMutuallyExclusive("file", "manifest")
	return cmd
}

func newReduceCmd() *cobra.Command {
	var (
		file       string
		column     string
		agg        string
		outputType string
		plain      bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Reduce one parquet column",
		Long: `Read a column from a parquet file, dictionary encode it and reduce
it with one aggregation. --plain reduces the column without encoding.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Named(logger.ComponentCLI)

			kind, err := reduction.ParseKind(agg)
			if err != nil {
				return err
			}

			reader, err := core.OpenParquet(file)
			if err != nil {
				return err
			}
			defer reader.Close()

			col, err := reader.ReadColumn(column)
			if err != nil {
				return err
			}

			var opts []reduction.DescriptorOption
			if outputType != "" {
				dt, err := columnar.ParseDataType(outputType)
				if err != nil {
					return err
				}
				opts = append(opts, reduction.WithOutputType(dt))
			}
			desc, err := reduction.NewDescriptor(kind, col.DataType(), opts...)
			if err != nil {
				return err
			}

			var input columnar.Data = col
			if !plain {
				start := time.Now()
				dict, err := columnar.EncodeWithOptions(col, encodeOptions())
				metrics.ObserveEncode(col.DataType(), col.Len(), time.Since(start), err)
				if err != nil {
					return err
				}
				log.Info("column encoded",
					zap.String("column", column),
					zap.Int("rows", dict.Len()),
					zap.Int("cardinality", dict.Cardinality()),
					zap.Duration("elapsed", time.Since(start)))
				input = dict
			}

			result, err := newReducer().ReduceDefault(input, desc)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, map[string]any{
					"aggregation": desc.String(),
					"result":      result,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", desc, result.Text())
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "parquet file path or http(s) URL")
	cmd.Flags().StringVar(&column, "column", "", "column to reduce")
	cmd.Flags().StringVarP(&agg, "agg", "a", "", "aggregation: min, max, mean, sum, count, any, all")
	cmd.Flags().StringVarP(&outputType, "output-type", "o", "", "result type (default depends on the aggregation)")
	cmd.Flags().BoolVar(&plain, "plain", false, "reduce the plain column without dictionary encoding")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("column")
	cmd.MarkFlagRequired("agg")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "query <sql>",
		Short:   "Run an aggregate SQL query against the catalog",
		Example: `  colreduce query "SELECT max(fare), avg(fare)::float4, count(*) FROM trips"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			exec := query.NewExecutor(cat,
				query.WithReducer(newReducer()),
				query.WithLogger(logger.Named(logger.ComponentQuery)))
			result, err := exec.Execute(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				row := make(map[string]reduction.Scalar, len(result.Columns))
				for i, name := range result.Columns {
					row[name] = result.Values[i]
				}
				return writeJSON(cmd, row)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, strings.Join(result.Columns, "\t"))
			values := make([]string, len(result.Values))
			for i, v := range result.Values {
				values[i] = v.Text()
			}
			fmt.Fprintln(w, strings.Join(values, "\t"))
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result row as JSON")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var table, column string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show a registered column's metadata and statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			meta, err := cat.Metadata(cmd.Context(), table, column)
			if err != nil {
				return err
			}
			return writeJSON(cmd, meta)
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "table name")
	cmd.Flags().StringVar(&column, "column", "", "column name")
	cmd.MarkFlagRequired("table")
	cmd.MarkFlagRequired("column")
	return cmd
}

func newListCmd() *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()

			metas, err := cat.List(cmd.Context(), table)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "COLUMN\tTYPE\tROWS\tCARDINALITY\tCOMPRESSION\tBYTES\tUPDATED")
			for _, m := range metas {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\n",
					m.Identifier(), m.Type, m.Statistics.Rows, m.Statistics.Cardinality,
					m.Compression, m.SizeBytes, m.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "only list this table")
	return cmd
}

func newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table.column>",
		Short: "Remove a column from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := catalog.ParseColumnIdentifier(args[0])
			if err != nil {
				return err
			}

			cat, err := openCatalog()
			if err != nil {
				return err
			}
			defer cat.Close()
			return cat.Drop(cmd.Context(), id.Table, id.Column)
		},
	}
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			return config.Save(config.Default(), args[0])
		},
	})
	return configCmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
