package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"db-snap/internal/engine"
	"db-snap/internal/schema"
	"db-snap/internal/sink"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	dumpOutput    string
	noData        bool
	includeUsers  bool
	metadataPath  string
	noProgress    bool
	compress      bool
	dumpBatchSize int
)

var dumpCmd = &cobra.Command{
	Use:         "dump",
	Short:       "Export the whole source database as a SQL script",
	Annotations: map[string]string{connectAnnotation: "source"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		output := dumpOutput
		if strings.HasSuffix(output, ".zst") {
			compress = true
		} else if compress {
			output += ".zst"
		}

		f, err := sink.Create(output, compress)
		if err != nil {
			return err
		}

		opts := engine.Options{
			IncludeData:       !noData,
			IncludePrivileges: includeUsers,
			BatchSize:         viper.GetInt("settings.batch_size"),
		}
		a := engine.NewAssembler(SourceDB, Dialect, SchemaName, opts, logger)

		showProgress := !noProgress && !quiet
		var bar *uiprogress.Bar
		if showProgress {
			a.OnStart = func(steps int) {
				if steps == 0 {
					return
				}
				uiprogress.Start()
				bar = uiprogress.AddBar(steps).AppendCompleted().PrependElapsed()
				bar.PrependFunc(func(b *uiprogress.Bar) string {
					return "Exporting: "
				})
			}
			a.OnProgress = func() {
				if bar != nil {
					bar.Incr()
				}
			}
		}

		fmt.Printf("🦅 Exporting %s from %s\n", SchemaName, SourceConn.Identity())
		start := time.Now()

		report, err := a.Export(ctx, f)
		if bar != nil {
			uiprogress.Stop()
		}
		if err != nil {
			f.Abort()
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("export interrupted, no script written: %w", err)
			}
			return fmt.Errorf("export failed: %w", err)
		}
		if err := f.Commit(); err != nil {
			return err
		}

		if metadataPath != "" {
			m := sink.NewMetadata(report, SourceConn.Identity(), f)
			if err := sink.WriteMetadata(metadataPath, m); err != nil {
				return err
			}
			logger.Info().Str("file", metadataPath).Msg("metadata written")
		}

		printDumpSummary(report, f, time.Since(start))

		if len(report.Incomplete) > 0 {
			return fmt.Errorf("export finished with %d incomplete tables: %s",
				len(report.Incomplete), strings.Join(report.Incomplete, ", "))
		}
		return nil
	},
}

func printDumpSummary(report *engine.Report, f *sink.File, elapsed time.Duration) {
	fmt.Println("\n📊 Summary Report:")
	for _, k := range schema.Kinds {
		found := len(report.Inventory.Names(k))
		if found == 0 {
			continue
		}
		icon := "✓"
		written := len(report.Exported[k])
		if written < found {
			icon = "!"
		}
		fmt.Printf("[%s] %-12s : %d/%d\n", icon, k.Plural(), written, found)
	}
	for _, ref := range report.Skipped {
		fmt.Printf("    └ Skipped %s %s\n", strings.ToLower(ref.Kind.Keyword()), ref.Name)
	}
	for _, table := range report.Incomplete {
		fmt.Printf("    └ Incomplete data: %s\n", table)
	}
	for _, g := range report.SkippedGrantees {
		fmt.Printf("    └ Skipped grants for %s\n", g)
	}
	fmt.Println("--------------------------------------------------")
	fmt.Printf("Rows exported : %d\n", report.TotalRows())
	fmt.Printf("Script        : %s (%s", f.Path(), humanBytes(f.Size()))
	if disk, err := f.DiskSize(); err == nil && f.Compressed() {
		fmt.Printf(", %s on disk", humanBytes(disk))
	}
	fmt.Println(")")
	logger.Info().Dur("elapsed", elapsed).Msg("dump done")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	RootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "script file to write")
	dumpCmd.Flags().BoolVar(&noData, "no-data", false, "export structure only")
	dumpCmd.Flags().BoolVar(&includeUsers, "include-users", false, "export grants of accounts with privileges on the database")
	dumpCmd.Flags().StringVar(&metadataPath, "metadata", "", "write a metadata sidecar (.json, .yaml or .yml)")
	dumpCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	dumpCmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress the script")
	dumpCmd.Flags().IntVar(&dumpBatchSize, "batch-size", 0, "rows per INSERT statement (overrides config)")
	dumpCmd.MarkFlagRequired("output")

	viper.BindPFlag("settings.batch_size", dumpCmd.Flags().Lookup("batch-size"))
}
