package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"db-snap/internal/engine"
	"db-snap/internal/sink"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	target            *connFlags
	sourceTable       string
	targetTable       string
	transferOutput    string
	execute           bool
	force             bool
	onConflict        string
	transferBatchSize int
)

var transferCmd = &cobra.Command{
	Use:         "transfer",
	Short:       "Copy one table to a script file and/or another connection",
	Annotations: map[string]string{connectAnnotation: "source"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if transferOutput == "" && !execute {
			return fmt.Errorf("nothing to do: use --output and/or --execute")
		}
		if execute && !target.given() {
			return fmt.Errorf("--execute needs a target connection: use --target or --target-host/-port/-user/-password/-db")
		}

		resolve, err := conflictResolver(os.Stdin, os.Stdout)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		var (
			destDB     *sql.DB
			destSchema string
			destConn   *ConnConfig
		)
		if execute {
			// unset target fields are taken from the source connection
			destConn, err = target.resolve(SourceConn)
			if err != nil {
				return err
			}
			destDB, destSchema, err = openDB(destConn)
			if err != nil {
				return fmt.Errorf("failed to connect to target: %w", err)
			}
			defer destDB.Close()
		}

		var out *sink.File
		opts := engine.TransferOptions{
			SourceTable: sourceTable,
			TargetTable: targetTable,
			Execute:     execute,
			Resolve:     resolve,
			BatchSize:   viper.GetInt("settings.batch_size"),
		}
		if cmd.Flags().Changed("batch-size") {
			opts.BatchSize = transferBatchSize
		}
		if destConn != nil {
			opts.SourceEndpoint = SourceConn.Addr()
			opts.TargetEndpoint = destConn.Addr()
		}
		if transferOutput != "" {
			out, err = sink.Create(transferOutput, strings.HasSuffix(transferOutput, ".zst"))
			if err != nil {
				return err
			}
			opts.Output = out
		}

		var batches int
		opts.OnBatch = func(rows int) {
			batches++
			logger.Debug().Int("batch", batches).Int("rows", rows).Msg("batch streamed")
		}

		fmt.Printf("🦅 Transferring %s.%s from %s\n", SchemaName, sourceTable, SourceConn.Identity())
		if destConn != nil {
			fmt.Printf("   → %s.%s on %s\n", destSchema, orDefault(targetTable, sourceTable), destConn.Identity())
		}
		start := time.Now()

		p := engine.NewPipeline(SourceDB, SchemaName, destDB, destSchema, Dialect, logger)
		res, runErr := p.Run(ctx, opts)

		if out != nil {
			if res != nil && res.Streamed && res.OutputErr == nil {
				if err := out.Commit(); err != nil {
					return err
				}
				fmt.Printf("📄 Script written to %s (%s)\n", out.Path(), humanBytes(out.Size()))
			} else {
				out.Abort()
			}
		}

		if runErr != nil {
			var partial *engine.PartialApplyError
			switch {
			case errors.Is(runErr, engine.ErrDestinationConflict):
				fmt.Println("⛔ Destination table exists, nothing applied")
			case errors.Is(runErr, engine.ErrSameTable):
				fmt.Println("⛔ Target is the source table itself, nothing applied")
			case errors.As(runErr, &partial):
				fmt.Printf("⚠️  Data rolled back, but %s was recreated and is now empty\n", partial.Table)
			}
			return runErr
		}

		fmt.Println("--------------------------------------------------")
		fmt.Printf("Rows      : %d\n", res.Rows)
		if res.Executed {
			fmt.Printf("Applied   : %d statements (%s)\n", res.Applied, res.Policy)
		}
		fmt.Printf("Elapsed   : %s\n", elapsedSince(start))
		return nil
	},
}

// conflictResolver picks how an existing destination table is handled:
// --on-conflict, then --force, then an interactive prompt.
func conflictResolver(in io.Reader, out io.Writer) (func(string) (engine.ConflictPolicy, error), error) {
	if onConflict != "" {
		policy, err := engine.ParsePolicy(onConflict)
		if err != nil {
			return nil, err
		}
		return func(string) (engine.ConflictPolicy, error) { return policy, nil }, nil
	}
	if force {
		return func(string) (engine.ConflictPolicy, error) { return engine.ConflictRecreate, nil }, nil
	}

	return func(table string) (engine.ConflictPolicy, error) {
		if f, ok := in.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
			logger.Warn().Str("table", table).Msg("destination table exists and no terminal to ask; aborting (use --force or --on-conflict)")
			return engine.ConflictAbort, nil
		}
		return promptPolicy(in, out, table)
	}, nil
}

func promptPolicy(in io.Reader, out io.Writer, table string) (engine.ConflictPolicy, error) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "\n⚠️  Table %s already exists on the target.\n", table)
		fmt.Fprintln(out, "  1) Drop and recreate it (existing data is lost)")
		fmt.Fprintln(out, "  2) Keep its structure and insert data only")
		fmt.Fprintln(out, "  3) Cancel")
		fmt.Fprint(out, "Choice [1-3]: ")

		line, err := reader.ReadString('\n')
		switch strings.TrimSpace(line) {
		case "1":
			return engine.ConflictRecreate, nil
		case "2":
			return engine.ConflictDataOnly, nil
		case "3":
			return engine.ConflictAbort, nil
		}
		if err != nil {
			if err == io.EOF {
				return engine.ConflictAbort, nil
			}
			return engine.ConflictAbort, fmt.Errorf("failed to read choice: %w", err)
		}
		fmt.Fprintln(out, "Please enter 1, 2 or 3.")
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func init() {
	RootCmd.AddCommand(transferCmd)

	transferCmd.Flags().StringVar(&sourceTable, "source-table", "", "table to transfer")
	transferCmd.Flags().StringVar(&targetTable, "target-table", "", "name of the table on the target (default: same as source)")
	transferCmd.Flags().StringVarP(&transferOutput, "output", "o", "", "also write the transfer script to this file (.zst to compress)")
	transferCmd.Flags().BoolVarP(&execute, "execute", "e", false, "apply the transfer to the target connection")
	transferCmd.Flags().BoolVarP(&force, "force", "f", false, "recreate an existing target table without asking")
	transferCmd.Flags().StringVar(&onConflict, "on-conflict", "", "existing target table: recreate, data-only or abort")
	transferCmd.Flags().IntVar(&transferBatchSize, "batch-size", engine.DefaultBatchSize, "rows per INSERT statement (overrides config)")
	target = registerConnFlags(transferCmd.Flags(), "target")
	transferCmd.MarkFlagRequired("source-table")
}
