package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"spacegraph/internal/codec"
	"spacegraph/internal/config"
	"spacegraph/internal/core"
	"spacegraph/internal/domain"
	"spacegraph/internal/repository"
	"spacegraph/internal/repository/sqlite"
)

var (
	traceDB   string
	traceFile string
	exportOut string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild the graph from a recorded trace and print its digest",
	Long: `replay applies every recorded tick, in order, to a fresh core and prints
the resulting digest and stats. The trace is read from the SQLite trace
database, or from a compressed trace file with --file.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the SQLite trace to a compressed trace file",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	replayCmd.Flags().StringVar(&traceDB, "db", "", "trace database (default: trace.path)")
	replayCmd.Flags().StringVarP(&traceFile, "file", "f", "", "read a compressed trace file instead of the database")
	exportCmd.Flags().StringVar(&traceDB, "db", "", "trace database (default: trace.path)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "trace.jsonl.zst", "output file")
}

// replayResult is printed as JSON by replay
type replayResult struct {
	Ticks  int        `json:"ticks"`
	Digest string     `json:"digest"`
	Stats  core.Stats `json:"stats"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger, _ := setupLogger(cfg)
	ctx := cmd.Context()

	c := core.New(cfg.CoreOptions(), core.Deps{Logger: logger})
	ticks := 0
	apply := func(tick uint64, batch []domain.Incoming) error {
		c.Apply(ctx, batch[len(batch)-1].At, batch)
		ticks++
		return nil
	}

	if traceFile != "" {
		err = replayFile(traceFile, apply)
	} else {
		err = replayStore(ctx, cfg, apply)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(replayResult{Ticks: ticks, Digest: c.Digest(), Stats: c.Stats()})
}

func replayStore(ctx context.Context, cfg *config.Config, fn func(uint64, []domain.Incoming) error) error {
	path, err := requireTrace(cfg, traceDB)
	if err != nil {
		return err
	}
	var store repository.TraceStore
	store, err = sqlite.New(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Batches(ctx, fn)
}

// replayFile groups the records of a trace file by tick
func replayFile(path string, fn func(uint64, []domain.Incoming) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening trace file: %w", err)
	}
	defer f.Close()

	tr, err := codec.NewTraceReader(f)
	if err != nil {
		return err
	}
	defer tr.Close()

	var (
		cur   uint64
		batch []domain.Incoming
	)
	for {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if len(batch) > 0 && rec.Tick != cur {
			if err := fn(cur, batch); err != nil {
				return err
			}
			batch = nil
		}
		in, err := rec.Incoming()
		if err != nil {
			return err
		}
		cur = rec.Tick
		batch = append(batch, in)
	}
	if len(batch) > 0 {
		return fn(cur, batch)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := requireTrace(cfg, traceDB)
	if err != nil {
		return err
	}
	repo, err := sqlite.New(path)
	if err != nil {
		return err
	}
	defer repo.Close()

	f, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer f.Close()

	tw, err := codec.NewTraceWriter(f)
	if err != nil {
		return err
	}
	start := time.Now()
	n := 0
	err = repo.Records(cmd.Context(), func(rec codec.TraceRecord) error {
		n++
		return tw.Write(rec)
	})
	if err != nil {
		tw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("flushing trace: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s in %s\n", n, exportOut, time.Since(start).Round(time.Millisecond))
	return nil
}
