package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/OpenNSW/edibridge/internal/app"
	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/OpenNSW/edibridge/internal/ingest"
	"github.com/OpenNSW/edibridge/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type fileReceiver interface {
	Receive(ctx context.Context, fileName string, body io.Reader) (*ingest.FileResult, error)
}

func newProcessCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "process [file...]",
		Short: "Copy files into the inbox and apply them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return processFiles(cmd.Context(), a.Runner, args, workers, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "files processed concurrently")
	return cmd
}

func newDrainCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Apply every file waiting in the inbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				results, err := a.Runner.ProcessPending(cmd.Context(), workers)
				for _, res := range results {
					if res != nil {
						printResult(cmd.OutOrStdout(), res)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "files processed concurrently")
	return cmd
}

func withApp(ctx context.Context, fn func(*app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.InitWriter(os.Stderr, cfg.Log.Level)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// processFiles hands each path to the receiver, at most workers at a time,
// and prints the results in argument order.
func processFiles(ctx context.Context, receiver fileReceiver, paths []string, workers int, out io.Writer) error {
	results := make([]*ingest.FileResult, len(paths))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, path := range paths {
		g.Go(func() error {
			res, err := receiveFile(ctx, receiver, path)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		printResult(out, res)
		failed += res.Failed()
	}
	if failed > 0 {
		errs = append(errs, fmt.Errorf("%d transaction(s) failed", failed))
	}
	return errors.Join(errs...)
}

func receiveFile(ctx context.Context, receiver fileReceiver, path string) (*ingest.FileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return receiver.Receive(ctx, filepath.Base(path), f)
}

func printResult(w io.Writer, res *ingest.FileResult) {
	for _, t := range res.Transactions {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", res.FileName, t.SetID, t.ControlNumber, t.Outcome, t.Key)
		if t.Error != "" {
			line += "\t" + string(t.ErrorKind) + ": " + t.Error
		}
		fmt.Fprintln(w, line)
	}
}
