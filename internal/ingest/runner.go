package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/OpenNSW/edibridge/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Inbox holds received files until they are processed.
type Inbox interface {
	Receive(ctx context.Context, fileName string, body io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Pending(ctx context.Context) ([]string, error)
	Archive(ctx context.Context, key string, failed bool) (string, error)
}

// FileRecorder receives per-file outcomes.
type FileRecorder interface {
	ObserveFile(status string)
}

// File archive statuses.
const (
	FileProcessed = "processed"
	FileFailed    = "failed"
)

// Runner moves files from the inbox through the processor into the archive.
type Runner struct {
	processor *Processor
	inbox     Inbox
	recorder  FileRecorder
}

func NewRunner(processor *Processor, inbox Inbox, recorder FileRecorder) *Runner {
	return &Runner{processor: processor, inbox: inbox, recorder: recorder}
}

// Receive stores the file and processes it right away.
func (r *Runner) Receive(ctx context.Context, fileName string, body io.Reader) (*FileResult, error) {
	key, err := r.inbox.Receive(ctx, fileName, body)
	if err != nil {
		return nil, err
	}
	return r.ProcessKey(ctx, key)
}

// ProcessKey processes one inbox file and archives it. A file with any failed
// transaction, or one that cannot be read, goes to the failed archive.
func (r *Runner) ProcessKey(ctx context.Context, key string) (*FileResult, error) {
	fileName := storage.FileName(key)

	rc, err := r.inbox.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	result, procErr := r.processor.ProcessFile(ctx, fileName, rc)
	rc.Close()

	failed := procErr != nil || result.Failed() > 0
	archiveKey, err := r.inbox.Archive(ctx, key, failed)
	if err != nil {
		return result, fmt.Errorf("failed to archive %s: %w", key, err)
	}

	status := FileProcessed
	if failed {
		status = FileFailed
	}
	if r.recorder != nil {
		r.recorder.ObserveFile(status)
	}

	if procErr != nil {
		return nil, procErr
	}
	result.ArchiveKey = archiveKey
	return result, nil
}

// ProcessPending processes every file waiting in the inbox with up to
// workers files in flight. Files are independent; a file that fails does not
// stop the others. Results are returned in inbox order, with nil for files
// that could not be processed; their errors are joined into the returned
// error.
func (r *Runner) ProcessPending(ctx context.Context, workers int) ([]*FileResult, error) {
	keys, err := r.inbox.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]*FileResult, len(keys))
	var (
		mu      sync.Mutex
		errs    []error
		g, gctx = errgroup.WithContext(ctx)
	)
	g.SetLimit(workers)
	for i, key := range keys {
		g.Go(func() error {
			res, err := r.ProcessKey(gctx, key)
			if err != nil {
				slog.ErrorContext(gctx, "failed to process inbox file", "key", key, "error", err)
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
		return results, err
	}
	slog.InfoContext(ctx, "inbox drained", "files", len(keys), "errors", len(errs))
	return results, errors.Join(errs...)
}
