package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Key prefixes used by the inbox.
const (
	InboxPrefix     = "inbox/"
	ProcessedPrefix = "archive/processed/"
	FailedPrefix    = "archive/failed/"
)

const ediContentType = "application/edi-x12"

// Inbox stores received files until they are processed and then moves them
// to the processed or failed archive.
type Inbox struct {
	Driver Driver
}

func NewInbox(driver Driver) *Inbox {
	return &Inbox{Driver: driver}
}

// Receive stores a file under a new inbox key and returns the key.
func (i *Inbox) Receive(ctx context.Context, fileName string, body io.Reader) (string, error) {
	name := sanitizeName(fileName)
	key := fmt.Sprintf("%s%s-%s", InboxPrefix, uuid.New().String(), name)
	if err := i.Driver.Save(ctx, key, body, ediContentType); err != nil {
		return "", fmt.Errorf("storage driver failed: %w", err)
	}
	slog.InfoContext(ctx, "file received", "file", fileName, "key", key)
	return key, nil
}

// Open streams a stored file.
func (i *Inbox) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, _, err := i.Driver.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return rc, nil
}

// Pending lists the inbox keys waiting to be processed.
func (i *Inbox) Pending(ctx context.Context) ([]string, error) {
	keys, err := i.Driver.List(ctx, InboxPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}
	return keys, nil
}

// Archive moves an inbox file to the processed or failed archive and returns
// its new key.
func (i *Inbox) Archive(ctx context.Context, key string, failed bool) (string, error) {
	prefix := ProcessedPrefix
	if failed {
		prefix = FailedPrefix
	}
	dest := prefix + strings.TrimPrefix(key, InboxPrefix)

	rc, contentType, err := i.Driver.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for archiving: %w", key, err)
	}
	defer rc.Close()

	if err := i.Driver.Save(ctx, dest, rc, contentType); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", key, err)
	}
	if err := i.Driver.Delete(ctx, key); err != nil {
		slog.WarnContext(ctx, "failed to remove archived inbox file", "key", key, "error", err)
	}
	slog.InfoContext(ctx, "file archived", "key", key, "archiveKey", dest)
	return dest, nil
}

// FileName recovers the original file name from a key written by Receive.
func FileName(key string) string {
	base := path.Base(key)
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file.edi"
	}
	return name
}
