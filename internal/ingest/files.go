package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/fileid"
)

// IngestFile reads a file from a watched inbox directory and ingests it under
// a path-derived document ID, so edits to the same file update the existing
// document in place.
func (p *Pipeline) IngestFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", abs)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	_, err = p.IngestWithID(ctx, fileid.DocID(abs), filepath.Base(abs), content)
	return err
}

// RemoveFile deletes the document that was ingested from path, if any.
func (p *Pipeline) RemoveFile(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return p.Delete(ctx, fileid.DocID(abs))
}

// WatchCallbacks returns the ingest and remove callbacks wired for an inbox
// watcher. Errors are logged, not surfaced: the watcher has no caller to
// report to.
func (p *Pipeline) WatchCallbacks() (onIngest, onRemove func(path string)) {
	onIngest = func(path string) {
		if err := p.IngestFile(context.Background(), path); err != nil {
			p.logger.Error("inbox ingest failed", zap.String("path", path), zap.Error(err))
		}
	}
	onRemove = func(path string) {
		if err := p.RemoveFile(context.Background(), path); err != nil {
			p.logger.Debug("inbox remove skipped", zap.String("path", path), zap.Error(err))
		}
	}
	return onIngest, onRemove
}
