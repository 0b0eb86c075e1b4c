package services

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher keeps a namespace in sync with a directory. It ingests what is
// there on start, re-ingests every PDF that is created or rewritten and
// drops the records of PDFs that are removed or renamed away.
type Watcher struct {
	indexer  *IndexingService
	debounce time.Duration

	// onIngest, when set, is called after each single-file ingestion.
	onIngest func(path string, err error)
	// onRemove, when set, is called after the records of a file are dropped.
	onRemove func(path string, err error)
}

// NewWatcher uses the default debounce interval.
func NewWatcher(indexer *IndexingService) *Watcher {
	return &Watcher{indexer: indexer, debounce: defaultDebounce}
}

// Watch blocks until ctx is cancelled. Editors often write a file through
// several events, so ingestion of a path waits until it has been quiet for
// the debounce interval.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	// Files may appear later even when the directory starts out empty.
	if err := w.indexer.EnsureIndex(ctx); err != nil {
		return err
	}
	report, err := w.indexer.IngestDirectory(ctx, dir)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"directory": dir,
		"outcome":   report.Outcome,
		"processed": report.Processed,
		"failed":    len(report.FailedFiles),
	}).Info("initial scan finished")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logrus.WithField("directory", dir).Info("watching directory")

	// pending holds the time of the last event per path.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPDF(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				logrus.WithField("file", filepath.Base(event.Name)).Debug("file changed")
				pending[event.Name] = time.Now()
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				delete(pending, event.Name)
				w.remove(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.WithError(err).Warn("file watcher error")
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, path)
				w.ingest(ctx, path)
			}
		case <-ctx.Done():
			logrus.Info("stopping directory watcher")
			return nil
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	err := w.indexer.ReplaceFile(ctx, path)
	if err != nil {
		logrus.WithField("file", filepath.Base(path)).WithError(err).Error("failed to ingest file")
	} else {
		logrus.WithField("file", filepath.Base(path)).Info("re-indexed file")
	}
	if w.onIngest != nil {
		w.onIngest(path, err)
	}
}

func (w *Watcher) remove(ctx context.Context, path string) {
	err := w.indexer.RemoveFile(ctx, path)
	if err != nil {
		logrus.WithField("file", filepath.Base(path)).WithError(err).Error("failed to remove file records")
	} else {
		logrus.WithField("file", filepath.Base(path)).Info("removed file records")
	}
	if w.onRemove != nil {
		w.onRemove(path, err)
	}
}
