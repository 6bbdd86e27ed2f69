// Package ingest drives inbox ingestion from filesystem events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zombor/receipt-ledger/internal/receipt"
)

// Ingester stages one inbox file as a draft
type Ingester interface {
	Ingest(name string) (string, error)
}

// Watcher ingests images as they land in the inbox directory
type Watcher struct {
	dir      string
	ingester Ingester
	tick     time.Duration
	settle   time.Duration
}

// NewWatcher creates a Watcher for dir
func NewWatcher(dir string, ingester Ingester) *Watcher {
	return &Watcher{
		dir:      dir,
		ingester: ingester,
		tick:     250 * time.Millisecond,
		settle:   300 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. A file is ingested once it has seen no
// writes for the settle period, so partially copied uploads are not scanned.
// Images already in the inbox when Run starts are ingested too.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	slog.Info("Watching inbox", "dir", w.dir)

	fileCh := make(chan string, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for name := range fileCh {
			_, err := w.ingester.Ingest(name)
			switch {
			case errors.Is(err, receipt.ErrIngestInProgress):
				slog.Debug("Receipt already being ingested", "filename", name)
			case err != nil:
				slog.Error("Failed to ingest receipt", "filename", name, "error", err)
			}
		}
	}()
	defer func() {
		close(fileCh)
		<-done
	}()

	// the watch is registered first so nothing lands between the listing and the events
	pending, err := w.existing()
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !receipt.IsSupportedImage(name) {
				continue
			}
			pending[name] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) > w.settle {
					delete(pending, name)
					select {
					case fileCh <- name:
					case <-ctx.Done():
						return nil
					}
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Inbox watch error", "error", err)
		}
	}
}

// existing lists the supported images already in the inbox, stamped as just seen
func (w *Watcher) existing() (map[string]time.Time, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", w.dir, err)
	}
	now := time.Now()
	pending := make(map[string]time.Time, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !receipt.IsSupportedImage(entry.Name()) {
			continue
		}
		pending[entry.Name()] = now
	}
	if len(pending) > 0 {
		slog.Info("Found receipts waiting in inbox", "count", len(pending))
	}
	return pending, nil
}
