package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow batches bursts of filesystem events into one run.
// Editors and sync tools commonly emit several events per saved file.
const debounceWindow = 2 * time.Second

// Watch blocks, re-running the pipeline whenever files land in the intake
// directory. It returns when the context is canceled.
func (p *Pipeline) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			p.logger.Warn("closing intake watcher", "error", err)
		}
	}()

	if err := watcher.Add(p.cfg.IntakeDir); err != nil {
		return err
	}
	p.logger.Info("watching intake directory", "dir", p.cfg.IntakeDir)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("intake watcher error", "error", err)

		case <-timerC:
			timer, timerC = nil, nil
			if _, err := p.Run(ctx); err != nil {
				if errors.Is(err, ErrIngestLocked) {
					p.logger.Debug("ingestion already running, skipping watch trigger")
					continue
				}
				p.logger.Error("watch-triggered ingestion failed", "error", err)
			}
		}
	}
}
