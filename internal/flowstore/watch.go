package flowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher keeps a FlowStore in sync with a directory of *.json flow
// files. A file's base name is the flow ID; the directory owns those IDs.
type DirWatcher struct {
	dir     string
	store   FlowStore
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

// NewDirWatcher starts watching dir. Call LoadAll to import existing files
// and Run to apply changes.
func NewDirWatcher(dir string, store FlowStore, logger *slog.Logger) (*DirWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &DirWatcher{
		dir:     dir,
		store:   store,
		logger:  logger.With(slog.String("component", "flowstore"), slog.String("dir", dir)),
		watcher: w,
	}, nil
}

// LoadAll imports every flow file in the directory. Bad files are logged
// and skipped; the count of loaded flows is returned.
func (w *DirWatcher) LoadAll(ctx context.Context) (int, error) {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		if err := w.load(ctx, p); err != nil {
			w.logger.Warn("skipping flow file", slog.String("file", p), slog.Any("error", err))
			continue
		}
		n++
	}
	return n, nil
}

// Run applies file events until ctx is done.
func (w *DirWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", slog.Any("error", err))
		}
	}
}

func (w *DirWatcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".json") {
		return
	}
	switch {
	case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if err := w.load(ctx, ev.Name); err != nil {
			w.logger.Warn("flow reload failed", slog.String("file", ev.Name), slog.Any("error", err))
			return
		}
		w.logger.Info("flow loaded", slog.String("flow", flowID(ev.Name)))
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		err := w.store.Delete(ctx, flowID(ev.Name))
		if err != nil && !errors.Is(err, ErrFlowNotFound) {
			w.logger.Warn("flow delete failed", slog.String("file", ev.Name), slog.Any("error", err))
			return
		}
		w.logger.Info("flow removed", slog.String("flow", flowID(ev.Name)))
	}
}

// load creates or replaces the flow defined by path.
func (w *DirWatcher) load(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var req CreateFlowRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	req.ID = flowID(path)
	if req.CreatedBy == "" {
		req.CreatedBy = "file:" + filepath.Base(path)
	}

	_, err = w.store.Create(ctx, &req)
	if !errors.Is(err, ErrFlowExists) {
		return err
	}
	_, err = w.store.Update(ctx, req.ID, &UpdateFlowRequest{
		Description: &req.Description,
		Graph:       &req.Graph,
		Metadata:    req.Metadata,
	})
	return err
}

// Close stops the underlying watcher.
func (w *DirWatcher) Close() error {
	return w.watcher.Close()
}

func flowID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
