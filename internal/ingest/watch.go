package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// IgnoreFile lists glob patterns, one per line, of files the watcher skips.
const IgnoreFile = ".ragdignore"

// WatcherUser is recorded as uploaded_by for watched files.
const WatcherUser = "watcher"

// DefaultSettleDelay is how long a file must stay unchanged before it is ingested.
const DefaultSettleDelay = 500 * time.Millisecond

// ErrWatcherFailed indicates the filesystem watcher could not be created.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

var watchNamespace = uuid.MustParse("0b6f0f5e-4a1d-5c8e-b2a7-93e4d1c6f820")

// WatchDocumentID is the stable document id of a watched file, so a
// rewritten file replaces its earlier version.
func WatchDocumentID(filename string) string {
	return uuid.NewSHA1(watchNamespace, []byte(filepath.Base(filename))).String()
}

// Watcher ingests files written to a directory into the Global scope and
// removes them again when the file is deleted. Subdirectories are not
// watched.
type Watcher struct {
	dir      string
	pipeline *Pipeline
	engine   Engine
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	settle   time.Duration
	ignore   []string

	mu      sync.Mutex
	pending map[string]*time.Timer
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher for dir. Call Start to begin.
func NewWatcher(dir string, pipeline *Pipeline, logger *logging.Logger) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch dir %s is not a directory", dir)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Watcher{
		dir:      dir,
		pipeline: pipeline,
		engine:   pipeline.engine,
		watcher:  fw,
		logger:   logger,
		settle:   DefaultSettleDelay,
		pending:  make(map[string]*time.Timer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetSettleDelay changes the debounce window. It must be called before Start.
func (w *Watcher) SetSettleDelay(d time.Duration) { w.settle = d }

// Start ingests the files already present and then follows changes until
// Stop is called or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	patterns, err := loadIgnorePatterns(filepath.Join(w.dir, IgnoreFile))
	if err != nil {
		return fmt.Errorf("reading %s: %w", IgnoreFile, err)
	}
	w.ignore = patterns

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	w.logger.Info(ctx, "watching inbox directory", zap.String("dir", w.dir))
	w.started = true
	go w.loop(ctx)
	return nil
}

// Stop ends watching and cancels pending ingestions. Ingestions already
// running finish in the background.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
	}
	_ = w.watcher.Close()
	if w.started {
		<-w.done
	}

	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.schedule(ctx, event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.remove(ctx, event.Name)
	}
}

// accepts reports whether path should be ingested.
func (w *Watcher) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	for _, pattern := range w.ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return false
		}
	}
	return ExtensionAllowed(base, w.pipeline.AllowedExtensions())
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !w.accepts(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn(ctx, "failed to read watched file", zap.String("path", path), zap.Error(err))
		return
	}

	name := filepath.Base(path)
	_, err = w.pipeline.Submit(ctx, Upload{
		DocumentID: WatchDocumentID(name),
		Filename:   name,
		Content:    data,
		Scope:      vectorstore.Global(),
		UploadedBy: WatcherUser,
		Replace:    true,
	})
	if err != nil {
		w.logger.Warn(ctx, "skipping watched file", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) remove(ctx context.Context, path string) {
	w.mu.Lock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if !w.accepts(path) {
		return
	}
	id := WatchDocumentID(path)
	res, err := w.engine.DeleteDocument(ctx, id)
	if err != nil {
		w.logger.Warn(ctx, "failed to remove watched document", zap.String("path", path), zap.Error(err))
		return
	}
	if res.Removed > 0 {
		w.logger.Info(ctx, "watched file removed", zap.String("path", path), zap.String("document_id", id))
	}
}

// loadIgnorePatterns reads gitignore-style patterns. Blank lines, comments
// and negations are skipped; a missing file yields no patterns.
func loadIgnorePatterns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, strings.TrimPrefix(line, "/"))
	}
	return patterns, scanner.Err()
}
