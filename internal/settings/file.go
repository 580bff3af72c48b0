package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/fedorgpt/internal/policy"
)

// FileStore keeps the policy document in a JSON file.
//
// Every Update re-reads the file, applies the mutation to what is on disk
// and rewrites the whole file atomically. The cache is only a read view; it
// never overrides the file. One mutex serializes all of it.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	doc policy.Document

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// OpenFile loads path, creating an empty document if it does not exist.
func OpenFile(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("settings path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{
		path:   path,
		logger: logger.With("component", "settings"),
	}
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Snapshot returns a copy of the cached document.
func (s *FileStore) Snapshot(ctx context.Context) (policy.Document, error) {
	if err := ctx.Err(); err != nil {
		return policy.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone(), nil
}

// Update reads the current file, applies fn to it and persists the whole
// document. Edits made on disk by other writers since the last reload
// survive.
func (s *FileStore) Update(ctx context.Context, fn func(doc *policy.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Reload replaces the cache with the file contents.
func (s *FileStore) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	s.doc = doc
	return nil
}

func (s *FileStore) read() (policy.Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return policy.NewDocument(), nil
	}
	if err != nil {
		return policy.Document{}, fmt.Errorf("read settings: %w", err)
	}
	doc := policy.NewDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return policy.Document{}, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	if doc.Chats == nil {
		doc.Chats = make(map[string]policy.Entry)
	}
	if doc.Users == nil {
		doc.Users = make(map[string]map[string]policy.Entry)
	}
	return doc, nil
}

func (s *FileStore) write(doc policy.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Watch reloads the cache whenever the file changes on disk. It returns
// once the watcher is installed; Close stops it.
func (s *FileStore) Watch(ctx context.Context, debounce time.Duration) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: atomic renames replace the inode.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, watcher, debounce)
	return nil
}

// Close stops the watcher, if any.
func (s *FileStore) Close() error {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	s.watchWg.Wait()
	return nil
}

func (s *FileStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	defer s.watchWg.Done()

	target := filepath.Clean(s.path)
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := s.Reload(); err != nil {
				s.logger.Warn("settings reload failed", "error", err)
				return
			}
			s.logger.Info("settings reloaded", "path", s.path)
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("settings watch error", "error", err)
		}
	}
}
