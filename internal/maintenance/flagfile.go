// Package maintenance persists the maintenance flag to a file and feeds
// external edits of that file back to the caller.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/ernie/konsole/internal/tracker"
)

// FlagFile is the on-disk maintenance flag
type FlagFile struct {
	path   string
	logger *log.Logger
}

// NewFlagFile returns a flag file at path. The file is created on first Write.
func NewFlagFile(path string, logger *log.Logger) *FlagFile {
	if logger == nil {
		logger = log.Default().WithPrefix("maintenance")
	}
	return &FlagFile{path: path, logger: logger}
}

// Path returns the flag file location
func (f *FlagFile) Path() string {
	return f.path
}

// Read returns the stored flag. A missing file means maintenance is off.
func (f *FlagFile) Read() (bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading maintenance flag: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return false, nil
	}
	enabled, err := strconv.ParseBool(text)
	if err != nil {
		return false, fmt.Errorf("parsing maintenance flag %q: %w", text, err)
	}
	return enabled, nil
}

// Write stores the flag. Writing the same value again is harmless.
func (f *FlagFile) Write(enabled bool) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating maintenance flag directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("writing maintenance flag: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatBool(enabled) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing maintenance flag: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing maintenance flag: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("writing maintenance flag: %w", err)
	}
	return nil
}

// Hook returns an observer that writes every emission, forced ones included.
func (f *FlagFile) Hook() *tracker.Hook[bool] {
	return tracker.NewHook(func(c tracker.Change[bool]) error {
		if err := f.Write(c.Current); err != nil {
			return err
		}
		f.logger.Info("flag written", "enabled", c.Current, "forced", c.Forced)
		return nil
	})
}

// Watch calls onChange with the file's value whenever it is written,
// created or renamed into place, until ctx is done. The directory is
// watched rather than the file so atomic replacements are seen.
func (f *FlagFile) Watch(ctx context.Context, onChange func(enabled bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("creating maintenance flag directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go f.watchLoop(ctx, watcher, onChange)
	return nil
}

func (f *FlagFile) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(bool)) {
	defer watcher.Close()
	name := filepath.Base(f.path)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			enabled, err := f.Read()
			if err != nil {
				f.logger.Warn("ignoring unreadable flag file", "err", err)
				continue
			}
			onChange(enabled)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("watcher error", "err", err)
		}
	}
}
