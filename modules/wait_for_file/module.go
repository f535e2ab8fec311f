// Package wait_for_file provides a job entry that blocks until a file
// appears on disk.
package wait_for_file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/jobentry"
	"github.com/vk/hopgrid/internal/registry"
	"github.com/vk/hopgrid/internal/result"
)

// ErrTimeout is returned when the file did not show up in time.
var ErrTimeout = errors.New("timed out waiting for file")

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the entry with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterEntry("wait_for_file", &registry.EntryPlugin{
		New:         newEntry,
		Description: "Waits until a file exists.",
	})
}

// Entry waits for file. Options: file, timeout (0 waits until the job is
// stopped), success_on_timeout, add_to_result.
type Entry struct {
	env              jobentry.Env
	file             string
	timeout          time.Duration
	successOnTimeout bool
	addToResult      bool
}

func newEntry(env jobentry.Env, opts config.Options) (jobentry.Entry, error) {
	file, err := opts.Required("file")
	if err != nil {
		return nil, err
	}
	return &Entry{
		env:              env,
		file:             file,
		timeout:          opts.Duration("timeout", 0),
		successOnTimeout: opts.Bool("success_on_timeout", false),
		addToResult:      opts.Bool("add_to_result", false),
	}, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (e *Entry) Execute(ctx context.Context, prev *result.Result, nr int) (*result.Result, error) {
	path, err := filepath.Abs(e.env.Scope().Expand(e.file))
	if err != nil {
		return nil, err
	}
	logger := e.env.Logger().With("file", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	// fsnotify watches directories for file events.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	var timeout <-chan time.Time
	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	logger.Info("⏳ Waiting for file.", "timeout", e.timeout)
	for !exists(path) {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("watcher closed")
			}
			if abs, _ := filepath.Abs(event.Name); abs != path {
				continue
			}
			logger.Debug("File event.", "op", event.Op.String())
		case err, ok := <-watcher.Errors:
			if ok {
				return nil, fmt.Errorf("watch %s: %w", path, err)
			}
		case <-timeout:
			if e.successOnTimeout {
				logger.Warn("File did not appear in time, continuing.")
				prev.Success = true
				return prev, nil
			}
			return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, path, e.timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	logger.Info("File found.")
	if e.addToResult {
		prev.AddFile(result.File{Type: result.FileGeneral, Path: path, Origin: e.env.JobName(), Timestamp: time.Now()})
	}
	prev.Success = true
	return prev, nil
}
