package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vk/hopgrid/internal/ctxlog"
)

// FindFiles resolves paths into the definition files with one of the given
// extensions. Directories are scanned recursively; missing paths are
// skipped. Each file is returned once, in discovery order.
func FindFiles(ctx context.Context, paths []string, exts ...string) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		for _, ext := range exts {
			if filepath.Ext(p) != ext {
				continue
			}
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				files = append(files, p)
			}
			return
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				logger.Debug("Definition path not found, skipping.", "path", path)
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			add(path)
			continue
		}
		logger.Debug("Path is a directory, scanning for definition files.", "directory", path, "extensions", exts)
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
