// Package studycache records which patient / study / series triples exist
// below a DICOM tree.
package studycache

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"dicomvol/internal/logging"
	"dicomvol/pkg/dicomio"
)

// Builder walks DICOM trees and collects unique study identities
type Builder struct {
	workers  int
	identify dicomio.IdentifyFunc
	logger   *slog.Logger
}

// NewBuilder returns a builder parsing up to workers files at once.
// A nil identify uses dicomio.Identify.
func NewBuilder(workers int, identify dicomio.IdentifyFunc, logger *slog.Logger) *Builder {
	if workers < 1 {
		workers = 1
	}
	if identify == nil {
		identify = dicomio.Identify
	}
	return &Builder{workers: workers, identify: identify, logger: logging.OrDefault(logger)}
}

// Build walks root recursively and returns the unique identities found,
// sorted by their concatenated key. Unreadable files and files missing one of
// the identifiers are skipped.
func (b *Builder) Build(ctx context.Context, root string) ([]dicomio.Identity, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	found := make([]*dicomio.Identity, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, err := b.identify(path)
			if err != nil {
				b.logger.Debug("skipping file", "path", path, "error", err)
				return nil
			}
			found[i] = &id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	unique := make(map[string]dicomio.Identity)
	for _, id := range found {
		if id != nil {
			unique[id.Key()] = *id
		}
	}
	keys := make([]string, 0, len(unique))
	for k := range unique {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]dicomio.Identity, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, unique[k])
	}
	b.logger.Info("study cache built", "root", root, "files", len(files), "series", len(entries))
	return entries, nil
}

// Write stores entries as an indented JSON array at path
func Write(path string, entries []dicomio.Identity) error {
	if entries == nil {
		entries = []dicomio.Identity{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode study cache: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write study cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write study cache: %w", err)
	}
	return nil
}

// Read loads a study cache written by Write
func Read(path string) ([]dicomio.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read study cache: %w", err)
	}
	var entries []dicomio.Identity
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse study cache: %w", err)
	}
	return entries, nil
}
