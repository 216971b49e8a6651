// Package loader seeds the graph from fragment files at startup.
//
// Each file is one source: its name without the extension is the source
// key and its extension picks the codec (.yaml, .yml or .json). Seeded
// nodes are pinned: nothing refreshes them, so they expire like any other
// node but are never purged.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"spacegraph/internal/codec"
	"spacegraph/internal/core"
	"spacegraph/internal/domain"
)

// Seed is one parsed file
type Seed struct {
	Path     string
	Source   domain.NodeKey
	Fragment *domain.GraphFragment
}

// LoadFile reads and parses one fragment file
func LoadFile(path string) (*Seed, error) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	source := domain.NodeKey(strings.TrimSuffix(base, ext))
	if !domain.ValidNodeKey(source) {
		return nil, fmt.Errorf("%s: %w: source key %q", path, domain.ErrInvalidID, source)
	}
	c, ok := codec.ForFormat(strings.TrimPrefix(ext, "."))
	if !ok {
		return nil, fmt.Errorf("%s: unsupported extension %q", path, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	frag, err := c.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Seed{Path: path, Source: source, Fragment: frag}, nil
}

// LoadAll parses every file before queueing any, so a bad file leaves
// the graph untouched. Patterns are expanded with filepath.Glob.
func LoadAll(ctx context.Context, c *core.Core, patterns []string, at time.Time, logger *slog.Logger) ([]*Seed, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var paths []string
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad seed pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			logger.Warn("seed pattern matched no files", "pattern", p)
		}
		paths = append(paths, matches...)
	}

	seeds := make([]*Seed, 0, len(paths))
	for _, p := range paths {
		s, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, s)
	}

	for _, s := range seeds {
		for _, node := range s.Fragment.Nodes {
			c.Pins().Pin(domain.GlobalID{Key: s.Source, Local: node.ID})
		}
		n, err := c.Import(ctx, s.Source, s.Fragment, at)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded seed file",
			"path", s.Path,
			"source", s.Source,
			"nodes", len(s.Fragment.Nodes),
			"edges", len(s.Fragment.Edges),
			"deltas", n)
	}
	return seeds, nil
}
