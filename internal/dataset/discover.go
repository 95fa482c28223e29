package dataset

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"

	"golang.org/x/sync/errgroup"

	apperrors "addition-rnn/internal/pkg/errors"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// ShardName returns the file name of the shard with the given index.
func ShardName(index int) string {
	return fmt.Sprintf("shard-%06d.tar", index)
}

// DiscoverShards returns the shard files beneath root, sorted by path.
func DiscoverShards(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if shardRegexp.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// NextShardPath returns the first unused shard path directly under root.
func NextShardPath(root string) (string, error) {
	shards, err := DiscoverShards(root)
	if err != nil {
		return "", err
	}
	used := make(map[string]bool, len(shards))
	for _, s := range shards {
		if filepath.Dir(s) == filepath.Clean(root) {
			used[filepath.Base(s)] = true
		}
	}
	for i := 0; ; i++ {
		if name := ShardName(i); !used[name] {
			return filepath.Join(root, name), nil
		}
	}
}

// maxShardReaders bounds how many shards LoadShards streams at once.
const maxShardReaders = 4

// LoadShards reads every problem of every shard beneath root. Shards are
// streamed concurrently; problems keep shard order.
func LoadShards(ctx context.Context, root string) ([]Problem, error) {
	shards, err := DiscoverShards(root)
	if err != nil {
		return nil, apperrors.ShardError("discover "+root, err)
	}
	if len(shards) == 0 {
		return nil, apperrors.ShardError(fmt.Sprintf("no shards discovered under %s", root), nil)
	}

	perShard := make([][]Problem, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxShardReaders)
	for i, path := range shards {
		i, path := i, path
		g.Go(func() error {
			stream, errCh := StreamShard(gctx, path, 0)
			for p := range stream {
				perShard[i] = append(perShard[i], p)
			}
			if err := <-errCh; err != nil {
				return apperrors.ShardError("load "+path, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var problems []Problem
	for _, ps := range perShard {
		problems = append(problems, ps...)
	}
	if len(problems) == 0 {
		return nil, apperrors.ShardError(fmt.Sprintf("shards under %s hold no problems", root), nil)
	}
	return problems, nil
}
