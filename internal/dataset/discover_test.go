package dataset

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	apperrors "addition-rnn/internal/pkg/errors"
)

func TestDiscoverShardsBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "shard-000000.tar"))
	mustWrite(t, filepath.Join(dir, "nested", "shard-000001.tar"))
	mustWrite(t, filepath.Join(dir, "ignore.txt"))

	shards, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("DiscoverShards error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "nested", "shard-000001.tar"),
		filepath.Join(dir, "shard-000000.tar"),
	}
	if !reflect.DeepEqual(shards, want) {
		t.Fatalf("shards = %v, want %v", shards, want)
	}
}

func TestNextShardPath(t *testing.T) {
	dir := t.TempDir()

	first, err := NextShardPath(dir)
	if err != nil {
		t.Fatalf("NextShardPath: %v", err)
	}
	if first != filepath.Join(dir, "shard-000000.tar") {
		t.Fatalf("first = %s", first)
	}

	mustWrite(t, first)
	mustWrite(t, filepath.Join(dir, "nested", "shard-000001.tar"))

	second, err := NextShardPath(dir)
	if err != nil {
		t.Fatalf("NextShardPath: %v", err)
	}
	if second != filepath.Join(dir, "shard-000001.tar") {
		t.Fatalf("second = %s", second)
	}
}

func TestLoadShardsConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	a := []Problem{{A: 1, B: 2, Sum: 3}, {A: 4, B: 5, Sum: 9}}
	b := []Problem{{A: 50, B: 50, Sum: 100}}
	if err := WriteShard(filepath.Join(dir, ShardName(0)), a); err != nil {
		t.Fatalf("WriteShard: %v", err)
	}
	if err := WriteShard(filepath.Join(dir, ShardName(1)), b); err != nil {
		t.Fatalf("WriteShard: %v", err)
	}

	got, err := LoadShards(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadShards: %v", err)
	}
	want := append(append([]Problem(nil), a...), b...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("LoadShards = %v, want %v", got, want)
	}
}

func TestLoadShardsErrors(t *testing.T) {
	empty := t.TempDir()
	_, err := LoadShards(context.Background(), empty)
	if err == nil {
		t.Fatal("expected error for directory without shards")
	}
	if apperrors.StageOf(err) != apperrors.StageEvaluation {
		t.Fatalf("stage = %q, want evaluation", apperrors.StageOf(err))
	}

	broken := t.TempDir()
	mustWrite(t, filepath.Join(broken, ShardName(0)))
	if _, err := LoadShards(context.Background(), broken); err == nil {
		t.Fatal("expected error for shard without problems")
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
