package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func collect(t *testing.T, path string, pendingCap int) ([]Problem, error) {
	t.Helper()
	stream, errCh := StreamShard(context.Background(), path, pendingCap)
	var problems []Problem
	for p := range stream {
		problems = append(problems, p)
	}
	return problems, <-errCh
}

func TestShardRoundTrip(t *testing.T) {
	want := []Problem{{A: 12, B: 7, Sum: 19}, {A: 0, B: 0, Sum: 0}, {A: 99, B: 99, Sum: 198}}
	path := filepath.Join(t.TempDir(), ShardName(0))
	if err := WriteShard(path, want); err != nil {
		t.Fatalf("WriteShard: %v", err)
	}

	got, err := collect(t, path, 4)
	if err != nil {
		t.Fatalf("StreamShard error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip = %v, want %v", got, want)
	}
}

func buildShard(t *testing.T, entries map[string]string) string {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for name, body := range entries {
		if err := writeEntry(tw, name, []byte(body)); err != nil {
			t.Fatalf("writeEntry: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	path := filepath.Join(t.TempDir(), ShardName(0))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
	return path
}

func TestStreamShardRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
	}{
		{"wrong sum", map[string]string{"a.txt": "12+7", "a.cls": "20"}},
		{"missing operator", map[string]string{"a.txt": "127", "a.cls": "127"}},
		{"bad sum", map[string]string{"a.txt": "1+1", "a.cls": "two"}},
		{"incomplete pair", map[string]string{"a.txt": "1+1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := collect(t, buildShard(t, tt.entries), 4); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStreamShardIgnoresUnknownEntries(t *testing.T) {
	path := buildShard(t, map[string]string{"a.txt": "3+4", "a.cls": "7", "README.md": "notes"})
	got, err := collect(t, path, 4)
	if err != nil {
		t.Fatalf("StreamShard error: %v", err)
	}
	if len(got) != 1 || got[0] != (Problem{A: 3, B: 4, Sum: 7}) {
		t.Fatalf("got %v", got)
	}
}

func TestStreamShardPendingOverflow(t *testing.T) {
	path := buildShard(t, map[string]string{"a.txt": "1+1", "b.txt": "2+2", "c.txt": "3+3"})
	_, err := collect(t, path, 1)
	if !errors.Is(err, ErrPendingOverflow) {
		t.Fatalf("expected ErrPendingOverflow, got %v", err)
	}
}

func TestStreamShardMissingFile(t *testing.T) {
	if _, err := collect(t, filepath.Join(t.TempDir(), "missing.tar"), 0); err == nil {
		t.Fatal("expected error for missing shard")
	}
}
