package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// A problem shard is a tar archive holding, per problem, a "<key>.txt" entry
// with "A+B" and a "<key>.cls" entry with the decimal sum.

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("shard: pending pair buffer exceeded")

const defaultPendingCap = 1024

// WriteShard writes problems to a new shard at path.
func WriteShard(path string, problems []Problem) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create shard: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	tw := tar.NewWriter(w)
	for i, p := range problems {
		key := fmt.Sprintf("%06d", i)
		if err := writeEntry(tw, key+".txt", []byte(p.String())); err != nil {
			return err
		}
		if err := writeEntry(tw, key+".cls", []byte(strconv.Itoa(p.Sum))); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush shard: %w", err)
	}
	return f.Close()
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// StreamShard streams paired problems from the shard at path.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Problem, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Problem)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- fmt.Errorf("open shard: %w", err)
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- fmt.Errorf("read tar: %w", err)
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, ext)

			switch ext {
			case ".txt":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read problem %s: %w", name, err)
					return
				}
				a, b, err := parseOperands(strings.TrimSpace(string(payload)))
				if err != nil {
					errCh <- fmt.Errorf("parse problem %s: %w", name, err)
					return
				}
				part := pending[key]
				if part == nil {
					part = &partial{}
					pending[key] = part
				}
				part.operands = &[2]int{a, b}
			case ".cls":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- fmt.Errorf("read sum %s: %w", name, err)
					return
				}
				sum, err := strconv.Atoi(strings.TrimSpace(string(payload)))
				if err != nil {
					errCh <- fmt.Errorf("parse sum %s: %w", name, err)
					return
				}
				part := pending[key]
				if part == nil {
					part = &partial{}
					pending[key] = part
				}
				part.sum = &sum
			default:
				continue
			}

			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}

			if part := pending[key]; part != nil && part.ready() {
				p := Problem{A: part.operands[0], B: part.operands[1], Sum: *part.sum}
				delete(pending, key)
				if p.A+p.B != p.Sum {
					errCh <- fmt.Errorf("problem %s: %s != %d", key, p, p.Sum)
					return
				}

				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- p:
				}
			}
		}

		if len(pending) > 0 {
			errCh <- fmt.Errorf("%d problems incomplete", len(pending))
		}
	}()

	return out, errCh
}

func parseOperands(s string) (int, int, error) {
	left, right, ok := strings.Cut(s, "+")
	if !ok {
		return 0, 0, fmt.Errorf("missing '+' in %q", s)
	}
	a, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(strings.TrimSpace(right))
	if err != nil {
		return 0, 0, err
	}
	if a < 0 || b < 0 {
		return 0, 0, fmt.Errorf("negative operand in %q", s)
	}
	return a, b, nil
}

type partial struct {
	operands *[2]int
	sum      *int
}

func (p *partial) ready() bool {
	return p.operands != nil && p.sum != nil
}
