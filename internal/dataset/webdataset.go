package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Sample is one image of a shard paired with its class label.
type Sample struct {
	Key   string
	Image []byte
	Label int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

type memberKind int

const (
	memberOther memberKind = iota
	memberImage
	memberLabel
)

// classifyMember splits a tar member name into its sample key and kind.
func classifyMember(name string) (string, memberKind) {
	base := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(base))
	key := strings.TrimSuffix(base, filepath.Ext(base))
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return key, memberImage
	case ".cls":
		return key, memberLabel
	default:
		return key, memberOther
	}
}

// pairing holds the half-seen samples of one shard.
type pairing struct {
	limit   int
	pending map[string]*partial
}

type partial struct {
	image    []byte
	hasImage bool
	label    int
	hasLabel bool
}

func newPairing(limit int) *pairing {
	if limit <= 0 {
		limit = defaultPendingCap
	}
	return &pairing{limit: limit, pending: make(map[string]*partial)}
}

func (p *pairing) get(key string) (*partial, error) {
	part := p.pending[key]
	if part == nil {
		if len(p.pending) >= p.limit {
			return nil, ErrPendingOverflow
		}
		part = &partial{}
		p.pending[key] = part
	}
	return part, nil
}

// complete removes and returns the sample for key once both halves arrived.
func (p *pairing) complete(key string) (Sample, bool) {
	part := p.pending[key]
	if part == nil || !part.hasImage || !part.hasLabel {
		return Sample{}, false
	}
	delete(p.pending, key)
	return Sample{Key: key, Image: part.image, Label: part.label}, true
}

// walkShard pairs the image and label members of the shard at path and calls
// emit for every completed sample in archive order. With readImages unset the
// image bodies are skipped and emitted samples carry no Image.
func walkShard(ctx context.Context, path string, pendingCap int, readImages bool, emit func(Sample) error) error {
	shard := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("open shard: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pairs := newPairing(pendingCap)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return xerrors.Errorf("%s: read tar: %w", shard, err)
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		key, kind := classifyMember(hdr.Name)
		if kind == memberOther {
			continue
		}
		part, err := pairs.get(key)
		if err != nil {
			return err
		}

		switch kind {
		case memberImage:
			// Empty images never pair, in either mode.
			part.hasImage = hdr.Size > 0
			if readImages {
				if part.image, err = io.ReadAll(tr); err != nil {
					return xerrors.Errorf("%s: read image %s: %w", shard, hdr.Name, err)
				}
			}
		case memberLabel:
			payload, err := io.ReadAll(tr)
			if err != nil {
				return xerrors.Errorf("%s: read label %s: %w", shard, hdr.Name, err)
			}
			label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				return xerrors.Errorf("%s: parse label %s: %w", shard, hdr.Name, err)
			}
			part.label, part.hasLabel = label, true
		}

		if sample, ok := pairs.complete(key); ok {
			if err := emit(sample); err != nil {
				return err
			}
		}
	}

	if n := len(pairs.pending); n > 0 {
		return xerrors.Errorf("%s: %d samples incomplete", shard, n)
	}
	return nil
}

// StreamShard streams paired samples from the shard at path. The error channel
// carries at most one error and is closed after the sample channel.
func StreamShard(ctx context.Context, path string, pendingCap int) (<-chan Sample, <-chan error) {
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		err := walkShard(ctx, path, pendingCap, true, func(s Sample) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- s:
				return nil
			}
		})
		close(out)
		if err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// CountSamples returns the number of paired samples held by shards. It reads
// tar headers and labels only.
func CountSamples(ctx context.Context, shards []string, pendingCap int) (int, error) {
	total := 0
	for _, shard := range shards {
		err := walkShard(ctx, shard, pendingCap, false, func(Sample) error {
			total++
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
