package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestStreamShardPairsEntries(t *testing.T) {
	buf := buildShard(map[string]filePair{
		"000001": {imageExt: ".jpg", image: []byte("jpeg"), label: 3},
		"000002": {imageExt: ".png", image: []byte("png"), label: 7},
	})

	dir := t.TempDir()
	shard := filepath.Join(dir, "shard-000000.tar")
	if err := os.WriteFile(shard, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	ctx := context.Background()
	samplesCh, errCh := StreamShard(ctx, shard, 4)

	var samples []Sample
	for samplesCh != nil || errCh != nil {
		select {
		case sample, ok := <-samplesCh:
			if !ok {
				samplesCh = nil
				continue
			}
			samples = append(samples, sample)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				t.Fatalf("StreamShard returned error: %v", err)
			}
			errCh = nil
		}
	}

	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
}

func buildShard(data map[string]filePair) *bytes.Buffer {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for key, pair := range data {
		addTarEntry(tw, key+pair.imageExt, pair.image)
		addTarEntry(tw, key+".cls", []byte(strconv.Itoa(pair.label)))
	}
	tw.Close()
	return buf
}

type filePair struct {
	imageExt string
	image    []byte
	label    int
}

func addTarEntry(tw *tar.Writer, name string, data []byte) {
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		panic(err)
	}
	if _, err := tw.Write(data); err != nil {
		panic(err)
	}
}

func TestCountSamples(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "shard-000000.tar")
	second := filepath.Join(dir, "shard-000001.tar")
	mustShard(t, first, map[string]int{"a": 0, "b": 1})
	mustShard(t, second, map[string]int{"c": 1})

	n, err := CountSamples(context.Background(), []string{first, second}, 0)
	if err != nil {
		t.Fatalf("CountSamples: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 samples, got %d", n)
	}

	if _, err := CountSamples(context.Background(), []string{filepath.Join(dir, "missing.tar")}, 0); err == nil {
		t.Fatal("expected error for missing shard")
	}
}

func TestWalkShardSkipsImageBodiesWhenCounting(t *testing.T) {
	shard := filepath.Join(t.TempDir(), "shard-000000.tar")
	mustShard(t, shard, map[string]int{"a": 0, "b": 1})

	var got []Sample
	err := walkShard(context.Background(), shard, 0, false, func(s Sample) error {
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("walkShard: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	for _, s := range got {
		if s.Image != nil {
			t.Fatalf("sample %s carries %d image bytes", s.Key, len(s.Image))
		}
	}
	if got[0].Key != "a" || got[0].Label != 0 || got[1].Key != "b" || got[1].Label != 1 {
		t.Fatalf("unexpected samples: %+v", got)
	}
}

func TestCountAndStreamAgreeOnBrokenShards(t *testing.T) {
	dir := t.TempDir()

	orphan := filepath.Join(dir, "orphan.tar")
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(tw, "a.jpg", []byte("a"))
	addTarEntry(tw, "a.cls", []byte("0"))
	addTarEntry(tw, "b.jpg", []byte("b"))
	tw.Close()
	if err := os.WriteFile(orphan, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	empty := filepath.Join(dir, "empty-image.tar")
	writeShard(t, empty, map[string]int{"c": 1}, func(key string) (string, []byte) {
		return key + ".png", nil
	})

	wide := filepath.Join(dir, "wide.tar")
	buf = &bytes.Buffer{}
	tw = tar.NewWriter(buf)
	for _, key := range []string{"a", "b", "c"} {
		addTarEntry(tw, key+".jpg", []byte(key))
	}
	for _, key := range []string{"a", "b", "c"} {
		addTarEntry(tw, key+".cls", []byte("1"))
	}
	tw.Close()
	if err := os.WriteFile(wide, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	cases := []struct {
		name       string
		shard      string
		pendingCap int
		want       string
	}{
		{"unpaired image", orphan, 0, "1 samples incomplete"},
		{"empty image", empty, 0, "1 samples incomplete"},
		{"pending overflow", wide, 2, ErrPendingOverflow.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CountSamples(context.Background(), []string{tc.shard}, tc.pendingCap)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("CountSamples error = %v, want %q", err, tc.want)
			}

			samples, errCh := StreamShard(context.Background(), tc.shard, tc.pendingCap)
			for range samples {
			}
			if err := <-errCh; err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("StreamShard error = %v, want %q", err, tc.want)
			}
		})
	}

	if n, err := CountSamples(context.Background(), []string{wide}, 3); err != nil || n != 3 {
		t.Fatalf("CountSamples with room = %d, %v", n, err)
	}
}
