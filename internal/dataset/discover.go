package dataset

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"golang.org/x/xerrors"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

// Split names under a dataset root.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// DiscoverShards returns absolute paths to shard TAR files beneath root.
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
		return nil, xerrors.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverSplits scans root/<split> for every split. A missing split
// directory yields no entry rather than an error.
func DiscoverSplits(root string, splits ...string) (map[string][]string, error) {
	result := make(map[string][]string, len(splits))
	for _, split := range splits {
		dir := filepath.Join(root, split)
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		shards, err := DiscoverShards(dir)
		if err != nil {
			return nil, err
		}
		result[split] = shards
	}
	return result, nil
}
