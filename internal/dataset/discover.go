package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var shardRegexp = regexp.MustCompile(`^shard-[0-9]{6,}\.tar$`)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Index is a labeled list of samples with the class names indexed by label.
type Index struct {
	Classes []string
	Samples []Sample
}

// Len returns the number of samples.
func (x *Index) Len() int {
	return len(x.Samples)
}

// DiscoverImageFolder indexes an image-folder layout: one subdirectory per
// class, classes sorted by name, images beneath each class sorted by path.
func DiscoverImageFolder(root string) (*Index, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("discover image folder: %w", err)
	}
	var classes []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			classes = append(classes, e.Name())
		}
	}
	sort.Strings(classes)
	if len(classes) == 0 {
		return nil, fmt.Errorf("discover image folder: no class directories under %s", root)
	}

	idx := &Index{Classes: classes}
	for label, class := range classes {
		var paths []string
		err := filepath.WalkDir(filepath.Join(root, class), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if imageExts[strings.ToLower(filepath.Ext(d.Name()))] {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover image folder: %w", err)
		}
		sort.Strings(paths)
		for _, p := range paths {
			rel, _ := filepath.Rel(root, p)
			idx.Samples = append(idx.Samples, Sample{Key: rel, Path: p, Label: label})
		}
	}
	if len(idx.Samples) == 0 {
		return nil, fmt.Errorf("discover image folder: no images under %s", root)
	}
	return idx, nil
}

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
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(entries)
	return entries, nil
}
