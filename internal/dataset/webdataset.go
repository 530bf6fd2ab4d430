package dataset

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
)

// Sample is one labeled image. Its encoded bytes are read on demand, either
// from Size bytes at Offset inside the tar file Shard or from the file at
// Path.
type Sample struct {
	Key   string
	Path  string
	Label int

	Shard  string
	Offset int64
	Size   int64
}

// Bytes returns the encoded image.
func (s Sample) Bytes() ([]byte, error) {
	switch {
	case s.Shard != "":
		f, err := os.Open(s.Shard)
		if err != nil {
			return nil, fmt.Errorf("read sample %s: %w", s.Key, err)
		}
		defer f.Close()
		data := make([]byte, s.Size)
		if _, err := io.ReadFull(io.NewSectionReader(f, s.Offset, s.Size), data); err != nil {
			return nil, fmt.Errorf("read sample %s from %s: %w", s.Key, s.Shard, err)
		}
		return data, nil
	default:
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("read sample %s: %w", s.Key, err)
		}
		return data, nil
	}
}

// ErrPendingOverflow is returned when more than the allowed number of keys
// are waiting for their image or label.
var ErrPendingOverflow = errors.New("webdataset: too many unpaired samples")

const defaultPendingCap = 1024

// ReadShard indexes every sample in a WebDataset tar shard. Members sharing
// a key (the member path up to the first dot of its base name) are paired:
// one image (.jpg, .jpeg, .png or .webp) and one .cls label. Image bytes are
// skipped, not read; the returned samples record where to find them.
// Samples are returned in the order their pairs complete.
func ReadShard(ctx context.Context, shardPath string, pendingCap int) ([]Sample, error) {
	f, err := os.Open(shardPath)
	if err != nil {
		return nil, fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	p := newPairer(shardPath, pendingCap)
	// The tar reader reads headers block by block and seeks over unread
	// data, so the file offset after Next is where the member data starts.
	tr := tar.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: read tar: %w", shardPath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		offset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", shardPath, err)
		}
		if err := p.add(hdr.Name, offset, hdr.Size, tr); err != nil {
			return nil, fmt.Errorf("%s: %w", shardPath, err)
		}
	}
	if n := len(p.pending); n > 0 {
		return nil, fmt.Errorf("%s: %d samples missing an image or label", shardPath, n)
	}
	return p.done, nil
}

// splitMember splits a tar member name into its sample key and lowercased
// extension, e.g. "n01/abc.seg.jpg" -> ("n01/abc", "seg.jpg").
func splitMember(name string) (key, ext string) {
	dir, base := path.Split(name)
	dot := strings.IndexByte(base, '.')
	if dot < 0 {
		return name, ""
	}
	return dir + base[:dot], strings.ToLower(base[dot+1:])
}

type pairer struct {
	shard   string
	limit   int
	pending map[string]*partial
	done    []Sample
}

type partial struct {
	hasImage bool
	offset   int64
	size     int64

	hasLabel bool
	label    int
}

func newPairer(shard string, limit int) *pairer {
	if limit <= 0 {
		limit = defaultPendingCap
	}
	return &pairer{shard: shard, limit: limit, pending: map[string]*partial{}}
}

// add records the member name whose data starts at offset. Label members
// are read from r; image members are left unread.
func (p *pairer) add(name string, offset, size int64, r io.Reader) error {
	key, ext := splitMember(name)
	isImage := imageExts["."+ext]
	if !isImage && ext != "cls" {
		return nil
	}

	part := p.pending[key]
	if part == nil {
		if len(p.pending) >= p.limit {
			return ErrPendingOverflow
		}
		part = &partial{}
		p.pending[key] = part
	}
	if isImage {
		if part.hasImage {
			return fmt.Errorf("sample %s has more than one image", key)
		}
		part.hasImage, part.offset, part.size = true, offset, size
	} else {
		if part.hasLabel {
			return fmt.Errorf("sample %s has more than one label", key)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		label, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("parse label %s: %w", name, err)
		}
		part.hasLabel, part.label = true, label
	}

	if part.hasImage && part.hasLabel {
		delete(p.pending, key)
		p.done = append(p.done, Sample{
			Key:    key,
			Label:  part.label,
			Shard:  p.shard,
			Offset: part.offset,
			Size:   part.size,
		})
	}
	return nil
}
