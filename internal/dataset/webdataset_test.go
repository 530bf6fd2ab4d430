package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestReadShardPairsMembers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	writeMembers(t, path, []member{
		{"n01/000001.jpg", "jpeg"},
		{"n01/000002.cls", "7"},
		{"n01/000001.cls", " 3\n"},
		{"n01/000001.json", "{}"},
		{"n01/000002.png", "png"},
	})

	samples, err := ReadShard(context.Background(), path, 4)
	if err != nil {
		t.Fatalf("ReadShard: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples want 2", len(samples))
	}
	for i, want := range []struct {
		key   string
		label int
		image string
	}{
		{"n01/000001", 3, "jpeg"},
		{"n01/000002", 7, "png"},
	} {
		s := samples[i]
		if s.Key != want.key || s.Label != want.label {
			t.Fatalf("sample %d: %+v", i, s)
		}
		if s.Shard != path {
			t.Fatalf("sample %d should reference the shard, got %+v", i, s)
		}
		data, err := s.Bytes()
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		if string(data) != want.image {
			t.Fatalf("sample %d image=%q want %q", i, data, want.image)
		}
	}
}

func TestReadShardSkipsLargeImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	big := strings.Repeat("x", 3000)
	writeMembers(t, path, []member{
		{"a.jpg", big},
		{"a.cls", "1"},
		{"b.png", "small"},
		{"b.cls", "2"},
	})
	samples, err := ReadShard(context.Background(), path, 0)
	if err != nil {
		t.Fatalf("ReadShard: %v", err)
	}
	if samples[0].Size != int64(len(big)) {
		t.Fatalf("size=%d want %d", samples[0].Size, len(big))
	}
	for i, want := range []string{big, "small"} {
		data, err := samples[i].Bytes()
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		if string(data) != want {
			t.Fatalf("sample %d has %d bytes, want %d", i, len(data), len(want))
		}
	}
}

func TestReadShardRejectsDuplicateMembers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	writeMembers(t, path, []member{{"a.cls", "1"}, {"a.cls", "2"}, {"a.jpg", "x"}})
	if _, err := ReadShard(context.Background(), path, 4); err == nil {
		t.Fatal("expected error for a second label")
	}
	writeMembers(t, path, []member{{"a.jpg", "x"}, {"a.png", "y"}, {"a.cls", "1"}})
	if _, err := ReadShard(context.Background(), path, 4); err == nil {
		t.Fatal("expected error for a second image")
	}
}

func TestReadShardRejectsIncompleteSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	writeMembers(t, path, []member{{"a.jpg", "jpeg"}})
	if _, err := ReadShard(context.Background(), path, 4); err == nil {
		t.Fatal("expected error for image without label")
	}

	writeMembers(t, path, []member{{"a.jpg", "x"}, {"a.cls", "one"}})
	if _, err := ReadShard(context.Background(), path, 4); err == nil {
		t.Fatal("expected error for non-numeric label")
	}
}

func TestReadShardBoundsPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	writeMembers(t, path, []member{{"a.jpg", "a"}, {"b.jpg", "b"}, {"c.jpg", "c"}})
	_, err := ReadShard(context.Background(), path, 2)
	if !errors.Is(err, ErrPendingOverflow) {
		t.Fatalf("err=%v want ErrPendingOverflow", err)
	}
}

func TestReadShardHonorsCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard-000000.tar")
	writeShard(t, path, map[string]filePair{"a": {imageExt: ".jpg", image: []byte("a"), label: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ReadShard(ctx, path, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestSplitMember(t *testing.T) {
	for name, want := range map[string][2]string{
		"abc.jpg":         {"abc", "jpg"},
		"dir/abc.seg.PNG": {"dir/abc", "seg.png"},
		"dir.v1/abc.cls":  {"dir.v1/abc", "cls"},
		"noext":           {"noext", ""},
	} {
		key, ext := splitMember(name)
		if key != want[0] || ext != want[1] {
			t.Errorf("splitMember(%q)=(%q, %q) want %v", name, key, ext, want)
		}
	}
}

type member struct {
	name string
	body string
}

type filePair struct {
	imageExt string
	image    []byte
	label    int
}

func writeShard(t *testing.T, path string, data map[string]filePair) {
	t.Helper()
	var members []member
	for key, pair := range data {
		members = append(members,
			member{key + pair.imageExt, string(pair.image)},
			member{key + ".cls", strconv.Itoa(pair.label)})
	}
	writeMembers(t, path, members)
}

func writeMembers(t *testing.T, path string, members []member) {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Size: int64(len(m.body)), Mode: 0o644, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(m.body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write shard: %v", err)
	}
}
