package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
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
	if len(shards) != len(want) {
		t.Fatalf("expected %d shards, got %d", len(want), len(shards))
	}
	for i, shard := range want {
		if shards[i] != shard {
			t.Fatalf("shard[%d]=%s want %s", i, shards[i], shard)
		}
	}
}

func TestDiscoverImageFolderLabelsSortedClasses(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "n02", "b.png"), 4, 4, color.RGBA{R: 1, A: 255})
	writePNG(t, filepath.Join(dir, "n02", "a.png"), 4, 4, color.RGBA{R: 2, A: 255})
	writePNG(t, filepath.Join(dir, "n01", "sub", "c.png"), 4, 4, color.RGBA{R: 3, A: 255})
	mustWrite(t, filepath.Join(dir, "n01", "notes.txt"))
	mustWrite(t, filepath.Join(dir, "README"))

	idx, err := DiscoverImageFolder(dir)
	if err != nil {
		t.Fatalf("DiscoverImageFolder: %v", err)
	}
	if len(idx.Classes) != 2 || idx.Classes[0] != "n01" || idx.Classes[1] != "n02" {
		t.Fatalf("classes=%v", idx.Classes)
	}
	wantKeys := []string{
		filepath.Join("n01", "sub", "c.png"),
		filepath.Join("n02", "a.png"),
		filepath.Join("n02", "b.png"),
	}
	wantLabels := []int{0, 1, 1}
	if idx.Len() != len(wantKeys) {
		t.Fatalf("len=%d want %d", idx.Len(), len(wantKeys))
	}
	for i, s := range idx.Samples {
		if s.Key != wantKeys[i] || s.Label != wantLabels[i] {
			t.Fatalf("sample[%d]=%s/%d want %s/%d", i, s.Key, s.Label, wantKeys[i], wantLabels[i])
		}
	}
}

func TestDiscoverImageFolderEmpty(t *testing.T) {
	dir := t.TempDir()
	if _, err := DiscoverImageFolder(dir); err == nil {
		t.Fatal("expected error for folder without classes")
	}
	if err := os.Mkdir(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := DiscoverImageFolder(dir); err == nil {
		t.Fatal("expected error for classes without images")
	}
	if _, err := DiscoverImageFolder(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestDiscoverShardsGrowth(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "shard-000000.tar"))

	first, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("first discover error: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 shard, got %d", len(first))
	}

	mustWrite(t, filepath.Join(dir, "shard-000001.tar"))

	second, err := DiscoverShards(dir)
	if err != nil {
		t.Fatalf("second discover error: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(second))
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

func writePNG(t *testing.T, path string, w, h int, c color.RGBA) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, solid(w, h, c)); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
