package repository

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/klauspost/compress/zstd"

	"judgebox/internal/common/storage"
	appErr "judgebox/pkg/errors"
)

type fakeStorage struct {
	objects map[string][]byte
	etags   map[string]string
	gets    int
}

func (f *fakeStorage) GetObject(_ context.Context, _, key string) (io.ReadCloser, error) {
	f.gets++
	data, ok := f.objects[key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) StatObject(_ context.Context, _, key string) (storage.ObjectStat, error) {
	data, ok := f.objects[key]
	if !ok {
		return storage.ObjectStat{}, io.ErrUnexpectedEOF
	}
	return storage.ObjectStat{SizeBytes: int64(len(data)), ETag: f.etags[key]}, nil
}

func buildPack(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zstd: %v", err)
	}
	return buf.Bytes()
}

func TestDataPackLoaderPairsFiles(t *testing.T) {
	pack := buildPack(t, map[string]string{
		"sample1.in":  "1 2\n",
		"sample1.out": "3\n",
		"big.in":      "100 200\n",
		"big.out":     "300\n",
	})
	store := &fakeStorage{objects: map[string][]byte{"p/1.tar.zst": pack}, etags: map[string]string{"p/1.tar.zst": "v1"}}
	sum := sha256.Sum256(pack)
	loader := NewDataPackLoader(store, "packs", 0, 0)

	cases, err := loader.Load(context.Background(), "p/1.tar.zst", hex.EncodeToString(sum[:]))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cases) != 2 || cases[0].ID != "big" || cases[1].ID != "sample1" {
		t.Fatalf("unexpected cases: %+v", cases)
	}
	if cases[0].Visible || !cases[1].Visible || cases[1].Expected != "3\n" {
		t.Fatalf("unexpected case content: %+v", cases)
	}

	if _, err := loader.Load(context.Background(), "p/1.tar.zst", ""); err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	if store.gets != 1 {
		t.Fatalf("expected one download, got %d", store.gets)
	}

	store.etags["p/1.tar.zst"] = "v2"
	if _, err := loader.Load(context.Background(), "p/1.tar.zst", ""); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if store.gets != 2 {
		t.Fatalf("expected etag change to refetch, got %d downloads", store.gets)
	}
}

func TestDataPackLoaderManifest(t *testing.T) {
	pack := buildPack(t, map[string]string{
		"manifest.json": `{"cases":[{"id":"b","input":"x/2.in","output":"x/2.out"},{"id":"a","input":"x/1.in","output":"x/1.out","visible":true}]}`,
		"x/1.in":        "a",
		"x/1.out":       "A",
		"x/2.in":        "b",
		"x/2.out":       "B",
	})
	store := &fakeStorage{objects: map[string][]byte{"k": pack}, etags: map[string]string{}}
	cases, err := NewDataPackLoader(store, "packs", 0, 0).Load(context.Background(), "k", "")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cases) != 2 || cases[0].ID != "b" || cases[1].ID != "a" || !cases[1].Visible || cases[0].Expected != "B" {
		t.Fatalf("manifest order or content not kept: %+v", cases)
	}
}

func TestDataPackLoaderErrors(t *testing.T) {
	unpaired := buildPack(t, map[string]string{"1.in": "x"})
	store := &fakeStorage{
		objects: map[string][]byte{"unpaired": unpaired, "garbage": []byte("not zstd")},
		etags:   map[string]string{},
	}
	loader := NewDataPackLoader(store, "packs", 0, 0)
	ctx := context.Background()

	if _, err := loader.Load(ctx, "unpaired", ""); appErr.GetCode(err) != appErr.TestCaseInvalid {
		t.Fatalf("expected TestCaseInvalid, got %v", err)
	}
	if _, err := loader.Load(ctx, "unpaired", "deadbeef"); appErr.GetCode(err) != appErr.DataPackError {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
	if _, err := loader.Load(ctx, "garbage", ""); appErr.GetCode(err) != appErr.DataPackError {
		t.Fatalf("expected DataPackError for garbage, got %v", err)
	}
	if _, err := loader.Load(ctx, "missing", ""); appErr.GetCode(err) != appErr.DataPackError {
		t.Fatalf("expected DataPackError for missing object, got %v", err)
	}

	small := NewDataPackLoader(store, "packs", 4, 0)
	if _, err := small.Load(ctx, "unpaired", ""); appErr.GetCode(err) != appErr.DataPackError {
		t.Fatalf("expected size limit error, got %v", err)
	}
}
