package repository

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v3"

	"judgebox/internal/common/storage"
	"judgebox/internal/problem/model"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	manifestFileName    = "manifest.json"
	samplePrefix        = "sample"
	inputExt            = ".in"
	expectedExt         = ".out"
	defaultMaxPackBytes = 64 << 20
	defaultDataPackTTL  = 10 * time.Minute
)

// packManifest lists cases explicitly. Without it, cases are paired by name
// (NAME.in / NAME.out) and those named sample* are visible.
type packManifest struct {
	Cases []struct {
		ID      string `json:"id"`
		Input   string `json:"input"`
		Output  string `json:"output"`
		Visible bool   `json:"visible"`
	} `json:"cases"`
}

type packEntry struct {
	etag      string
	cases     []model.TestCase
	expiresAt time.Time
}

// DataPackLoader fetches and unpacks tar.zst test data from object storage.
type DataPackLoader struct {
	storage  storage.ObjectStorage
	bucket   string
	maxBytes int64
	ttl      time.Duration
	entries  *xsync.MapOf[string, packEntry]
	now      func() time.Time
}

func NewDataPackLoader(storageClient storage.ObjectStorage, bucket string, maxBytes int64, ttl time.Duration) *DataPackLoader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxPackBytes
	}
	if ttl <= 0 {
		ttl = defaultDataPackTTL
	}
	return &DataPackLoader{
		storage:  storageClient,
		bucket:   bucket,
		maxBytes: maxBytes,
		ttl:      ttl,
		entries:  xsync.NewMapOf[string, packEntry](),
		now:      time.Now,
	}
}

// Load returns the cases of the pack at key. hash, when set, must match the archive's sha256.
func (l *DataPackLoader) Load(ctx context.Context, key, hash string) ([]model.TestCase, error) {
	if key == "" {
		return nil, appErr.ValidationError("data_pack_key", "required")
	}
	stat, err := l.storage.StatObject(ctx, l.bucket, key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DataPackError, "stat data pack failed: %v", err)
	}
	if entry, ok := l.entries.Load(key); ok && entry.etag == stat.ETag && l.now().Before(entry.expiresAt) {
		return entry.cases, nil
	}
	if stat.SizeBytes > l.maxBytes {
		return nil, appErr.Newf(appErr.DataPackError, "data pack %s is %d bytes, limit %d", key, stat.SizeBytes, l.maxBytes)
	}

	reader, err := l.storage.GetObject(ctx, l.bucket, key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DataPackError, "download data pack failed: %v", err)
	}
	defer reader.Close()

	archive, err := io.ReadAll(io.LimitReader(reader, l.maxBytes+1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DataPackError, "read data pack failed: %v", err)
	}
	if int64(len(archive)) > l.maxBytes {
		return nil, appErr.New(appErr.DataPackError).WithMessage("data pack exceeds size limit")
	}
	if hash != "" {
		sum := sha256.Sum256(archive)
		if actual := hex.EncodeToString(sum[:]); !strings.EqualFold(actual, hash) {
			return nil, appErr.New(appErr.DataPackError).WithMessage("data pack hash mismatch")
		}
	}
	files, err := readTarZst(bytes.NewReader(archive), l.maxBytes)
	if err != nil {
		return nil, err
	}
	cases, err := casesFromFiles(files)
	if err != nil {
		return nil, err
	}
	l.entries.Store(key, packEntry{etag: stat.ETag, cases: cases, expiresAt: l.now().Add(l.ttl)})
	logger.Debug(ctx, "data pack loaded", zap.String("key", key), zap.Int("cases", len(cases)))
	return cases, nil
}

// Invalidate drops a cached pack.
func (l *DataPackLoader) Invalidate(key string) {
	l.entries.Delete(key)
}

func readTarZst(r io.Reader, maxBytes int64) (map[string]string, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DataPackError, "create zstd reader failed: %v", err)
	}
	defer zr.Close()

	files := make(map[string]string)
	var total int64
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DataPackError, "read tar entry failed: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if strings.HasPrefix(name, "..") || path.IsAbs(name) {
			return nil, appErr.New(appErr.DataPackError).WithMessage("invalid tar entry path")
		}
		total += hdr.Size
		if total > maxBytes {
			return nil, appErr.New(appErr.DataPackError).WithMessage("data pack exceeds size limit")
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DataPackError, "read %s failed: %v", name, err)
		}
		files[name] = string(data)
	}
	return files, nil
}

func casesFromFiles(files map[string]string) ([]model.TestCase, error) {
	if raw, ok := files[manifestFileName]; ok {
		var manifest packManifest
		if err := json.Unmarshal([]byte(raw), &manifest); err != nil {
			return nil, appErr.Wrapf(err, appErr.DataPackError, "decode manifest failed: %v", err)
		}
		cases := make([]model.TestCase, 0, len(manifest.Cases))
		for _, mc := range manifest.Cases {
			input, okIn := files[path.Clean(mc.Input)]
			expected, okOut := files[path.Clean(mc.Output)]
			if !okIn || !okOut {
				return nil, appErr.Newf(appErr.TestCaseInvalid, "case %s references missing files", mc.ID)
			}
			cases = append(cases, model.TestCase{ID: mc.ID, Input: input, Expected: expected, Visible: mc.Visible})
		}
		return cases, nil
	}

	inputs := mapset.NewThreadUnsafeSet[string]()
	outputs := mapset.NewThreadUnsafeSet[string]()
	for name := range files {
		switch path.Ext(name) {
		case inputExt:
			inputs.Add(strings.TrimSuffix(name, inputExt))
		case expectedExt:
			outputs.Add(strings.TrimSuffix(name, expectedExt))
		}
	}
	if unpaired := inputs.SymmetricDifference(outputs); unpaired.Cardinality() > 0 {
		names := unpaired.ToSlice()
		sort.Strings(names)
		return nil, appErr.Newf(appErr.TestCaseInvalid, "unpaired test files: %s", strings.Join(names, ", "))
	}
	names := inputs.ToSlice()
	sort.Strings(names)
	cases := make([]model.TestCase, 0, len(names))
	for _, name := range names {
		base := path.Base(name)
		cases = append(cases, model.TestCase{
			ID:       name,
			Input:    files[name+inputExt],
			Expected: files[name+expectedExt],
			Visible:  strings.HasPrefix(base, samplePrefix),
		})
	}
	return cases, nil
}
