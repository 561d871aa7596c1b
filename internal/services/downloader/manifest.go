package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ocr-dimt/ocrdemo/internal/safetensors"
	"github.com/ocr-dimt/ocrdemo/internal/utils/pathutil"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// FetchManifest returns the safetensors header of a repo file without
// downloading its tensor data. Headers are cached on disk in msgpack form.
func (d *Downloader) FetchManifest(ctx context.Context, repoID, filename, revision string) (*safetensors.Header, error) {
	if revision == "" {
		revision = "main"
	}

	cachePath := d.manifestCachePath(repoID, filename, revision)
	if h, err := readManifestCache(cachePath); err == nil {
		return h, nil
	}

	// A fully downloaded copy is as good as the remote header.
	if local, ok := d.cachedSnapshot(repoID, filename, revision); ok {
		f, err := os.Open(local)
		if err == nil {
			defer f.Close()
			if h, _, err := safetensors.ReadHeader(f); err == nil {
				return h, nil
			}
		}
	}

	url := d.resolveURL(repoID, filename, revision)
	prefix, err := d.fetchRange(ctx, url, 0, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to read header length of %s: %w", url, err)
	}

	n, err := safetensors.HeaderLength(prefix)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}

	raw, err := d.fetchRange(ctx, url, 8, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", url, err)
	}

	h, err := safetensors.DecodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}

	if err := writeManifestCache(cachePath, h); err != nil {
		d.logger.Warn("failed to cache manifest", zap.String("path", cachePath), zap.Error(err))
	}

	return h, nil
}

// fetchRange reads length bytes starting at offset. Servers that ignore the
// Range header are tolerated by skipping ahead in the full body.
func (d *Downloader) fetchRange(ctx context.Context, url string, offset, length int64) ([]byte, error) {
	req, err := d.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			return nil, fmt.Errorf("failed to skip to offset %d: %w", offset, err)
		}
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	default:
		return nil, fmt.Errorf("range request failed with status %d", resp.StatusCode)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return nil, fmt.Errorf("short range response: %w", err)
	}

	return buf, nil
}

func (d *Downloader) manifestCachePath(repoID, filename, revision string) string {
	name := strings.Join([]string{repoFolderName(repoID), revision, strings.ReplaceAll(filename, "/", "--")}, "--")
	return filepath.Join(d.cacheDir, "manifests", name+".msgpack")
}

func readManifestCache(path string) (*safetensors.Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var h safetensors.Header
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	if len(h.Tensors) == 0 {
		return nil, fmt.Errorf("empty manifest cache %s", path)
	}

	return &h, nil
}

func writeManifestCache(path string, h *safetensors.Header) error {
	data, err := msgpack.Marshal(h)
	if err != nil {
		return err
	}

	if err := pathutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
