package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/utils/pathutil"

	"github.com/cenkalti/backoff/v4"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"go.uber.org/zap"
)

func (d *Downloader) downloadWithProgress(ctx context.Context, url, destPath string) error {
	if err := pathutil.EnsureDir(filepath.Dir(destPath)); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpPath := destPath + ".tmp"

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = d.maxElapsed
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second

	return backoff.Retry(func() error {
		err := d.downloadWithResume(ctx, url, destPath, tmpPath)
		if err != nil {
			d.logger.Warn("download attempt failed", zap.String("url", url), zap.Error(err))
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func (d *Downloader) downloadWithResume(ctx context.Context, url, destPath, tmpPath string) error {
	// check for partial download
	var initialSize int64 = 0
	if info, err := os.Stat(tmpPath); err == nil {
		initialSize = info.Size()
	}

	req, err := d.newRequest(ctx, url)
	if err != nil {
		return backoff.Permanent(err)
	}
	if initialSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", initialSize))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var totalSize int64
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, url))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("access denied (status %d): %s", resp.StatusCode, url))
	case initialSize > 0 && resp.StatusCode == http.StatusPartialContent:
		totalSize = initialSize + resp.ContentLength
	case initialSize > 0 && resp.StatusCode == http.StatusOK:
		// server does not support partial content (i.e. resume)
		d.logger.Warn("Server doesn't support resume, starting download from beginning")
		initialSize = 0
		totalSize = resp.ContentLength
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		os.Remove(tmpPath)
		return fmt.Errorf("resume rejected, discarded partial file")
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	default:
		totalSize = resp.ContentLength
	}

	// open file in appropriate mode
	flag := os.O_CREATE | os.O_WRONLY
	if initialSize > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}

	f, err := os.OpenFile(tmpPath, flag, 0644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to open file: %w", err))
	}
	defer f.Close()

	progress := mpb.NewWithContext(ctx,
		mpb.WithOutput(d.progressOutput),
		mpb.WithWidth(60),
		mpb.WithRefreshRate(180*time.Millisecond),
	)

	bar := progress.AddBar(totalSize,
		mpb.PrependDecorators(
			decor.Name(filepath.Base(destPath), decor.WC{W: 40, C: decor.DidentRight}),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.EwmaETA(decor.ET_STYLE_GO, 90),
			decor.Name(" ] "),
			decor.EwmaSpeed(decor.UnitKiB, "% .2f", 60),
		),
	)

	if initialSize > 0 {
		bar.SetCurrent(initialSize)
	}

	reader := bar.ProxyReader(resp.Body)
	defer reader.Close()

	written, copyErr := io.Copy(f, reader)
	downloadedSize := initialSize + written

	if copyErr != nil {
		bar.Abort(false)
		progress.Wait()
		return fmt.Errorf("read failed: %w", copyErr)
	}

	bar.SetTotal(downloadedSize, true)
	progress.Wait()

	// verify size
	if totalSize > 0 && downloadedSize != totalSize {
		return fmt.Errorf("download size mismatch: expected %d, got %d", totalSize, downloadedSize)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to flush file: %w", err)
	}

	// move file to final destination
	if err := os.Rename(tmpPath, destPath); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to move file: %w", err))
	}

	return nil
}
