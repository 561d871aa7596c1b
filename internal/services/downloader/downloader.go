package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/utils/hashutil"
	"github.com/ocr-dimt/ocrdemo/internal/utils/pathutil"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cozy-creator/hf-hub/hub"
	"github.com/vbauerster/mpb/v7"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("artifact not found")

var commitHashPattern = regexp.MustCompile("^[0-9a-f]{40}$")

// Downloader fetches model artifacts into a local cache. Files already in the
// cache are reused without a network round trip.
type Downloader struct {
	cacheDir   string
	hfEndpoint string
	hfToken    string
	s3Config   *config.S3Config

	hubClient      *hub.Client
	httpClient     *http.Client
	s3Client       *s3.Client
	progressOutput io.Writer
	maxElapsed     time.Duration
	logger         *zap.Logger
}

type Option func(*Downloader)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Downloader) {
		d.logger = logger
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = client
	}
}

func WithS3Client(client *s3.Client) Option {
	return func(d *Downloader) {
		d.s3Client = client
	}
}

// WithProgressOutput redirects progress bars; io.Discard silences them.
func WithProgressOutput(w io.Writer) Option {
	return func(d *Downloader) {
		d.progressOutput = w
	}
}

// WithMaxElapsed bounds the total time spent retrying one download.
func WithMaxElapsed(dur time.Duration) Option {
	return func(d *Downloader) {
		d.maxElapsed = dur
	}
}

func New(cfg *config.Config, opts ...Option) *Downloader {
	d := &Downloader{
		cacheDir:   cfg.CacheDir,
		hfEndpoint: strings.TrimSuffix(cfg.HFEndpoint, "/"),
		hfToken:    cfg.HFToken,
		s3Config:   cfg.S3,
		hubClient:  hub.NewClient(strings.TrimSuffix(cfg.HFEndpoint, "/"), "", cfg.CacheDir).WithToken(cfg.HFToken),
		httpClient: &http.Client{
			Timeout: 0, // No total timeout
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: 60 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   60 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       60 * time.Second,
			},
		},
		progressOutput: os.Stderr,
		maxElapsed:     5 * time.Minute,
		logger:         zap.NewNop(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Fetch makes filename from source available locally and returns its path.
// For hf: sources filename is a path inside the repo; for the other source
// types the location already names a single file and filename is ignored.
func (d *Downloader) Fetch(ctx context.Context, source *Source, filename, revision string) (string, error) {
	switch source.Type {
	case SourceTypeHuggingface:
		return d.fetchHuggingFace(ctx, source.Location, filename, revision)
	case SourceTypeDirect:
		return d.fetchDirect(ctx, source.Location)
	case SourceTypeS3:
		return d.fetchS3(ctx, source.Location)
	case SourceTypeFile:
		return d.verifyLocalFile(source.Location)
	default:
		return "", fmt.Errorf("unsupported source type: %s", source.Type)
	}
}

// FetchFromRepo is shorthand for a file inside a Hugging Face repository.
func (d *Downloader) FetchFromRepo(ctx context.Context, repoID, filename, revision string) (string, error) {
	return d.fetchHuggingFace(ctx, repoID, filename, revision)
}

func (d *Downloader) fetchHuggingFace(ctx context.Context, repoID, filename, revision string) (string, error) {
	if revision == "" {
		revision = hub.DefaultRevision
	}

	if cached, ok := d.cachedSnapshot(repoID, filename, revision); ok {
		d.logger.Debug("Using cached file", zap.String("repo_id", repoID), zap.String("file", filename))
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.logger.Info("Downloading from HuggingFace",
		zap.String("repo_id", repoID),
		zap.String("file", filename),
		zap.String("revision", revision),
	)

	// Each call gets its own progress container; the shared client is
	// copied so concurrent fetches do not race on it.
	pctx, cancel := context.WithCancel(ctx)
	progress := mpb.NewWithContext(pctx, mpb.WithOutput(d.progressOutput), mpb.WithWidth(60))
	client := *d.hubClient
	client.Progress = progress

	path, err := client.Download(&hub.DownloadParams{
		Repo:     &hub.Repo{Id: repoID, Type: hub.ModelRepoType},
		FileName: filename,
		Revision: revision,
	})
	cancel()
	progress.Wait()

	if err != nil {
		if isHubNotFound(err) {
			return "", fmt.Errorf("%w: %s/%s: %v", ErrNotFound, repoID, filename, err)
		}
		return "", fmt.Errorf("failed to download %s from %s: %w", filename, repoID, err)
	}

	return path, nil
}

// cachedSnapshot resolves filename in the hub cache through refs/<revision>
// without touching the network.
func (d *Downloader) cachedSnapshot(repoID, filename, revision string) (string, bool) {
	folder := filepath.Join(d.hubClient.CacheDir, repoFolderName(repoID))

	commit := revision
	if !commitHashPattern.MatchString(revision) {
		ref, err := os.ReadFile(filepath.Join(folder, "refs", revision))
		if err != nil {
			return "", false
		}
		commit = strings.TrimSpace(string(ref))
	}

	p := filepath.Join(folder, "snapshots", commit, filepath.FromSlash(filename))
	return p, pathutil.PathExists(p)
}

// isHubNotFound recognises a missing file. hf-hub has no typed errors, so
// the status code is matched in the message.
func isHubNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "status code: 404") || strings.Contains(msg, "bad status: 404")
}

func (d *Downloader) fetchDirect(ctx context.Context, url string) (string, error) {
	destPath := d.directCachePath(url)
	if pathutil.PathExists(destPath) {
		return destPath, nil
	}

	d.logger.Info("Downloading from direct URL", zap.String("url", url))
	if err := d.downloadWithProgress(ctx, url, destPath); err != nil {
		return "", err
	}

	return destPath, nil
}

func (d *Downloader) directCachePath(url string) string {
	urlHash := hashutil.Blake3Hash([]byte(url))[:16]
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	return filepath.Join(d.cacheDir, "direct", urlHash, name)
}

func (d *Downloader) verifyLocalFile(p string) (string, error) {
	expanded, err := pathutil.ExpandPath(p)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, expanded)
		}
		return "", fmt.Errorf("failed to verify local file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("failed to verify local file: %s is a directory", expanded)
	}

	return expanded, nil
}

// resolveURL returns the Hub download URL for one file of a repo. Manifest
// range reads use it directly; whole files go through hf-hub.
func (d *Downloader) resolveURL(repoID, filename, revision string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", d.hfEndpoint, repoID, revision, filename)
}

func (d *Downloader) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if d.hfToken != "" && strings.HasPrefix(url, d.hfEndpoint) {
		req.Header.Set("Authorization", "Bearer "+d.hfToken)
	}

	return req, nil
}
