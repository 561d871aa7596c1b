package modelloader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/safetensors"
	"github.com/ocr-dimt/ocrdemo/internal/services/downloader"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

const (
	configFile          = "config.json"
	tokenizerFile       = "tokenizer.json"
	tokenizerConfigFile = "tokenizer_config.json"
)

// Fetcher is the part of the downloader the loader needs.
type Fetcher interface {
	Fetch(ctx context.Context, source *downloader.Source, filename, revision string) (string, error)
	FetchFromRepo(ctx context.Context, repoID, filename, revision string) (string, error)
	FetchManifest(ctx context.Context, repoID, filename, revision string) (*safetensors.Header, error)
}

// Artifacts are the local results of every startup fetch.
type Artifacts struct {
	CheckpointPath    string
	EncoderConfig     string
	GeneratorConfig   string
	Tokenizer         string
	TokenizerConfig   string
	EncoderManifest   *safetensors.Header
	GeneratorManifest *safetensors.Header
}

type fetchTask struct {
	name string
	run  func(ctx context.Context) error
	// optional tasks tolerate a missing file
	optional bool
}

// fetchArtifacts runs every fetch on a bounded worker pool and joins the
// failures.
func fetchArtifacts(ctx context.Context, cfg *config.Config, f Fetcher, logger *zap.Logger) (*Artifacts, error) {
	source, err := downloader.ParseSource(cfg.Checkpoint.Source)
	if err != nil {
		return nil, err
	}

	a := &Artifacts{}
	enc, gen := cfg.Encoder, cfg.Generator

	tasks := []fetchTask{
		{name: "checkpoint", run: func(ctx context.Context) (err error) {
			a.CheckpointPath, err = f.Fetch(ctx, source, cfg.Checkpoint.Filename, cfg.Checkpoint.Revision)
			return err
		}},
		{name: "encoder config", run: func(ctx context.Context) (err error) {
			a.EncoderConfig, err = f.FetchFromRepo(ctx, enc.Repo, configFile, enc.Revision)
			return err
		}},
		{name: "generator config", run: func(ctx context.Context) (err error) {
			a.GeneratorConfig, err = f.FetchFromRepo(ctx, gen.Repo, configFile, gen.Revision)
			return err
		}},
		{name: "tokenizer", optional: true, run: func(ctx context.Context) (err error) {
			a.Tokenizer, err = f.FetchFromRepo(ctx, gen.Repo, tokenizerFile, gen.Revision)
			return err
		}},
		{name: "tokenizer config", optional: true, run: func(ctx context.Context) (err error) {
			a.TokenizerConfig, err = f.FetchFromRepo(ctx, gen.Repo, tokenizerConfigFile, gen.Revision)
			return err
		}},
		{name: "encoder manifest", run: func(ctx context.Context) (err error) {
			a.EncoderManifest, err = f.FetchManifest(ctx, enc.Repo, enc.WeightsFile, enc.Revision)
			return err
		}},
		{name: "generator manifest", run: func(ctx context.Context) (err error) {
			a.GeneratorManifest, err = f.FetchManifest(ctx, gen.Repo, gen.WeightsFile, gen.Revision)
			return err
		}},
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	wp := workerpool.New(workers)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, task := range tasks {
		wp.Submit(func() {
			err := task.run(ctx)
			switch {
			case err == nil:
				logger.Debug("fetched artifact", zap.String("artifact", task.name))
				return
			case task.optional && errors.Is(err, downloader.ErrNotFound):
				logger.Info("optional artifact not found", zap.String("artifact", task.name))
				return
			}

			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", task.name, err))
			mu.Unlock()
		})
	}
	wp.StopWait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return a, nil
}
