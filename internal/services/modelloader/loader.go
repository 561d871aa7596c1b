// Package modelloader assembles the inference pipeline at startup: fetch the
// checkpoint bundle and base model metadata, distribute the bundle's weight
// groups to their modules and resolve generation settings.
package modelloader

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/checkpoint"
	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/inference"
	"github.com/ocr-dimt/ocrdemo/internal/runtime"
	"github.com/ocr-dimt/ocrdemo/internal/safetensors"
	"github.com/ocr-dimt/ocrdemo/internal/services/downloader"
	"github.com/ocr-dimt/ocrdemo/internal/utils/hashutil"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Loader struct {
	cfg     *config.Config
	fetcher Fetcher
	client  *runtime.Client
	logger  *zap.Logger
}

type Option func(*Loader)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

func WithFetcher(f Fetcher) Option {
	return func(l *Loader) {
		l.fetcher = f
	}
}

func WithRuntimeClient(c *runtime.Client) Option {
	return func(l *Loader) {
		l.client = c
	}
}

func New(cfg *config.Config, opts ...Option) *Loader {
	l := &Loader{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}

	if l.fetcher == nil {
		l.fetcher = downloader.New(cfg, downloader.WithLogger(l.logger.Named("downloader")))
	}
	if l.client == nil {
		l.client = runtime.NewClient(cfg.Runtime.URL, runtime.WithLogger(l.logger.Named("runtime")))
	}

	return l
}

// Plan is everything resolved locally before the runtime is involved.
type Plan struct {
	Artifacts  *Artifacts
	Digest     string
	Bundle     *checkpoint.Bundle
	Encoder    *checkpoint.LoadReport
	Generator  *checkpoint.LoadReport
	Projection *checkpoint.LoadReport
	Tokens     *inference.SpecialTokens
	StartToken int64

	projection *inference.Projection
}

func (p *Plan) Reports() []*checkpoint.LoadReport {
	return []*checkpoint.LoadReport{p.Encoder, p.Generator, p.Projection}
}

func (p *Plan) Close() error {
	if p.Bundle == nil {
		return nil
	}
	return p.Bundle.Close()
}

// Prepare fetches every artifact and works out how the bundle maps onto the
// modules. Encoder and generator mismatches are only reported; a projection
// mismatch or an unresolvable start token fails.
func (l *Loader) Prepare(ctx context.Context) (*Plan, error) {
	artifacts, err := fetchArtifacts(ctx, l.cfg, l.fetcher, l.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifacts: %w", err)
	}

	digest, err := hashutil.Blake3File(artifacts.CheckpointPath)
	if err != nil {
		return nil, err
	}
	if want := l.cfg.Checkpoint.Blake3; want != "" && !strings.EqualFold(want, digest) {
		return nil, fmt.Errorf("checkpoint digest mismatch: want %s, got %s", want, digest)
	}
	l.logger.Info("checkpoint ready", zap.String("path", artifacts.CheckpointPath), zap.String("blake3", digest))

	encCfg, err := readModelConfig(artifacts.EncoderConfig)
	if err != nil {
		return nil, err
	}
	genCfg, err := readModelConfig(artifacts.GeneratorConfig)
	if err != nil {
		return nil, err
	}

	bundle, err := checkpoint.Open(artifacts.CheckpointPath)
	if err != nil {
		return nil, err
	}
	bundle.Digest = digest

	plan := &Plan{Artifacts: artifacts, Digest: digest, Bundle: bundle}
	if err := l.plan(plan, encCfg, genCfg); err != nil {
		bundle.Close()
		return nil, err
	}

	return plan, nil
}

func (l *Loader) plan(plan *Plan, encCfg, genCfg *ModelConfig) error {
	a := plan.Artifacts

	for _, m := range []struct {
		group    string
		manifest map[string][]int
		dst      **checkpoint.LoadReport
	}{
		{checkpoint.GroupEncoder, a.EncoderManifest.Shapes(), &plan.Encoder},
		{checkpoint.GroupGenerator, a.GeneratorManifest.Shapes(), &plan.Generator},
	} {
		g, err := plan.Bundle.Group(m.group)
		if err != nil {
			return err
		}
		*m.dst = checkpoint.Plan(m.group, m.manifest, g)
		(*m.dst).Log(l.logger)
	}

	g, err := plan.Bundle.Group(checkpoint.GroupProjection)
	if err != nil {
		return err
	}
	plan.projection, plan.Projection, err = inference.LoadProjection(g, encCfg.Width(), genCfg.Width())
	if plan.Projection != nil {
		plan.Projection.Log(l.logger)
	}
	if err != nil {
		return fmt.Errorf("failed to load projection: %w", err)
	}

	plan.Tokens, err = specialTokens(genCfg, a.Tokenizer, a.TokenizerConfig)
	if err != nil {
		return err
	}
	plan.StartToken, err = inference.ResolveStartToken(plan.Tokens)
	if err != nil {
		return err
	}
	l.logger.Info("resolved decoder start token", zap.Int64("decoder_start_token_id", plan.StartToken))

	return nil
}

// Build prepares the plan, publishes the encoder and generator weights to
// the runtime and returns the ready pipeline. The returned plan's bundle is
// already closed.
func (l *Loader) Build(ctx context.Context) (*inference.Pipeline, *Plan, error) {
	plan, err := l.Prepare(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer plan.Close()

	rt := l.cfg.Runtime
	modules := []*modulePublish{
		{model: rt.EncoderModel, group: checkpoint.GroupEncoder, source: l.cfg.Encoder, report: plan.Encoder},
		{model: rt.GeneratorModel, group: checkpoint.GroupGenerator, source: l.cfg.Generator.ModuleConfig, report: plan.Generator},
	}
	for _, m := range modules {
		if err := l.fetchPretrained(ctx, m); err != nil {
			return nil, nil, err
		}
	}

	loadCtx := ctx
	if rt.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, rt.LoadTimeout)
		defer cancel()
	}

	if err := l.waitReady(loadCtx); err != nil {
		return nil, nil, err
	}

	repo := runtime.NewRepository(rt.RepositoryDir, l.client, l.logger.Named("repository"))
	for _, m := range modules {
		if err := m.publish(loadCtx, repo, plan.Bundle); err != nil {
			return nil, nil, err
		}
	}

	for _, model := range []string{rt.ProcessorModel, rt.DetokenizerModel} {
		if err := l.client.ModelReady(loadCtx, model); err != nil {
			return nil, nil, err
		}
	}

	pipeline, err := inference.NewPipeline(inference.Modules{
		Processor:   runtime.NewProcessor(l.client, rt.ProcessorModel),
		Encoder:     runtime.NewEncoder(l.client, rt.EncoderModel),
		Projection:  plan.projection,
		Generator:   runtime.NewGenerator(l.client, rt.GeneratorModel),
		Detokenizer: runtime.NewDetokenizer(l.client, rt.DetokenizerModel),
	}, inference.GenerateOptions{
		MaxLength:           l.cfg.Generator.MaxLength,
		DecoderStartTokenID: plan.StartToken,
		BOSTokenID:          plan.Tokens.GeneratorBOS(plan.StartToken),
	}, l.logger.Named("pipeline"))
	if err != nil {
		return nil, nil, err
	}

	return pipeline, plan, nil
}

// modulePublish is one runtime model fed from a bundle group.
type modulePublish struct {
	model  string
	group  string
	source config.ModuleConfig
	report *checkpoint.LoadReport

	// pretrained is the base weights file, set only when the checkpoint
	// leaves some parameters untouched.
	pretrained string
}

func (l *Loader) fetchPretrained(ctx context.Context, m *modulePublish) error {
	retained := m.report.Retained()
	if len(retained) == 0 {
		return nil
	}

	l.logger.Info("fetching pretrained weights for retained keys",
		zap.String("module", m.group),
		zap.String("repo", m.source.Repo),
		zap.Int("retained", len(retained)),
	)
	path, err := l.fetcher.FetchFromRepo(ctx, m.source.Repo, m.source.WeightsFile, m.source.Revision)
	if err != nil {
		return fmt.Errorf("failed to fetch pretrained weights for %s: %w", m.group, err)
	}
	m.pretrained = path
	return nil
}

// publish writes the module's full state to the repository and loads it.
func (m *modulePublish) publish(ctx context.Context, repo *runtime.Repository, bundle *checkpoint.Bundle) error {
	g, err := bundle.Group(m.group)
	if err != nil {
		return err
	}

	var base checkpoint.BaseWeights
	if m.pretrained != "" {
		f, err := safetensors.Open(m.pretrained)
		if err != nil {
			return err
		}
		defer f.Close()
		base = f
	}

	return repo.Publish(ctx, m.model, func(w io.Writer) (int64, error) {
		return m.report.WriteLoaded(w, g, base)
	})
}

// waitReady polls the runtime's health endpoint until it answers or ctx
// ends.
func (l *Loader) waitReady(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return l.client.Ready(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		l.logger.Info("waiting for inference runtime", zap.Error(err), zap.Duration("retry_in", next))
	})
}
