package app

import (
	"context"
	"errors"

	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/proxy"
	"github.com/ocr-dimt/ocrdemo/internal/types"
	"github.com/ocr-dimt/ocrdemo/pkg/logger"

	"go.uber.org/zap"
)

// Inferer runs the OCR pipeline for one upload pair.
type Inferer interface {
	Infer(ctx context.Context, image, ndjson types.Upload) (types.InferResponse, error)
}

// Forwarder relays an upload pair to the model server.
type Forwarder interface {
	Forward(ctx context.Context, image, ndjson types.Upload) (*proxy.Reply, error)
}

// Submitter performs the UI submit action and returns the user message.
type Submitter interface {
	Submit(ctx context.Context, image, ndjson *types.Upload) string
}

type App struct {
	config     *config.Config
	ctx        context.Context
	cancelFunc context.CancelFunc

	inferer   Inferer
	forwarder Forwarder
	submitter Submitter

	Logger *zap.Logger
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(app *App) error {
		app.Logger = logger
		return nil
	}
}

func WithInferer(inferer Inferer) OptionFunc {
	return func(app *App) error {
		if inferer == nil {
			return errors.New("inferer is nil")
		}
		app.inferer = inferer
		return nil
	}
}

func WithForwarder(forwarder Forwarder) OptionFunc {
	return func(app *App) error {
		if forwarder == nil {
			return errors.New("forwarder is nil")
		}
		app.forwarder = forwarder
		return nil
	}
}

func WithSubmitter(submitter Submitter) OptionFunc {
	return func(app *App) error {
		if submitter == nil {
			return errors.New("submitter is nil")
		}
		app.submitter = submitter
		return nil
	}
}

func NewApp(config *config.Config, options ...OptionFunc) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:        ctx,
		config:     config,
		cancelFunc: cancel,
	}

	for _, opt := range options {
		if err := opt(app); err != nil {
			cancel()
			return nil, err
		}
	}

	if app.Logger == nil {
		l, err := logger.InitLogger(config)
		if err != nil {
			cancel()
			return nil, err
		}
		app.Logger = l
	}

	return app, nil
}

func (app *App) Close() {
	app.cancelFunc()
	_ = app.Logger.Sync()
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) Inferer() Inferer {
	return app.inferer
}

func (app *App) Forwarder() Forwarder {
	return app.forwarder
}

func (app *App) Submitter() Submitter {
	return app.submitter
}
