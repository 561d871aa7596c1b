package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/flags"
	"github.com/ocr-dimt/ocrdemo/internal/app"
	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/server"
	"github.com/ocr-dimt/ocrdemo/internal/services/modelloader"
	"github.com/ocr-dimt/ocrdemo/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Cmd = &cobra.Command{
	Use:   "model",
	Short: "Start the model server (POST /infer)",
	RunE:  runModel,
}

func init() {
	fs := Cmd.Flags()
	flags.AddServe(fs)

	fs.String("runtime-url", config.DefaultRuntimeURL, "Base URL of the inference runtime")
	fs.String("checkpoint", config.DefaultCheckpointSource, "Checkpoint source: hf:<repo>, file:<path>, s3://<bucket>/<key> or an http(s) URL")
	fs.String("checkpoint-file", config.DefaultCheckpointFilename, "Checkpoint file inside an hf: repo")
	fs.String("checkpoint-blake3", "", "Expected blake3 digest of the checkpoint")
	fs.Int("max-length", config.DefaultMaxLength, "Maximum generated sequence length")
	fs.Int("download-workers", 4, "Parallel startup downloads")
}

func runModel(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()

	log, err := logger.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, plan, err := modelloader.New(cfg, modelloader.WithLogger(log)).Build(ctx)
	if err != nil {
		return err
	}
	log.Info("pipeline ready",
		zap.String("checkpoint_blake3", plan.Digest),
		zap.Int64("decoder_start_token_id", plan.StartToken),
	)

	app, err := app.NewApp(cfg, app.WithLogger(log), app.WithInferer(pipeline))
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := server.NewServer(cfg, log)
	if err != nil {
		return err
	}
	srv.SetupModelRoutes(app)

	return server.Run(ctx, srv)
}
