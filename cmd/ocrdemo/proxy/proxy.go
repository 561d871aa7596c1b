package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/flags"
	"github.com/ocr-dimt/ocrdemo/internal/app"
	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/proxy"
	"github.com/ocr-dimt/ocrdemo/internal/server"
	"github.com/ocr-dimt/ocrdemo/pkg/logger"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "proxy",
	Short: "Start the backend proxy (POST /frontend_infer)",
	RunE:  runProxy,
}

func init() {
	fs := Cmd.Flags()
	flags.AddServe(fs)

	fs.String("model-api-url", config.DefaultModelAPIURL, "Model server inference endpoint")
	fs.Duration("client-timeout", 0, "Timeout for calls to the model server (0 waits forever)")
}

func runProxy(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()

	log, err := logger.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	forwarder := proxy.NewForwarder(cfg.ModelAPIURL,
		proxy.WithTimeout(cfg.ClientTimeout),
		proxy.WithLogger(log.Named("forwarder")),
	)

	app, err := app.NewApp(cfg, app.WithLogger(log), app.WithForwarder(forwarder))
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := server.NewServer(cfg, log)
	if err != nil {
		return err
	}
	srv.SetupProxyRoutes(app)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, srv)
}
