package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/flags"
	"github.com/ocr-dimt/ocrdemo/internal/app"
	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/server"
	"github.com/ocr-dimt/ocrdemo/internal/ui"
	"github.com/ocr-dimt/ocrdemo/pkg/logger"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "ui",
	Short: "Start the upload page",
	RunE:  runUI,
}

func init() {
	fs := Cmd.Flags()
	flags.AddServe(fs)

	fs.String("backend-api-url", config.DefaultBackendAPIURL, "Backend proxy endpoint")
	fs.Duration("client-timeout", 0, "Timeout for calls to the backend (0 waits forever)")
}

func runUI(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()

	log, err := logger.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	client := ui.NewClient(cfg.BackendAPIURL,
		ui.WithTimeout(cfg.ClientTimeout),
		ui.WithLogger(log.Named("ui")),
	)

	app, err := app.NewApp(cfg, app.WithLogger(log), app.WithSubmitter(client))
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := server.NewServer(cfg, log)
	if err != nil {
		return err
	}
	srv.SetupUIRoutes(app)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, srv)
}
