package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/ocr-dimt/ocrdemo/internal/checkpoint"
	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/services/modelloader"
	"github.com/ocr-dimt/ocrdemo/pkg/logger"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch every startup artifact into the cache and print the load report",
	RunE:  runDownload,
}

func init() {
	fs := Cmd.Flags()
	fs.String("checkpoint", config.DefaultCheckpointSource, "Checkpoint source: hf:<repo>, file:<path>, s3://<bucket>/<key> or an http(s) URL")
	fs.String("checkpoint-file", config.DefaultCheckpointFilename, "Checkpoint file inside an hf: repo")
	fs.String("checkpoint-blake3", "", "Expected blake3 digest of the checkpoint")
	fs.Int("download-workers", 4, "Parallel downloads")
	fs.Bool("verbose", false, "List every skipped and missing key")
}

func runDownload(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()

	log, err := logger.InitLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	plan, err := modelloader.New(cfg, modelloader.WithLogger(log)).Prepare(cmd.Context())
	if err != nil {
		return err
	}
	defer plan.Close()

	verbose, _ := cmd.Flags().GetBool("verbose")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "checkpoint: %s\nblake3:     %s\nstart token: %d\n\n", plan.Artifacts.CheckpointPath, plan.Digest, plan.StartToken)
	for _, r := range plan.Reports() {
		printReport(out, r, verbose)
	}

	return nil
}

func printReport(w io.Writer, r *checkpoint.LoadReport, verbose bool) {
	fmt.Fprintf(w, "%-14s loaded=%d unexpected=%d mismatched=%d missing=%d\n",
		r.Module, len(r.Loaded), len(r.Unexpected), len(r.Mismatched), len(r.Missing))
	if !verbose {
		return
	}

	if skipped := r.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(w, "  skipped: %s\n", strings.Join(skipped, ", "))
	}
	if len(r.Missing) > 0 {
		fmt.Fprintf(w, "  missing: %s\n", strings.Join(r.Missing, ", "))
	}
}
