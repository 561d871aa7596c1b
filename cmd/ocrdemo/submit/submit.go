package cmd

import (
	"fmt"
	"os"

	"github.com/ocr-dimt/ocrdemo/internal/config"
	"github.com/ocr-dimt/ocrdemo/internal/types"
	"github.com/ocr-dimt/ocrdemo/internal/ui"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "submit",
	Short: "Send an image and its NDJSON annotations to the backend and print the result",
	RunE:  runSubmit,
}

func init() {
	fs := Cmd.Flags()
	fs.String("image", "", "Path to the page image")
	fs.String("ndjson", "", "Path to the NDJSON annotation file")
	fs.String("backend-api-url", config.DefaultBackendAPIURL, "Backend proxy endpoint")
	fs.Duration("client-timeout", 0, "Timeout for the backend call (0 waits forever)")
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	cfg := config.GetConfig()

	image, err := readOptional(cmd, "image")
	if err != nil {
		return err
	}
	ndjson, err := readOptional(cmd, "ndjson")
	if err != nil {
		return err
	}

	client := ui.NewClient(cfg.BackendAPIURL, ui.WithTimeout(cfg.ClientTimeout))
	fmt.Fprintln(cmd.OutOrStdout(), client.Submit(cmd.Context(), image, ndjson))

	return nil
}

// readOptional returns nil for an unset flag so Submit can report the
// missing input itself.
func readOptional(cmd *cobra.Command, name string) (*types.Upload, error) {
	path, err := cmd.Flags().GetString(name)
	if err != nil || path == "" {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return &types.Upload{Filename: path, Content: content}, nil
}
