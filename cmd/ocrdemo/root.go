package cmd

import (
	"fmt"
	"os"

	// Subcommands
	download "github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/download"
	"github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/flags"
	model "github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/model"
	proxy "github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/proxy"
	submit "github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/submit"
	ui "github.com/ocr-dimt/ocrdemo/cmd/ocrdemo/ui"
	"github.com/ocr-dimt/ocrdemo/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:   "ocrdemo",
	Short: "OCR full-stack demo",
	Long:  "Document OCR in three tiers: an upload UI, a backend proxy and a model server.",

	SilenceUsage: true,

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		config.SetDefaults(v)
		config.ConfigureEnv(v)

		// Bind the executing command's flags, inherited ones included
		if err := flags.Bind(v, cmd.Flags()); err != nil {
			return err
		}
		v.Set("component", cmd.Name())

		// Load config and env files
		if err := config.LoadEnvAndConfigFiles(); err != nil {
			return err
		}

		return nil
	},
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pflags := Cmd.PersistentFlags()

	pflags.String("home", "", "Path to the ocrdemo home directory")
	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")
	pflags.String("environment", config.DefaultEnvironment, "Environment: dev, test or prod")
	pflags.String("log-level", "", "Log level override (debug, info, warn, error)")

	// Add subcommands
	Cmd.AddCommand(model.Cmd, proxy.Cmd, ui.Cmd, submit.Cmd, download.Cmd)
	Cmd.CompletionOptions.HiddenDefaultCmd = true
}
