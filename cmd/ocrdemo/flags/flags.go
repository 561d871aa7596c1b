// Package flags binds command flags to config keys.
package flags

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys whose flag name does not map to the config key by swapping hyphens
// for underscores.
var keys = map[string]string{
	"runtime-url":       "runtime.url",
	"checkpoint":        "checkpoint.source",
	"checkpoint-file":   "checkpoint.filename",
	"checkpoint-blake3": "checkpoint.blake3",
	"max-length":        "generator.max_length",
	"config-file":       "config_file",
	"env-file":          "env_file",
}

func Key(name string) string {
	if key, ok := keys[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}

// Bind binds every flag in fs to v under its config key.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr := v.BindPFlag(Key(f.Name), f); bindErr != nil && err == nil {
			err = bindErr
		}
	})
	return err
}

// AddServe registers the listener flags every server command shares.
func AddServe(fs *pflag.FlagSet) {
	fs.String("host", "0.0.0.0", "Host to listen on")
	fs.Int("port", 0, "Port to listen on (0 picks the component default)")
}
