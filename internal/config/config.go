package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/templates"
	"github.com/ocr-dimt/ocrdemo/internal/utils/pathutil"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "OCRDEMO"

const (
	ComponentModel = "model"
	ComponentProxy = "proxy"
	ComponentUI    = "ui"
)

type Config struct {
	Component     string           `mapstructure:"component"`
	Environment   string           `mapstructure:"environment"`
	LogLevel      string           `mapstructure:"log_level"`
	Home          string           `mapstructure:"home"`
	CacheDir      string           `mapstructure:"cache_dir"`
	Host          string           `mapstructure:"host"`
	Port          int              `mapstructure:"port"`
	ModelAPIURL   string           `mapstructure:"model_api_url"`
	BackendAPIURL string           `mapstructure:"backend_api_url"`
	ClientTimeout time.Duration    `mapstructure:"client_timeout"`
	HFEndpoint    string           `mapstructure:"hf_endpoint"`
	HFToken       string           `mapstructure:"hf_token"`
	Workers       int              `mapstructure:"download_workers"`
	Checkpoint    CheckpointConfig `mapstructure:"checkpoint"`
	Encoder       ModuleConfig     `mapstructure:"encoder"`
	Generator     GeneratorConfig  `mapstructure:"generator"`
	Runtime       RuntimeConfig    `mapstructure:"runtime"`
	S3            *S3Config        `mapstructure:"s3"`
}

// CheckpointConfig locates the fine-tuned bundle. Source accepts hf:<repo>,
// file:<path>, s3://<bucket>/<key> or a plain http(s) URL.
type CheckpointConfig struct {
	Source   string `mapstructure:"source"`
	Filename string `mapstructure:"filename"`
	Revision string `mapstructure:"revision"`
	Blake3   string `mapstructure:"blake3"`
}

type ModuleConfig struct {
	Repo        string `mapstructure:"repo"`
	Revision    string `mapstructure:"revision"`
	WeightsFile string `mapstructure:"weights_file"`
}

type GeneratorConfig struct {
	ModuleConfig `mapstructure:",squash"`
	MaxLength    int `mapstructure:"max_length"`
}

type RuntimeConfig struct {
	URL              string        `mapstructure:"url"`
	RepositoryDir    string        `mapstructure:"repository_dir"`
	ProcessorModel   string        `mapstructure:"processor_model"`
	EncoderModel     string        `mapstructure:"encoder_model"`
	GeneratorModel   string        `mapstructure:"generator_model"`
	DetokenizerModel string        `mapstructure:"detokenizer_model"`
	LoadTimeout      time.Duration `mapstructure:"load_timeout"`
}

type S3Config struct {
	Region      string `mapstructure:"region_name"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	EndpointUrl string `mapstructure:"endpoint_url"`
}

var config *Config

// SetDefaults registers every known key so AutomaticEnv can resolve it
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", DefaultEnvironment)
	v.SetDefault("log_level", "")
	v.SetDefault("home", DefaultHome)
	v.SetDefault("cache_dir", "")
	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", 0)
	v.SetDefault("model_api_url", DefaultModelAPIURL)
	v.SetDefault("backend_api_url", DefaultBackendAPIURL)
	v.SetDefault("client_timeout", time.Duration(0))
	v.SetDefault("hf_endpoint", DefaultHFEndpoint)
	v.SetDefault("hf_token", "")
	v.SetDefault("download_workers", 4)

	v.SetDefault("checkpoint.source", DefaultCheckpointSource)
	v.SetDefault("checkpoint.filename", DefaultCheckpointFilename)
	v.SetDefault("checkpoint.revision", "main")
	v.SetDefault("checkpoint.blake3", "")

	v.SetDefault("encoder.repo", DefaultEncoderRepo)
	v.SetDefault("encoder.revision", "main")
	v.SetDefault("encoder.weights_file", "model.safetensors")

	v.SetDefault("generator.repo", DefaultGeneratorRepo)
	v.SetDefault("generator.revision", "main")
	v.SetDefault("generator.weights_file", "model.safetensors")
	v.SetDefault("generator.max_length", DefaultMaxLength)

	v.SetDefault("runtime.url", DefaultRuntimeURL)
	v.SetDefault("runtime.repository_dir", "")
	v.SetDefault("runtime.processor_model", "layoutlmv3_processor")
	v.SetDefault("runtime.encoder_model", "layoutlmv3_encoder")
	v.SetDefault("runtime.generator_model", "t5_generator")
	v.SetDefault("runtime.detokenizer_model", "t5_detokenizer")
	v.SetDefault("runtime.load_timeout", 5*time.Minute)

	v.SetDefault("s3.region_name", "auto")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.endpoint_url", "")
}

// ConfigureEnv wires OCRDEMO_* variables plus the unprefixed names the
// ecosystem already uses.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(
		`-`, `_`,
		`.`, `_`,
	))
	v.AutomaticEnv()

	v.BindEnv("hf_token", "HF_TOKEN")
	v.BindEnv("hf_endpoint", "OCRDEMO_HF_ENDPOINT", "HF_ENDPOINT")
	v.BindEnv("s3.access_key", "OCRDEMO_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	v.BindEnv("s3.secret_key", "OCRDEMO_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("s3.region_name", "OCRDEMO_S3_REGION_NAME", "AWS_REGION")
}

// LoadEnvAndConfigFiles resolves the home directory, writes the config and
// env templates on first run, and unmarshals the merged result.
func LoadEnvAndConfigFiles() error {
	v := viper.GetViper()

	home, err := getHome(v)
	if err != nil {
		return err
	}
	v.Set("home", home)

	if err := createHomeDirs(home); err != nil {
		return err
	}

	envFile := v.GetString("env_file")
	if envFile == "" {
		envFile = filepath.Join(home, ".env")
	}
	configFile := v.GetString("config_file")
	if configFile == "" {
		configFile = filepath.Join(home, "config.yaml")
	}

	if err := writeIfMissing(envFile, templates.WriteEnv); err != nil {
		return fmt.Errorf("failed to create .env file: %w", err)
	}
	if err := writeIfMissing(configFile, templates.WriteConfig); err != nil {
		return fmt.Errorf("failed to create config.yaml file: %w", err)
	}

	// godotenv never overrides variables already set in the process.
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return fmt.Errorf("error reading config: %w", err)
		}
		fmt.Println("No config file found. Using default config.")
	}

	cfg, err := Unmarshal(v)
	if err != nil {
		return err
	}

	config = cfg
	return nil
}

// Unmarshal decodes v into a Config and fills derived paths.
func Unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	home, err := pathutil.ExpandPath(cfg.Home)
	if err != nil {
		return nil, ErrHomeExpandFailed
	}
	cfg.Home = home

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(home, "hub")
	}
	if cfg.Runtime.RepositoryDir == "" {
		cfg.Runtime.RepositoryDir = filepath.Join(home, "model_repository")
	}

	for _, p := range []*string{&cfg.CacheDir, &cfg.Runtime.RepositoryDir} {
		expanded, err := pathutil.ExpandPath(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}

	return cfg, nil
}

// Default returns the configuration produced by defaults and environment
// alone, without touching the filesystem.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	ConfigureEnv(v)

	cfg, err := Unmarshal(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func GetConfig() *Config {
	if config == nil {
		panic("config not loaded")
	}

	return config
}

// Address returns host:port, falling back to the component's default port.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort(c.Component)
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Returns the home directory path.
// It attempts to retrieve it from the following sources in order:
// 1. The `home` flag or OCRDEMO_HOME, via viper.
// 2. The default home directory.
func getHome(v *viper.Viper) (string, error) {
	home := v.GetString("home")
	if home == "" {
		home = DefaultHome
	}

	home, err := pathutil.ExpandPath(home)
	if err != nil {
		return "", fmt.Errorf("failed to expand home path: %w", err)
	}

	return home, nil
}

func createHomeDirs(home string) error {
	if home == "" {
		return ErrHomeNotSet
	}

	for _, dir := range []string{home, filepath.Join(home, "hub"), filepath.Join(home, "model_repository")} {
		if err := pathutil.EnsureDir(dir); err != nil {
			return err
		}
	}

	return nil
}

func writeIfMissing(path string, write func(string) error) error {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		return write(path)
	}
	return nil
}
