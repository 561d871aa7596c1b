package config

import "errors"

const (
	DefaultEnvironment = "dev"
	DefaultHome        = "~/.ocrdemo"
	DefaultHost        = "0.0.0.0"

	DefaultModelAPIURL   = "http://localhost:8000/infer"
	DefaultBackendAPIURL = "http://localhost:8001/frontend_infer"
	DefaultRuntimeURL    = "http://localhost:8010"
	DefaultHFEndpoint    = "https://huggingface.co"

	// The published fine-tuned checkpoint is a pickled pytorch_model.bin;
	// it is converted once into this file (see config.yaml).
	DefaultCheckpointSource   = "file:~/.ocrdemo/checkpoints/layoutlmv3_t5_ocr.safetensors"
	DefaultCheckpointFilename = "model.safetensors"
	DefaultEncoderRepo        = "microsoft/layoutlmv3-base"
	DefaultGeneratorRepo      = "t5-small"
	DefaultMaxLength          = 512
)

func DefaultPort(component string) int {
	switch component {
	case ComponentModel:
		return 8000
	case ComponentProxy:
		return 8001
	case ComponentUI:
		return 7860
	default:
		return 8080
	}
}

var (
	ErrHomeNotSet       = errors.New("home directory is not set")
	ErrHomeExpandFailed = errors.New("failed to expand home directory")
)
