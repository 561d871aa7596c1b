package templates

import "os"

const configTemplate = `
environment: dev
model_api_url: http://localhost:8000/infer
backend_api_url: http://localhost:8001/frontend_infer
download_workers: 4

# The fine-tuned checkpoint (Uddipan107/layoutlmv3_base_T5_small_finetuned,
# pytorch_model.bin) is a pickled dict of three state dicts. Convert it once:
#
#   import torch
#   from safetensors.torch import save_file
#   ckpt = torch.load("pytorch_model.bin", map_location="cpu")
#   save_file({f"{group}.{k}": v.contiguous() for group in ("layout_model", "t5_model", "projection")
#              for k, v in ckpt[group].items()}, "layoutlmv3_t5_ocr.safetensors")
#
# and place the result at the source below, or upload it and use
# hf:<repo> with filename, s3://<bucket>/<key> or an http(s) URL.
checkpoint:
  source: file:~/.ocrdemo/checkpoints/layoutlmv3_t5_ocr.safetensors
  filename: model.safetensors
  revision: main

encoder:
  repo: microsoft/layoutlmv3-base
  weights_file: model.safetensors

generator:
  repo: t5-small
  weights_file: model.safetensors
  max_length: 512

runtime:
  url: http://localhost:8010
  processor_model: layoutlmv3_processor
  encoder_model: layoutlmv3_encoder
  generator_model: t5_generator
  detokenizer_model: t5_detokenizer
`

const envTemplate = `# HF_TOKEN=
# OCRDEMO_RUNTIME_URL=http://localhost:8010
# OCRDEMO_S3_ENDPOINT_URL=
# OCRDEMO_S3_ACCESS_KEY=
# OCRDEMO_S3_SECRET_KEY=
`

func GetConfigTemplate() string {
	return configTemplate
}

func GetEnvTemplate() string {
	return envTemplate
}

func WriteConfig(path string) error {
	return writeTemplate(path, GetConfigTemplate())
}

func WriteEnv(path string) error {
	return writeTemplate(path, GetEnvTemplate())
}

func writeTemplate(path, content string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(content)
	if err != nil {
		return err
	}

	return nil
}
