package modelloader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ocr-dimt/ocrdemo/internal/inference"
)

// ModelConfig is the subset of a Hugging Face config.json the loader reads.
type ModelConfig struct {
	ModelType           string `json:"model_type"`
	HiddenSize          int    `json:"hidden_size"`
	DModel              int    `json:"d_model"`
	DecoderStartTokenID *int64 `json:"decoder_start_token_id"`
	BOSTokenID          *int64 `json:"bos_token_id"`
	PADTokenID          *int64 `json:"pad_token_id"`
	EOSTokenID          *int64 `json:"eos_token_id"`
}

// Width is the model's hidden dimension. Encoder configs call it
// hidden_size, T5 configs call it d_model.
func (c *ModelConfig) Width() int {
	if c.DModel > 0 {
		return c.DModel
	}
	return c.HiddenSize
}

func readModelConfig(path string) (*ModelConfig, error) {
	var cfg ModelConfig
	if err := readJSON(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Width() <= 0 {
		return nil, fmt.Errorf("%s: neither hidden_size nor d_model is set", path)
	}
	return &cfg, nil
}

type addedToken struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

type tokenizerJSON struct {
	AddedTokens []addedToken `json:"added_tokens"`
}

// tokenValue is a special token in tokenizer_config.json: either a bare
// string or an object with a content field.
type tokenValue string

func (t *tokenValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = tokenValue(s)
		return nil
	}

	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*t = tokenValue(obj.Content)
	return nil
}

type tokenizerConfig struct {
	BOSToken *tokenValue `json:"bos_token"`
	PADToken *tokenValue `json:"pad_token"`
	EOSToken *tokenValue `json:"eos_token"`
}

// specialTokens combines the generator config with the tokenizer files. The
// decoder start id and BOS only come from the config. The tokenizer's BOS and
// PAD are looked up in the tokenizer files; when those are absent the
// config's bos and pad ids stand in for them. EOS prefers the tokenizer.
func specialTokens(cfg *ModelConfig, tokenizerPath, tokenizerConfigPath string) (*inference.SpecialTokens, error) {
	tokens := &inference.SpecialTokens{
		DecoderStart: cfg.DecoderStartTokenID,
		BOS:          cfg.BOSTokenID,
		EOS:          cfg.EOSTokenID,
	}

	if tokenizerPath == "" || tokenizerConfigPath == "" {
		tokens.TokenizerBOS = cfg.BOSTokenID
		tokens.TokenizerPAD = cfg.PADTokenID
		return tokens, nil
	}

	var tf tokenizerJSON
	if err := readJSON(tokenizerPath, &tf); err != nil {
		return nil, err
	}
	var tc tokenizerConfig
	if err := readJSON(tokenizerConfigPath, &tc); err != nil {
		return nil, err
	}

	ids := make(map[string]int64, len(tf.AddedTokens))
	for _, at := range tf.AddedTokens {
		ids[at.Content] = at.ID
	}

	lookup := func(tok *tokenValue, dst **int64) {
		if tok == nil || *tok == "" {
			return
		}
		if id, ok := ids[string(*tok)]; ok {
			*dst = &id
		}
	}
	lookup(tc.BOSToken, &tokens.TokenizerBOS)
	lookup(tc.PADToken, &tokens.TokenizerPAD)
	lookup(tc.EOSToken, &tokens.EOS)

	return tokens, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
