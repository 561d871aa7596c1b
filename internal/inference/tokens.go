package inference

import "errors"

var ErrNoStartToken = errors.New("no decoder start token, bos token or pad token available")

// SpecialTokens carries the generator's special token ids. A nil field is
// unset. DecoderStart and BOS come from the generator config; TokenizerBOS
// and TokenizerPAD come from the tokenizer.
type SpecialTokens struct {
	DecoderStart *int64
	BOS          *int64
	TokenizerBOS *int64
	TokenizerPAD *int64
	EOS          *int64
}

// ResolveStartToken picks the decoder start token: the configured decoder
// start, else the tokenizer's BOS, else the tokenizer's PAD.
func ResolveStartToken(tokens *SpecialTokens) (int64, error) {
	switch {
	case tokens.DecoderStart != nil:
		return *tokens.DecoderStart, nil
	case tokens.TokenizerBOS != nil:
		return *tokens.TokenizerBOS, nil
	case tokens.TokenizerPAD != nil:
		return *tokens.TokenizerPAD, nil
	default:
		return 0, ErrNoStartToken
	}
}

// GeneratorBOS is the generator's BOS id, defaulting to the start token when
// the config leaves it unset.
func (t *SpecialTokens) GeneratorBOS(start int64) int64 {
	if t.BOS != nil {
		return *t.BOS
	}
	return start
}
