package runtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/ocr-dimt/ocrdemo/internal/inference"
	"github.com/ocr-dimt/ocrdemo/internal/ndjson"
	"github.com/ocr-dimt/ocrdemo/internal/tensor"
	"github.com/ocr-dimt/ocrdemo/internal/utils/imageutil"
)

// Processor runs the LayoutLMv3 processor (resize, normalize, tokenize and
// align boxes) hosted on the runtime.
type Processor struct {
	client *Client
	model  string
}

func NewProcessor(client *Client, model string) *Processor {
	return &Processor{client: client, model: model}
}

func (p *Processor) Prepare(ctx context.Context, img *image.RGBA, words []string, boxes []ndjson.Box) (*inference.Encoding, error) {
	if len(words) != len(boxes) {
		return nil, fmt.Errorf("%d words but %d boxes", len(words), len(boxes))
	}

	png, err := imageutil.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	imgT, err := tensor.NewBytes([]int{1}, []string{base64.StdEncoding.EncodeToString(png)})
	if err != nil {
		return nil, err
	}

	wordsT, err := tensor.NewBytes([]int{len(words)}, append([]string(nil), words...))
	if err != nil {
		return nil, err
	}

	flat := make([]float32, 0, len(boxes)*4)
	for _, b := range boxes {
		for _, v := range b {
			flat = append(flat, float32(v))
		}
	}
	boxesT, err := tensor.NewFloat32([]int{len(boxes), 4}, flat)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Infer(ctx, p.model, &Request{
		Inputs: map[string]*tensor.Tensor{
			"image": imgT,
			"words": wordsT,
			"boxes": boxesT,
		},
		Outputs: []string{"pixel_values", "input_ids", "attention_mask", "bbox"},
	})
	if err != nil {
		return nil, err
	}

	enc := &inference.Encoding{}
	for name, dst := range map[string]**tensor.Tensor{
		"pixel_values":   &enc.PixelValues,
		"input_ids":      &enc.InputIDs,
		"attention_mask": &enc.AttentionMask,
		"bbox":           &enc.BBox,
	} {
		if *dst, err = resp.Output(name); err != nil {
			return nil, err
		}
	}

	if len(enc.InputIDs.Shape) != 2 {
		return nil, fmt.Errorf("input_ids must be [batch, seq], got %v", enc.InputIDs.Shape)
	}
	return enc, nil
}

// Encoder runs the LayoutLMv3 encoder and returns last_hidden_state.
type Encoder struct {
	client *Client
	model  string
}

func NewEncoder(client *Client, model string) *Encoder {
	return &Encoder{client: client, model: model}
}

func (e *Encoder) Encode(ctx context.Context, enc *inference.Encoding) (*tensor.Tensor, error) {
	resp, err := e.client.Infer(ctx, e.model, &Request{
		Inputs: map[string]*tensor.Tensor{
			"pixel_values":   enc.PixelValues,
			"input_ids":      enc.InputIDs,
			"attention_mask": enc.AttentionMask,
			"bbox":           enc.BBox,
		},
		Outputs: []string{"last_hidden_state"},
	})
	if err != nil {
		return nil, err
	}
	return resp.Output("last_hidden_state")
}

// Generator runs T5 generation from precomputed input embeddings.
type Generator struct {
	client *Client
	model  string
}

func NewGenerator(client *Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

func (g *Generator) Generate(ctx context.Context, embeds, mask *tensor.Tensor, opts inference.GenerateOptions) (*tensor.Tensor, error) {
	resp, err := g.client.Infer(ctx, g.model, &Request{
		Inputs: map[string]*tensor.Tensor{
			"inputs_embeds":  embeds,
			"attention_mask": mask,
		},
		Outputs: []string{"sequences"},
		Parameters: map[string]any{
			"max_length":             opts.MaxLength,
			"decoder_start_token_id": opts.DecoderStartTokenID,
			"bos_token_id":           opts.BOSTokenID,
			"num_beams":              1,
			"do_sample":              false,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Output("sequences")
}

// Detokenizer turns generated ids back into text.
type Detokenizer struct {
	client *Client
	model  string
}

func NewDetokenizer(client *Client, model string) *Detokenizer {
	return &Detokenizer{client: client, model: model}
}

func (d *Detokenizer) Decode(ctx context.Context, ids []int64) (string, error) {
	idsT, err := tensor.NewInt64([]int{1, len(ids)}, ids)
	if err != nil {
		return "", err
	}

	resp, err := d.client.Infer(ctx, d.model, &Request{
		Inputs:     map[string]*tensor.Tensor{"token_ids": idsT},
		Outputs:    []string{"text"},
		Parameters: map[string]any{"skip_special_tokens": true},
	})
	if err != nil {
		return "", err
	}

	text, err := resp.Output("text")
	if err != nil {
		return "", err
	}
	if text.DType != tensor.Bytes || len(text.Str) != 1 {
		return "", fmt.Errorf("text output must be a single BYTES element, got %v %s", text.Shape, text.DType)
	}
	return text.Str[0], nil
}

var (
	_ inference.Processor   = (*Processor)(nil)
	_ inference.Encoder     = (*Encoder)(nil)
	_ inference.Generator   = (*Generator)(nil)
	_ inference.Detokenizer = (*Detokenizer)(nil)
)
