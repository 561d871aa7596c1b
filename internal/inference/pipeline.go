// Package inference runs the document OCR pipeline: match the annotation
// record, encode image and layout, project into the generator's embedding
// space, generate and decode.
package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/ocr-dimt/ocrdemo/internal/ndjson"
	"github.com/ocr-dimt/ocrdemo/internal/tensor"
	"github.com/ocr-dimt/ocrdemo/internal/types"
	"github.com/ocr-dimt/ocrdemo/internal/utils/imageutil"
	"github.com/ocr-dimt/ocrdemo/internal/utils/pathutil"

	"go.uber.org/zap"
)

// Encoding is the batched input bundle produced by the processor.
type Encoding struct {
	PixelValues   *tensor.Tensor
	InputIDs      *tensor.Tensor
	AttentionMask *tensor.Tensor
	BBox          *tensor.Tensor
}

// SeqLen is the token-tensor length, i.e. the number of text positions.
func (e *Encoding) SeqLen() int {
	return e.InputIDs.Dim(1)
}

type Processor interface {
	Prepare(ctx context.Context, img *image.RGBA, words []string, boxes []ndjson.Box) (*Encoding, error)
}

type Encoder interface {
	// Encode returns the last hidden state, shaped [batch, positions, hidden].
	Encode(ctx context.Context, enc *Encoding) (*tensor.Tensor, error)
}

type Projector interface {
	Project(hidden *tensor.Tensor) (*tensor.Tensor, error)
}

type GenerateOptions struct {
	MaxLength           int
	DecoderStartTokenID int64
	BOSTokenID          int64
}

type Generator interface {
	// Generate decodes greedily from inputs_embeds and returns token ids
	// shaped [batch, length].
	Generate(ctx context.Context, embeds, mask *tensor.Tensor, opts GenerateOptions) (*tensor.Tensor, error)
}

type Detokenizer interface {
	// Decode turns ids into text with special tokens dropped.
	Decode(ctx context.Context, ids []int64) (string, error)
}

// Modules groups the collaborators a Pipeline drives.
type Modules struct {
	Processor   Processor
	Encoder     Encoder
	Projection  Projector
	Generator   Generator
	Detokenizer Detokenizer
}

func (m Modules) validate() error {
	switch {
	case m.Processor == nil:
		return errors.New("processor is required")
	case m.Encoder == nil:
		return errors.New("encoder is required")
	case m.Projection == nil:
		return errors.New("projection is required")
	case m.Generator == nil:
		return errors.New("generator is required")
	case m.Detokenizer == nil:
		return errors.New("detokenizer is required")
	}
	return nil
}

// Pipeline is immutable once built and safe for concurrent Infer calls.
type Pipeline struct {
	modules Modules
	opts    GenerateOptions
	logger  *zap.Logger
}

func NewPipeline(modules Modules, opts GenerateOptions, logger *zap.Logger) (*Pipeline, error) {
	if err := modules.validate(); err != nil {
		return nil, err
	}
	if opts.MaxLength <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", opts.MaxLength)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{modules: modules, opts: opts, logger: logger}, nil
}

func (p *Pipeline) Options() GenerateOptions {
	return p.opts
}

// Infer runs the whole pipeline for one upload pair. A missing annotation
// record is reported in the response, not as an error; every other failure
// is returned as an error.
func (p *Pipeline) Infer(ctx context.Context, img, records types.Upload) (types.InferResponse, error) {
	start := time.Now()
	imgName := pathutil.BaseName(img.Filename)

	rec, err := ndjson.FindRecord(bytes.NewReader(records.Content), imgName)
	if errors.Is(err, ndjson.ErrNotFound) {
		p.logger.Info("no annotation record", zap.String("img_name", imgName))
		return types.InferResponse{Error: fmt.Sprintf("No JSON entry for: %s", imgName)}, nil
	}
	if err != nil {
		return types.InferResponse{}, err
	}

	rgb, err := imageutil.DecodeRGB(img.Content)
	if err != nil {
		return types.InferResponse{}, err
	}

	enc, err := p.modules.Processor.Prepare(ctx, rgb, rec.Words, rec.Boxes)
	if err != nil {
		return types.InferResponse{}, fmt.Errorf("failed to prepare inputs: %w", err)
	}

	hidden, err := p.modules.Encoder.Encode(ctx, enc)
	if err != nil {
		return types.InferResponse{}, fmt.Errorf("encoder failed: %w", err)
	}

	textFeats, err := hidden.SliceAxis1(enc.SeqLen())
	if err != nil {
		return types.InferResponse{}, fmt.Errorf("failed to slice text positions: %w", err)
	}

	projected, err := p.modules.Projection.Project(textFeats)
	if err != nil {
		return types.InferResponse{}, fmt.Errorf("projection failed: %w", err)
	}

	genIDs, err := p.modules.Generator.Generate(ctx, projected, enc.AttentionMask, p.opts)
	if err != nil {
		return types.InferResponse{}, fmt.Errorf("generation failed: %w", err)
	}

	ids, err := genIDs.Row(0)
	if err != nil {
		return types.InferResponse{}, fmt.Errorf("unexpected generator output: %w", err)
	}

	text, err := p.modules.Detokenizer.Decode(ctx, ids)
	if err != nil {
		return types.InferResponse{}, fmt.Errorf("failed to decode tokens: %w", err)
	}

	p.logger.Info("inference finished",
		zap.String("img_name", imgName),
		zap.Int("line", rec.LineNo),
		zap.Int("words", len(rec.Words)),
		zap.Int("seq_len", enc.SeqLen()),
		zap.Int("generated", len(ids)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return types.InferResponse{Result: text}, nil
}
