package inference

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/ocr-dimt/ocrdemo/internal/ndjson"
	"github.com/ocr-dimt/ocrdemo/internal/tensor"
	"github.com/ocr-dimt/ocrdemo/internal/types"
)

const hidden = 4

type stubProcessor struct {
	mu    sync.Mutex
	calls int
	words []string
	size  image.Point
}

func (s *stubProcessor) Prepare(_ context.Context, img *image.RGBA, words []string, boxes []ndjson.Box) (*Encoding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.words = words
	s.size = img.Bounds().Size()

	// one token per word plus the two specials
	seq := len(words) + 2
	ids := make([]int64, seq)
	mask := make([]int64, seq)
	for i := range mask {
		mask[i] = 1
	}
	idsT, _ := tensor.NewInt64([]int{1, seq}, ids)
	maskT, _ := tensor.NewInt64([]int{1, seq}, mask)
	return &Encoding{InputIDs: idsT, AttentionMask: maskT}, nil
}

type stubEncoder struct {
	patches int
}

// Encode emits text positions followed by image patch positions.
func (s stubEncoder) Encode(_ context.Context, enc *Encoding) (*tensor.Tensor, error) {
	positions := enc.SeqLen() + s.patches
	data := make([]float32, positions*hidden)
	for p := 0; p < positions; p++ {
		for h := 0; h < hidden; h++ {
			data[p*hidden+h] = float32(p + h)
		}
	}
	return tensor.NewFloat32([]int{1, positions, hidden}, data)
}

type stubGenerator struct {
	mu       sync.Mutex
	opts     GenerateOptions
	embedLen int
}

func (s *stubGenerator) Generate(_ context.Context, embeds, mask *tensor.Tensor, opts GenerateOptions) (*tensor.Tensor, error) {
	s.mu.Lock()
	s.opts = opts
	s.embedLen = embeds.Dim(1)
	s.mu.Unlock()

	if embeds.Dim(1) != mask.Dim(1) {
		return nil, fmt.Errorf("embeds cover %d positions, mask %d", embeds.Dim(1), mask.Dim(1))
	}
	return tensor.NewInt64([]int{1, 3}, []int64{opts.DecoderStartTokenID, 42, 1})
}

type stubDetokenizer struct{}

func (stubDetokenizer) Decode(_ context.Context, ids []int64) (string, error) {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		switch id {
		case 0, 1:
			// specials are skipped
		default:
			parts = append(parts, fmt.Sprintf("tok%d", id))
		}
	}
	return strings.Join(parts, " "), nil
}

type failingEncoder struct{}

func (failingEncoder) Encode(context.Context, *Encoding) (*tensor.Tensor, error) {
	return nil, errors.New("runtime unavailable")
}

func identityProjection(t *testing.T) *Projection {
	t.Helper()
	weight := make([]float32, hidden*hidden)
	for i := 0; i < hidden; i++ {
		weight[i*hidden+i] = 1
	}
	ones := []float32{1, 1, 1, 1}
	p, err := NewProjection(hidden, hidden, weight, make([]float32, hidden), ones, make([]float32, hidden))
	if err != nil {
		t.Fatalf("projection: %v", err)
	}
	return p
}

type fixture struct {
	pipeline  *Pipeline
	processor *stubProcessor
	generator *stubGenerator
}

func newFixture(t *testing.T, encoder Encoder) *fixture {
	t.Helper()
	f := &fixture{processor: &stubProcessor{}, generator: &stubGenerator{}}

	p, err := NewPipeline(Modules{
		Processor:   f.processor,
		Encoder:     encoder,
		Projection:  identityProjection(t),
		Generator:   f.generator,
		Detokenizer: stubDetokenizer{},
	}, GenerateOptions{MaxLength: 512, DecoderStartTokenID: 0}, nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	f.pipeline = p
	return f
}

func pngUpload(t *testing.T, name string) types.Upload {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return types.Upload{Filename: name, Content: buf.Bytes()}
}

func ndjsonUpload(lines ...string) types.Upload {
	return types.Upload{Filename: "records.ndjson", Content: []byte(strings.Join(lines, "\n"))}
}

const recordA = `{"img_name": "a.png", "src_word_list": ["Hello", "World"], "src_wordbox_list": [[0,0,10,10],[12,0,30,10]]}`

func TestInferRunsEveryStage(t *testing.T) {
	f := newFixture(t, stubEncoder{patches: 5})

	resp, err := f.pipeline.Infer(context.Background(), pngUpload(t, "a.png"), ndjsonUpload(recordA))
	if err != nil {
		t.Fatalf("infer failed: %v", err)
	}
	if resp.IsError() || resp.Result != "tok42" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if strings.Join(f.processor.words, " ") != "Hello World" {
		t.Fatalf("processor got words %v", f.processor.words)
	}
	if f.processor.size != (image.Point{X: 6, Y: 4}) {
		t.Fatalf("processor got image size %v", f.processor.size)
	}
	// text positions only: two words plus two specials
	if f.generator.embedLen != 4 {
		t.Fatalf("generator saw %d positions, want 4", f.generator.embedLen)
	}
	if f.generator.opts.MaxLength != 512 || f.generator.opts.DecoderStartTokenID != 0 {
		t.Fatalf("unexpected generate options %+v", f.generator.opts)
	}
}

func TestInferMatchesOnBaseName(t *testing.T) {
	f := newFixture(t, stubEncoder{})

	resp, err := f.pipeline.Infer(context.Background(), pngUpload(t, "uploads/tmp/a.png"), ndjsonUpload(recordA))
	if err != nil {
		t.Fatalf("infer failed: %v", err)
	}
	if resp.IsError() {
		t.Fatalf("expected a result, got %+v", resp)
	}
}

func TestInferNoMatchIsAResponse(t *testing.T) {
	f := newFixture(t, stubEncoder{})

	resp, err := f.pipeline.Infer(context.Background(), pngUpload(t, "b.png"), ndjsonUpload(recordA))
	if err != nil {
		t.Fatalf("no match must not be an error: %v", err)
	}
	if resp.Error != "No JSON entry for: b.png" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if f.processor.calls != 0 {
		t.Fatalf("processor should not run without a record")
	}
}

func TestInferSkipsBlankLines(t *testing.T) {
	f := newFixture(t, stubEncoder{})

	resp, err := f.pipeline.Infer(context.Background(), pngUpload(t, "a.png"), ndjsonUpload("", "   ", recordA, ""))
	if err != nil {
		t.Fatalf("infer failed: %v", err)
	}
	if resp.Result != "tok42" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestInferIsIdempotent(t *testing.T) {
	f := newFixture(t, stubEncoder{patches: 3})
	img, records := pngUpload(t, "a.png"), ndjsonUpload(recordA)

	first, err := f.pipeline.Infer(context.Background(), img, records)
	if err != nil {
		t.Fatalf("first infer: %v", err)
	}
	second, err := f.pipeline.Infer(context.Background(), img, records)
	if err != nil {
		t.Fatalf("second infer: %v", err)
	}
	if first != second {
		t.Fatalf("responses differ: %+v vs %+v", first, second)
	}
}

func TestInferConcurrentCalls(t *testing.T) {
	f := newFixture(t, stubEncoder{patches: 2})
	img, records := pngUpload(t, "a.png"), ndjsonUpload(recordA)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.pipeline.Infer(context.Background(), img, records)
			if err == nil && resp.Result != "tok42" {
				err = fmt.Errorf("unexpected response %+v", resp)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent infer: %v", err)
		}
	}
}

func TestInferFailures(t *testing.T) {
	cases := []struct {
		name    string
		encoder Encoder
		image   types.Upload
		records types.Upload
		wantErr error
	}{
		{"malformed record", stubEncoder{}, types.Upload{}, ndjsonUpload("{oops", recordA), ndjson.ErrMalformedRecord},
		{"not an image", stubEncoder{}, types.Upload{Filename: "a.png", Content: []byte("text")}, ndjsonUpload(recordA), nil},
		{"encoder failure", failingEncoder{}, types.Upload{}, ndjsonUpload(recordA), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.encoder)
			img := tc.image
			if img.Filename == "" {
				img = pngUpload(t, "a.png")
			}

			_, err := f.pipeline.Infer(context.Background(), img, tc.records)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestNewPipelineValidates(t *testing.T) {
	if _, err := NewPipeline(Modules{}, GenerateOptions{MaxLength: 1}, nil); err == nil {
		t.Fatalf("expected missing module error")
	}

	f := newFixture(t, stubEncoder{})
	_, err := NewPipeline(f.pipeline.modules, GenerateOptions{}, nil)
	if err == nil {
		t.Fatalf("expected max length error")
	}
}
