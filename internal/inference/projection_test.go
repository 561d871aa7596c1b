package inference

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ocr-dimt/ocrdemo/internal/checkpoint"
	"github.com/ocr-dimt/ocrdemo/internal/safetensors"
	"github.com/ocr-dimt/ocrdemo/internal/tensor"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestProjectionForward(t *testing.T) {
	p, err := NewProjection(2, 2,
		[]float32{1, 0, 0, 1}, // identity
		[]float32{0, 0},
		[]float32{1, 1},
		[]float32{0, 0},
	)
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}

	in, _ := tensor.NewFloat32([]int{1, 2, 2}, []float32{1, 3, 5, 5})
	out, err := p.Project(in)
	if err != nil {
		t.Fatalf("project failed: %v", err)
	}
	if out.Dim(0) != 1 || out.Dim(1) != 2 || out.Dim(2) != 2 {
		t.Fatalf("unexpected shape %v", out.Shape)
	}

	// layer norm maps (1, 3) to roughly (-1, 1); gelu(-1) and gelu(1)
	if !almostEqual(float64(out.F32[0]), -0.158655, 1e-4) || !almostEqual(float64(out.F32[1]), 0.841345, 1e-4) {
		t.Fatalf("unexpected first row %v", out.F32[:2])
	}
	// a constant row normalises to zero and gelu(0) is zero
	if out.F32[2] != 0 || out.F32[3] != 0 {
		t.Fatalf("unexpected second row %v", out.F32[2:])
	}
}

func TestProjectionAppliesAffineAndBias(t *testing.T) {
	p, err := NewProjection(1, 2,
		[]float32{1, -1},
		[]float32{0.5, 0},
		[]float32{2, 2},
		[]float32{0.1, -0.1},
	)
	if err != nil {
		t.Fatalf("new projection: %v", err)
	}

	in, _ := tensor.NewFloat32([]int{1, 1, 1}, []float32{2})
	out, err := p.Project(in)
	if err != nil {
		t.Fatalf("project failed: %v", err)
	}

	// linear: (2.5, -2), mean 0.25, std 2.25
	norm := 2.25 / math.Sqrt(2.25*2.25+layerNormEps)
	want := []float64{gelu(norm*2 + 0.1), gelu(-norm*2 - 0.1)}
	for i := range want {
		if !almostEqual(float64(out.F32[i]), want[i], 1e-5) {
			t.Fatalf("output %d: expected %v, got %v", i, want[i], out.F32[i])
		}
	}
}

func TestProjectionRejectsWrongWidth(t *testing.T) {
	p, _ := NewProjection(2, 2, make([]float32, 4), make([]float32, 2), make([]float32, 2), make([]float32, 2))
	in, _ := tensor.NewFloat32([]int{1, 1, 3}, []float32{1, 2, 3})
	if _, err := p.Project(in); err == nil {
		t.Fatalf("expected width error")
	}
}

func writeProjectionGroup(t *testing.T, specs map[string][]int) *checkpoint.Group {
	t.Helper()

	var entries []safetensors.Entry
	for name, shape := range specs {
		n := tensor.NumElements(shape)
		data := make([]byte, 4*n)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(1))
		}
		entries = append(entries, safetensors.Entry{Name: "projection." + name, DType: "F32", Shape: shape, Data: bytes.NewReader(data)})
	}

	var buf bytes.Buffer
	if _, err := safetensors.Write(&buf, entries, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bundle.safetensors")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	b, err := checkpoint.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	g, err := b.Group(checkpoint.GroupProjection)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	return g
}

func TestLoadProjectionStrict(t *testing.T) {
	g := writeProjectionGroup(t, ProjectionManifest(3, 2))

	p, report, err := LoadProjection(g, 3, 2)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !report.Clean() || len(report.Loaded) != 4 {
		t.Fatalf("unexpected report %+v", report)
	}
	if in, out := p.Dims(); in != 3 || out != 2 {
		t.Fatalf("unexpected dims %d -> %d", in, out)
	}
}

func TestLoadProjectionFailsOnExtraKey(t *testing.T) {
	specs := ProjectionManifest(3, 2)
	specs["2.weight"] = []int{2}
	g := writeProjectionGroup(t, specs)

	_, report, err := LoadProjection(g, 3, 2)
	if !errors.Is(err, checkpoint.ErrStrictLoad) {
		t.Fatalf("expected ErrStrictLoad, got %v", err)
	}
	if len(report.Unexpected) != 1 || report.Unexpected[0] != "2.weight" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestLoadProjectionFailsOnShapeMismatch(t *testing.T) {
	g := writeProjectionGroup(t, ProjectionManifest(4, 2))

	if _, _, err := LoadProjection(g, 3, 2); !errors.Is(err, checkpoint.ErrStrictLoad) {
		t.Fatalf("expected ErrStrictLoad, got %v", err)
	}
}
