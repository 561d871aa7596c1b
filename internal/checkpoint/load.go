package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/ocr-dimt/ocrdemo/internal/safetensors"

	"go.uber.org/zap"
)

var ErrStrictLoad = errors.New("checkpoint does not match module exactly")

type ShapeMismatch struct {
	Key  string
	Want []int
	Got  []int
}

// LoadReport records how a weight group lined up against the parameters a
// module expects.
type LoadReport struct {
	Module     string
	Loaded     []string
	Unexpected []string
	Mismatched []ShapeMismatch
	Missing    []string
}

// Plan matches a group against a module manifest (parameter name to shape).
// Keys whose name and shape both match are loaded; everything else is
// enumerated, never silently dropped.
func Plan(module string, manifest map[string][]int, g *Group) *LoadReport {
	r := &LoadReport{Module: module}

	for _, key := range g.Keys() {
		info, _ := g.Info(key)
		want, ok := manifest[key]
		switch {
		case !ok:
			r.Unexpected = append(r.Unexpected, key)
		case !slices.Equal(want, info.Shape):
			r.Mismatched = append(r.Mismatched, ShapeMismatch{Key: key, Want: want, Got: info.Shape})
		default:
			r.Loaded = append(r.Loaded, key)
		}
	}

	for key := range manifest {
		if _, ok := g.Info(key); !ok {
			r.Missing = append(r.Missing, key)
		}
	}
	slices.Sort(r.Missing)

	return r
}

// Skipped lists every checkpoint key that was not loaded.
func (r *LoadReport) Skipped() []string {
	skipped := slices.Clone(r.Unexpected)
	for _, m := range r.Mismatched {
		skipped = append(skipped, m.Key)
	}
	slices.Sort(skipped)
	return skipped
}

func (r *LoadReport) Clean() bool {
	return len(r.Unexpected) == 0 && len(r.Mismatched) == 0 && len(r.Missing) == 0
}

func (r *LoadReport) Strict() error {
	if r.Clean() {
		return nil
	}
	return fmt.Errorf("%w: %s: %d unexpected, %d mismatched, %d missing",
		ErrStrictLoad, r.Module, len(r.Unexpected), len(r.Mismatched), len(r.Missing))
}

func (r *LoadReport) Log(logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("module", r.Module),
		zap.Int("loaded", len(r.Loaded)),
		zap.Int("unexpected", len(r.Unexpected)),
		zap.Int("mismatched", len(r.Mismatched)),
		zap.Int("missing", len(r.Missing)),
	}
	if r.Clean() {
		logger.Info("weights loaded", fields...)
		return
	}

	logger.Warn("weights loaded with skipped keys", append(fields,
		zap.Strings("skipped_keys", r.Skipped()),
		zap.Strings("missing_keys", r.Missing),
	)...)
	for _, m := range r.Mismatched {
		logger.Debug("shape mismatch",
			zap.String("module", r.Module),
			zap.String("key", m.Key),
			zap.Ints("want", m.Want),
			zap.Ints("got", m.Got),
		)
	}
}

// Retained lists the module parameters the checkpoint does not replace:
// missing keys and keys of the wrong shape. They keep their pretrained
// values.
func (r *LoadReport) Retained() []string {
	retained := slices.Clone(r.Missing)
	for _, m := range r.Mismatched {
		retained = append(retained, m.Key)
	}
	slices.Sort(retained)
	return retained
}

// BaseWeights supplies a module's pretrained tensors by parameter name.
type BaseWeights interface {
	Section(name string) (*io.SectionReader, safetensors.TensorInfo, error)
}

// WriteLoaded streams the module's full state to w as a safetensors file:
// the loaded subset of g plus the pretrained tensor from base for every
// retained key. base may be nil only when nothing is retained.
func (r *LoadReport) WriteLoaded(w io.Writer, g *Group, base BaseWeights) (int64, error) {
	retained := r.Retained()
	if len(retained) > 0 && base == nil {
		return 0, fmt.Errorf("%s: %d retained keys need pretrained weights", r.Module, len(retained))
	}

	entries := make([]safetensors.Entry, 0, len(r.Loaded)+len(retained))
	for _, key := range r.Loaded {
		section, info, err := g.Section(key)
		if err != nil {
			return 0, err
		}
		entries = append(entries, safetensors.Entry{Name: key, DType: info.DType, Shape: info.Shape, Data: section})
	}
	for _, key := range retained {
		section, info, err := base.Section(key)
		if err != nil {
			return 0, fmt.Errorf("%s: pretrained weights: %w", r.Module, err)
		}
		entries = append(entries, safetensors.Entry{Name: key, DType: info.DType, Shape: info.Shape, Data: section})
	}

	return safetensors.Write(w, entries, map[string]string{
		"format":       "pt",
		"source_group": g.Name,
		"retained":     strconv.Itoa(len(retained)),
	})
}
