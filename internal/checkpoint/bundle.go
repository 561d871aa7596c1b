// Package checkpoint opens the fine-tuned weight bundle and splits it into
// the per-module weight groups.
package checkpoint

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ocr-dimt/ocrdemo/internal/safetensors"
)

// Group names used as tensor-name prefixes inside the bundle.
const (
	GroupEncoder    = "layout_model"
	GroupGenerator  = "t5_model"
	GroupProjection = "projection"
)

type Bundle struct {
	Path   string
	Digest string

	file   *safetensors.File
	groups map[string]*Group
}

// Group is a read-only view of the tensors sharing one prefix, with the
// prefix stripped from their names.
type Group struct {
	Name string

	file *safetensors.File
	keys map[string]string
}

func Open(path string) (*Bundle, error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}

	b := &Bundle{Path: path, file: f, groups: make(map[string]*Group)}
	for _, full := range f.Header.Names() {
		name, key, ok := strings.Cut(full, ".")
		if !ok {
			continue
		}
		g, exists := b.groups[name]
		if !exists {
			g = &Group{Name: name, file: f, keys: make(map[string]string)}
			b.groups[name] = g
		}
		g.keys[key] = full
	}

	return b, nil
}

func (b *Bundle) Close() error {
	return b.file.Close()
}

func (b *Bundle) Group(name string) (*Group, error) {
	g, ok := b.groups[name]
	if !ok {
		return nil, fmt.Errorf("checkpoint %s has no %q weights", b.Path, name)
	}
	return g, nil
}

func (b *Bundle) GroupNames() []string {
	names := make([]string, 0, len(b.groups))
	for name := range b.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Group) Keys() []string {
	keys := make([]string, 0, len(g.keys))
	for k := range g.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (g *Group) Info(key string) (safetensors.TensorInfo, bool) {
	full, ok := g.keys[key]
	if !ok {
		return safetensors.TensorInfo{}, false
	}
	info, ok := g.file.Header.Tensors[full]
	return info, ok
}

func (g *Group) Section(key string) (io.Reader, safetensors.TensorInfo, error) {
	full, ok := g.keys[key]
	if !ok {
		return nil, safetensors.TensorInfo{}, fmt.Errorf("%w: %s.%s", safetensors.ErrUnknownTensor, g.Name, key)
	}
	return g.file.Section(full)
}

func (g *Group) Float32(key string) ([]float32, []int, error) {
	full, ok := g.keys[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s.%s", safetensors.ErrUnknownTensor, g.Name, key)
	}
	return g.file.Float32(full)
}
