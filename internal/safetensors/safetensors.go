// Package safetensors reads and writes the safetensors container: an 8-byte
// little-endian header length, a JSON header, then raw tensor bytes.
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

const (
	metadataKey   = "__metadata__"
	maxHeaderSize = 100 << 20
)

var (
	ErrHeaderTooLarge = errors.New("safetensors header exceeds limit")
	ErrInvalidHeader  = errors.New("invalid safetensors header")
	ErrUnknownTensor  = errors.New("tensor not found")
)

var dtypeSizes = map[string]int64{
	"F64": 8, "F32": 4, "F16": 2, "BF16": 2,
	"I64": 8, "I32": 4, "I16": 2, "I8": 1,
	"U64": 8, "U32": 4, "U16": 2, "U8": 1,
	"BOOL": 1,
}

// TensorInfo mirrors one header entry. Offsets are relative to the start of
// the data section.
type TensorInfo struct {
	DType       string   `json:"dtype" msgpack:"dtype"`
	Shape       []int    `json:"shape" msgpack:"shape"`
	DataOffsets [2]int64 `json:"data_offsets" msgpack:"data_offsets"`
}

func (ti TensorInfo) ByteSize() int64 {
	return ti.DataOffsets[1] - ti.DataOffsets[0]
}

type Header struct {
	Tensors  map[string]TensorInfo `msgpack:"tensors"`
	Metadata map[string]string     `msgpack:"metadata"`
}

// Names returns tensor names in lexical order.
func (h *Header) Names() []string {
	names := make([]string, 0, len(h.Tensors))
	for name := range h.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shapes maps every tensor name to its shape.
func (h *Header) Shapes() map[string][]int {
	shapes := make(map[string][]int, len(h.Tensors))
	for name, info := range h.Tensors {
		shapes[name] = info.Shape
	}
	return shapes
}

// HeaderLength decodes the 8-byte prefix.
func HeaderLength(prefix []byte) (int64, error) {
	if len(prefix) < 8 {
		return 0, fmt.Errorf("%w: prefix has %d bytes", ErrInvalidHeader, len(prefix))
	}

	n := binary.LittleEndian.Uint64(prefix[:8])
	if n > maxHeaderSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, n)
	}

	return int64(n), nil
}

// DecodeHeader parses the JSON header and validates every entry.
func DecodeHeader(raw []byte) (*Header, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	h := &Header{Tensors: make(map[string]TensorInfo, len(entries))}
	for name, value := range entries {
		if name == metadataKey {
			if err := json.Unmarshal(value, &h.Metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidHeader, err)
			}
			continue
		}

		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidHeader, name, err)
		}
		if err := validate(name, info); err != nil {
			return nil, err
		}
		h.Tensors[name] = info
	}

	return h, nil
}

// ReadHeader consumes the length prefix and header from r.
func ReadHeader(r io.Reader) (*Header, int64, error) {
	prefix := make([]byte, 8)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, 0, fmt.Errorf("failed to read header length: %w", err)
	}

	n, err := HeaderLength(prefix)
	if err != nil {
		return nil, 0, err
	}

	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, 0, err
	}

	return h, 8 + n, nil
}

func validate(name string, info TensorInfo) error {
	size, ok := dtypeSizes[info.DType]
	if !ok {
		return fmt.Errorf("%w: %s: unsupported dtype %q", ErrInvalidHeader, name, info.DType)
	}

	elems := int64(1)
	for _, d := range info.Shape {
		if d < 0 {
			return fmt.Errorf("%w: %s: negative dimension", ErrInvalidHeader, name)
		}
		elems *= int64(d)
	}

	if info.DataOffsets[0] < 0 || info.ByteSize() != elems*size {
		return fmt.Errorf("%w: %s: offsets %v do not match %s%v",
			ErrInvalidHeader, name, info.DataOffsets, info.DType, info.Shape)
	}

	return nil
}
