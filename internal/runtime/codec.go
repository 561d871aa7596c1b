package runtime

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ocr-dimt/ocrdemo/internal/tensor"
)

func encodeTensor(name string, t *tensor.Tensor) (wireTensor, error) {
	var (
		data []byte
		err  error
	)

	switch t.DType {
	case tensor.Float32:
		data, err = json.Marshal(t.F32)
	case tensor.Int64:
		data, err = json.Marshal(t.I64)
	case tensor.Bytes:
		data, err = json.Marshal(t.Str)
	case tensor.Bool:
		data, err = json.Marshal(t.Bool)
	default:
		return wireTensor{}, fmt.Errorf("input %s: unsupported datatype %q", name, t.DType)
	}
	if err != nil {
		return wireTensor{}, fmt.Errorf("input %s: %w", name, err)
	}

	if t.Len() != elementCount(t) {
		return wireTensor{}, fmt.Errorf("input %s: shape %v does not match %d elements", name, t.Shape, elementCount(t))
	}

	return wireTensor{Name: name, Shape: t.Shape, DataType: string(t.DType), Data: data}, nil
}

// decodeTensor accepts the flat data layout of the v2 protocol and, for
// servers that send it, the nested row-major layout.
func decodeTensor(wt wireTensor) (*tensor.Tensor, error) {
	t := &tensor.Tensor{Shape: wt.Shape, DType: tensor.DType(wt.DataType)}

	switch t.DType {
	case tensor.Float32, "FP64", "FP16":
		var values []float64
		if err := decodeFlat(wt.Data, &values); err != nil {
			return nil, err
		}
		t.DType = tensor.Float32
		t.F32 = make([]float32, len(values))
		for i, v := range values {
			t.F32[i] = float32(v)
		}
	case tensor.Int64, "INT32", "INT16", "INT8", "UINT64", "UINT32", "UINT16", "UINT8":
		t.DType = tensor.Int64
		if err := decodeFlat(wt.Data, &t.I64); err != nil {
			return nil, err
		}
	case tensor.Bytes:
		if err := decodeFlat(wt.Data, &t.Str); err != nil {
			return nil, err
		}
	case tensor.Bool:
		if err := decodeFlat(wt.Data, &t.Bool); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported datatype %q", wt.DataType)
	}

	if n := elementCount(t); n != t.Len() {
		return nil, fmt.Errorf("shape %v does not match %d elements", t.Shape, n)
	}

	return t, nil
}

func decodeFlat[T any](raw json.RawMessage, out *[]T) error {
	if err := json.Unmarshal(raw, out); err == nil {
		return nil
	}
	// a failed flat decode may have left zero values behind
	*out = nil

	var nested []json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return fmt.Errorf("failed to decode tensor data: %w", err)
	}
	for _, part := range nested {
		var inner []T
		if err := decodeFlat(part, &inner); err != nil {
			return err
		}
		*out = append(*out, inner...)
	}
	return nil
}

func elementCount(t *tensor.Tensor) int {
	switch t.DType {
	case tensor.Float32:
		return len(t.F32)
	case tensor.Int64:
		return len(t.I64)
	case tensor.Bytes:
		return len(t.Str)
	case tensor.Bool:
		return len(t.Bool)
	}
	return 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
