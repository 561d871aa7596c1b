package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Entry is one tensor to be written. Data must yield exactly the number of
// bytes implied by DType and Shape.
type Entry struct {
	Name  string
	DType string
	Shape []int
	Data  io.Reader
}

// Write serialises entries in the given order. The header is padded with
// spaces to an 8-byte boundary so the data section stays aligned.
func Write(w io.Writer, entries []Entry, metadata map[string]string) (int64, error) {
	header := make(map[string]any, len(entries)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var offset int64
	for _, e := range entries {
		size, ok := dtypeSizes[e.DType]
		if !ok {
			return 0, fmt.Errorf("%s: unsupported dtype %q", e.Name, e.DType)
		}
		elems := int64(1)
		for _, d := range e.Shape {
			elems *= int64(d)
		}
		n := elems * size

		header[e.Name] = TensorInfo{DType: e.DType, Shape: e.Shape, DataOffsets: [2]int64{offset, offset + n}}
		offset += n
	}

	raw, err := json.Marshal(header)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal header: %w", err)
	}
	if pad := len(raw) % 8; pad != 0 {
		raw = append(raw, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(raw)))

	written := int64(0)
	for _, chunk := range [][]byte{prefix[:], raw} {
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	for _, e := range entries {
		info := header[e.Name].(TensorInfo)
		n, err := io.Copy(w, io.LimitReader(e.Data, info.ByteSize()))
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to write tensor %s: %w", e.Name, err)
		}
		if n != info.ByteSize() {
			return written, fmt.Errorf("tensor %s: short data, wrote %d of %d bytes", e.Name, n, info.ByteSize())
		}
	}

	return written, nil
}
