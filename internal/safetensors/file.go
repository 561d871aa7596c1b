package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/x448/float16"
)

// File is an open safetensors file. Tensor bytes stay on disk and are read
// on demand.
type File struct {
	Header *Header

	f         *os.File
	dataStart int64
}

func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	h, dataStart, err := ReadHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	for name, info := range h.Tensors {
		if dataStart+info.DataOffsets[1] > stat.Size() {
			f.Close()
			return nil, fmt.Errorf("%w: %s: tensor %s runs past end of file", ErrInvalidHeader, path, name)
		}
	}

	return &File{Header: h, f: f, dataStart: dataStart}, nil
}

func (sf *File) Close() error {
	return sf.f.Close()
}

// Section returns a reader over the raw bytes of one tensor.
func (sf *File) Section(name string) (*io.SectionReader, TensorInfo, error) {
	info, ok := sf.Header.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrUnknownTensor, name)
	}

	return io.NewSectionReader(sf.f, sf.dataStart+info.DataOffsets[0], info.ByteSize()), info, nil
}

// Float32 reads a floating point tensor and widens or narrows it to float32.
func (sf *File) Float32(name string) ([]float32, []int, error) {
	section, info, err := sf.Section(name)
	if err != nil {
		return nil, nil, err
	}

	raw := make([]byte, info.ByteSize())
	if _, err := io.ReadFull(section, raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}

	out, err := ToFloat32(info.DType, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	return out, info.Shape, nil
}

// ToFloat32 converts little-endian raw bytes of a float dtype.
func ToFloat32(dtype string, raw []byte) ([]float32, error) {
	switch dtype {
	case "F32":
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case "F64":
		out := make([]float32, len(raw)/8)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
		return out, nil
	case "F16":
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out, nil
	case "BF16":
		// bfloat16 is the upper half of a float32
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("dtype %s is not a float type", dtype)
	}
}
