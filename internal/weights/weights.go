// Package weights reads safetensors model files: the JSON header, a
// read-only mapping of the whole file, and the architecture facts a runtime
// needs before it can build.
package weights

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"chatd/internal/llm"
)

var ErrCorruptFile = errors.New("corrupt safetensors file")

// maxHeaderLen bounds the JSON header so a bad length prefix cannot trigger
// a huge allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

type File struct {
	Path string
	// Data is the whole file, mapped read-only when mmap succeeded.
	Data      []byte
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string
	mmapped   bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps path read-only and parses its header. If mmap is unavailable the
// file is read into memory instead. The returned File must be closed.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: size %d", ErrCorruptFile, size64)
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	mmapped := err == nil
	if !mmapped {
		data = make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	wf, err := Parse(data)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	wf.Path = path
	wf.mmapped = mmapped
	return wf, nil
}

// Parse reads the header of an in-memory safetensors image.
func Parse(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short file", ErrCorruptFile)
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header length %d", ErrCorruptFile, headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptFile, err)
	}

	out := &File{
		Data:      data,
		DataStart: int64(8 + headerLen),
		Tensors:   make(map[string]TensorInfo, len(raw)),
	}
	if meta, ok := raw["__metadata__"]; ok {
		if err := json.Unmarshal(meta, &out.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptFile, err)
		}
		delete(raw, "__metadata__")
	}
	body := int64(len(data)) - out.DataStart
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %v", ErrCorruptFile, name, err)
		}
		if len(th.DataOffsets) != 2 || th.DataOffsets[0] < 0 || th.DataOffsets[1] < th.DataOffsets[0] || th.DataOffsets[1] > body {
			return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrCorruptFile, name)
		}
		out.Tensors[name] = TensorInfo{DType: th.DType, Shape: th.Shape, Start: th.DataOffsets[0], End: th.DataOffsets[1]}
	}
	return out, nil
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// TensorData returns the raw bytes of a tensor without copying.
func (f *File) TensorData(name string) ([]byte, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor not found: %s", name)
	}
	return f.Data[f.DataStart+t.Start : f.DataStart+t.End], nil
}

// Names lists tensor names in sorted order.
func (f *File) Names() []string {
	out := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Close releases the mapping.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.mmapped = false
	return err
}

// Info derives the architecture version and dimensions from tensor names
// and shapes. An explicit "version" metadata entry overrides name-based
// detection.
func (f *File) Info() (llm.ModelInfo, error) {
	var info llm.ModelInfo

	if tag, ok := f.Metadata["version"]; ok {
		v, err := llm.ParseVersion(tag)
		if err != nil {
			return info, err
		}
		info.Version = v
	}

	switch {
	case info.Version != llm.VersionUnknown:
	case f.has("blocks.0.att.time_maa_x"):
		info.Version = llm.V6
	case f.has("blocks.0.att.time_faaaa"):
		info.Version = llm.V5
	case f.has("blocks.0.att.time_first"):
		info.Version = llm.V4
	default:
		return info, errors.New("unrecognised model architecture")
	}

	emb, ok := f.Tensors["emb.weight"]
	if !ok || len(emb.Shape) != 2 {
		return info, errors.New("missing or malformed emb.weight")
	}
	info.NumVocab, info.NumEmb = emb.Shape[0], emb.Shape[1]

	ffn, ok := f.Tensors["blocks.0.ffn.key.weight"]
	if !ok || len(ffn.Shape) != 2 {
		return info, errors.New("missing or malformed blocks.0.ffn.key.weight")
	}
	info.NumHidden = ffn.Shape[0]

	info.NumHead = 1
	if info.Version != llm.V4 {
		faaaa, ok := f.Tensors["blocks.0.att.time_faaaa"]
		if !ok || len(faaaa.Shape) == 0 {
			return info, errors.New("malformed blocks.0.att.time_faaaa")
		}
		info.NumHead = faaaa.Shape[0]
	}

	info.NumLayer = f.countLayers()
	if info.NumLayer == 0 {
		return info, errors.New("no blocks found")
	}
	return info, nil
}

func (f *File) has(name string) bool {
	_, ok := f.Tensors[name]
	return ok
}

func (f *File) countLayers() int {
	n := 0
	for name := range f.Tensors {
		rest, ok := strings.CutPrefix(name, "blocks.")
		if !ok {
			continue
		}
		idx, _, ok := strings.Cut(rest, ".")
		if !ok {
			continue
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			continue
		}
		n = max(n, i+1)
	}
	return n
}
