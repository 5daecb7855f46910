package retrieval

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Serialized IndexFlatL2 layout (little-endian), as written by faiss.write_index:
//
//	fourcc "IxF2" | d int32 | ntotal int64 | dummy int64 | dummy int64 |
//	is_trained uint8 | metric_type int32 | [metric_arg float32 if metric_type > 1] |
//	count uint64 | count x float32
const (
	flatL2Fourcc  = "IxF2"
	metricL2      = 1
	headerDummy   = int64(1 << 20)
	maxVectorData = 1 << 31
)

// ErrDimension is returned when a query vector does not match the index dimension.
var ErrDimension = errors.New("vector dimension mismatch")

// FlatIndex is an exact L2 nearest-neighbor index held in memory.
// It is immutable after construction and safe for concurrent Search calls.
type FlatIndex struct {
	dim  int
	data []float32 // ntotal*dim, row-major
}

// Neighbor is one search hit. Distance is the squared L2 distance.
type Neighbor struct {
	ID       int
	Distance float32
}

// NewFlatIndex builds an index from row vectors, all of length dim.
func NewFlatIndex(dim int, vectors [][]float32) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	data := make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d: %w: got %d, want %d", i, ErrDimension, len(v), dim)
		}
		data = append(data, v...)
	}
	return &FlatIndex{dim: dim, data: data}, nil
}

// Dim returns the vector dimension.
func (f *FlatIndex) Dim() int { return f.dim }

// Len returns the number of indexed vectors.
func (f *FlatIndex) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Search returns the k nearest vectors to query, ascending by distance with
// ties broken by ascending id. Fewer than k results come back only when the
// index holds fewer than k vectors.
func (f *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(query), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	h := &neighborHeap{}
	n := f.Len()
	for id := 0; id < n; id++ {
		d := l2sq(query, f.data[id*f.dim:(id+1)*f.dim])
		cand := Neighbor{ID: id, Distance: d}
		if h.Len() < k {
			heap.Push(h, cand)
		} else if closer(cand, (*h)[0]) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}

	out := make([]Neighbor, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Neighbor)
	}
	return out, nil
}

// l2sq is the squared Euclidean distance, the value IndexFlatL2 reports.
func l2sq(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// closer orders neighbors by distance, then id.
func closer(a, b Neighbor) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// neighborHeap is a max-heap with the farthest kept neighbor at the root.
type neighborHeap []Neighbor

func (h neighborHeap) Len() int            { return len(h) }
func (h neighborHeap) Less(i, j int) bool  { return closer(h[j], h[i]) }
func (h neighborHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *neighborHeap) Push(x interface{}) { *h = append(*h, x.(Neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// OpenFlatIndex reads a serialized IndexFlatL2 from path.
func OpenFlatIndex(path string) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()
	return ReadFlatIndex(bufio.NewReader(f))
}

// ReadFlatIndex decodes a serialized IndexFlatL2.
func ReadFlatIndex(r io.Reader) (*FlatIndex, error) {
	var fourcc [4]byte
	if _, err := io.ReadFull(r, fourcc[:]); err != nil {
		return nil, fmt.Errorf("reading fourcc: %w", err)
	}
	if string(fourcc[:]) != flatL2Fourcc {
		return nil, fmt.Errorf("unsupported index type %q, want %q", fourcc[:], flatL2Fourcc)
	}

	var hdr struct {
		D         int32
		NTotal    int64
		Dummy1    int64
		Dummy2    int64
		IsTrained uint8
		Metric    int32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.D <= 0 || hdr.NTotal < 0 {
		return nil, fmt.Errorf("invalid header: d=%d ntotal=%d", hdr.D, hdr.NTotal)
	}
	if hdr.Metric != metricL2 {
		return nil, fmt.Errorf("unsupported metric type %d, want L2", hdr.Metric)
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading vector count: %w", err)
	}
	want := uint64(hdr.D) * uint64(hdr.NTotal)
	if count != want {
		return nil, fmt.Errorf("vector payload has %d floats, want %d (d=%d ntotal=%d)", count, want, hdr.D, hdr.NTotal)
	}
	if count > maxVectorData {
		return nil, fmt.Errorf("vector payload too large: %d floats", count)
	}

	data := make([]float32, count)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("reading vectors: %w", err)
	}
	return &FlatIndex{dim: int(hdr.D), data: data}, nil
}

// WriteTo serializes the index in IndexFlatL2 format.
func (f *FlatIndex) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	hdr := struct {
		D         int32
		NTotal    int64
		Dummy1    int64
		Dummy2    int64
		IsTrained uint8
		Metric    int32
	}{int32(f.dim), int64(f.Len()), headerDummy, headerDummy, 1, metricL2}

	if _, err := cw.Write([]byte(flatL2Fourcc)); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, hdr); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint64(len(f.data))); err != nil {
		return cw.n, err
	}
	buf := make([]byte, 4*len(f.data))
	for i, v := range f.data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := cw.Write(buf)
	return cw.n, err
}

// WriteFlatIndex writes the index to path, replacing any existing file.
func WriteFlatIndex(path string, f *FlatIndex) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}
	bw := bufio.NewWriter(out)
	if _, err := f.WriteTo(bw); err != nil {
		out.Close()
		return fmt.Errorf("writing index: %w", err)
	}
	if err := bw.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("flushing index: %w", err)
	}
	return out.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
