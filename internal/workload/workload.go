// Package workload burns CPU and holds memory at a requested intensity.
package workload

import (
	"fmt"
	"math/rand"
	"sort"
)

const (
	DefaultMaxDim    = 200
	DefaultCapacity  = 200
	DefaultChunkSize = 50_000
)

// AllocationError reports a failure to grow a memory buffer. It is fatal to
// the worker that owns the buffer.
type AllocationError struct {
	Bytes int
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %d bytes: %v", e.Bytes, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Buffer is a FIFO of retained chunks. It is owned by a single worker.
type Buffer struct {
	chunks    [][]float64
	chunkSize int
}

func (b *Buffer) Len() int { return len(b.chunks) }

// Bytes is the approximate retained size of the buffer.
func (b *Buffer) Bytes() int { return len(b.chunks) * b.chunkSize * 8 }

// Release drops every chunk so the memory can be reclaimed.
func (b *Buffer) Release() {
	clear(b.chunks)
	b.chunks = nil
}

func (b *Buffer) push(c []float64) {
	b.chunks = append(b.chunks, c)
	b.chunkSize = len(c)
}

func (b *Buffer) evictOldest() {
	if len(b.chunks) == 0 {
		return
	}
	b.chunks[0] = nil
	b.chunks = b.chunks[1:]
}

// CycleResult describes what a single RunCycle call did.
type CycleResult struct {
	CPUWorkDone  bool
	MatrixSize   int
	BufferChunks int
}

type Option func(*Unit)

func WithMaxDim(n int) Option { return func(u *Unit) { u.maxDim = n } }

// WithCapacity sets the chunk count that represents 100% memory intensity.
func WithCapacity(n int) Option { return func(u *Unit) { u.capacity = n } }

func WithChunkSize(n int) Option { return func(u *Unit) { u.chunkSize = n } }

// WithAllocator replaces the chunk allocator.
func WithAllocator(fn func(n int) ([]float64, error)) Option {
	return func(u *Unit) { u.alloc = fn }
}

// Unit performs one bounded slice of CPU and memory work per cycle.
// A Unit has no per-worker state and may be shared between workers.
type Unit struct {
	maxDim    int
	capacity  int
	chunkSize int
	alloc     func(n int) ([]float64, error)
}

func NewUnit(opts ...Option) *Unit {
	u := &Unit{
		maxDim:    DefaultMaxDim,
		capacity:  DefaultCapacity,
		chunkSize: DefaultChunkSize,
		alloc:     defaultAlloc,
	}
	for _, o := range opts {
		o(u)
	}
	if u.capacity <= 0 {
		u.capacity = DefaultCapacity
	}
	if u.chunkSize <= 0 {
		u.chunkSize = DefaultChunkSize
	}
	return u
}

func defaultAlloc(n int) ([]float64, error) {
	return make([]float64, n), nil
}

func (u *Unit) Capacity() int { return u.capacity }

// MatrixSize is the square matrix dimension used at the given intensity.
func (u *Unit) MatrixSize(intensity int) int {
	intensity = clampPercent(intensity)
	return intensity * u.maxDim / 100
}

// RunCycle does one step of CPU and memory work toward intensity.
func (u *Unit) RunCycle(intensity int, cpuEnabled, memEnabled bool, buf *Buffer) (CycleResult, error) {
	intensity = clampPercent(intensity)
	var res CycleResult

	if cpuEnabled {
		res.MatrixSize = u.MatrixSize(intensity)
		if res.MatrixSize > 0 {
			multiply(res.MatrixSize)
			res.CPUWorkDone = true
		}
	}

	if memEnabled {
		if err := u.adjustMemory(intensity, buf); err != nil {
			res.BufferChunks = buf.Len()
			return res, err
		}
	}

	res.BufferChunks = buf.Len()
	return res, nil
}

// Occupancy is the buffer fill level as a percentage of capacity.
func (u *Unit) Occupancy(buf *Buffer) float64 {
	return float64(buf.Len()) / float64(u.capacity) * 100
}

// adjustMemory moves the buffer one chunk toward the target occupancy.
func (u *Unit) adjustMemory(target int, buf *Buffer) error {
	if u.Occupancy(buf) >= float64(target) {
		buf.evictOldest()
		return nil
	}

	chunk, err := u.newChunk()
	if err != nil {
		return err
	}
	buf.push(chunk)
	return nil
}

func (u *Unit) newChunk() (chunk []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			chunk = nil
			err = &AllocationError{Bytes: u.chunkSize * 8, Err: fmt.Errorf("%v", r)}
		}
	}()

	chunk, err = u.alloc(u.chunkSize)
	if err != nil {
		return nil, &AllocationError{Bytes: u.chunkSize * 8, Err: err}
	}

	for i := range chunk {
		chunk[i] = rand.Float64()
	}
	// Sorting adds CPU cost on top of the allocation.
	sort.Float64s(chunk)
	return chunk, nil
}

func multiply(size int) float64 {
	a := randomMatrix(size)
	b := randomMatrix(size)
	out := make([]float64, size*size)

	for i := 0; i < size; i++ {
		for k := 0; k < size; k++ {
			aik := a[i*size+k]
			row := b[k*size : (k+1)*size]
			dst := out[i*size : (i+1)*size]
			for j, v := range row {
				dst[j] += aik * v
			}
		}
	}
	return out[len(out)-1]
}

func randomMatrix(size int) []float64 {
	m := make([]float64, size*size)
	for i := range m {
		m[i] = rand.Float64()
	}
	return m
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
